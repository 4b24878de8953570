/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"time"

	"stash.kopano.io/kwm/kwmmesh/internal/rtc"
)

// stream collects the tracks a participant publishes. It is owned by the
// room actor.
type stream struct {
	owner    string
	expected int
	tracks   []rtc.Track
	ready    bool

	settle *time.Timer
}

func (s *stream) addTrack(track rtc.Track) bool {
	for _, existing := range s.tracks {
		if existing.ID() == track.ID() {
			return false
		}
	}
	s.tracks = append(s.tracks, track)
	return true
}

func (s *stream) complete() bool {
	expected := s.expected
	if expected < 1 {
		expected = 1
	}
	return len(s.tracks) >= expected
}

func (s *stream) stopSettleTimer() {
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
}
