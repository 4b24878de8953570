/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sasha-s/go-deadlock"

	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
	"stash.kopano.io/kwm/kwmmesh/internal/rtc"
)

// LinkID identifies a directed media link. An empty To denotes the server
// side receiver of a publishing participant.
type LinkID struct {
	Room string
	From string
	To   string
}

func (id LinkID) String() string {
	to := id.To
	if to == "" {
		to = "*"
	}
	return fmt.Sprintf("%s:%s>%s", id.Room, id.From, to)
}

// IsPublish reports whether the associated LinkID identifies a publish link.
func (id LinkID) IsPublish() bool {
	return id.To == ""
}

// Leg tells how a link came into existence.
type Leg int

// Legs.
const (
	LegPublish  Leg = iota // Participant publishes to the server.
	LegExisting            // Existing stream delivered to a newcomer.
	LegNew                 // Newcomer stream delivered to a member.
)

func (leg Leg) String() string {
	switch leg {
	case LegPublish:
		return "publish"
	case LegExisting:
		return "existing"
	case LegNew:
		return "new"
	}
	return "unknown"
}

func (leg Leg) offerType() string {
	if leg == LegExisting {
		return protocol.TypeExistingParticipantOffer
	}
	return protocol.TypeNewParticipantOffer
}

func (leg Leg) candidateType() string {
	if leg == LegExisting {
		return protocol.TypeExistingParticipantCandidate
	}
	return protocol.TypeNewParticipantCandidate
}

// State is the negotiation state of a link.
type State int

// States.
const (
	StateInit State = iota
	StateOfferSent
	StateAnswered
	StateOfferReceived
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOfferSent:
		return "OFFER_SENT"
	case StateAnswered:
		return "ANSWERED"
	case StateOfferReceived:
		return "OFFER_RECEIVED"
	case StateAnswerSent:
		return "ANSWER_SENT"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

var transitions = map[State][]State{
	StateInit:          {StateOfferSent, StateOfferReceived},
	StateOfferSent:     {StateAnswered},
	StateAnswered:      {StateConnected, StateOfferSent},
	StateOfferReceived: {StateAnswerSent},
	StateAnswerSent:    {StateConnected, StateOfferReceived},
	StateConnected:     {StateOfferSent, StateOfferReceived},
}

func canTransition(from, to State) bool {
	if to == StateClosed {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Link is a directed media relationship backed by exactly one engine
// connection. Mutations happen on the owning room's actor, the lock guards
// readers from other goroutines.
type Link struct {
	deadlock.RWMutex

	id      LinkID
	leg     Leg
	conn    rtc.Connection
	created time.Time

	state     State
	remoteSet bool
	queued    bool

	pendingCandidates []webrtc.ICECandidateInit

	tracks map[string]rtc.Track

	timer    *time.Timer
	timerGen uint64
}

func newLink(id LinkID, leg Leg, conn rtc.Connection) *Link {
	return &Link{
		id:      id,
		leg:     leg,
		conn:    conn,
		created: time.Now(),

		tracks: make(map[string]rtc.Track),
	}
}

// ID returns the link's identifier.
func (link *Link) ID() LinkID {
	return link.id
}

// Leg returns the link's leg.
func (link *Link) Leg() Leg {
	return link.leg
}

// ConnectionID returns the identifier of the engine connection backing the
// link.
func (link *Link) ConnectionID() string {
	return link.conn.ID()
}

// State returns the current negotiation state.
func (link *Link) State() State {
	link.RLock()
	defer link.RUnlock()

	return link.state
}

// Closed reports whether the link reached StateClosed.
func (link *Link) Closed() bool {
	return link.State() == StateClosed
}

func (link *Link) transition(to State) error {
	link.Lock()
	defer link.Unlock()

	if link.state == StateClosed {
		return nil
	}
	if !canTransition(link.state, to) {
		return invalidState(link.id, link.state, "transition to "+to.String())
	}
	link.state = to
	return nil
}

// close moves the link to StateClosed and releases its engine connection.
// Returns false when the link was already closed.
func (link *Link) close() bool {
	link.Lock()
	if link.state == StateClosed {
		link.Unlock()
		return false
	}
	link.state = StateClosed
	link.pendingCandidates = nil
	link.queued = false
	if link.timer != nil {
		link.timer.Stop()
		link.timer = nil
	}
	conn := link.conn
	link.Unlock()

	conn.Close()
	return true
}

func (link *Link) bufferCandidate(candidate webrtc.ICECandidateInit) {
	link.Lock()
	link.pendingCandidates = append(link.pendingCandidates, candidate)
	link.Unlock()
}

// takePendingCandidates returns and clears the buffered candidates.
func (link *Link) takePendingCandidates() []webrtc.ICECandidateInit {
	link.Lock()
	defer link.Unlock()

	pending := link.pendingCandidates
	link.pendingCandidates = nil
	return pending
}

// PendingCandidates returns the number of buffered candidates.
func (link *Link) PendingCandidates() int {
	link.RLock()
	defer link.RUnlock()

	return len(link.pendingCandidates)
}

func (link *Link) hasRemoteDescription() bool {
	link.RLock()
	defer link.RUnlock()

	return link.remoteSet
}

func (link *Link) setRemoteDescriptionApplied() {
	link.Lock()
	link.remoteSet = true
	link.Unlock()
}

func (link *Link) hasTrack(track rtc.Track) bool {
	link.RLock()
	defer link.RUnlock()

	_, ok := link.tracks[track.ID()]
	return ok
}

func (link *Link) addTrack(track rtc.Track) {
	link.Lock()
	link.tracks[track.ID()] = track
	link.Unlock()
}

// Tracks returns the tracks attached to the link.
func (link *Link) Tracks() []rtc.Track {
	link.RLock()
	defer link.RUnlock()

	tracks := make([]rtc.Track, 0, len(link.tracks))
	for _, track := range link.tracks {
		tracks = append(tracks, track)
	}
	return tracks
}

// setQueued marks a renegotiation as needed, returning the previous value.
func (link *Link) setQueued(queued bool) bool {
	link.Lock()
	defer link.Unlock()

	previous := link.queued
	link.queued = queued
	return previous
}

// armTimer calls fn with the timer generation after d, unless a timer is
// already armed.
func (link *Link) armTimer(d time.Duration, fn func(gen uint64)) {
	link.Lock()
	defer link.Unlock()

	if link.timer != nil || link.state == StateClosed {
		return
	}
	link.startTimerLocked(d, fn)
}

// restartTimer replaces any armed timer, so the deadline counts from now.
func (link *Link) restartTimer(d time.Duration, fn func(gen uint64)) {
	link.Lock()
	defer link.Unlock()

	if link.state == StateClosed {
		return
	}
	if link.timer != nil {
		link.timer.Stop()
	}
	link.startTimerLocked(d, fn)
}

func (link *Link) startTimerLocked(d time.Duration, fn func(gen uint64)) {
	link.timerGen++
	gen := link.timerGen
	link.timer = time.AfterFunc(d, func() {
		fn(gen)
	})
}

// timerCurrent reports whether gen belongs to the armed timer. Firings of
// replaced or disarmed timers are stale.
func (link *Link) timerCurrent(gen uint64) bool {
	link.RLock()
	defer link.RUnlock()

	return link.timer != nil && link.timerGen == gen
}

func (link *Link) disarmTimer() {
	link.Lock()
	defer link.Unlock()

	if link.timer != nil {
		link.timer.Stop()
		link.timer = nil
		link.timerGen++
	}
}
