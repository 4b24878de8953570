/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"stash.kopano.io/kwm/kwmmesh/internal/rtc/rtctest"
)

func newTestLink(t *testing.T, id LinkID, leg Leg) *Link {
	conn, err := rtctest.NewEngine().NewConnection("test")
	if err != nil {
		t.Fatal(err)
	}
	return newLink(id, leg, conn)
}

func TestLinkTransitions(t *testing.T) {
	for _, tc := range []struct {
		name string
		path []State
		ok   bool
	}{
		{"offerer", []State{StateOfferSent, StateAnswered, StateConnected}, true},
		{"answerer", []State{StateOfferReceived, StateAnswerSent, StateConnected}, true},
		{"renegotiate", []State{StateOfferSent, StateAnswered, StateConnected, StateOfferSent, StateAnswered}, true},
		{"reoffer", []State{StateOfferReceived, StateAnswerSent, StateOfferReceived, StateAnswerSent}, true},
		{"skip answer", []State{StateOfferSent, StateConnected}, false},
		{"wrong side", []State{StateOfferSent, StateAnswerSent}, false},
		{"answer first", []State{StateAnswered}, false},
	} {
		link := newTestLink(t, LinkID{Room: "r", From: "a", To: "b"}, LegNew)
		var err error
		for _, state := range tc.path {
			if err = link.transition(state); err != nil {
				break
			}
		}
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s: expected ErrInvalidState, got %v", tc.name, err)
		}
	}
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	link := newTestLink(t, LinkID{Room: "r", From: "a"}, LegPublish)
	link.bufferCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})

	if !link.close() {
		t.Fatal("first close must report true")
	}
	if link.close() {
		t.Error("second close must report false")
	}
	if link.State() != StateClosed {
		t.Errorf("unexpected state %s", link.State())
	}
	if link.PendingCandidates() != 0 {
		t.Errorf("pending candidates not released")
	}
	if !link.conn.(*rtctest.Connection).Closed() {
		t.Errorf("engine connection not closed")
	}

	// Transitions on a closed link are no-ops.
	if err := link.transition(StateOfferSent); err != nil {
		t.Errorf("transition on closed link: %v", err)
	}
	if link.State() != StateClosed {
		t.Errorf("closed link changed state to %s", link.State())
	}
}

func TestLinkIDString(t *testing.T) {
	if got := (LinkID{Room: "r1", From: "a", To: "b"}).String(); got != "r1:a>b" {
		t.Errorf("got %q", got)
	}
	if got := (LinkID{Room: "r1", From: "a"}).String(); got != "r1:a>*" {
		t.Errorf("got %q", got)
	}
}

func TestLinkTimerGenerations(t *testing.T) {
	link := newTestLink(t, LinkID{Room: "r", From: "a"}, LegPublish)

	fired := make(chan uint64, 4)
	fn := func(gen uint64) { fired <- gen }

	link.armTimer(time.Hour, fn)
	link.armTimer(time.Millisecond, fn) // Already armed, ignored.
	link.restartTimer(time.Millisecond, fn)

	var gen uint64
	select {
	case gen = <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if !link.timerCurrent(gen) {
		t.Errorf("restarted timer generation %d not current", gen)
	}
	if link.timerCurrent(gen - 1) {
		t.Errorf("replaced timer generation still current")
	}

	link.disarmTimer()
	if link.timerCurrent(gen) {
		t.Errorf("disarmed timer generation still current")
	}

	link.close()
	link.armTimer(time.Millisecond, fn)
	select {
	case gen = <-fired:
		t.Errorf("closed link fired timer %d", gen)
	case <-time.After(20 * time.Millisecond):
	}
}
