/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestDecodeVariants(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want string
	}{
		{`{"type":"join_voice_channel","room":"r1","nickname":"alice"}`, "*protocol.JoinVoiceChannel"},
		{`{"type":"leave_voice_channel"}`, "*protocol.LeaveVoiceChannel"},
		{`{"type":"newParticipant_offer","room":"r1","offer":{"type":"offer","sdp":"v=0"}}`, "*protocol.Offer"},
		{`{"type":"existingParticipant_answer","room":"r1","senderId":"a","answer":{"type":"answer","sdp":"v=0"}}`, "*protocol.Answer"},
		{`{"type":"newParticipant_answer","room":"r1","senderId":"a","answer":{"type":"answer","sdp":"v=0"}}`, "*protocol.Answer"},
		{`{"type":"newParticipant_ice_candidate","room":"r1","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`, "*protocol.Candidate"},
		{`{"type":"existingParticipant_ice_candidate","room":"r1","senderId":"a","candidate":{"candidate":""}}`, "*protocol.Candidate"},
		{`{"type":"video_track_enabled_changed","room":"r1","enabled":true}`, "*protocol.VideoTrackEnabledChanged"},
		{`{"type":"join_chat_channel","channel":"c1"}`, "*protocol.ChatChannel"},
		{`{"type":"send_message","channel":"c1","message":"hi"}`, "*protocol.ChatRequest"},
		{`{"type":"delete_message","channel":"c1","messageId":"m1"}`, "*protocol.ChatRequest"},
	} {
		msg, err := Decode([]byte(tc.raw))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.raw, err)
			continue
		}
		if got := typeName(msg); got != tc.want {
			t.Errorf("%s: decoded into %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func typeName(msg Message) string {
	switch msg.(type) {
	case *JoinVoiceChannel:
		return "*protocol.JoinVoiceChannel"
	case *LeaveVoiceChannel:
		return "*protocol.LeaveVoiceChannel"
	case *Offer:
		return "*protocol.Offer"
	case *Answer:
		return "*protocol.Answer"
	case *Candidate:
		return "*protocol.Candidate"
	case *VideoTrackEnabledChanged:
		return "*protocol.VideoTrackEnabledChanged"
	case *ChatChannel:
		return "*protocol.ChatChannel"
	case *ChatRequest:
		return "*protocol.ChatRequest"
	}
	return "unknown"
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want error
	}{
		{`not json`, ErrInvalidPayload},
		{`{}`, ErrMissingField},
		{`{"type":"bogus"}`, ErrUnknownType},
		{`{"type":"participants_list"}`, ErrWrongDirection},
		{`{"type":"existingParticipant_offer","room":"r1"}`, ErrWrongDirection},
		{`{"type":"join_voice_channel"}`, ErrMissingField},
		{`{"type":"newParticipant_offer","room":"r1"}`, ErrMissingField},
		{`{"type":"newParticipant_offer","room":"r1","offer":{"type":"answer","sdp":"v=0"}}`, ErrDescriptionType},
		{`{"type":"newParticipant_answer","room":"r1","answer":{"type":"answer","sdp":"v=0"}}`, ErrMissingField},
		{`{"type":"send_message","channel":"c1"}`, ErrMissingField},
		{`{"type":"update_message","channel":"c1","message":"x"}`, ErrMissingField},
	} {
		_, err := Decode([]byte(tc.raw))
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got error %v, want %v", tc.raw, err, tc.want)
		}
	}
}

func TestOutboundCarriesTriple(t *testing.T) {
	msg := NewCandidate(TypeExistingParticipantCandidate, "r1", "a", "b", webrtc.ICECandidateInit{Candidate: "candidate:1"})

	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]string{
		"type":       TypeExistingParticipantCandidate,
		"room":       "r1",
		"senderId":   "a",
		"receiverId": "b",
	} {
		if decoded[key] != want {
			t.Errorf("field %s: got %v want %v", key, decoded[key], want)
		}
	}
}

func TestChatMessageOmitsZeroUpdated(t *testing.T) {
	message := &ChatMessage{
		ID:       "m1",
		Channel:  "c1",
		SenderID: "a",
		Body:     "hi",
		Created:  time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(message)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), `"updated"`) {
		t.Errorf("unedited message carries updated: %s", raw)
	}

	message.Updated = message.Created.Add(time.Minute)
	raw, err = json.Marshal(message)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"updated":"2020-05-01T12:01:00Z"`) {
		t.Errorf("edited message lacks updated: %s", raw)
	}
}
