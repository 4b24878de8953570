/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func testSDP(sections ...string) string {
	lines := []string{
		"v=0",
		"o=- 4215775240449105457 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
	}
	for idx, direction := range sections {
		media := "audio 9 UDP/TLS/RTP/SAVPF 111"
		if idx%2 == 1 {
			media = "video 9 UDP/TLS/RTP/SAVPF 96"
		}
		if direction == "rejected" {
			media = strings.Replace(media, " 9 ", " 0 ", 1)
			direction = "sendonly"
		}
		lines = append(lines,
			"m="+media,
			"c=IN IP4 0.0.0.0",
			"a="+direction,
		)
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestCountSendingMedia(t *testing.T) {
	for _, tc := range []struct {
		name     string
		sections []string
		want     int
	}{
		{"audio+video", []string{"sendonly", "sendonly"}, 2},
		{"sendrecv", []string{"sendrecv", "sendrecv"}, 2},
		{"audio only", []string{"sendonly", "recvonly"}, 1},
		{"inactive", []string{"inactive"}, 0},
		{"rejected", []string{"sendonly", "rejected"}, 1},
	} {
		got, err := CountSendingMedia(testSDP(tc.sections...))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestCountSendingMediaInvalid(t *testing.T) {
	if _, err := CountSendingMedia("definitely not sdp"); err == nil {
		t.Error("expected error for invalid sdp")
	}
}

func TestRemoteSDPTransform(t *testing.T) {
	desc := &webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\nb=TIAS:128000\r\ns=-\r\n",
	}
	remoteSDPTransform(desc)

	if strings.Contains(desc.SDP, "TIAS") {
		t.Errorf("b=TIAS not removed: %q", desc.SDP)
	}
	if desc.SDP != "v=0\r\ns=-\r\n" {
		t.Errorf("unexpected sdp: %q", desc.SDP)
	}
}
