/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

func remoteSDPTransform(sessionDescription *webrtc.SessionDescription) {
	sdpLinesIn := strings.Split(sessionDescription.SDP, "\r\n")
	sdpLinesOut := sdpLinesIn[:0]
	for _, line := range sdpLinesIn {
		if strings.HasPrefix(line, "b=TIAS:") {
			// b=TIAS is unsupported, filter out. Used by Firefox for bandwidth control.
			continue
		}

		sdpLinesOut = append(sdpLinesOut, line)
	}

	sessionDescription.SDP = strings.Join(sdpLinesOut, "\r\n")
}

// CountSendingMedia returns the number of audio and video media sections of
// the provided SDP in which the remote side sends media. Sections without
// direction attribute default to sendrecv.
func CountSendingMedia(raw string) (int, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return 0, err
	}

	count := 0
	for _, media := range parsed.MediaDescriptions {
		switch media.MediaName.Media {
		case "audio", "video":
		default:
			continue
		}
		if media.MediaName.Port.Value == 0 {
			// Rejected or stopped.
			continue
		}
		if _, ok := media.Attribute("recvonly"); ok {
			continue
		}
		if _, ok := media.Attribute("inactive"); ok {
			continue
		}
		count++
	}

	return count, nil
}
