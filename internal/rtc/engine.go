/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrNoRemoteDescription is returned by Connection.AddICECandidate when the
// remote description has not been set yet.
var ErrNoRemoteDescription = errors.New("remote description not set")

// Engine creates media transport connections.
type Engine interface {
	NewConnection(id string) (Connection, error)
}

// Connection is a single peer connection. Callbacks may be invoked from any
// goroutine.
type Connection interface {
	ID() string

	SetRemoteDescription(webrtc.SessionDescription) error
	SetLocalDescription(webrtc.SessionDescription) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	AddICECandidate(webrtc.ICECandidateInit) error

	AddTrack(Track) error
	ConnectionState() webrtc.PeerConnectionState

	OnICECandidate(func(*webrtc.ICECandidateInit))
	OnTrack(func(Track))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// Track is an inbound media track which can be attached to any number of
// outbound connections.
type Track interface {
	ID() string
	Kind() string
	StreamID() string

	// RequestKeyFrame asks the publisher of the accociated track for a new
	// key frame. No-op for audio.
	RequestKeyFrame()
}
