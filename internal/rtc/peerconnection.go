/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var errUnsupportedTrack = errors.New("track was not created by this engine")

type peerConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	logger logrus.FieldLogger

	closed int32
}

func newPeerConnection(pc *webrtc.PeerConnection, id string, logger logrus.FieldLogger) *peerConnection {
	return &peerConnection{
		pc:     pc,
		id:     id,
		logger: logger,
	}
}

func (p *peerConnection) ID() string {
	return p.id
}

func (p *peerConnection) SetRemoteDescription(sessionDescription webrtc.SessionDescription) error {
	remoteSDPTransform(&sessionDescription)
	return p.pc.SetRemoteDescription(sessionDescription)
}

func (p *peerConnection) SetLocalDescription(sessionDescription webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sessionDescription)
}

func (p *peerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *peerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *peerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if p.pc.RemoteDescription() == nil {
		return ErrNoRemoteDescription
	}
	return p.pc.AddICECandidate(candidate)
}

func (p *peerConnection) AddTrack(track Track) error {
	ft, ok := track.(*ForwardingTrack)
	if !ok {
		return errUnsupportedTrack
	}

	transceiver, err := p.pc.AddTransceiverFromTrack(ft.local, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("failed to add transceiver: %w", err)
	}

	sender := transceiver.Sender()
	go func() {
		// Drain RTCP of the receiving side, forwarding key frame requests to
		// the publisher.
		for {
			packets, _, readErr := sender.ReadRTCP()
			if readErr != nil {
				return
			}
			for _, packet := range packets {
				switch packet.(type) {
				case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
					ft.RequestKeyFrame()
				}
			}
		}
	}()

	return nil
}

func (p *peerConnection) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

func (p *peerConnection) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			handler(nil)
			return
		}
		init := candidate.ToJSON()
		handler(&init)
	})
}

func (p *peerConnection) OnTrack(handler func(Track)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		trackLogger := p.logger.WithFields(logrus.Fields{
			"track_id":   remote.ID(),
			"track_kind": remote.Kind().String(),
			"track_ssrc": remote.SSRC(),
		})
		trackLogger.Debugln("ttt onTrack")

		ft, err := newForwardingTrack(p.pc, remote, trackLogger)
		if err != nil {
			trackLogger.WithError(err).Warnln("ttt failed to create forwarding track, track skipped")
			return
		}
		go ft.forward()

		handler(ft)
	})
}

func (p *peerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(handler)
}

func (p *peerConnection) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	return p.pc.Close()
}
