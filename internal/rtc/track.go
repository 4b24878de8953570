/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"errors"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// ForwardingTrack copies RTP from a remote track into a local track which
// can be attached to any number of peer connections.
type ForwardingTrack struct {
	publisher *webrtc.PeerConnection
	remote    *webrtc.TrackRemote
	local     *webrtc.TrackLocalStaticRTP

	logger logrus.FieldLogger
}

func newForwardingTrack(publisher *webrtc.PeerConnection, remote *webrtc.TrackRemote, logger logrus.FieldLogger) (*ForwardingTrack, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		return nil, err
	}

	return &ForwardingTrack{
		publisher: publisher,
		remote:    remote,
		local:     local,

		logger: logger,
	}, nil
}

// ID returns the track id.
func (ft *ForwardingTrack) ID() string {
	return ft.local.ID()
}

// Kind returns either audio or video.
func (ft *ForwardingTrack) Kind() string {
	return ft.local.Kind().String()
}

// StreamID returns the media stream id the publisher assigned.
func (ft *ForwardingTrack) StreamID() string {
	return ft.local.StreamID()
}

// RequestKeyFrame sends a PLI for the remote track to its publisher.
func (ft *ForwardingTrack) RequestKeyFrame() {
	if ft.remote.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	if err := ft.publisher.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(ft.remote.SSRC())},
	}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		ft.logger.WithError(err).Debugln("ttt failed to write pli")
	}
}

func (ft *ForwardingTrack) write(packet *rtp.Packet) error {
	return ft.local.WriteRTP(packet)
}

func (ft *ForwardingTrack) forward() {
	defer ft.logger.Debugln("ttt forwarding track pump exit")

	for {
		packet, _, err := ft.remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				ft.logger.WithError(err).Debugln("ttt forwarding track read failed")
			}
			return
		}
		if err = ft.write(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			ft.logger.WithError(err).Warnln("ttt forwarding track write failed")
			return
		}
	}
}
