/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmmesh/config"
)

var logger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.InfoLevel,
}

func newVNetPair(t *testing.T) (*vnet.Net, *vnet.Net) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	serverNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new server net: %v", err)
	}
	clientNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new client net: %v", err)
	}
	if err = router.AddNet(serverNet); err != nil {
		t.Fatalf("add server net: %v", err)
	}
	if err = router.AddNet(clientNet); err != nil {
		t.Fatalf("add client net: %v", err)
	}
	if err = router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	return serverNet, clientNet
}

// testClient is a browser stand-in publishing one audio track.
type testClient struct {
	sync.Mutex

	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	pending []webrtc.ICECandidateInit
}

func newTestClient(t *testing.T, n *vnet.Net) *testClient {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		t.Fatal(err)
	}

	pc, err := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(m)).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new client pc: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "client")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = pc.AddTrack(track); err != nil {
		t.Fatal(err)
	}

	return &testClient{
		pc:    pc,
		track: track,
	}
}

// addCandidate applies candidate, holding it back until the answer arrived.
func (c *testClient) addCandidate(candidate webrtc.ICECandidateInit) {
	c.Lock()
	defer c.Unlock()

	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, candidate)
		return
	}
	_ = c.pc.AddICECandidate(candidate)
}

func (c *testClient) setAnswer(answer webrtc.SessionDescription) error {
	c.Lock()
	defer c.Unlock()

	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	for _, candidate := range c.pending {
		_ = c.pc.AddICECandidate(candidate)
	}
	c.pending = nil
	return nil
}

func TestPionEngineNegotiation(t *testing.T) {
	serverNet, clientNet := newVNetPair(t)

	engine, err := NewPionEngine(&cfg.Config{
		Logger: logger,
		Net:    serverNet,
	})
	if err != nil {
		t.Fatal(err)
	}
	conn, err := engine.NewConnection("test-pc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if conn.ID() != "test-pc" {
		t.Errorf("unexpected connection id %s", conn.ID())
	}

	if err = conn.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host"}); !errors.Is(err, ErrNoRemoteDescription) {
		t.Errorf("expected ErrNoRemoteDescription, got %v", err)
	}

	client := newTestClient(t, clientNet)

	connected := make(chan struct{})
	var connectedOnce sync.Once
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateConnected {
			connectedOnce.Do(func() { close(connected) })
		}
	})
	tracks := make(chan Track, 1)
	conn.OnTrack(func(track Track) {
		select {
		case tracks <- track:
		default:
		}
	})
	conn.OnICECandidate(func(candidate *webrtc.ICECandidateInit) {
		if candidate != nil {
			client.addCandidate(*candidate)
		}
	})

	offer, err := client.pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(client.pc)
	if err = client.pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout gathering client candidates")
	}

	count, err := CountSendingMedia(client.pc.LocalDescription().SDP)
	if err != nil || count != 1 {
		t.Fatalf("unexpected media count %d: %v", count, err)
	}

	if err = conn.SetRemoteDescription(*client.pc.LocalDescription()); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := conn.CreateAnswer()
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err = conn.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	if err = client.setAnswer(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for connection")
	}
	if state := conn.ConnectionState(); state != webrtc.PeerConnectionStateConnected {
		t.Errorf("unexpected state %s", state)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// Opus silence frame.
				_ = client.track.WriteSample(media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()

	select {
	case track := <-tracks:
		if track.Kind() != "audio" || track.StreamID() != "client" {
			t.Errorf("unexpected track %s %s", track.Kind(), track.StreamID())
		}
		// No-op for audio.
		track.RequestKeyFrame()
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for track")
	}

	if err = conn.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err = conn.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestPionEngineAddTrackRejectsForeignTrack(t *testing.T) {
	serverNet, _ := newVNetPair(t)

	engine, err := NewPionEngine(&cfg.Config{
		Logger: logger,
		Net:    serverNet,
	})
	if err != nil {
		t.Fatal(err)
	}
	conn, err := engine.NewConnection("test-pc")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err = conn.AddTrack(&foreignTrack{}); !errors.Is(err, errUnsupportedTrack) {
		t.Errorf("expected errUnsupportedTrack, got %v", err)
	}
}

type foreignTrack struct{}

func (foreignTrack) ID() string       { return "foreign" }
func (foreignTrack) Kind() string     { return "audio" }
func (foreignTrack) StreamID() string { return "foreign" }
func (foreignTrack) RequestKeyFrame() {}
