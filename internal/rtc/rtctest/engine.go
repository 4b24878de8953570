/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

// Package rtctest provides an in-memory rtc.Engine for tests.
package rtctest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"stash.kopano.io/kwm/kwmmesh/internal/rtc"
)

// ErrMalformed is returned for session descriptions containing the word
// "malformed".
var ErrMalformed = errors.New("malformed session description")

var errClosed = errors.New("connection closed")

// Engine is an in-memory rtc.Engine which records every connection.
type Engine struct {
	mu          sync.Mutex
	connections map[string][]*Connection

	// AutoConnect makes connections report connected as soon as both
	// descriptions are set.
	AutoConnect bool
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{
		connections: make(map[string][]*Connection),
	}
}

// NewConnection implements rtc.Engine.
func (e *Engine) NewConnection(id string) (rtc.Connection, error) {
	c := &Connection{
		id:          id,
		state:       webrtc.PeerConnectionStateNew,
		autoConnect: e.AutoConnect,
	}

	e.mu.Lock()
	e.connections[id] = append(e.connections[id], c)
	e.mu.Unlock()

	return c, nil
}

// Connection returns the last connection created with id, or nil.
func (e *Engine) Connection(id string) *Connection {
	e.mu.Lock()
	defer e.mu.Unlock()

	connections := e.connections[id]
	if len(connections) == 0 {
		return nil
	}
	return connections[len(connections)-1]
}

// Created returns how many connections were created with id.
func (e *Engine) Created(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.connections[id])
}

// Connection is an in-memory rtc.Connection.
type Connection struct {
	mu sync.Mutex

	id     string
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription
	state  webrtc.PeerConnectionState
	closed bool

	autoConnect bool
	sequence    uint64

	candidates []webrtc.ICECandidateInit
	tracks     []rtc.Track

	onICECandidate          func(*webrtc.ICECandidateInit)
	onTrack                 func(rtc.Track)
	onConnectionStateChange func(webrtc.PeerConnectionState)
}

// ID implements rtc.Connection.
func (c *Connection) ID() string {
	return c.id
}

// SetRemoteDescription implements rtc.Connection.
func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := checkDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.remote = &desc
	c.mu.Unlock()

	c.maybeConnect()
	return nil
}

// SetLocalDescription implements rtc.Connection.
func (c *Connection) SetLocalDescription(desc webrtc.SessionDescription) error {
	if err := checkDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.local = &desc
	c.mu.Unlock()

	c.maybeConnect()
	return nil
}

// CreateOffer implements rtc.Connection.
func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.create(webrtc.SDPTypeOffer)
}

// CreateAnswer implements rtc.Connection.
func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	hasRemote := c.remote != nil
	c.mu.Unlock()
	if !hasRemote {
		return webrtc.SessionDescription{}, ErrMalformed
	}
	return c.create(webrtc.SDPTypeAnswer)
}

func (c *Connection) create(typ webrtc.SDPType) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, errClosed
	}

	c.sequence++
	return webrtc.SessionDescription{
		Type: typ,
		SDP:  fmt.Sprintf("%s-%s-%d", typ, c.id, c.sequence),
	}, nil
}

// AddICECandidate implements rtc.Connection.
func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if c.remote == nil {
		return rtc.ErrNoRemoteDescription
	}

	c.candidates = append(c.candidates, candidate)
	return nil
}

// AddTrack implements rtc.Connection.
func (c *Connection) AddTrack(track rtc.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	c.tracks = append(c.tracks, track)
	return nil
}

// ConnectionState implements rtc.Connection.
func (c *Connection) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// OnICECandidate implements rtc.Connection.
func (c *Connection) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICECandidate = handler
	c.mu.Unlock()
}

// OnTrack implements rtc.Connection.
func (c *Connection) OnTrack(handler func(rtc.Track)) {
	c.mu.Lock()
	c.onTrack = handler
	c.mu.Unlock()
}

// OnConnectionStateChange implements rtc.Connection.
func (c *Connection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onConnectionStateChange = handler
	c.mu.Unlock()
}

// Close implements rtc.Connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.SetState(webrtc.PeerConnectionStateClosed)
	return nil
}

// Closed reports whether Close was called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// LocalDescription returns the last local description, or nil.
func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.local
}

// RemoteDescription returns the last remote description, or nil.
func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remote
}

// Candidates returns the applied remote candidates in order.
func (c *Connection) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

// Tracks returns the attached tracks in order.
func (c *Connection) Tracks() []rtc.Track {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]rtc.Track(nil), c.tracks...)
}

// EmitTrack fires the track handler as if media arrived.
func (c *Connection) EmitTrack(track rtc.Track) {
	c.mu.Lock()
	handler := c.onTrack
	c.mu.Unlock()

	if handler != nil {
		handler(track)
	}
}

// EmitICECandidate fires the candidate handler as if a local candidate was
// gathered.
func (c *Connection) EmitICECandidate(candidate *webrtc.ICECandidateInit) {
	c.mu.Lock()
	handler := c.onICECandidate
	c.mu.Unlock()

	if handler != nil {
		handler(candidate)
	}
}

// SetState changes the connection state and fires the state handler.
func (c *Connection) SetState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	handler := c.onConnectionStateChange
	c.mu.Unlock()

	if handler != nil {
		handler(state)
	}
}

func (c *Connection) maybeConnect() {
	c.mu.Lock()
	ready := c.autoConnect && c.local != nil && c.remote != nil && !c.closed
	c.mu.Unlock()

	if ready {
		c.SetState(webrtc.PeerConnectionStateConnected)
	}
}

func checkDescription(desc webrtc.SessionDescription) error {
	if desc.SDP == "" || strings.Contains(desc.SDP, "malformed") {
		return ErrMalformed
	}
	return nil
}

var trackCounter uint64

// Track is an in-memory rtc.Track.
type Track struct {
	id       string
	kind     string
	streamID string

	keyFrames int64
}

// NewTrack creates a Track of kind audio or video.
func NewTrack(kind, streamID string) *Track {
	n := atomic.AddUint64(&trackCounter, 1)
	return &Track{
		id:       fmt.Sprintf("%s-%d", kind, n),
		kind:     kind,
		streamID: streamID,
	}
}

// ID implements rtc.Track.
func (t *Track) ID() string {
	return t.id
}

// Kind implements rtc.Track.
func (t *Track) Kind() string {
	return t.kind
}

// StreamID implements rtc.Track.
func (t *Track) StreamID() string {
	return t.streamID
}

// RequestKeyFrame implements rtc.Track.
func (t *Track) RequestKeyFrame() {
	if t.kind == "video" {
		atomic.AddInt64(&t.keyFrames, 1)
	}
}

// KeyFrames returns how many key frames were requested.
func (t *Track) KeyFrames() int64 {
	return atomic.LoadInt64(&t.keyFrames)
}
