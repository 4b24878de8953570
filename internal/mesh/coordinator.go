/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
	"stash.kopano.io/kwm/kwmmesh/internal/rtc"
)

// Reasons sent with link_closed messages.
const (
	ReasonTimeout = "timeout"
	ReasonFailed  = "failed"
)

// Sender delivers messages to participants. Send must not block.
type Sender interface {
	Send(participantID string, message protocol.Message)
}

// Options configure a Coordinator.
type Options struct {
	Logger  logrus.FieldLogger
	Metrics prometheus.Registerer

	Capacity            int
	NegotiationTimeout  time.Duration
	StreamSettleTimeout time.Duration
}

// Coordinator drives the offer/answer and candidate exchange for all links.
// All operations touching a room run on that room's actor, operations on
// different rooms run in parallel.
type Coordinator struct {
	logger  logrus.FieldLogger
	metrics *metrics

	registry *Registry
	graph    *Graph
	sender   Sender

	negotiationTimeout  time.Duration
	streamSettleTimeout time.Duration

	mu     deadlock.Mutex
	actors map[string]*roomActor
}

// NewCoordinator creates a Coordinator backing links with connections of the
// provided engine and delivering messages with the provided sender.
func NewCoordinator(engine rtc.Engine, sender Sender, options *Options) *Coordinator {
	c := &Coordinator{
		logger:  options.Logger,
		metrics: newMetrics(options.Metrics),

		registry: NewRegistry(options.Capacity),
		graph:    NewGraph(engine, options.Logger),
		sender:   sender,

		negotiationTimeout:  options.NegotiationTimeout,
		streamSettleTimeout: options.StreamSettleTimeout,

		actors: make(map[string]*roomActor),
	}

	c.graph.onCreate = func(link *Link) {
		c.metrics.links.WithLabelValues(link.leg.String()).Inc()
	}
	c.graph.onClose = func(link *Link) {
		c.metrics.links.WithLabelValues(link.leg.String()).Dec()
	}

	return c
}

// Registry returns the associated room registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Graph returns the associated link graph.
func (c *Coordinator) Graph() *Graph {
	return c.graph
}

func (c *Coordinator) actorFor(roomID string) *roomActor {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.actors[roomID]
	if !ok {
		a = newRoomActor(roomID, c.removeActor)
		c.actors[roomID] = a
	}
	return a
}

func (c *Coordinator) removeActor(a *roomActor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.actors[a.id] == a {
		delete(c.actors, a.id)
	}
}

// do runs fn on the actor of the room and waits for it. The actor is stopped
// once the room no longer exists.
func (c *Coordinator) do(ctx context.Context, roomID string, fn func(a *roomActor) error) error {
	for {
		a := c.actorFor(roomID)
		err := a.do(ctx, func() error {
			fnErr := fn(a)
			if !c.registry.Exists(roomID) {
				a.stop()
			}
			return fnErr
		})
		if errors.Is(err, errActorStopped) {
			continue
		}

		switch {
		case err == nil:
		case errors.Is(err, ErrLinkNotFound):
			c.metrics.droppedMessages.WithLabelValues("link_not_found").Inc()
		case errors.Is(err, ErrInvalidState):
			c.metrics.droppedMessages.WithLabelValues("invalid_state").Inc()
		case errors.Is(err, ErrNotJoined):
			c.metrics.droppedMessages.WithLabelValues("not_joined").Inc()
		case errors.Is(err, ErrTransport):
			c.metrics.droppedMessages.WithLabelValues("transport_error").Inc()
		}
		return err
	}
}

func (c *Coordinator) updateGauges() {
	rooms, participants := c.registry.Count()
	c.metrics.rooms.Set(float64(rooms))
	c.metrics.participants.Set(float64(participants))
}

// current reports whether link is still the live link for its triple.
func (c *Coordinator) current(link *Link) bool {
	return c.graph.Get(link.id) == link && !link.Closed()
}

// Join adds participant to the room, sends the participant list to the
// joiner, tells the others and offers every ready stream to the joiner.
func (c *Coordinator) Join(ctx context.Context, roomID string, participant *Participant) error {
	return c.do(ctx, roomID, func(a *roomActor) error {
		if err := c.registry.Join(roomID, participant); err != nil {
			return err
		}
		c.updateGauges()

		logger := c.logger.WithFields(logrus.Fields{
			"room":        roomID,
			"participant": participant.ID,
		})
		logger.Infoln("participant joined")

		if _, err := c.publishLink(a, roomID, participant.ID); err != nil {
			logger.WithError(err).Warnln("failed to create publish link")
		}

		participants := c.registry.Participants(roomID)
		list := make([]*protocol.Participant, 0, len(participants))
		for _, p := range participants {
			list = append(list, &protocol.Participant{
				ID:       p.ID,
				Nickname: p.Nickname,
			})
		}
		c.sender.Send(participant.ID, protocol.NewParticipantsList(roomID, participant.ID, list))

		others := c.registry.OthersIn(roomID, participant.ID)
		joined := &protocol.Participant{
			ID:       participant.ID,
			Nickname: participant.Nickname,
		}
		for _, other := range others {
			c.sender.Send(other.ID, protocol.NewUserJoined(roomID, joined))
		}

		for _, other := range others {
			if s := a.streams[other.ID]; s != nil && s.ready {
				c.deliver(a, s, participant.ID, LegExisting)
			}
		}

		return nil
	})
}

// Leave removes the participant from its room, closes all its links and
// tells the remaining members.
func (c *Coordinator) Leave(ctx context.Context, participantID string) error {
	roomID, ok := c.registry.RoomOf(participantID)
	if !ok {
		return ErrNotJoined
	}

	return c.do(ctx, roomID, func(a *roomActor) error {
		if !c.registry.Contains(roomID, participantID) {
			return ErrNotJoined
		}

		_, deleted, _ := c.registry.Leave(participantID)
		c.updateGauges()

		closed := c.graph.CloseAllFor(participantID)
		if s := a.streams[participantID]; s != nil {
			s.stopSettleTimer()
			delete(a.streams, participantID)
		}

		for _, other := range c.registry.OthersIn(roomID, participantID) {
			c.sender.Send(other.ID, protocol.NewUserExit(roomID, participantID))
		}

		c.logger.WithFields(logrus.Fields{
			"room":        roomID,
			"participant": participantID,
			"links":       len(closed),
			"deleted":     deleted,
		}).Infoln("participant left")

		return nil
	})
}

// Publish applies the participant's offer to its publish link and answers
// it.
func (c *Coordinator) Publish(ctx context.Context, roomID string, participantID string, offer webrtc.SessionDescription) error {
	return c.do(ctx, roomID, func(a *roomActor) error {
		if !c.registry.Contains(roomID, participantID) {
			return ErrNotJoined
		}

		link, err := c.publishLink(a, roomID, participantID)
		if err != nil {
			return err
		}
		if link.Closed() {
			return nil
		}
		idle := link.State() == StateInit
		switch state := link.State(); state {
		case StateInit, StateAnswerSent, StateConnected:
		default:
			return invalidState(link.id, state, "publish")
		}

		expected, parseErr := rtc.CountSendingMedia(offer.SDP)
		if parseErr != nil {
			c.logger.WithError(parseErr).WithField("link", link.id).Debugln("failed to count media in offer")
		}
		s := a.streams[participantID]
		if s == nil {
			s = &stream{owner: participantID}
			a.streams[participantID] = s
		}
		s.expected = expected

		if err = link.conn.SetRemoteDescription(offer); err != nil {
			return newTransportError("set remote description", link.id, err)
		}
		link.setRemoteDescriptionApplied()
		if err = link.transition(StateOfferReceived); err != nil {
			return err
		}
		if idle {
			c.restartNegotiationTimer(a, link)
		} else {
			c.armNegotiationTimer(a, link)
		}
		c.flushCandidates(link)

		answer, err := link.conn.CreateAnswer()
		if err != nil {
			return newTransportError("create answer", link.id, err)
		}
		if err = link.conn.SetLocalDescription(answer); err != nil {
			return newTransportError("set local description", link.id, err)
		}
		if err = link.transition(StateAnswerSent); err != nil {
			return err
		}
		c.logger.WithField("link", link.id).Debugln(">>> kkk sending answer")
		c.sender.Send(participantID, protocol.NewAnswer(protocol.TypeNewParticipantAnswer, roomID, participantID, "", answer))

		if link.conn.ConnectionState() == webrtc.PeerConnectionStateConnected {
			c.connected(link)
		}
		return nil
	})
}

// Answer applies an answer to the delivery link id.
func (c *Coordinator) Answer(ctx context.Context, id LinkID, answer webrtc.SessionDescription) error {
	return c.do(ctx, id.Room, func(a *roomActor) error {
		link := c.graph.Get(id)
		if link == nil {
			return errLinkNotFound(id)
		}
		if link.Closed() {
			return nil
		}
		if state := link.State(); id.IsPublish() || state != StateOfferSent {
			return invalidState(id, state, "answer")
		}

		if err := link.conn.SetRemoteDescription(answer); err != nil {
			return newTransportError("set remote description", id, err)
		}
		link.setRemoteDescriptionApplied()
		if err := link.transition(StateAnswered); err != nil {
			return err
		}
		c.flushCandidates(link)

		if link.conn.ConnectionState() == webrtc.PeerConnectionStateConnected {
			c.connected(link)
		}

		if link.setQueued(false) {
			c.logger.WithField("link", id).Debugln("nnn trigger queued negotiation")
			return c.negotiate(a, link)
		}
		return nil
	})
}

// Candidate applies a remote ICE candidate to the link id, buffering it
// until the remote description of the link is set.
func (c *Coordinator) Candidate(ctx context.Context, id LinkID, candidate webrtc.ICECandidateInit) error {
	return c.do(ctx, id.Room, func(a *roomActor) error {
		var link *Link
		if id.IsPublish() {
			if !c.registry.Contains(id.Room, id.From) {
				return ErrNotJoined
			}
			var err error
			if link, err = c.publishLink(a, id.Room, id.From); err != nil {
				return err
			}
		} else {
			if link = c.graph.Get(id); link == nil {
				return errLinkNotFound(id)
			}
		}
		if link.Closed() {
			return nil
		}

		if !link.hasRemoteDescription() {
			c.bufferCandidate(link, candidate)
			return nil
		}
		if err := link.conn.AddICECandidate(candidate); err != nil {
			if errors.Is(err, rtc.ErrNoRemoteDescription) {
				c.bufferCandidate(link, candidate)
				return nil
			}
			return newTransportError("add candidate", id, err)
		}
		return nil
	})
}

// Broadcast sends msg to all members of the room except from.
func (c *Coordinator) Broadcast(ctx context.Context, roomID string, from string, msg protocol.Message) error {
	return c.do(ctx, roomID, func(a *roomActor) error {
		if !c.registry.Contains(roomID, from) {
			return ErrNotJoined
		}
		for _, other := range c.registry.OthersIn(roomID, from) {
			c.sender.Send(other.ID, msg)
		}
		return nil
	})
}

// Close closes all links. Used on shutdown.
func (c *Coordinator) Close() {
	for _, roomID := range c.registry.Rooms() {
		for _, link := range c.graph.Links(roomID) {
			c.graph.Close(link.id)
		}
	}
}

func errLinkNotFound(id LinkID) error {
	return fmt.Errorf("%w: %s", ErrLinkNotFound, id)
}

func (c *Coordinator) publishLink(a *roomActor, roomID string, participantID string) (*Link, error) {
	link, created, err := c.graph.GetOrCreate(LinkID{Room: roomID, From: participantID}, LegPublish)
	if err != nil {
		return nil, err
	}
	if created {
		c.wire(a, link)
		// A participant who never publishes gives the link up after the
		// timeout, a later offer or candidate recreates it.
		c.armNegotiationTimer(a, link)
	}
	return link, nil
}

// wire connects the engine callbacks of link to the room actor.
func (c *Coordinator) wire(a *roomActor, link *Link) {
	link.conn.OnICECandidate(func(candidate *webrtc.ICECandidateInit) {
		if candidate == nil {
			return
		}
		init := *candidate
		a.post(func() error {
			c.onLocalCandidate(link, init)
			return nil
		})
	})
	link.conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		a.post(func() error {
			c.onConnectionStateChange(a, link, state)
			return nil
		})
	})
	if link.id.IsPublish() {
		link.conn.OnTrack(func(track rtc.Track) {
			a.post(func() error {
				c.onTrack(a, link, track)
				return nil
			})
		})
	}
}

func (c *Coordinator) onLocalCandidate(link *Link, candidate webrtc.ICECandidateInit) {
	if !c.current(link) {
		return
	}

	id := link.id
	if id.IsPublish() {
		c.sender.Send(id.From, protocol.NewCandidate(protocol.TypeNewParticipantCandidate, id.Room, id.From, "", candidate))
	} else {
		c.sender.Send(id.To, protocol.NewCandidate(link.leg.candidateType(), id.Room, id.From, id.To, candidate))
	}
}

func (c *Coordinator) onConnectionStateChange(a *roomActor, link *Link, state webrtc.PeerConnectionState) {
	logger := c.logger.WithFields(logrus.Fields{
		"link":  link.id,
		"state": state,
	})
	if !c.current(link) {
		logger.Debugln("rrr ignored state change of replaced link")
		return
	}
	logger.Debugln("rrr onConnectionStateChange")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		switch link.State() {
		case StateAnswered, StateAnswerSent:
			c.connected(link)
		}
	case webrtc.PeerConnectionStateFailed:
		c.metrics.negotiations.WithLabelValues("failed").Inc()
		c.closeLink(a, link, ReasonFailed)
	}
}

func (c *Coordinator) connected(link *Link) {
	if err := link.transition(StateConnected); err != nil {
		c.logger.WithError(err).Warnln("failed to mark link connected")
		return
	}
	link.disarmTimer()
	c.metrics.negotiations.WithLabelValues("connected").Inc()
	c.logger.WithField("link", link.id).Debugln("nnn negotiation complete")

	for _, track := range link.Tracks() {
		track.RequestKeyFrame()
	}
}

func (c *Coordinator) onTrack(a *roomActor, link *Link, track rtc.Track) {
	if !c.current(link) {
		return
	}

	owner := link.id.From
	logger := c.logger.WithFields(logrus.Fields{
		"link":       link.id,
		"track_id":   track.ID(),
		"track_kind": track.Kind(),
	})

	s := a.streams[owner]
	if s == nil {
		s = &stream{owner: owner}
		a.streams[owner] = s
	}
	if !s.addTrack(track) {
		return
	}
	logger.Debugln("ttt track received")

	switch {
	case s.ready:
		// Late track, add to existing delivery links.
		for _, delivery := range c.graph.LinksFrom(a.id, owner) {
			c.attachTracks(a, delivery, s)
		}
	case s.complete():
		c.fanOut(a, s)
	case s.settle == nil:
		s.settle = a.after(c.streamSettleTimeout, func() error {
			if a.streams[owner] == s && !s.ready {
				logger.Debugln("ttt stream settle timeout, fanning out")
				c.fanOut(a, s)
			}
			return nil
		})
	}
}

func (c *Coordinator) fanOut(a *roomActor, s *stream) {
	s.ready = true
	s.stopSettleTimer()

	for _, member := range c.registry.OthersIn(a.id, s.owner) {
		c.deliver(a, s, member.ID, LegNew)
	}
}

// deliver makes sure the link carrying stream s to receiverID exists and
// carries all tracks of s.
func (c *Coordinator) deliver(a *roomActor, s *stream, receiverID string, leg Leg) {
	link, created, err := c.graph.GetOrCreate(LinkID{Room: a.id, From: s.owner, To: receiverID}, leg)
	if err != nil {
		c.logger.WithError(err).Warnln("failed to create delivery link")
		return
	}
	if created {
		c.wire(a, link)
	}
	c.attachTracks(a, link, s)
}

func (c *Coordinator) attachTracks(a *roomActor, link *Link, s *stream) {
	if link.Closed() {
		return
	}

	added := false
	for _, track := range s.tracks {
		if link.hasTrack(track) {
			continue
		}
		if err := link.conn.AddTrack(track); err != nil {
			c.logger.WithError(err).WithField("link", link.id).Warnln("failed to add track to link")
			continue
		}
		link.addTrack(track)
		added = true
	}
	if !added {
		return
	}

	if err := c.negotiate(a, link); err != nil {
		c.logger.WithError(err).WithField("link", link.id).Warnln("failed to negotiate link")
	}
}

// negotiate sends a new offer for a delivery link, or queues one when an
// offer is already outstanding.
func (c *Coordinator) negotiate(a *roomActor, link *Link) error {
	switch link.State() {
	case StateClosed:
		return nil
	case StateOfferSent:
		c.logger.WithField("link", link.id).Debugln("nnn already negotiating, queueing")
		link.setQueued(true)
		return nil
	}

	offer, err := link.conn.CreateOffer()
	if err != nil {
		return newTransportError("create offer", link.id, err)
	}
	if err = link.conn.SetLocalDescription(offer); err != nil {
		return newTransportError("set local description", link.id, err)
	}
	if err = link.transition(StateOfferSent); err != nil {
		return err
	}
	c.armNegotiationTimer(a, link)

	id := link.id
	c.logger.WithField("link", id).Debugln(">>> kkk sending offer")
	c.sender.Send(id.To, protocol.NewOffer(link.leg.offerType(), id.Room, id.From, id.To, offer))
	return nil
}

func (c *Coordinator) bufferCandidate(link *Link, candidate webrtc.ICECandidateInit) {
	link.bufferCandidate(candidate)
	c.metrics.bufferedCandidate.Inc()
	c.logger.WithField("link", link.id).Debugln("iii buffered candidate, no remote description yet")
}

// flushCandidates applies buffered candidates in arrival order.
func (c *Coordinator) flushCandidates(link *Link) {
	for _, candidate := range link.takePendingCandidates() {
		if err := link.conn.AddICECandidate(candidate); err != nil {
			c.logger.WithError(err).WithField("link", link.id).Warnln("iii failed to apply buffered candidate")
		}
	}
}

func (c *Coordinator) armNegotiationTimer(a *roomActor, link *Link) {
	if c.negotiationTimeout <= 0 {
		return
	}
	link.armTimer(c.negotiationTimeout, c.negotiationTimeoutFunc(a, link))
}

// restartNegotiationTimer starts the deadline over, used when an idle
// publish link receives its first offer.
func (c *Coordinator) restartNegotiationTimer(a *roomActor, link *Link) {
	if c.negotiationTimeout <= 0 {
		return
	}
	link.restartTimer(c.negotiationTimeout, c.negotiationTimeoutFunc(a, link))
}

func (c *Coordinator) negotiationTimeoutFunc(a *roomActor, link *Link) func(uint64) {
	return func(gen uint64) {
		a.post(func() error {
			c.onNegotiationTimeout(a, link, gen)
			return nil
		})
	}
}

func (c *Coordinator) onNegotiationTimeout(a *roomActor, link *Link, gen uint64) {
	if !c.current(link) || !link.timerCurrent(gen) {
		return
	}
	if link.State() == StateConnected {
		link.disarmTimer()
		return
	}

	c.logger.WithFields(logrus.Fields{
		"link":  link.id,
		"state": link.State(),
	}).Infoln("negotiation timeout, closing link")
	c.metrics.negotiations.WithLabelValues("timeout").Inc()
	c.closeLink(a, link, ReasonTimeout)
}

// closeLink closes a single link and tells the client side. Closing a
// publish link drops the participant's stream.
func (c *Coordinator) closeLink(a *roomActor, link *Link, reason string) {
	id := link.id
	c.graph.Close(id)

	if !id.IsPublish() {
		c.sender.Send(id.To, protocol.NewLinkClosed(id.Room, id.From, id.To, reason))
		return
	}

	c.sender.Send(id.From, protocol.NewLinkClosed(id.Room, id.From, "", reason))
	if s := a.streams[id.From]; s != nil {
		s.stopSettleTimer()
		delete(a.streams, id.From)
	}
	for _, delivery := range c.graph.LinksFrom(id.Room, id.From) {
		c.graph.Close(delivery.id)
		c.sender.Send(delivery.id.To, protocol.NewLinkClosed(id.Room, id.From, delivery.id.To, reason))
	}
}
