/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rogpeppe/fastuuid"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"stash.kopano.io/kwm/kwmmesh/internal/bpool"
	"stash.kopano.io/kwm/kwmmesh/internal/mesh"
	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
)

const (
	readLimit     = 64 * 1024
	pingPeriod    = 30 * time.Second
	writeTimeout  = 10 * time.Second
	sendQueueSize = 256
)

var guidGenerator = fastuuid.MustNewGenerator()

// Session is the signaling dispatcher of one websocket connection. Inbound
// messages are handled in order, outbound messages pass a bounded queue.
type Session struct {
	mu deadlock.RWMutex

	id      string
	manager *Manager
	ws      *websocket.Conn
	logger  logrus.FieldLogger

	ctx       context.Context
	cancel    context.CancelFunc
	send      chan protocol.Message
	closeOnce sync.Once

	participantID string
	room          string
	channels      map[string]struct{}
}

func newSession(m *Manager, ws *websocket.Conn, remoteAddr string) *Session {
	id := guidGenerator.Hex128()
	ctx, cancel := context.WithCancel(m.ctx)

	return &Session{
		id:      id,
		manager: m,
		ws:      ws,
		logger: m.logger.WithFields(logrus.Fields{
			"session": id,
			"remote":  remoteAddr,
		}),

		ctx:    ctx,
		cancel: cancel,
		send:   make(chan protocol.Message, sendQueueSize),

		channels: make(map[string]struct{}),
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) participant() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.participantID, s.room
}

func (s *Session) setParticipant(participantID string, room string) {
	s.mu.Lock()
	s.participantID = participantID
	s.room = room
	s.mu.Unlock()
}

// Send queues message for the client. A session which cannot keep up is
// closed.
func (s *Session) Send(message protocol.Message) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	select {
	case s.send <- message:
	default:
		s.logger.WithField("type", message.MessageType()).Warnln("send queue full, closing session")
		s.close(websocket.StatusPolicyViolation, "send queue full")
	}
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			if err := s.ws.Close(code, reason); err != nil {
				s.logger.WithError(err).Debugln("websocket close")
			}
		}()
	})
}

// serve blocks until the connection ends.
func (s *Session) serve() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.writePump() // Always send result, to unblock cleanup.
	}()

	readErr := s.readPump()
	s.close(websocket.StatusNormalClosure, "")
	writeErr := <-errCh

	if readErr != nil {
		return readErr
	}
	return writeErr
}

func (s *Session) readPump() error {
	for {
		mt, reader, err := s.ws.Reader(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.logger.WithField("status_code", websocket.CloseStatus(err)).Debugln("session connection close")
				return nil
			}
			return err
		}

		b := bpool.Get()
		if _, err = b.ReadFrom(reader); err != nil {
			bpool.Put(b)
			return fmt.Errorf("session reader read error: %w", err)
		}

		switch mt {
		case websocket.MessageText:
		default:
			s.logger.WithField("message_type", mt).Warnln("session received unknown websocket message type")
			bpool.Put(b)
			continue
		}

		message, err := protocol.Decode(b.Bytes())
		bpool.Put(b)
		if err != nil {
			s.logger.WithError(err).Debugln("session received invalid message")
			s.Send(protocol.NewError(protocol.ErrorCodeInvalidMessage, err.Error()))
			continue
		}

		s.handle(message)
	}
}

func (s *Session) writePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil

		case message := <-s.send:
			if err := s.write(message); err != nil {
				s.close(websocket.StatusInternalError, "write failed")
				return err
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.ws.Ping(ctx)
			cancel()
			if err != nil {
				s.close(websocket.StatusGoingAway, "ping failed")
				return fmt.Errorf("session ping failed: %w", err)
			}
		}
	}
}

func (s *Session) write(message protocol.Message) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()

	writer, err := s.ws.Writer(ctx, websocket.MessageText)
	if err != nil {
		return fmt.Errorf("failed to get websocket writer: %w", err)
	}
	if err = json.NewEncoder(writer).Encode(message); err != nil {
		writer.Close()
		return fmt.Errorf("failed to marshal websocket message: %w", err)
	}
	return writer.Close()
}

func (s *Session) handle(message protocol.Message) {
	var room string
	var err error

	switch msg := message.(type) {
	case *protocol.JoinVoiceChannel:
		room = msg.Room
		err = s.join(msg)
	case *protocol.LeaveVoiceChannel:
		err = s.leave()
	case *protocol.Offer:
		err = s.publish(msg)
	case *protocol.Answer:
		err = s.answer(msg)
	case *protocol.Candidate:
		err = s.candidate(msg)
	case *protocol.VideoTrackEnabledChanged:
		err = s.videoTrackEnabledChanged(msg)
	case *protocol.ChatChannel:
		err = s.chatChannel(msg)
	case *protocol.ChatRequest:
		err = s.chatRequest(msg)
	default:
		s.logger.WithField("type", message.MessageType()).Warnln("session has no handler for message")
	}

	if err != nil {
		s.handleError(message, room, err)
	}
}

// handleError maps errors to events for the client. Stale link messages are
// only logged.
func (s *Session) handleError(message protocol.Message, room string, err error) {
	logger := s.logger.WithError(err).WithField("type", message.MessageType())

	switch {
	case errors.Is(err, mesh.ErrRoomFull):
		logger.Debugln("join rejected, room is full")
		s.Send(protocol.NewRoomFull(room))
	case errors.Is(err, mesh.ErrAlreadyJoined):
		s.Send(protocol.NewError(protocol.ErrorCodeAlreadyJoined, err.Error()))
	case errors.Is(err, mesh.ErrNotJoined):
		s.Send(protocol.NewError(protocol.ErrorCodeNotJoined, err.Error()))
	case errors.Is(err, mesh.ErrInvalidID):
		s.Send(protocol.NewError(protocol.ErrorCodeInvalidMessage, err.Error()))
	case errors.Is(err, mesh.ErrTransport):
		logger.Warnln("transport rejected signaling message")
		s.Send(protocol.NewError(protocol.ErrorCodeTransportError, err.Error()))
	case errors.Is(err, errChatFailed):
		logger.Debugln("chat request failed")
		s.Send(protocol.NewError(protocol.ErrorCodeChatError, err.Error()))
	case errors.Is(err, mesh.ErrLinkNotFound), errors.Is(err, mesh.ErrInvalidState):
		logger.Debugln("dropped stale signaling message")
	case errors.Is(err, context.Canceled):
	default:
		logger.Warnln("failed to handle message")
	}
}

func (s *Session) requireParticipant() (string, error) {
	participantID, _ := s.participant()
	if participantID == "" {
		return "", mesh.ErrNotJoined
	}
	return participantID, nil
}

func (s *Session) join(msg *protocol.JoinVoiceChannel) error {
	if participantID, _ := s.participant(); participantID != "" {
		return mesh.ErrAlreadyJoined
	}

	participantID := msg.ParticipantID
	if participantID == "" {
		participantID = guidGenerator.Hex128()
	}
	if !s.manager.participants.SetIfAbsent(participantID, s) {
		return mesh.ErrAlreadyJoined
	}
	s.setParticipant(participantID, msg.Room)

	err := s.manager.coordinator.Join(s.ctx, msg.Room, &mesh.Participant{
		ID:       participantID,
		Nickname: msg.Nickname,
	})
	if err != nil {
		s.setParticipant("", "")
		s.manager.removeParticipant(participantID, s)
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"room":        msg.Room,
		"participant": participantID,
	}).Debugln("session joined room")
	return nil
}

func (s *Session) leave() error {
	participantID, err := s.requireParticipant()
	if err != nil {
		return err
	}

	err = s.manager.coordinator.Leave(s.ctx, participantID)
	s.setParticipant("", "")
	s.manager.removeParticipant(participantID, s)
	return err
}

func (s *Session) publish(msg *protocol.Offer) error {
	participantID, err := s.requireParticipant()
	if err != nil {
		return err
	}

	return s.manager.coordinator.Publish(s.ctx, msg.Room, participantID, msg.Offer)
}

func (s *Session) answer(msg *protocol.Answer) error {
	participantID, err := s.requireParticipant()
	if err != nil {
		return err
	}

	id := mesh.LinkID{Room: msg.Room, From: msg.SenderID, To: participantID}
	return s.manager.coordinator.Answer(s.ctx, id, msg.Answer)
}

func (s *Session) candidate(msg *protocol.Candidate) error {
	participantID, err := s.requireParticipant()
	if err != nil {
		return err
	}

	// Candidates of the own publish link carry no or the own sender id.
	id := mesh.LinkID{Room: msg.Room, From: participantID}
	if msg.SenderID != "" && msg.SenderID != participantID {
		id = mesh.LinkID{Room: msg.Room, From: msg.SenderID, To: participantID}
	}
	return s.manager.coordinator.Candidate(s.ctx, id, msg.Candidate)
}

func (s *Session) videoTrackEnabledChanged(msg *protocol.VideoTrackEnabledChanged) error {
	participantID, err := s.requireParticipant()
	if err != nil {
		return err
	}

	relayed := protocol.NewVideoTrackEnabledChanged(msg.Room, participantID, msg.Enabled)
	return s.manager.coordinator.Broadcast(s.ctx, msg.Room, participantID, relayed)
}
