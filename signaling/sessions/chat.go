/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
)

var errChatFailed = errors.New("chat request failed")

func (m *Manager) subscribe(channel string, session *Session) {
	m.chatMu.Lock()
	defer m.chatMu.Unlock()

	subscribers, ok := m.channels[channel]
	if !ok {
		subscribers = make(map[string]*Session)
		m.channels[channel] = subscribers
	}
	subscribers[session.id] = session
}

func (m *Manager) unsubscribe(channel string, session *Session) {
	m.chatMu.Lock()
	defer m.chatMu.Unlock()

	subscribers := m.channels[channel]
	delete(subscribers, session.id)
	if len(subscribers) == 0 {
		delete(m.channels, channel)
	}
}

// publishChat sends event to all subscribers of channel. The session which
// caused the event always receives it, so it learns message identifiers.
func (m *Manager) publishChat(channel string, from *Session, event protocol.Message) {
	m.chatMu.RLock()
	receivers := make([]*Session, 0, len(m.channels[channel])+1)
	for _, session := range m.channels[channel] {
		receivers = append(receivers, session)
	}
	_, subscribed := m.channels[channel][from.id]
	m.chatMu.RUnlock()

	if !subscribed {
		receivers = append(receivers, from)
	}
	for _, session := range receivers {
		session.Send(event)
	}
}

func (s *Session) chatChannels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]string, 0, len(s.channels))
	for channel := range s.channels {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// chatSenderID identifies the session in chat messages, preferring the
// participant identifier when joined.
func (s *Session) chatSenderID() string {
	if participantID, _ := s.participant(); participantID != "" {
		return participantID
	}
	return s.id
}

func (s *Session) chatChannel(msg *protocol.ChatChannel) error {
	switch msg.Type {
	case protocol.TypeJoinChatChannel:
		s.mu.Lock()
		s.channels[msg.Channel] = struct{}{}
		s.mu.Unlock()
		s.manager.subscribe(msg.Channel, s)

	case protocol.TypeLeaveChatChannel:
		s.mu.Lock()
		delete(s.channels, msg.Channel)
		s.mu.Unlock()
		s.manager.unsubscribe(msg.Channel, s)
	}
	return nil
}

func (s *Session) chatRequest(msg *protocol.ChatRequest) error {
	store := s.manager.chat

	switch msg.Type {
	case protocol.TypeSendMessage:
		message := &protocol.ChatMessage{
			Channel:  msg.Channel,
			SenderID: s.chatSenderID(),
			Nickname: msg.Nickname,
			Body:     msg.Message,
			Created:  time.Now(),
		}
		id, err := store.Append(s.ctx, msg.Channel, message)
		if err != nil {
			return fmt.Errorf("%w: %w", errChatFailed, err)
		}
		message.ID = id
		s.manager.publishChat(msg.Channel, s, protocol.NewChatEvent(protocol.TypeReceiveMessage, msg.Channel, id, message))

	case protocol.TypeUpdateMessage:
		updated, err := store.Update(s.ctx, msg.Channel, msg.MessageID, msg.Message)
		if err != nil {
			return fmt.Errorf("%w: %w", errChatFailed, err)
		}
		s.manager.publishChat(msg.Channel, s, protocol.NewChatEvent(protocol.TypeMessageUpdated, msg.Channel, msg.MessageID, updated))

	case protocol.TypeDeleteMessage:
		if err := store.Delete(s.ctx, msg.Channel, msg.MessageID); err != nil {
			return fmt.Errorf("%w: %w", errChatFailed, err)
		}
		s.manager.publishChat(msg.Channel, s, protocol.NewChatEvent(protocol.TypeMessageDeleted, msg.Channel, msg.MessageID, nil))
	}

	return nil
}
