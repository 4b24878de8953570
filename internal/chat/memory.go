/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
)

// MemoryStore is a Store keeping all messages in memory.
type MemoryStore struct {
	mu       deadlock.RWMutex
	channels map[string][]*protocol.ChatMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string][]*protocol.ChatMessage),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, channel string, message *protocol.ChatMessage) (string, error) {
	if message.Body == "" {
		return "", ErrEmptyMessage
	}

	stored := *message
	stored.ID = uuid.NewString()
	stored.Channel = channel
	if stored.Created.IsZero() {
		stored.Created = time.Now()
	}
	stored.Updated = time.Time{}

	s.mu.Lock()
	s.channels[channel] = append(s.channels[channel], &stored)
	s.mu.Unlock()

	return stored.ID, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, channel string, pageSize int, cursor string) ([]*protocol.ChatMessage, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.channels[channel]
	end := len(messages)
	if cursor != "" {
		end = s.index(channel, cursor)
		if end < 0 {
			return nil, "", fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
		}
	}

	start := end - pageSize
	if start < 0 {
		start = 0
	}

	items := make([]*protocol.ChatMessage, 0, end-start)
	for _, message := range messages[start:end] {
		item := *message
		items = append(items, &item)
	}

	nextCursor := ""
	if start > 0 {
		nextCursor = messages[start].ID
	}
	return items, nextCursor, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, channel string, messageID string, body string) (*protocol.ChatMessage, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(channel, messageID)
	if idx < 0 {
		return nil, ErrNotFound
	}
	message := s.channels[channel][idx]
	message.Body = body
	message.Updated = time.Now()

	updated := *message
	return &updated, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, channel string, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.index(channel, messageID)
	if idx < 0 {
		return ErrNotFound
	}
	messages := s.channels[channel]
	s.channels[channel] = append(messages[:idx], messages[idx+1:]...)
	if len(s.channels[channel]) == 0 {
		delete(s.channels, channel)
	}
	return nil
}

// index requires the lock.
func (s *MemoryStore) index(channel string, messageID string) int {
	for idx, message := range s.channels[channel] {
		if message.ID == messageID {
			return idx
		}
	}
	return -1
}
