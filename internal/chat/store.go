/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

// Package chat provides chat channel persistence.
package chat

import (
	"context"
	"errors"

	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
)

// Page sizes used by Query.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Errors returned by stores.
var (
	ErrNotFound      = errors.New("chat message not found")
	ErrInvalidCursor = errors.New("invalid chat cursor")
	ErrEmptyMessage  = errors.New("chat message is empty")
)

// Store persists chat messages per channel.
type Store interface {
	// Append stores message in channel and returns its new identifier.
	Append(ctx context.Context, channel string, message *protocol.ChatMessage) (string, error)

	// Query returns up to pageSize messages older than cursor in
	// chronological order, starting from the newest when cursor is empty.
	// nextCursor is empty when there are no older messages.
	Query(ctx context.Context, channel string, pageSize int, cursor string) (items []*protocol.ChatMessage, nextCursor string, err error)

	// Update replaces the body of a stored message.
	Update(ctx context.Context, channel string, messageID string, body string) (*protocol.ChatMessage, error)

	// Delete removes a stored message.
	Delete(ctx context.Context, channel string, messageID string) error
}
