/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
)

func fillStore(t *testing.T, s Store, channel string, count int) []string {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := s.Append(context.Background(), channel, &protocol.ChatMessage{
			SenderID: "a",
			Body:     fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryStoreQueryPages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := fillStore(t, s, "general", 5)
	fillStore(t, s, "other", 2)

	var got []string
	cursor := ""
	pages := 0
	for {
		items, next, err := s.Query(ctx, "general", 2, cursor)
		if err != nil {
			t.Fatal(err)
		}
		pages++
		page := make([]string, 0, len(items))
		for _, item := range items {
			if item.Channel != "general" {
				t.Errorf("message of channel %q returned", item.Channel)
			}
			page = append(page, item.ID)
		}
		got = append(page, got...)
		if next == "" {
			break
		}
		cursor = next
	}

	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if len(got) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(got))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("message %d: got %s want %s", i, got[i], ids[i])
		}
	}
}

func TestMemoryStoreQueryDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	items, next, err := s.Query(ctx, "empty", 0, "")
	if err != nil || len(items) != 0 || next != "" {
		t.Errorf("empty channel: got %v %q %v", items, next, err)
	}

	fillStore(t, s, "general", DefaultPageSize+1)
	items, next, err = s.Query(ctx, "general", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != DefaultPageSize || next == "" {
		t.Errorf("default page: got %d items next %q", len(items), next)
	}

	if _, _, err = s.Query(ctx, "general", 10, "unknown"); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestMemoryStoreUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ids := fillStore(t, s, "general", 3)

	updated, err := s.Update(ctx, "general", ids[1], "changed")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Body != "changed" || updated.Updated.IsZero() {
		t.Errorf("unexpected update result: %+v", updated)
	}
	if _, err = s.Update(ctx, "other", ids[1], "changed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update in wrong channel: got %v", err)
	}
	if _, err = s.Update(ctx, "general", ids[1], ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty update: got %v", err)
	}

	if err = s.Delete(ctx, "general", ids[0]); err != nil {
		t.Fatal(err)
	}
	if err = s.Delete(ctx, "general", ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}

	items, _, err := s.Query(ctx, "general", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != ids[1] || items[0].Body != "changed" {
		t.Errorf("unexpected messages after delete: %+v", items)
	}
}

func TestMemoryStoreRejectsEmpty(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Append(context.Background(), "general", &protocol.ChatMessage{}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}
