/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package bpool

import (
	"testing"
)

func TestGetReturnsEmptyBuffer(t *testing.T) {
	b := Get()
	b.WriteString("hello")
	Put(b)

	for i := 0; i < 10; i++ {
		b = Get()
		if b.Len() != 0 {
			t.Fatalf("buffer not reset: %q", b.String())
		}
		Put(b)
	}
}

func TestPutDropsLargeBuffers(t *testing.T) {
	b := Get()
	b.Grow(MaxRetained * 2)
	// Must not panic, the buffer is discarded.
	Put(b)
}
