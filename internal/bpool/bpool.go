/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

// Package bpool pools the buffers used to read signaling messages.
package bpool

import (
	"bytes"
	"sync"
)

// MaxRetained is the largest buffer capacity which is returned to the pool.
// Bigger buffers are left to the garbage collector so a single large
// message does not pin memory.
const MaxRetained = 64 * 1024

var pool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// Get returns an empty buffer.
func Get() *bytes.Buffer {
	return pool.Get().(*bytes.Buffer)
}

// Put returns b to the pool.
func Put(b *bytes.Buffer) {
	if b.Cap() > MaxRetained {
		return
	}
	b.Reset()
	pool.Put(b)
}
