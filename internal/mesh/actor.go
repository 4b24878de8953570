/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
)

var errActorStopped = errors.New("room actor stopped")

// Task states.
const (
	taskPending int32 = iota
	taskRunning
	taskCanceled
)

type task struct {
	run   func() error
	done  chan error
	state atomic.Int32
}

// roomActor runs all tasks for one room sequentially, in submission order.
// The queue is unbounded so that engine callbacks never block.
type roomActor struct {
	mu deadlock.Mutex

	id      string
	queue   []*task
	wake    chan struct{}
	stopped bool

	// Room scoped state, only accessed from tasks.
	streams map[string]*stream

	onStop func(*roomActor)
}

func newRoomActor(id string, onStop func(*roomActor)) *roomActor {
	a := &roomActor{
		id:   id,
		wake: make(chan struct{}, 1),

		streams: make(map[string]*stream),

		onStop: onStop,
	}
	go a.run()

	return a
}

func (a *roomActor) run() {
	for range a.wake {
		for {
			a.mu.Lock()
			if len(a.queue) == 0 {
				a.mu.Unlock()
				break
			}
			t := a.queue[0]
			a.queue[0] = nil
			a.queue = a.queue[1:]
			a.mu.Unlock()

			if t.state.CompareAndSwap(taskPending, taskRunning) {
				err := t.run()
				if t.done != nil {
					t.done <- err
				}
			}

			a.mu.Lock()
			stopped := a.stopped
			a.mu.Unlock()
			if stopped {
				a.drain()
				return
			}
		}
	}
}

// drain rejects all queued tasks after the actor was stopped.
func (a *roomActor) drain() {
	a.mu.Lock()
	queue := a.queue
	a.queue = nil
	a.mu.Unlock()

	for _, t := range queue {
		if t.state.CompareAndSwap(taskPending, taskCanceled) && t.done != nil {
			t.done <- errActorStopped
		}
	}
}

// post enqueues fn without waiting for it. Returns false if the actor is
// stopped.
func (a *roomActor) post(fn func() error) bool {
	return a.enqueue(&task{run: fn})
}

func (a *roomActor) enqueue(t *task) bool {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, t)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// do enqueues fn and waits for its result. When ctx ends before fn started,
// fn is skipped and ctx.Err() returned. Once fn runs, its result is awaited
// so the caller always learns whether it took effect.
func (a *roomActor) do(ctx context.Context, fn func() error) error {
	t := &task{
		run:  fn,
		done: make(chan error, 1),
	}
	if !a.enqueue(t) {
		return errActorStopped
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskPending, taskCanceled) {
			return ctx.Err()
		}
		return <-t.done
	}
}

// stop must be called from within a task. Tasks queued after the current one
// are rejected with errActorStopped.
func (a *roomActor) stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	for _, s := range a.streams {
		s.stopSettleTimer()
	}
	if a.onStop != nil {
		a.onStop(a)
	}
}

// after runs fn on the actor once d elapsed.
func (a *roomActor) after(d time.Duration, fn func() error) *time.Timer {
	return time.AfterFunc(d, func() {
		a.post(fn)
	})
}
