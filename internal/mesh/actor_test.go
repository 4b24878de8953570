/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestActorRunsInOrder(t *testing.T) {
	a := newRoomActor("r1", nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		a.post(func() error {
			order = append(order, i)
			return nil
		})
	}
	if err := a.do(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks out of order: %v", order)
		}
	}
}

func TestActorSkipsTaskCanceledBeforeStart(t *testing.T) {
	a := newRoomActor("r1", nil)

	release := make(chan struct{})
	a.post(func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	if err := a.do(ctx, func() error {
		ran = true
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(release)
	if err := a.do(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Errorf("canceled task was run")
	}
}

func TestActorAwaitsStartedTask(t *testing.T) {
	a := newRoomActor("r1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errDone := errors.New("done")
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	err := a.do(ctx, func() error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return errDone
	})
	if !errors.Is(err, errDone) {
		t.Errorf("expected result of started task, got %v", err)
	}
}

func TestActorStopRejectsQueued(t *testing.T) {
	stopped := make(chan struct{})
	a := newRoomActor("r1", func(*roomActor) { close(stopped) })

	release := make(chan struct{})
	a.post(func() error {
		<-release
		a.stop()
		return nil
	})

	result := make(chan error, 1)
	go func() {
		result <- a.do(context.Background(), func() error { return nil })
	}()
	// Give the second task time to be queued behind the first.
	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case err := <-result:
		if err != nil && !errors.Is(err, errActorStopped) {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued task not released after stop")
	}
	<-stopped

	if a.post(func() error { return nil }) {
		t.Errorf("stopped actor accepted a task")
	}
}
