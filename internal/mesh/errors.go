/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("participant already joined")
	ErrNotJoined     = errors.New("participant is not a member of the room")
	ErrLinkNotFound  = errors.New("link not found")
	ErrInvalidState  = errors.New("invalid link state")
	ErrTransport     = errors.New("transport error")
	ErrInvalidID     = errors.New("invalid identifier")
)

// TransportError wraps an error returned by the media transport engine.
type TransportError struct {
	Op   string
	Link LinkID
	Err  error
}

func newTransportError(op string, id LinkID, err error) *TransportError {
	return &TransportError{
		Op:   op,
		Link: id,
		Err:  err,
	}
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", err.Op, err.Link, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// Is matches ErrTransport.
func (err *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func invalidState(id LinkID, state State, op string) error {
	return fmt.Errorf("%w: %s in state %s for %s", ErrInvalidState, op, state, id)
}
