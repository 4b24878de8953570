/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/sasha-s/go-deadlock"
)

// Participant is a member of a room.
type Participant struct {
	ID       string
	Nickname string
	Room     string
	Joined   time.Time
}

type room struct {
	id           string
	participants []*Participant
	created      time.Time
}

// Registry owns rooms and their participants. Each participant is a member
// of at most one room.
type Registry struct {
	mu deadlock.RWMutex

	capacity     int
	rooms        map[string]*room
	participants map[string]string
}

// NewRegistry creates a Registry with the provided room capacity.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity:     capacity,
		rooms:        make(map[string]*room),
		participants: make(map[string]string),
	}
}

// Join adds the participant to the room, creating the room if needed.
func (r *Registry) Join(roomID string, participant *Participant) error {
	if roomID == "" || participant.ID == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[participant.ID]; exists {
		return ErrAlreadyJoined
	}

	rm, exists := r.rooms[roomID]
	if exists && len(rm.participants) >= r.capacity {
		return ErrRoomFull
	}
	if !exists {
		rm = &room{
			id:      roomID,
			created: time.Now(),
		}
		r.rooms[roomID] = rm
	}

	p := *participant
	p.Room = roomID
	p.Joined = time.Now()
	rm.participants = append(rm.participants, &p)
	r.participants[p.ID] = roomID

	return nil
}

// OthersIn returns the members of the room except excluding, in join order.
func (r *Registry) OthersIn(roomID string, excluding string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return nil
	}

	others := lo.Filter(rm.participants, func(p *Participant, _ int) bool {
		return p.ID != excluding
	})
	return lo.Map(others, func(p *Participant, _ int) Participant {
		return *p
	})
}

// Participants returns all members of the room in join order.
func (r *Registry) Participants(roomID string) []Participant {
	return r.OthersIn(roomID, "")
}

// Leave removes the participant from its room and deletes the room when it
// became empty. ok is false when the participant was not a member.
func (r *Registry) Leave(participantID string) (roomID string, deleted bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok = r.participants[participantID]
	if !ok {
		return "", false, false
	}
	delete(r.participants, participantID)

	rm := r.rooms[roomID]
	rm.participants = lo.Reject(rm.participants, func(p *Participant, _ int) bool {
		return p.ID == participantID
	})
	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
		deleted = true
	}

	return roomID, deleted, true
}

// RoomOf returns the room the participant is a member of.
func (r *Registry) RoomOf(participantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.participants[participantID]
	return roomID, ok
}

// Contains reports whether the participant is a member of the room.
func (r *Registry) Contains(roomID string, participantID string) bool {
	roomID2, ok := r.RoomOf(participantID)
	return ok && roomID2 == roomID
}

// Exists reports whether the room has at least one participant.
func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.rooms[roomID]
	return exists
}

// Rooms returns the sorted identifiers of all rooms.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.rooms)
	sort.Strings(ids)
	return ids
}

// Count returns the number of rooms and participants.
func (r *Registry) Count() (rooms int, participants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms), len(r.participants)
}

// Capacity returns the maximum number of participants per room.
func (r *Registry) Capacity() int {
	return r.capacity
}
