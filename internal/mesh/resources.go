/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"time"
)

// ParticipantResource is the API view of a room member.
type ParticipantResource struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname,omitempty"`
	Joined   time.Time `json:"joined"`
}

// LinkResource is the API view of a link.
type LinkResource struct {
	From              string    `json:"from"`
	To                string    `json:"to,omitempty"`
	Leg               string    `json:"leg"`
	State             string    `json:"state"`
	ConnectionID      string    `json:"pcid"`
	Tracks            int       `json:"tracks"`
	PendingCandidates int       `json:"pendingCandidates"`
	Created           time.Time `json:"created"`
}

// RoomResource is the API view of a room.
type RoomResource struct {
	ID           string                 `json:"id"`
	Capacity     int                    `json:"capacity"`
	Participants []*ParticipantResource `json:"participants"`
	Links        int                    `json:"links"`
}

// Rooms returns snapshots of all rooms, sorted by identifier.
func (c *Coordinator) Rooms() []*RoomResource {
	roomIDs := c.registry.Rooms()
	rooms := make([]*RoomResource, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if resource, ok := c.Room(roomID); ok {
			rooms = append(rooms, resource)
		}
	}
	return rooms
}

// Room returns a snapshot of the room with the provided identifier.
func (c *Coordinator) Room(roomID string) (*RoomResource, bool) {
	participants := c.registry.Participants(roomID)
	if len(participants) == 0 {
		return nil, false
	}

	resource := &RoomResource{
		ID:           roomID,
		Capacity:     c.registry.Capacity(),
		Participants: make([]*ParticipantResource, 0, len(participants)),
		Links:        len(c.graph.Links(roomID)),
	}
	for _, p := range participants {
		resource.Participants = append(resource.Participants, &ParticipantResource{
			ID:       p.ID,
			Nickname: p.Nickname,
			Joined:   p.Joined,
		})
	}
	return resource, true
}

// Links returns snapshots of the live links of the room.
func (c *Coordinator) Links(roomID string) []*LinkResource {
	links := c.graph.Links(roomID)
	resources := make([]*LinkResource, 0, len(links))
	for _, link := range links {
		link.RLock()
		resources = append(resources, &LinkResource{
			From:              link.id.From,
			To:                link.id.To,
			Leg:               link.leg.String(),
			State:             link.state.String(),
			ConnectionID:      link.conn.ID(),
			Tracks:            len(link.tracks),
			PendingCandidates: len(link.pendingCandidates),
			Created:           link.created,
		})
		link.RUnlock()
	}
	return resources
}
