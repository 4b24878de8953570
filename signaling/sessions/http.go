/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"errors"
	"net/http"
	"strconv"

	"stash.kopano.io/kwm/kwmmesh/internal/chat"
	"stash.kopano.io/kwm/kwmmesh/internal/mesh"
	api "stash.kopano.io/kwm/kwmmesh/signaling/api-v0"
)

func (m *Manager) HTTPRoomsHandler(rw http.ResponseWriter, req *http.Request) {
	roomID, _ := api.GetRequestVar(req, "roomID")

	var resource interface{}
	if roomID == "" {
		resource = api.NewCollectionResource(m.coordinator.Rooms(), req, nil)
	} else {
		room := m.getRoomResourceOrWriteError(roomID, rw)
		if room == nil {
			return
		}
		resource = api.NewItemResource(room, req)
	}

	if writeErr := api.WriteResourceAsJSON(rw, resource); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

func (m *Manager) HTTPRoomLinksHandler(rw http.ResponseWriter, req *http.Request) {
	roomID, _ := api.GetRequestVar(req, "roomID")

	if room := m.getRoomResourceOrWriteError(roomID, rw); room == nil {
		return
	}

	resource := api.NewCollectionResource(m.coordinator.Links(roomID), req, nil)
	if writeErr := api.WriteResourceAsJSON(rw, resource); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

func (m *Manager) getRoomResourceOrWriteError(roomID string, rw http.ResponseWriter) *mesh.RoomResource {
	room, ok := m.coordinator.Room(roomID)
	if !ok {
		if writeErr := api.WriteErrorAsJSON(rw, api.NewErrorWithCodeAndMessage(
			api.ErrorCodeRoomNotFound,
			"The specified room was not found",
			api.ErrNotFound,
		)); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json error")
		}
		return nil
	}
	return room
}

func (m *Manager) HTTPChatMessagesHandler(rw http.ResponseWriter, req *http.Request) {
	channel, _ := api.GetRequestVar(req, "channel")

	query := req.URL.Query()
	pageSize := 0
	if value := query.Get("pageSize"); value != "" {
		var err error
		if pageSize, err = strconv.Atoi(value); err != nil || pageSize < 0 {
			m.writeError(rw, api.NewErrorWithCodeAndMessage(
				api.ErrorCodeInvalidRequest,
				"The pageSize parameter is invalid",
				api.ErrBadRequest,
			))
			return
		}
	}

	items, nextCursor, err := m.chat.Query(req.Context(), channel, pageSize, query.Get("cursor"))
	if err != nil {
		if errors.Is(err, chat.ErrInvalidCursor) {
			m.writeError(rw, api.NewErrorWithCodeAndMessage(
				api.ErrorCodeInvalidRequest,
				"The cursor parameter is invalid",
				api.ErrBadRequest,
			))
		} else {
			m.writeError(rw, err)
		}
		return
	}

	resource := api.NewCollectionResource(items, req, nil)
	if nextCursor != "" {
		next := *req.URL
		query.Set("cursor", nextCursor)
		next.RawQuery = query.Encode()
		resource.ODataNextLink = next.String()
	}

	if writeErr := api.WriteResourceAsJSON(rw, resource); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

func (m *Manager) writeError(rw http.ResponseWriter, err error) {
	if writeErr := api.WriteErrorAsJSON(rw, err); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json error")
	}
}
