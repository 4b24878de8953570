/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package service

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmmesh/signaling"
	"stash.kopano.io/kwm/kwmmesh/signaling/odata"
	"stash.kopano.io/kwm/kwmmesh/signaling/sessions"
)

const (
	URIPrefix = "/api/kwmmesh/v0"
)

// HTTPService binds the HTTP router with handlers for kwmmesh API v0.
type HTTPService struct {
	logger   logrus.FieldLogger
	services *signaling.Services
}

// NewHTTPService creates a new HTTPService with the provided options.
func NewHTTPService(ctx context.Context, logger logrus.FieldLogger, services *signaling.Services) *HTTPService {
	return &HTTPService{
		logger:   logger,
		services: services,
	}
}

// AddRoutes configures the services HTTP end point routing on the provided
// context and router.
func (h *HTTPService) AddRoutes(ctx context.Context, router *mux.Router, chain alice.Chain) http.Handler {
	v0 := router.PathPrefix(URIPrefix).Subrouter()

	if sessionsm, ok := h.services.SessionsManager.(*sessions.Manager); ok {
		resources := chain.Append(odata.WithOData)

		// /api/kwmmesh/v0/websocket
		// /api/kwmmesh/v0/rooms
		// /api/kwmmesh/v0/rooms/:room
		// /api/kwmmesh/v0/rooms/:room/links
		// /api/kwmmesh/v0/chat/:channel/messages
		v0.Handle("/websocket", chain.ThenFunc(sessionsm.HTTPWebsocketHandler)).Methods(http.MethodGet)
		v0.Handle("/rooms", resources.ThenFunc(sessionsm.HTTPRoomsHandler)).Methods(http.MethodGet)
		v0.Handle("/rooms/{roomID}", resources.ThenFunc(sessionsm.HTTPRoomsHandler)).Methods(http.MethodGet)
		v0.Handle("/rooms/{roomID}/links", resources.ThenFunc(sessionsm.HTTPRoomLinksHandler)).Methods(http.MethodGet)
		v0.Handle("/chat/{channel}/messages", resources.ThenFunc(sessionsm.HTTPChatMessagesHandler)).Methods(http.MethodGet)
	}

	return router
}

// NumActive returns the number of the currently active connections at the
// associated HTTPService.
func (h *HTTPService) NumActive() (active uint64) {
	for _, service := range h.services.Services() {
		active += service.NumActive()
	}

	return active
}
