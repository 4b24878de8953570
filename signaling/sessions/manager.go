/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"context"
	"net/http"
	"sync"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	cfg "stash.kopano.io/kwm/kwmmesh/config"
	"stash.kopano.io/kwm/kwmmesh/internal/chat"
	"stash.kopano.io/kwm/kwmmesh/internal/mesh"
	"stash.kopano.io/kwm/kwmmesh/internal/protocol"
	"stash.kopano.io/kwm/kwmmesh/internal/rtc"
)

// Manager handles signaling sessions.
type Manager struct {
	logger logrus.FieldLogger
	ctx    context.Context
	config *cfg.Config

	coordinator *mesh.Coordinator
	chat        chat.Store

	wg sync.WaitGroup

	sessions     cmap.ConcurrentMap
	participants cmap.ConcurrentMap

	chatMu   deadlock.RWMutex
	channels map[string]map[string]*Session

	active prometheus.Gauge
}

// NewManager creates a Manager whose links are backed by the provided engine
// and whose chat messages are persisted in the provided store.
func NewManager(ctx context.Context, config *cfg.Config, engine rtc.Engine, store chat.Store) (*Manager, error) {
	m := &Manager{
		logger: config.Logger.WithField("manager", "sessions"),
		ctx:    ctx,
		config: config,

		chat: store,

		sessions:     cmap.New(),
		participants: cmap.New(),

		channels: make(map[string]map[string]*Session),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of connected signaling sessions",
		}),
	}
	if config.Metrics != nil {
		if err := config.Metrics.Register(m.active); err != nil {
			return nil, err
		}
	}

	m.coordinator = mesh.NewCoordinator(engine, m, &mesh.Options{
		Logger:  config.Logger.WithField("manager", "mesh"),
		Metrics: config.Metrics,

		Capacity:            config.GetRoomCapacity(),
		NegotiationTimeout:  config.GetNegotiationTimeout(),
		StreamSettleTimeout: config.GetStreamSettleTimeout(),
	})

	return m, nil
}

// Coordinator returns the associated negotiation coordinator.
func (m *Manager) Coordinator() *mesh.Coordinator {
	return m.coordinator
}

// Send implements mesh.Sender, queueing message at the session of the
// participant.
func (m *Manager) Send(participantID string, message protocol.Message) {
	record, ok := m.participants.Get(participantID)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"participant": participantID,
			"type":        message.MessageType(),
		}).Debugln("dropping message for unknown participant")
		return
	}
	record.(*Session).Send(message)
}

// HTTPWebsocketHandler accepts signaling websocket connections.
func (m *Manager) HTTPWebsocketHandler(rw http.ResponseWriter, req *http.Request) {
	ws, err := websocket.Accept(rw, req, &websocket.AcceptOptions{
		OriginPatterns: m.config.AllowedOrigins,
	})
	if err != nil {
		m.logger.WithError(err).Debugln("websocket accept failed")
		return
	}
	ws.SetReadLimit(readLimit)

	m.wg.Add(1)
	defer m.wg.Done()

	session := newSession(m, ws, req.RemoteAddr)
	m.sessions.Set(session.id, session)
	m.active.Inc()
	session.logger.Debugln("session connected")

	err = session.serve()

	m.cleanup(session)
	m.sessions.Remove(session.id)
	m.active.Dec()
	session.logger.WithError(err).Debugln("session disconnected")
}

// cleanup releases everything the session holds. The disconnect is the hard
// cancellation for all links of its participant.
func (m *Manager) cleanup(session *Session) {
	for _, channel := range session.chatChannels() {
		m.unsubscribe(channel, session)
	}

	participantID, _ := session.participant()
	if participantID == "" {
		return
	}
	if err := m.coordinator.Leave(context.Background(), participantID); err != nil {
		session.logger.WithError(err).Debugln("leave on disconnect")
	}
	m.removeParticipant(participantID, session)
}

func (m *Manager) removeParticipant(participantID string, session *Session) {
	if record, ok := m.participants.Get(participantID); ok && record == session {
		m.participants.Remove(participantID)
	}
}

// Wait blocks until all sessions have ended.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close closes all links.
func (m *Manager) Close() {
	m.coordinator.Close()
}

// NumActive returns the number of connected sessions.
func (m *Manager) NumActive() uint64 {
	return uint64(m.sessions.Count())
}
