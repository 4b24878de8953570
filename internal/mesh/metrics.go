/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	rooms             prometheus.Gauge
	participants      prometheus.Gauge
	links             *prometheus.GaugeVec
	negotiations      *prometheus.CounterVec
	droppedMessages   *prometheus.CounterVec
	bufferedCandidate prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_rooms",
			Help: "Number of rooms with at least one participant",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_participants",
			Help: "Number of participants in all rooms",
		}),
		links: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesh_links",
			Help: "Number of live links",
		}, []string{"leg"}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_negotiations_total",
			Help: "Finished link negotiations by result",
		}, []string{"result"}),
		droppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_dropped_messages_total",
			Help: "Signaling messages dropped by reason",
		}, []string{"reason"}),
		bufferedCandidate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mesh_candidates_buffered_total",
			Help: "ICE candidates buffered until the remote description was set",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.rooms,
			m.participants,
			m.links,
			m.negotiations,
			m.droppedMessages,
			m.bufferedCandidate,
		)
	}

	return m
}
