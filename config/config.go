/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package config

import (
	"time"

	"github.com/pion/transport/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Defaults used when the corresponding Config value is unset.
const (
	DefaultRoomCapacity        = 4
	DefaultNegotiationTimeout  = 30 * time.Second
	DefaultStreamSettleTimeout = 2 * time.Second
)

// DefaultICEServers are used when no ICE servers are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// Config defines a Server's configuration settings.
type Config struct {
	ListenAddr string

	WithMetrics       bool
	MetricsListenAddr string

	// RequestLog enables the per request metrics logging middleware.
	RequestLog bool

	Logger logrus.FieldLogger

	Metrics prometheus.Registerer

	RoomCapacity        int
	NegotiationTimeout  time.Duration
	StreamSettleTimeout time.Duration

	AllowedOrigins []string

	ICEServers               []string
	ICEInterfaces            []string
	ICENetworkTypes          []string
	ICEEphemeralUDPPortRange [2]uint16
	ICELite                  bool
	NAT1To1IPs               []string

	// Net replaces the network stack used for ICE, nil means the OS stack.
	Net transport.Net
}

// GetRoomCapacity returns the configured room capacity or the default.
func (c *Config) GetRoomCapacity() int {
	if c.RoomCapacity > 0 {
		return c.RoomCapacity
	}
	return DefaultRoomCapacity
}

// GetNegotiationTimeout returns the configured negotiation timeout or the
// default.
func (c *Config) GetNegotiationTimeout() time.Duration {
	if c.NegotiationTimeout > 0 {
		return c.NegotiationTimeout
	}
	return DefaultNegotiationTimeout
}

// GetStreamSettleTimeout returns the configured stream settle timeout or the
// default.
func (c *Config) GetStreamSettleTimeout() time.Duration {
	if c.StreamSettleTimeout > 0 {
		return c.StreamSettleTimeout
	}
	return DefaultStreamSettleTimeout
}

// GetICEServers returns the configured ICE server URLs or the defaults.
func (c *Config) GetICEServers() []string {
	if len(c.ICEServers) > 0 {
		return c.ICEServers
	}
	return DefaultICEServers
}
