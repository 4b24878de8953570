/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// File holds the settings which can be loaded from a TOML configuration
// file. Command line flags take precedence over values set here.
type File struct {
	Listen   string `toml:"listen"`
	LogLevel string `toml:"log_level"`

	MetricsListen string `toml:"metrics_listen"`

	RoomCapacity        int    `toml:"room_capacity"`
	NegotiationTimeout  string `toml:"negotiation_timeout"`
	StreamSettleTimeout string `toml:"stream_settle_timeout"`

	AllowedOrigins []string `toml:"allowed_origins"`

	ICEServers      []string `toml:"ice_servers"`
	ICEInterfaces   []string `toml:"ice_interfaces"`
	ICENetworkTypes []string `toml:"ice_network_types"`
	ICEUDPPortRange string   `toml:"ice_udp_port_range"`
	ICELite         bool     `toml:"ice_lite"`
	NAT1To1IPs      []string `toml:"nat_1to1_ips"`
}

// LoadFile decodes the TOML file at path.
func LoadFile(path string) (*File, error) {
	f := &File{}
	md, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config file: %v", undecoded)
	}

	return f, nil
}

// Apply copies the values of the accociated File into the provided Config.
func (f *File) Apply(c *Config) error {
	if f.Listen != "" {
		c.ListenAddr = f.Listen
	}
	if f.MetricsListen != "" {
		c.MetricsListenAddr = f.MetricsListen
	}
	if f.RoomCapacity != 0 {
		if f.RoomCapacity < 0 {
			return fmt.Errorf("invalid room_capacity: %d", f.RoomCapacity)
		}
		c.RoomCapacity = f.RoomCapacity
	}
	if f.NegotiationTimeout != "" {
		d, err := time.ParseDuration(f.NegotiationTimeout)
		if err != nil {
			return fmt.Errorf("invalid negotiation_timeout: %w", err)
		}
		c.NegotiationTimeout = d
	}
	if f.StreamSettleTimeout != "" {
		d, err := time.ParseDuration(f.StreamSettleTimeout)
		if err != nil {
			return fmt.Errorf("invalid stream_settle_timeout: %w", err)
		}
		c.StreamSettleTimeout = d
	}
	if len(f.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.AllowedOrigins
	}
	if len(f.ICEServers) > 0 {
		c.ICEServers = f.ICEServers
	}
	if len(f.ICEInterfaces) > 0 {
		c.ICEInterfaces = f.ICEInterfaces
	}
	if len(f.ICENetworkTypes) > 0 {
		c.ICENetworkTypes = f.ICENetworkTypes
	}
	if f.ICEUDPPortRange != "" {
		portRange, err := ParsePortRange(f.ICEUDPPortRange)
		if err != nil {
			return fmt.Errorf("invalid ice_udp_port_range: %w", err)
		}
		c.ICEEphemeralUDPPortRange = portRange
	}
	if f.ICELite {
		c.ICELite = true
	}
	if len(f.NAT1To1IPs) > 0 {
		c.NAT1To1IPs = f.NAT1To1IPs
	}

	return nil
}

// ParsePortRange parses a port range in format min:max. Either side may be
// left empty, in which case 10000 and 65535 are used.
func ParsePortRange(s string) ([2]uint16, error) {
	minMax := strings.SplitN(s, ":", 2)
	portRange := [2]uint16{10000, ^uint16(0)}
	if minMax[0] != "" {
		minPort, err := strconv.ParseUint(minMax[0], 10, 16)
		if err != nil {
			return portRange, fmt.Errorf("invalid min port value: %w", err)
		}
		portRange[0] = uint16(minPort)
	}
	if len(minMax) > 1 && minMax[1] != "" {
		maxPort, err := strconv.ParseUint(minMax[1], 10, 16)
		if err != nil {
			return portRange, fmt.Errorf("invalid max port value: %w", err)
		}
		if maxPort <= uint64(portRange[0]) {
			return portRange, fmt.Errorf("max port value must be higher than min port %d", portRange[0])
		}
		portRange[1] = uint16(maxPort)
	}

	return portRange, nil
}
