/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmmesh/config"
)

// PionEngine creates Connections backed by pion/webrtc.
type PionEngine struct {
	logger logrus.FieldLogger

	api           *webrtc.API
	configuration webrtc.Configuration
}

// NewPionEngine creates a PionEngine with settings from the provided
// configuration.
func NewPionEngine(config *cfg.Config) (*PionEngine, error) {
	logger := config.Logger.WithField("engine", "pion")

	s := webrtc.SettingEngine{
		LoggerFactory: &loggerFactory{
			logger: logger,
			debug:  isDebugLogger(config.Logger),
		},
	}

	if config.ICELite {
		s.SetLite(true)
	}

	if len(config.ICEInterfaces) > 0 {
		logger.WithField("interfaces", config.ICEInterfaces).Debugln("enabling ICE interface filter")
		iceInterfaceFilterMap := make(map[string]bool)
		for _, ifName := range config.ICEInterfaces {
			iceInterfaceFilterMap[ifName] = true
		}
		s.SetInterfaceFilter(func(i string) bool {
			return iceInterfaceFilterMap[i]
		})
	}

	if len(config.ICENetworkTypes) > 0 {
		networkTypes := make([]webrtc.NetworkType, 0)
		for _, networkTypeString := range config.ICENetworkTypes {
			var nt webrtc.NetworkType
			switch strings.ToLower(networkTypeString) {
			case "udp4":
				nt = webrtc.NetworkTypeUDP4
			case "udp6":
				nt = webrtc.NetworkTypeUDP6
			case "tcp4":
				nt = webrtc.NetworkTypeTCP4
			case "tcp6":
				nt = webrtc.NetworkTypeTCP6
			default:
				logger.WithField("type", networkTypeString).Warnln("unsupported network type, skipped")
				continue
			}
			networkTypes = append(networkTypes, nt)
		}
		logger.WithField("types", networkTypes).Debugln("enabling ICE network types")
		s.SetNetworkTypes(networkTypes)
	}

	if config.ICEEphemeralUDPPortRange[0] != 0 || config.ICEEphemeralUDPPortRange[1] != 0 {
		if err := s.SetEphemeralUDPPortRange(config.ICEEphemeralUDPPortRange[0], config.ICEEphemeralUDPPortRange[1]); err != nil {
			return nil, fmt.Errorf("failed to set ICE port range: %w", err)
		}
	}

	if len(config.NAT1To1IPs) > 0 {
		s.SetNAT1To1IPs(config.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	if config.Net != nil {
		s.SetNet(config.Net)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	iceServers := make([]webrtc.ICEServer, 0)
	for _, url := range config.GetICEServers() {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if config.Net != nil {
		// Virtual networks cannot reach external servers.
		iceServers = nil
	}

	return &PionEngine{
		logger: logger,

		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(s)),
		configuration: webrtc.Configuration{
			ICEServers: iceServers,
		},
	}, nil
}

// NewConnection implements the Engine interface.
func (e *PionEngine) NewConnection(id string) (Connection, error) {
	pc, err := e.api.NewPeerConnection(e.configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return newPeerConnection(pc, id, e.logger.WithField("pcid", id)), nil
}
