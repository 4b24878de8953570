/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "kwmmeshd.toml")
	if err := os.WriteFile(fn, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestLoadFileApply(t *testing.T) {
	fn := writeTestFile(t, `
listen = "0.0.0.0:8780"
room_capacity = 6
negotiation_timeout = "45s"
ice_servers = ["stun:stun.example.org:3478"]
ice_udp_port_range = "40000:40100"
allowed_origins = ["meet.example.org"]
`)

	f, err := LoadFile(fn)
	if err != nil {
		t.Fatal(err)
	}

	c := &Config{}
	if err := f.Apply(c); err != nil {
		t.Fatal(err)
	}

	if c.ListenAddr != "0.0.0.0:8780" {
		t.Errorf("wrong listen addr: %v", c.ListenAddr)
	}
	if c.GetRoomCapacity() != 6 {
		t.Errorf("wrong room capacity: %v", c.GetRoomCapacity())
	}
	if c.GetNegotiationTimeout() != 45*time.Second {
		t.Errorf("wrong negotiation timeout: %v", c.GetNegotiationTimeout())
	}
	if c.GetStreamSettleTimeout() != DefaultStreamSettleTimeout {
		t.Errorf("stream settle timeout should be default, got %v", c.GetStreamSettleTimeout())
	}
	if len(c.GetICEServers()) != 1 || c.GetICEServers()[0] != "stun:stun.example.org:3478" {
		t.Errorf("wrong ice servers: %v", c.GetICEServers())
	}
	if c.ICEEphemeralUDPPortRange != [2]uint16{40000, 40100} {
		t.Errorf("wrong port range: %v", c.ICEEphemeralUDPPortRange)
	}
}

func TestLoadFileUnknownKey(t *testing.T) {
	fn := writeTestFile(t, `rooom_capacity = 3`)

	if _, err := LoadFile(fn); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParsePortRange(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    [2]uint16
		wantErr bool
	}{
		{"", [2]uint16{10000, 65535}, false},
		{"20000:", [2]uint16{20000, 65535}, false},
		{":30000", [2]uint16{10000, 30000}, false},
		{"5000:6000", [2]uint16{5000, 6000}, false},
		{"6000:5000", [2]uint16{}, true},
		{"abc:6000", [2]uint16{}, true},
	} {
		got, err := ParsePortRange(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %v want %v", tc.in, got, tc.want)
		}
	}
}
