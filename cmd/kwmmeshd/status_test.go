/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmmesh/config"
	"stash.kopano.io/kwm/kwmmesh/internal/mesh"
)

func TestFetchAndRenderRooms(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/kwmmesh/v0/rooms" {
			http.NotFound(rw, req)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		io.WriteString(rw, `{"@odata.context":"/api/kwmmesh/v0/rooms","values":[`+
			`{"id":"r1","capacity":4,"participants":[{"id":"a","nickname":"alice"},{"id":"b"}],"links":3}]}`)
	}))
	defer ts.Close()

	uri, _ := url.Parse(ts.URL + "/api/kwmmesh/v0/rooms")
	rooms, err := fetchRooms(context.Background(), ts.Client(), uri)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].ID != "r1" || len(rooms[0].Participants) != 2 || rooms[0].Links != 3 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}

	var buf bytes.Buffer
	renderRooms(&buf, rooms)
	output := buf.String()
	for _, expected := range []string{"ROOM", "r1", "a (alice)", "1 rooms"} {
		if !strings.Contains(output, expected) {
			t.Errorf("output is missing %q:\n%s", expected, output)
		}
	}

	uri, _ = url.Parse(ts.URL + "/nothing")
	if _, err = fetchRooms(context.Background(), ts.Client(), uri); err == nil {
		t.Errorf("expected error for missing endpoint")
	}
}

func TestRenderNoRooms(t *testing.T) {
	var buf bytes.Buffer
	renderRooms(&buf, []*mesh.RoomResource{})
	if !strings.Contains(buf.String(), "0 rooms") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestApplyFlags(t *testing.T) {
	logger := &logrus.Logger{Out: io.Discard, Formatter: &logrus.TextFormatter{}, Level: logrus.InfoLevel}

	cmd := commandServe()
	if err := cmd.ParseFlags([]string{
		"--room-capacity", "6",
		"--negotiation-timeout", "5s",
		"--use-ice-udp-port-range", "20000:20100",
		"--allowed-origin", "example.com",
		"--ice-server", "stun:stun.example.com:3478",
	}); err != nil {
		t.Fatal(err)
	}

	config := &cfg.Config{RoomCapacity: 2, ListenAddr: "from-file:1"}
	if err := applyFlags(cmd, config, logger); err != nil {
		t.Fatal(err)
	}
	if config.RoomCapacity != 6 || config.GetNegotiationTimeout().String() != "5s" {
		t.Errorf("flags not applied: %+v", config)
	}
	if config.ListenAddr != "from-file:1" {
		t.Errorf("listen address overridden without flag: %s", config.ListenAddr)
	}
	if config.ICEEphemeralUDPPortRange != [2]uint16{20000, 20100} {
		t.Errorf("unexpected port range %v", config.ICEEphemeralUDPPortRange)
	}
	if len(config.AllowedOrigins) != 1 || len(config.ICEServers) != 1 {
		t.Errorf("unexpected arrays: %v %v", config.AllowedOrigins, config.ICEServers)
	}

	for _, args := range [][]string{
		{"--room-capacity", "0"},
		{"--use-ice-udp-port-range", "30000:20000"},
	} {
		cmd = commandServe()
		if err := cmd.ParseFlags(args); err != nil {
			t.Fatal(err)
		}
		if err := applyFlags(cmd, &cfg.Config{}, logger); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestApplyFlagsRequestLog(t *testing.T) {
	logger := &logrus.Logger{Out: io.Discard, Formatter: &logrus.TextFormatter{}, Level: logrus.InfoLevel}

	for _, tc := range []struct {
		env  string
		args []string
		want bool
	}{
		{"", nil, false},
		{"1", nil, true},
		{"", []string{"--request-log"}, true},
		{"1", []string{"--request-log=false"}, false},
	} {
		t.Setenv("KWMMESHD_REQUEST_LOG", tc.env)
		cmd := commandServe()
		if err := cmd.ParseFlags(tc.args); err != nil {
			t.Fatal(err)
		}
		config := &cfg.Config{}
		if err := applyFlags(cmd, config, logger); err != nil {
			t.Fatal(err)
		}
		if config.RequestLog != tc.want {
			t.Errorf("env %q args %v: got request log %v", tc.env, tc.args, config.RequestLog)
		}
	}
}
