/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create our server.
	httpServer, _, router, _ := newTestServer(ctx, t)
	defer httpServer.Close()

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		// Prepare the request to pass to our handler.
		req, err := http.NewRequest(method, "/health-check", nil)
		if err != nil {
			t.Fatal(err)
		}

		// Create response recorder to record the response.
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		// Check the status code is what we expect.
		if status := rr.Code; status != http.StatusOK {
			t.Errorf("%s: handler returned wrong status code: got %v want %v", method, status, http.StatusOK)
		}
	}
}

func TestRoomsRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer, _, _, _ := newTestServer(ctx, t)
	defer httpServer.Close()

	response, err := http.Get(httpServer.URL + "/api/kwmmesh/v0/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("rooms returned wrong status code: %v", response.StatusCode)
	}

	var collection struct {
		Context string        `json:"@odata.context"`
		Values  []interface{} `json:"values"`
	}
	if err = json.NewDecoder(response.Body).Decode(&collection); err != nil {
		t.Fatal(err)
	}
	if collection.Context != "/api/kwmmesh/v0/rooms" || len(collection.Values) != 0 {
		t.Errorf("unexpected collection: %+v", collection)
	}

	missing, err := http.Get(httpServer.URL + "/api/kwmmesh/v0/rooms/missing")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing room returned wrong status code: %v", missing.StatusCode)
	}
}
