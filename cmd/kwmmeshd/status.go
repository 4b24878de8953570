/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"stash.kopano.io/kwm/kwmmesh/internal/mesh"
	apiv0 "stash.kopano.io/kwm/kwmmesh/signaling/api-v0/service"
	"stash.kopano.io/kwm/kwmmesh/version"
)

func commandStatus() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show rooms of a running mesh server",
		Run: func(cmd *cobra.Command, args []string) {
			if err := status(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	statusCmd.Flags().String("hostname", defaultListenAddr, "Host and port where kwmmeshd is listening")
	statusCmd.Flags().String("scheme", "http", "URL scheme")
	statusCmd.Flags().Bool("insecure", false, "Disable TLS certificate and hostname validation")

	return statusCmd
}

type roomsCollection struct {
	Values []*mesh.RoomResource `json:"values"`
}

func fetchRooms(ctx context.Context, client *http.Client, uri *url.URL) ([]*mesh.RoomResource, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	request.Header.Set("User-Agent", "Kopano-Kwmmesh/"+version.Version)

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return nil, fmt.Errorf("status failed with status %v: %s", response.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	collection := &roomsCollection{}
	if err = json.NewDecoder(response.Body).Decode(collection); err != nil {
		return nil, fmt.Errorf("failed to decode rooms: %w", err)
	}
	return collection.Values, nil
}

func renderRooms(w io.Writer, rooms []*mesh.RoomResource) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	// The default style upper-cases footers.
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Room", "Participants", "Links"})
	for _, room := range rooms {
		names := lo.Map(room.Participants, func(p *mesh.ParticipantResource, _ int) string {
			if p.Nickname != "" {
				return fmt.Sprintf("%s (%s)", p.ID, p.Nickname)
			}
			return p.ID
		})
		t.AppendRow(table.Row{room.ID, strings.Join(names, "\n"), room.Links})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d rooms", len(rooms)), ""})
	t.Render()
}

func status(cmd *cobra.Command, args []string) error {
	uri := &url.URL{}
	uri.Scheme, _ = cmd.Flags().GetString("scheme")
	uri.Host, _ = cmd.Flags().GetString("hostname")
	uri.Path = apiv0.URIPrefix + "/rooms"

	insecure, _ := cmd.Flags().GetBool("insecure")

	rooms, err := fetchRooms(context.Background(), newHTTPClient(insecure), uri)
	if err != nil {
		return err
	}

	renderRooms(os.Stdout, rooms)
	return nil
}
