/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mesh

import (
	"fmt"
	"sort"

	"github.com/rogpeppe/fastuuid"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmmesh/internal/rtc"
)

var guidGenerator = fastuuid.MustNewGenerator()

// Graph owns all links, grouped per room. It is the single writer of link
// existence.
type Graph struct {
	mu deadlock.RWMutex

	engine rtc.Engine
	logger logrus.FieldLogger

	rooms map[string]map[LinkID]*Link

	onCreate func(*Link)
	onClose  func(*Link)
}

// NewGraph creates a Graph which backs links with connections of the
// provided engine.
func NewGraph(engine rtc.Engine, logger logrus.FieldLogger) *Graph {
	return &Graph{
		engine: engine,
		logger: logger,

		rooms: make(map[string]map[LinkID]*Link),
	}
}

// GetOrCreate returns the live link for id or creates a new one. created is
// true when a new link was registered.
func (g *Graph) GetOrCreate(id LinkID, leg Leg) (link *Link, created bool, err error) {
	if id.Room == "" || id.From == "" || id.From == id.To {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidID, id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	links := g.rooms[id.Room]
	if link = links[id]; link != nil {
		return link, false, nil
	}

	conn, err := g.engine.NewConnection(guidGenerator.Hex128())
	if err != nil {
		return nil, false, newTransportError("create", id, err)
	}

	link = newLink(id, leg, conn)
	if links == nil {
		links = make(map[LinkID]*Link)
		g.rooms[id.Room] = links
	}
	links[id] = link

	g.logger.WithFields(logrus.Fields{
		"link": id,
		"leg":  leg,
		"pcid": conn.ID(),
	}).Debugln("uuu created new link")

	if g.onCreate != nil {
		g.onCreate(link)
	}
	return link, true, nil
}

// Get returns the live link for id, or nil.
func (g *Graph) Get(id LinkID) *Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.rooms[id.Room][id]
}

// Close closes and removes the link for id. No-op if absent.
func (g *Graph) Close(id LinkID) *Link {
	g.mu.Lock()
	link := g.remove(id)
	g.mu.Unlock()

	if link != nil {
		g.closeLink(link)
	}
	return link
}

// CloseAllFor closes every link in every room where participantID is an
// endpoint and returns them.
func (g *Graph) CloseAllFor(participantID string) []*Link {
	g.mu.Lock()
	var removed []*Link
	for _, links := range g.rooms {
		for id := range links {
			if id.From == participantID || id.To == participantID {
				removed = append(removed, g.remove(id))
			}
		}
	}
	g.mu.Unlock()

	for _, link := range removed {
		g.closeLink(link)
	}
	return removed
}

// remove requires the write lock.
func (g *Graph) remove(id LinkID) *Link {
	links := g.rooms[id.Room]
	link, ok := links[id]
	if !ok {
		return nil
	}
	delete(links, id)
	if len(links) == 0 {
		delete(g.rooms, id.Room)
	}
	return link
}

func (g *Graph) closeLink(link *Link) {
	if !link.close() {
		return
	}
	g.logger.WithField("link", link.id).Debugln("uuu closed link")
	if g.onClose != nil {
		g.onClose(link)
	}
}

// Links returns the links of a room, sorted by identifier.
func (g *Graph) Links(roomID string) []*Link {
	g.mu.RLock()
	links := make([]*Link, 0, len(g.rooms[roomID]))
	for _, link := range g.rooms[roomID] {
		links = append(links, link)
	}
	g.mu.RUnlock()

	sort.Slice(links, func(i, j int) bool {
		return links[i].id.String() < links[j].id.String()
	})
	return links
}

// LinksFrom returns the delivery links carrying media of participantID.
func (g *Graph) LinksFrom(roomID string, participantID string) []*Link {
	var result []*Link
	for _, link := range g.Links(roomID) {
		if link.id.From == participantID && !link.id.IsPublish() {
			result = append(result, link)
		}
	}
	return result
}

// Count returns the number of live links.
func (g *Graph) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, links := range g.rooms {
		count += len(links)
	}
	return count
}
