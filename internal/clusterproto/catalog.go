// Package clusterproto implements the cluster membership protocol (spec
// §4.9): master-rendezvous registration, peer discovery fan-out, and
// pairwise authenticated peer connect.
package clusterproto

import (
	"sync"

	"github.com/meshnode/meshnode/internal/codec"
)

// ServerInfo is the catalog's immutable-once-added record (spec §3
// "ServerInfo"). It is the same shape carried on the wire, so this package
// reuses codec.ServerInfo directly rather than duplicating the type.
type ServerInfo = codec.ServerInfo

// Catalog is the in-memory map of known peers, indexed by id and
// secondarily by type (spec §3 "ServerCatalog"). Both indices always
// agree; Add replaces any prior entry for the same id.
type Catalog struct {
	mu     sync.Mutex
	byID   map[uint32]ServerInfo
	byType map[string]map[uint32]struct{}
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byID:   make(map[uint32]ServerInfo),
		byType: make(map[string]map[uint32]struct{}),
	}
}

// Add inserts or replaces info. Returns true if an entry for info.ServerID
// already existed (the caller logs a warning in that case, per spec §4.9
// "Duplicate server_catalog.add for an existing id is an update-in-place;
// a warning is logged").
func (c *Catalog) Add(info ServerInfo) (replaced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byID[info.ServerID]; ok {
		replaced = true
		if old.ServerType != info.ServerType {
			if set, ok := c.byType[old.ServerType]; ok {
				delete(set, info.ServerID)
			}
		}
	}
	c.byID[info.ServerID] = info
	if c.byType[info.ServerType] == nil {
		c.byType[info.ServerType] = make(map[uint32]struct{})
	}
	c.byType[info.ServerType][info.ServerID] = struct{}{}
	return replaced
}

// Get returns the catalog entry for id, if known.
func (c *Catalog) Get(id uint32) (ServerInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.byID[id]
	return info, ok
}

// ByType returns every known entry whose ServerType equals serverType.
func (c *Catalog) ByType(serverType string) []ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.byType[serverType]
	out := make([]ServerInfo, 0, len(ids))
	for id := range ids {
		out = append(out, c.byID[id])
	}
	return out
}

// All returns every catalog entry, in no particular order.
func (c *Catalog) All() []ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ServerInfo, 0, len(c.byID))
	for _, info := range c.byID {
		out = append(out, info)
	}
	return out
}
