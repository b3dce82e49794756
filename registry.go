/*
Copyright © 2026 guljarhussain0560
*/

package main

import (
	"sort"
	"sync"
)

// Registry tracks which connections belong to which contest room. It only
// holds identifiers; connection lifecycle is owned by the transport layer.
// A room exists exactly as long as it has at least one member.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]bool
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]bool),
	}
}

// AddMember adds connID to roomID, creating the room entry if absent.
// Adding an existing member is a no-op.
func (r *Registry) AddMember(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]bool)
		r.rooms[roomID] = members
	}
	members[connID] = true
}

// RemoveMember removes connID from roomID, deleting the room entry when the
// last member leaves. Unknown rooms and members are tolerated silently, since
// disconnect races are expected.
func (r *Registry) RemoveMember(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(roomID, connID)
}

// RemoveAll removes connID from every room it belongs to and returns the
// rooms it left. Calling it again for the same connection returns nothing.
func (r *Registry) RemoveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for roomID, members := range r.rooms {
		if members[connID] {
			left = append(left, roomID)
		}
	}
	for _, roomID := range left {
		r.removeLocked(roomID, connID)
	}

	sort.Strings(left)

	return left
}

// ListMembers returns a snapshot of the member connection ids of roomID,
// sorted for stable output. Unknown rooms yield an empty slice.
func (r *Registry) ListMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (r *Registry) removeLocked(roomID, connID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}

	delete(members, connID)

	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
