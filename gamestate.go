/*
Copyright © 2026 guljarhussain0560
*/

package main

import (
	"sync"
	"time"
)

// MemeUploader is the display info of the user who uploaded a meme.
// Pointer fields mirror the nullable columns of the contest database,
// which this server never touches directly.
type MemeUploader struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Username *string `json:"username"`
	Image    *string `json:"image"`
}

// Meme is one entry in a contest's meme queue. The queue is ordered and
// addressed by index, so insertion order is significant.
type Meme struct {
	ID       string       `json:"id"`
	URL      string       `json:"url"`
	Type     string       `json:"type"`
	Duration *float64     `json:"duration"`
	Title    *string      `json:"title"`
	User     MemeUploader `json:"user"`
}

// GameState is the authoritative shared state of one contest room. It is
// published by the host, fanned out to every member, and pushed to late
// joiners so they can compute elapsed survival time from StartTimestamp
// (milliseconds since epoch, to match the web client's Date.now()).
type GameState struct {
	CurrentMemeIndex int    `json:"currentMemeIndex"`
	MemeQueue        []Meme `json:"memeQueue"`
	StartTimestamp   int64  `json:"startTimestamp"`
	GameStarted      bool   `json:"gameStarted"`
}

// StateStore holds the latest GameState per contest room. State lives in
// process memory only; rooms are ephemeral presence data, and the durable
// contest outcome is persisted by the web application, not here.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*GameState
}

func newStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]*GameState),
	}
}

// Put fully replaces the stored state for roomID, filling in the defaults
// the host client is allowed to omit, and returns the stored snapshot.
func (s *StateStore) Put(roomID string, state GameState) GameState {
	if state.CurrentMemeIndex < 0 {
		state.CurrentMemeIndex = 0
	}
	if state.MemeQueue == nil {
		state.MemeQueue = []Meme{}
	}
	if state.StartTimestamp == 0 {
		state.StartTimestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[roomID] = &state

	return state
}

// Get returns a copy of the stored state for roomID, if any.
func (s *StateStore) Get(roomID string) (GameState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[roomID]
	if !ok {
		return GameState{}, false
	}

	return *state, true
}

// SetIndex updates only the current meme index of an existing state.
// It reports whether a state was present; no entry is created otherwise.
func (s *StateStore) SetIndex(roomID string, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[roomID]
	if !ok {
		return false
	}

	state.CurrentMemeIndex = index

	return true
}

// Delete drops the stored state for roomID. The hub calls this when the last
// member leaves a room, so stale state cannot bleed into a later session
// that reuses the same contest id.
func (s *StateStore) Delete(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, roomID)
}
