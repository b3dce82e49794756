/*
Copyright © 2026 guljarhussain0560
*/

// LaughLockdown contest signaling
//
// Each multiplayer contest gets a room keyed by its contest id. Players open
// one websocket, join the room, and negotiate direct WebRTC media channels
// with each other; the server only relays the negotiation messages and never
// touches media.
//
// Features:
// - Single websocket endpoint: /ws, rooms joined via "join-room" messages
// - Server-assigned socket ids (UUID), announced via "session-info"
// - Joiners get the current roster ("existing-participants"); everyone else
//   is told "user-joined" so they can start negotiating
// - Offer/answer/ICE-candidate relay to a named destination socket, with the
//   "from" field always set server-side
// - Host-published game state fanned out to the whole room including the
//   host, and pushed to late joiners as "sync-game-state"
// - "next-meme" advances the stored index and broadcasts "advance-meme"
// - Game state is cleared when the last member leaves the room
// - Presence snapshot at /contest/:contestid/participants for lobby polling
// - In-browser QR button to share the contest link, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; SDP offers fit comfortably.
	maxMessageSize = 64 * 1024
)

// ClientMessage is the envelope for everything a client sends. Fields are
// populated per message type; negotiation payloads stay opaque.
type ClientMessage struct {
	Type      string          `json:"type"`
	ContestID string          `json:"contestId,omitempty"` // join-room, game-state-update, next-meme, sync-memes
	UserID    string          `json:"userId,omitempty"`    // join-room
	To        string          `json:"to,omitempty"`        // offer / answer / ice-candidate destination
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Memes     json.RawMessage `json:"memes,omitempty"`
	State     *GameState      `json:"state,omitempty"`
	MemeIndex *int            `json:"memeIndex,omitempty"`
}

// SessionInfoMessage is sent immediately on connect so the client knows its
// server-assigned socket id.
type SessionInfoMessage struct {
	Type     string `json:"type"` // "session-info"
	SocketID string `json:"socketId"`
}

// ExistingParticipantsMessage tells a joiner who else is already present.
type ExistingParticipantsMessage struct {
	Type         string   `json:"type"` // "existing-participants"
	Participants []string `json:"participants"`
}

// UserJoinedMessage announces a new member to the rest of the room.
type UserJoinedMessage struct {
	Type     string `json:"type"` // "user-joined"
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

// UserLeftMessage announces a departure to the remaining members.
type UserLeftMessage struct {
	Type     string `json:"type"` // "user-left"
	SocketID string `json:"socketId"`
}

// SignalMessage is a relayed negotiation envelope. Exactly one of Offer,
// Answer or Candidate is set, matching Type.
type SignalMessage struct {
	Type      string          `json:"type"` // "offer", "answer" or "ice-candidate"
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      string          `json:"from"`
}

// SyncGameStateMessage brings a late joiner's view up to date.
type SyncGameStateMessage struct {
	Type  string    `json:"type"` // "sync-game-state"
	State GameState `json:"state"`
}

// GameStateChangedMessage fans out a host-published state to the whole room.
type GameStateChangedMessage struct {
	Type  string    `json:"type"` // "game-state-changed"
	State GameState `json:"state"`
}

// AdvanceMemeMessage fans out a meme index change to the whole room.
type AdvanceMemeMessage struct {
	Type      string `json:"type"` // "advance-meme"
	MemeIndex int    `json:"memeIndex"`
}

// MemesSyncedMessage fans out the host's meme list, uninspected.
type MemesSyncedMessage struct {
	Type  string          `json:"type"` // "memes-synced"
	Memes json.RawMessage `json:"memes"`
}

// Participant is one entry in the presence snapshot served to the lobby.
type Participant struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan any
}

type inboundMessage struct {
	client *Client
	msg    ClientMessage
}

// Hub is the single authoritative relay point for all rooms. One goroutine
// drains register/unregister/inbound, so every room sees mutations in one
// total order and a join is handled atomically with its state push.
type Hub struct {
	cfg *Config

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	mu      sync.RWMutex
	clients map[string]*Client // socket id -> client

	rooms  *Registry
	states *StateStore
}

func newHub(cfg *Config) *Hub {
	return &Hub{
		cfg:        cfg,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage),
		clients:    make(map[string]*Client),
		rooms:      newRegistry(),
		states:     newStateStore(),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.dropClient(c)
		case in := <-h.inbound:
			h.dispatch(in.client, in.msg)
		case <-ctx.Done():
			h.closeAll()

			return
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	log.Info().Str("socket", c.id).Msg("client connected")

	h.deliver(c, SessionInfoMessage{
		Type:     "session-info",
		SocketID: c.id,
	})
}

// dropClient removes the connection from every room it joined and notifies
// former room-mates. Safe to call more than once for the same client, since
// read pump teardown can race an explicit close.
func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()

		return
	}
	delete(h.clients, c.id)
	h.mu.Unlock()

	for _, contestID := range h.rooms.RemoveAll(c.id) {
		if len(h.rooms.ListMembers(contestID)) == 0 {
			h.states.Delete(contestID)
			log.Info().Str("contest", contestID).Msg("room emptied, game state cleared")

			continue
		}

		h.broadcast(contestID, UserLeftMessage{
			Type:     "user-left",
			SocketID: c.id,
		})
	}

	close(c.send)

	log.Info().Str("socket", c.id).Msg("client disconnected")
}

func (h *Hub) dispatch(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "join-room":
		h.handleJoin(c, msg)
	case "offer", "answer", "ice-candidate":
		h.handleSignal(c, msg)
	case "game-state-update":
		h.handlePublishState(c, msg)
	case "next-meme":
		h.handleAdvanceMeme(c, msg)
	case "sync-memes":
		h.handleSyncMemes(c, msg)
	default:
		log.Warn().Str("socket", c.id).Str("type", msg.Type).Msg("unknown message type")
	}
}

// handleJoin registers the connection in the room, announces it, replies with
// the current roster, and pushes the game state snapshot if a game is already
// running. All of it happens in this one hub-loop step, so a late joiner can
// never see an "advance-meme" before its snapshot.
func (h *Hub) handleJoin(c *Client, msg ClientMessage) {
	if msg.ContestID == "" {
		log.Warn().Str("socket", c.id).Msg("join-room without contestId, ignoring")

		return
	}

	h.mu.Lock()
	c.userID = msg.UserID
	h.mu.Unlock()

	existing := exclude(h.rooms.ListMembers(msg.ContestID), c.id)
	h.rooms.AddMember(msg.ContestID, c.id)

	h.broadcastExcept(msg.ContestID, c.id, UserJoinedMessage{
		Type:     "user-joined",
		UserID:   msg.UserID,
		SocketID: c.id,
	})

	h.deliver(c, ExistingParticipantsMessage{
		Type:         "existing-participants",
		Participants: existing,
	})

	if state, ok := h.states.Get(msg.ContestID); ok && state.GameStarted {
		h.deliver(c, SyncGameStateMessage{
			Type:  "sync-game-state",
			State: state,
		})
	}

	log.Info().
		Str("contest", msg.ContestID).
		Str("user", msg.UserID).
		Str("socket", c.id).
		Int("participants", len(existing)+1).
		Msg("joined room")
}

// handleSignal forwards an offer, answer or ICE candidate to the named
// destination. The sender id is always attached server-side; a client-supplied
// "from" is never trusted. A missing destination drops the message, and the
// peer-connection layer above recovers via its own timeout.
func (h *Hub) handleSignal(c *Client, msg ClientMessage) {
	if msg.To == "" {
		log.Warn().Str("socket", c.id).Str("type", msg.Type).Msg("signal without destination, ignoring")

		return
	}

	h.mu.RLock()
	target, ok := h.clients[msg.To]
	h.mu.RUnlock()

	if !ok {
		log.Debug().Str("type", msg.Type).Str("from", c.id).Str("to", msg.To).Msg("relay target not connected, dropping")

		return
	}

	out := SignalMessage{
		Type: msg.Type,
		From: c.id,
	}

	switch msg.Type {
	case "offer":
		out.Offer = msg.Offer
	case "answer":
		out.Answer = msg.Answer
	case "ice-candidate":
		out.Candidate = msg.Candidate
	}

	h.deliver(target, out)
}

// handlePublishState replaces the stored room state and fans the new state
// out to every member, including the sender, so the host's own UI updates
// through the same path as everyone else's. Whether the sender is actually
// the host is the web application's concern, not this layer's.
func (h *Hub) handlePublishState(c *Client, msg ClientMessage) {
	if msg.ContestID == "" || msg.State == nil {
		log.Warn().Str("socket", c.id).Msg("game-state-update missing contestId or state, ignoring")

		return
	}

	stored := h.states.Put(msg.ContestID, *msg.State)

	h.broadcast(msg.ContestID, GameStateChangedMessage{
		Type:  "game-state-changed",
		State: stored,
	})

	log.Info().
		Str("contest", msg.ContestID).
		Int("memes", len(stored.MemeQueue)).
		Bool("started", stored.GameStarted).
		Msg("game state published")
}

// handleAdvanceMeme updates the stored index, if a state exists, and fans the
// new index out to the whole room including the sender. Wraparound policy is
// the caller's; whatever index arrives is broadcast.
func (h *Hub) handleAdvanceMeme(c *Client, msg ClientMessage) {
	if msg.ContestID == "" || msg.MemeIndex == nil {
		log.Warn().Str("socket", c.id).Msg("next-meme missing contestId or memeIndex, ignoring")

		return
	}

	if !h.states.SetIndex(msg.ContestID, *msg.MemeIndex) {
		log.Debug().Str("contest", msg.ContestID).Msg("next-meme with no stored state")
	}

	h.broadcast(msg.ContestID, AdvanceMemeMessage{
		Type:      "advance-meme",
		MemeIndex: *msg.MemeIndex,
	})
}

// handleSyncMemes fans the host's meme list out to the whole room including
// the sender. The list is not stored; late joiners get the queue inside
// "sync-game-state" instead.
func (h *Hub) handleSyncMemes(c *Client, msg ClientMessage) {
	if msg.ContestID == "" {
		log.Warn().Str("socket", c.id).Msg("sync-memes without contestId, ignoring")

		return
	}

	h.broadcast(msg.ContestID, MemesSyncedMessage{
		Type:  "memes-synced",
		Memes: msg.Memes,
	})
}

func (h *Hub) broadcast(contestID string, msg any) {
	h.broadcastExcept(contestID, "", msg)
}

func (h *Hub) broadcastExcept(contestID, exceptID string, msg any) {
	for _, id := range h.rooms.ListMembers(contestID) {
		if id == exceptID {
			continue
		}

		h.mu.RLock()
		c, ok := h.clients[id]
		h.mu.RUnlock()

		if ok {
			h.deliver(c, msg)
		}
	}
}

// deliver is fire-and-forget: a full send buffer drops the message rather
// than blocking the hub loop. The lobby's REST polling covers the gap.
func (h *Hub) deliver(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		log.Warn().Str("socket", c.id).Msg("send buffer full, dropping message")
	}
}

// participants returns the presence snapshot of a room for the lobby poll.
func (h *Hub) participants(contestID string) []Participant {
	members := h.rooms.ListMembers(contestID)

	h.mu.RLock()
	defer h.mu.RUnlock()

	participants := make([]Participant, 0, len(members))
	for _, id := range members {
		if c, ok := h.clients[id]; ok {
			participants = append(participants, Participant{
				SocketID: id,
				UserID:   c.userID,
			})
		}
	}

	return participants
}

// closeAll disconnects every client (used on server shutdown).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func exclude(ids []string, self string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}

	return out
}

// readPump pumps messages from the websocket connection into the hub's inbox.
// Running all reads in one goroutine per connection preserves the sender's
// message order through the relay.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("socket", c.id).Msg("read error")
			}

			return
		}

		h.inbound <- inboundMessage{client: c, msg: msg}
	}
}

// writePump pumps messages from the send channel to the websocket connection
// and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(cfg *Config) func(*http.Request) bool {
	if len(cfg.origins) == 0 {
		return func(*http.Request) bool {
			return true
		}
	}

	allowed := make(map[string]bool, len(cfg.origins))
	for _, origin := range cfg.origins {
		allowed[strings.TrimSuffix(origin, "/")] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		return origin == "" || allowed[strings.TrimSuffix(origin, "/")]
	}
}

// serveWS upgrades the connection, assigns a socket id, and hands the client
// to the hub.
func serveWS(cfg *Config, hub *Hub) httprouter.Handle {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg),
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Str("remote", realIP(r)).Msg("websocket upgrade failed")

			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, cfg.sendBuffer),
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func serveParticipants(cfg *Config, hub *Hub, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		participants := hub.participants(ps.ByName("contestid"))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(map[string]any{
			"participants": participants,
			"count":        len(participants),
		}); err != nil {
			errs <- err

			return
		}
	}
}

// serveContestQR generates a PNG QR code for the contest URL, respecting TLS
// and X-Forwarded-Proto.
func serveContestQR(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /contest/:contestid/qr; strip the trailing "/qr" to get
		// the shareable contest URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err

			return
		}
	}
}

// registerContestRoutes sets up the signaling routes:
//   - /ws                               → shared websocket endpoint
//   - /contest/:contestid/participants  → presence snapshot for the lobby
//   - /contest/:contestid/qr            → PNG QR code for the contest URL
func registerContestRoutes(cfg *Config, hub *Hub, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, hub))

	mux.GET(cfg.prefix+"/contest/:contestid/participants", serveParticipants(cfg, hub, errs))

	mux.GET(cfg.prefix+"/contest/:contestid/qr", serveContestQR(cfg, errs))
}
