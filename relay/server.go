// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sketchroom/sketchroom/lib/clock"
)

// Defaults applied by New to zero Options fields.
const (
	DefaultMaxMessageBytes = 10 << 20
	DefaultOutboundQueue   = 256
	DefaultPingInterval    = 25 * time.Second
	DefaultWriteTimeout    = 10 * time.Second

	// roomInbox bounds the operations queued for one room actor.
	roomInbox = 64

	// maxRoomIDLength bounds the room IDs the relay will track.
	maxRoomIDLength = 128
)

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists the Origin header values accepted on the
	// websocket upgrade. Empty accepts any origin. Requests without
	// an Origin header (non-browser clients) are always accepted.
	AllowedOrigins []string

	// MaxMessageBytes bounds one inbound frame. A larger frame closes
	// the connection.
	MaxMessageBytes int64

	// OutboundQueue is the per-connection send buffer in frames.
	OutboundQueue int

	// PingInterval is how often the write pump pings the client. A
	// connection that sends nothing, not even a pong, for two
	// intervals is closed.
	PingInterval time.Duration

	// WriteTimeout bounds one frame write.
	WriteTimeout time.Duration

	// Clock drives the ping ticker. Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the relay. It implements http.Handler through Handler.
type Server struct {
	options  Options
	clock    clock.Clock
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*room
	conns  map[string]*conn
	closed bool
}

// New creates a relay server.
func New(options Options) *Server {
	if options.MaxMessageBytes <= 0 {
		options.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if options.OutboundQueue <= 0 {
		options.OutboundQueue = DefaultOutboundQueue
	}
	if options.PingInterval <= 0 {
		options.PingInterval = DefaultPingInterval
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	s := &Server{
		options: options,
		clock:   options.Clock,
		logger:  options.Logger,
		rooms:   make(map[string]*room),
		conns:   make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the relay's HTTP routes:
//
//	GET /socket           websocket upgrade
//	GET /healthz          liveness
//	GET /rooms/{roomID}   participant count of one room
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/socket", s.serveSocket).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.serveHealth).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{roomID}", s.serveRoom).Methods(http.MethodGet)
	return router
}

// RoomSize returns the number of connections in roomID.
func (s *Server) RoomSize(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return int(r.size.Load())
}

// Close disconnects every connection and refuses new ones. Rooms are
// discarded as their members leave.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.kick()
	}
}

func (s *Server) checkOrigin(request *http.Request) bool {
	origin := request.Header.Get("Origin")
	if origin == "" || len(s.options.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.options.AllowedOrigins, origin)
}

func (s *Server) serveSocket(writer http.ResponseWriter, request *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(writer, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Debug("websocket upgrade failed",
			"remote_addr", request.RemoteAddr,
			"error", err,
		)
		return
	}

	c := newConn(s, uuid.NewString(), ws)
	if !s.register(c) {
		ws.Close()
		return
	}
	s.logger.Debug("connection opened",
		"connection_id", c.id,
		"remote_addr", request.RemoteAddr,
	)

	go c.writePump()
	go c.readPump()
}

func (s *Server) serveHealth(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writer.WriteHeader(http.StatusOK)
	writer.Write([]byte("ok"))
}

// roomStatus is the body of GET /rooms/{roomID}. It exposes counts
// only, never usernames or content.
type roomStatus struct {
	RoomID       string `json:"room_id"`
	Participants int    `json:"participants"`
}

func (s *Server) serveRoom(writer http.ResponseWriter, request *http.Request) {
	roomID := mux.Vars(request)["roomID"]
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(roomStatus{
		RoomID:       roomID,
		Participants: s.RoomSize(roomID),
	})
}

func (s *Server) register(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.id] = c
	return true
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

// acquire returns the actor for roomID, starting one if needed, and
// takes a reference on it. The caller must release the reference after
// its last operation on the room.
func (s *Server) acquire(roomID string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		r = newRoom(s, roomID)
		s.rooms[roomID] = r
		go r.run()
		s.logger.Debug("room created", "room_id", roomID)
	}
	r.refs++
	return r
}

// acquireExisting is acquire without creating the room.
func (s *Server) acquireExisting(roomID string) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, false
	}
	r.refs++
	return r, true
}

// release drops a reference taken by acquire. The last release
// discards the room and stops its actor once the inbox drains.
func (s *Server) release(r *room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.refs--
	if r.refs > 0 {
		return
	}
	delete(s.rooms, r.id)
	close(r.inbox)
	s.logger.Debug("room discarded", "room_id", r.id)
}
