// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchroom/sketchroom/lib/netutil"
	"github.com/sketchroom/sketchroom/lib/relayproto"
	"github.com/sketchroom/sketchroom/lib/roomkey"
	"github.com/sketchroom/sketchroom/lib/scene"
)

// Defaults for Options.
const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadTimeout  = 60 * time.Second

	DefaultMaxMessageBytes = 10 << 20
)

// Options configures Open.
type Options struct {
	// URL is the relay websocket endpoint, e.g. ws://host:3002/socket.
	URL string

	// RoomID and Key identify the room. Required.
	RoomID string
	Key    roomkey.Key

	// Username is announced after joining. Empty announces nothing.
	Username string

	// DialTimeout bounds the dial and the join handshake.
	DialTimeout time.Duration

	// WriteTimeout bounds one frame write.
	WriteTimeout time.Duration

	// ReadTimeout closes a connection on which the relay has sent
	// nothing, not even a ping, for this long.
	ReadTimeout time.Duration

	// MaxMessageBytes bounds one inbound frame. A larger frame ends the
	// connection.
	MaxMessageBytes int64

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Handlers receive relay events. Nil handlers are skipped. All
// handlers run on the portal's read goroutine, one at a time.
type Handlers struct {
	// OnScene receives the elements of a decrypted scene broadcast.
	OnScene func(elements []scene.Element)

	// OnCursor receives a decrypted cursor broadcast.
	OnCursor func(cursor scene.Cursor)

	// OnPresence receives the room's usernames whenever they change.
	OnPresence func(usernames []string)

	// OnIdle receives idle-state changes of other participants.
	OnIdle func(socketID string, idle bool)

	// OnFollow and OnFollowRoomChange receive follow payloads.
	OnFollow           func(payload []byte)
	OnFollowRoomChange func(payload []byte)

	// OnNewUser fires when another participant joins.
	OnNewUser func(socketID string)

	// OnFirstInRoom fires when this client joined an empty room.
	OnFirstInRoom func()
}

// Portal is an open relay connection.
type Portal struct {
	url          string
	roomID       string
	key          roomkey.Key
	writeTimeout time.Duration
	readTimeout  time.Duration
	logger       *slog.Logger
	ws           *websocket.Conn
	socketID     string

	writeMu sync.Mutex
	closed  bool

	handlersMu sync.Mutex
	handlers   Handlers

	closeOnce sync.Once
	done      chan struct{}
}

// Open connects to the relay and joins the room. Connection and
// handshake failures are returned as *TransportError.
func Open(ctx context.Context, options Options, handlers Handlers) (*Portal, error) {
	switch {
	case options.URL == "":
		return nil, errors.New("portal: URL is required")
	case options.RoomID == "":
		return nil, errors.New("portal: RoomID is required")
	case options.Key.IsZero():
		return nil, errors.New("portal: Key is required")
	}
	if options.DialTimeout <= 0 {
		options.DialTimeout = DefaultDialTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.ReadTimeout <= 0 {
		options.ReadTimeout = DefaultReadTimeout
	}
	if options.MaxMessageBytes <= 0 {
		options.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if options.Dialer == nil {
		options.Dialer = websocket.DefaultDialer
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	dialCtx, cancel := context.WithTimeout(ctx, options.DialTimeout)
	defer cancel()

	ws, _, err := options.Dialer.DialContext(dialCtx, options.URL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", URL: options.URL, Err: err}
	}
	ws.SetReadLimit(options.MaxMessageBytes)

	p := &Portal{
		url:          options.URL,
		roomID:       options.RoomID,
		key:          options.Key,
		writeTimeout: options.WriteTimeout,
		readTimeout:  options.ReadTimeout,
		logger:       options.Logger.With("room_id", options.RoomID),
		ws:           ws,
		handlers:     handlers,
		done:         make(chan struct{}),
	}
	if err := p.handshake(dialCtx, options.Username); err != nil {
		ws.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, &TransportError{Op: "handshake", URL: options.URL, Err: err}
	}

	go p.readLoop()
	p.logger.Info("joined relay room", "socket_id", p.socketID)
	return p, nil
}

// handshake waits for the init-room acknowledgement, then joins the
// room and announces the username. Cancelling ctx closes the socket,
// which unblocks the read.
func (p *Portal) handshake(ctx context.Context, username string) error {
	stop := context.AfterFunc(ctx, func() { p.ws.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		p.ws.SetReadDeadline(deadline)
	}
	if err := p.write(relayproto.Frame{Event: relayproto.EventInitRoom}); err != nil {
		return err
	}
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for init-room: %w", err)
		}
		frame, err := relayproto.Decode(data)
		if err != nil {
			continue
		}
		if frame.Event == relayproto.EventInitRoom {
			p.socketID = frame.ID
			break
		}
	}
	p.ws.SetReadDeadline(time.Time{})

	if err := p.write(relayproto.Frame{Event: relayproto.EventJoinRoom, RoomID: p.roomID}); err != nil {
		return err
	}
	if username != "" {
		return p.write(relayproto.Frame{Event: relayproto.EventRoomUserChange, Username: username})
	}
	return nil
}

// SocketID is the relay's ID for this connection, as other
// participants see it in new-user and idle-state events.
func (p *Portal) SocketID() string { return p.socketID }

// RoomID returns the joined room.
func (p *Portal) RoomID() string { return p.roomID }

// Done is closed when the connection ends, by Close or by the relay.
func (p *Portal) Done() <-chan struct{} { return p.done }

// BroadcastScene sends elements to the rest of the room.
func (p *Portal) BroadcastScene(elements []scene.Element) error {
	return p.broadcast(scene.SceneEnvelope(elements), false)
}

// BroadcastCursor sends a volatile cursor update. An empty SocketID
// is filled with this connection's.
func (p *Portal) BroadcastCursor(cursor scene.Cursor) error {
	if cursor.SocketID == "" {
		cursor.SocketID = p.socketID
	}
	return p.broadcast(scene.CursorEnvelope(cursor), true)
}

// BroadcastIdle tells the room whether this participant is idle.
func (p *Portal) BroadcastIdle(idle bool) error {
	return p.send(relayproto.Frame{
		Event:  relayproto.EventIdleState,
		RoomID: p.roomID,
		ID:     p.socketID,
		Idle:   idle,
	})
}

// SetUsername changes the announced username.
func (p *Portal) SetUsername(username string) error {
	return p.send(relayproto.Frame{Event: relayproto.EventRoomUserChange, Username: username})
}

// Follow relays a follow payload to the room.
func (p *Portal) Follow(payload []byte) error {
	return p.send(relayproto.Frame{Event: relayproto.EventUserFollow, Data: payload})
}

// FollowRoomChange relays a follow room change payload to roomID.
func (p *Portal) FollowRoomChange(roomID string, payload []byte) error {
	return p.send(relayproto.Frame{Event: relayproto.EventUserFollowRoomChange, RoomID: roomID, Data: payload})
}

// Close disconnects and clears the handlers. It waits for any handler
// in progress, so none runs after Close returns.
func (p *Portal) Close() error {
	p.closeOnce.Do(func() {
		p.writeMu.Lock()
		p.closed = true
		deadline := time.Now().Add(p.writeTimeout) //nolint:realclock // kernel I/O deadline
		p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		p.writeMu.Unlock()

		p.handlersMu.Lock()
		p.handlers = Handlers{}
		p.handlersMu.Unlock()

		p.ws.Close()
		<-p.done
		p.logger.Info("left relay room")
	})
	return nil
}

func (p *Portal) broadcast(envelope scene.Envelope, volatile bool) error {
	plaintext, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("portal: encoding %s envelope: %w", envelope.Type, err)
	}
	blob, err := p.key.Seal(roomkey.Relay, plaintext)
	if err != nil {
		return fmt.Errorf("portal: %w", err)
	}
	event := relayproto.EventServerBroadcast
	if volatile {
		event = relayproto.EventServerVolatileBroadcast
	}
	return p.send(relayproto.Frame{Event: event, RoomID: p.roomID, Data: blob})
}

func (p *Portal) send(frame relayproto.Frame) error {
	select {
	case <-p.done:
		return ErrNotOpen
	default:
	}
	if err := p.write(frame); err != nil {
		if errors.Is(err, ErrNotOpen) {
			return err
		}
		return &TransportError{Op: "write", URL: p.url, Err: err}
	}
	return nil
}

func (p *Portal) write(frame relayproto.Frame) error {
	data, err := relayproto.Encode(frame)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return ErrNotOpen
	}
	p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout)) //nolint:realclock // kernel I/O deadline
	return p.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (p *Portal) readLoop() {
	defer close(p.done)

	extend := func() {
		p.ws.SetReadDeadline(time.Now().Add(p.readTimeout)) //nolint:realclock // kernel I/O deadline
	}
	extend()
	p.ws.SetPingHandler(func(data string) error {
		extend()
		deadline := time.Now().Add(p.writeTimeout) //nolint:realclock // kernel I/O deadline
		err := p.ws.WriteControl(websocket.PongMessage, []byte(data), deadline)
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if !p.isClosed() && !netutil.IsExpectedCloseError(err) {
				p.logger.Warn("relay connection lost", "error", err)
			}
			return
		}
		extend()

		frame, err := relayproto.Decode(data)
		if err != nil {
			p.logger.Warn("dropping malformed relay frame", "error", err)
			continue
		}
		p.dispatch(frame)
	}
}

func (p *Portal) isClosed() bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.closed
}

func (p *Portal) dispatch(frame relayproto.Frame) {
	p.handlersMu.Lock()
	h := p.handlers
	p.handlersMu.Unlock()

	switch frame.Event {
	case relayproto.EventClientBroadcast:
		p.deliver(h, frame.Data)
	case relayproto.EventRoomUserChange:
		if h.OnPresence != nil {
			h.OnPresence(frame.Usernames)
		}
	case relayproto.EventIdleState:
		if h.OnIdle != nil {
			h.OnIdle(frame.ID, frame.Idle)
		}
	case relayproto.EventUserFollow:
		if h.OnFollow != nil {
			h.OnFollow(frame.Data)
		}
	case relayproto.EventUserFollowRoomChange:
		if h.OnFollowRoomChange != nil {
			h.OnFollowRoomChange(frame.Data)
		}
	case relayproto.EventNewUser:
		if h.OnNewUser != nil {
			h.OnNewUser(frame.ID)
		}
	case relayproto.EventFirstInRoom:
		if h.OnFirstInRoom != nil {
			h.OnFirstInRoom()
		}
	default:
		p.logger.Debug("ignoring relay event", "event", frame.Event)
	}
}

// deliver opens an encrypted broadcast and hands it to the matching
// handler. Payloads that fail to open or parse are dropped.
func (p *Portal) deliver(h Handlers, blob []byte) {
	plaintext, err := p.key.Open(roomkey.Relay, blob)
	if err != nil {
		p.logger.Warn("dropping broadcast that failed to decrypt", "error", err)
		return
	}
	envelope, err := scene.DecodeEnvelope(plaintext)
	if err != nil {
		p.logger.Warn("dropping undecodable broadcast", "error", err)
		return
	}
	switch envelope.Type {
	case scene.TypeScene:
		if h.OnScene != nil {
			h.OnScene(scene.Restore(envelope.Elements))
		}
	case scene.TypeCursor:
		if h.OnCursor != nil {
			h.OnCursor(envelope.Cursor())
		}
	}
}
