// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchroom/sketchroom/lib/netutil"
	"github.com/sketchroom/sketchroom/lib/relayproto"
)

// conn is one client connection. readPump owns room; the write pump
// owns writes to ws. Rooms reach the connection only through enqueue
// and kick.
type conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	room *room
}

func newConn(s *Server, id string, ws *websocket.Conn) *conn {
	return &conn{
		id:     id,
		server: s,
		ws:     ws,
		logger: s.logger.With("connection_id", id),
		send:   make(chan []byte, s.options.OutboundQueue),
		done:   make(chan struct{}),
	}
}

// enqueue offers an encoded frame to the write pump without blocking.
// It reports false only when the queue is full. Frames for a closed
// connection are discarded.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// kick closes the connection. Safe to call from any goroutine, any
// number of times.
func (c *conn) kick() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) readPump() {
	defer func() {
		c.leaveRoom()
		c.kick()
		c.server.unregister(c)
		c.logger.Debug("connection closed")
	}()

	pongWait := 2 * c.server.options.PingInterval
	c.ws.SetReadLimit(c.server.options.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:realclock // kernel I/O deadline
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:realclock // kernel I/O deadline
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:realclock // kernel I/O deadline

		frame, err := relayproto.Decode(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err)
			continue
		}
		c.handle(frame)
	}
}

func (c *conn) writePump() {
	ticker := c.server.clock.NewTicker(c.server.options.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	writeTimeout := c.server.options.WriteTimeout
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:realclock // kernel I/O deadline
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					c.logger.Debug("write failed", "error", err)
				}
				c.kick()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout) //nolint:realclock // kernel I/O deadline
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.kick()
				return
			}

		case <-c.done:
			deadline := time.Now().Add(writeTimeout) //nolint:realclock // kernel I/O deadline
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			return
		}
	}
}

func (c *conn) handle(frame relayproto.Frame) {
	switch frame.Event {
	case relayproto.EventInitRoom:
		c.reply(relayproto.Frame{Event: relayproto.EventInitRoom, ID: c.id})

	case relayproto.EventJoinRoom:
		if frame.RoomID == "" || len(frame.RoomID) > maxRoomIDLength {
			c.logger.Debug("rejecting join with invalid room id")
			return
		}
		c.join(frame.RoomID)

	case relayproto.EventRoomUserChange:
		if c.room != nil {
			c.room.inbox <- roomOp{kind: opUsername, conn: c, username: frame.Username}
		}

	case relayproto.EventServerBroadcast:
		c.forward(frame.RoomID, relayproto.Frame{
			Event: relayproto.EventClientBroadcast,
			Data:  frame.Data,
		}, frame.Volatile)

	case relayproto.EventServerVolatileBroadcast:
		c.forward(frame.RoomID, relayproto.Frame{
			Event: relayproto.EventClientBroadcast,
			Data:  frame.Data,
		}, true)

	case relayproto.EventIdleState:
		id := frame.ID
		if id == "" {
			id = c.id
		}
		c.forward(frame.RoomID, relayproto.Frame{
			Event: relayproto.EventIdleState,
			ID:    id,
			Idle:  frame.Idle,
		}, true)

	case relayproto.EventUserFollow:
		if c.room != nil {
			c.forward(c.room.id, relayproto.Frame{
				Event: relayproto.EventUserFollow,
				Data:  frame.Data,
			}, false)
		}

	case relayproto.EventUserFollowRoomChange:
		// A leader announces its move to the followers' room, which it
		// need not have joined.
		c.announce(frame.RoomID, relayproto.Frame{
			Event: relayproto.EventUserFollowRoomChange,
			Data:  frame.Data,
		})

	default:
		c.logger.Debug("ignoring unknown event", "event", frame.Event)
	}
}

// join leaves the current room, if any, and enters roomID.
func (c *conn) join(roomID string) {
	c.leaveRoom()
	r := c.server.acquire(roomID)
	c.room = r
	r.inbox <- roomOp{kind: opJoin, conn: c}
	c.logger.Debug("joined room", "room_id", roomID)
}

func (c *conn) leaveRoom() {
	if c.room == nil {
		return
	}
	r := c.room
	c.room = nil
	r.inbox <- roomOp{kind: opLeave, conn: c}
	c.server.release(r)
}

// forward posts f to the other members of roomID. Connections may
// only broadcast into the room they joined.
func (c *conn) forward(roomID string, f relayproto.Frame, volatile bool) {
	if c.room == nil || c.room.id != roomID {
		c.logger.Debug("dropping broadcast outside joined room",
			"event", f.Event,
			"room_id", roomID,
		)
		return
	}
	frame, err := relayproto.Encode(f)
	if err != nil {
		c.logger.Warn("encoding relay frame", "event", f.Event, "error", err)
		return
	}
	c.room.inbox <- roomOp{kind: opBroadcast, conn: c, frame: frame, volatile: volatile}
}

// announce posts f to the members of roomID whether or not this
// connection joined it. A room with no members is not created.
func (c *conn) announce(roomID string, f relayproto.Frame) {
	if c.room != nil && c.room.id == roomID {
		c.forward(roomID, f, false)
		return
	}
	r, ok := c.server.acquireExisting(roomID)
	if !ok {
		c.logger.Debug("dropping announcement to unknown room",
			"event", f.Event,
			"room_id", roomID,
		)
		return
	}
	defer c.server.release(r)
	frame, err := relayproto.Encode(f)
	if err != nil {
		c.logger.Warn("encoding relay frame", "event", f.Event, "error", err)
		return
	}
	r.inbox <- roomOp{kind: opBroadcast, conn: c, frame: frame}
}

// reply sends a frame to this connection only.
func (c *conn) reply(f relayproto.Frame) {
	frame, err := relayproto.Encode(f)
	if err != nil {
		c.logger.Warn("encoding relay frame", "event", f.Event, "error", err)
		return
	}
	if !c.enqueue(frame) {
		c.logger.Warn("outbound queue full, disconnecting")
		c.kick()
	}
}
