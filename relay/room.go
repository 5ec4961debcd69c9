// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"slices"
	"sync/atomic"

	"github.com/sketchroom/sketchroom/lib/relayproto"
)

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opUsername
	opBroadcast
)

// roomOp is one message to a room actor.
type roomOp struct {
	kind opKind
	conn *conn

	// username is set for opUsername.
	username string

	// frame is the encoded frame for opBroadcast, delivered to every
	// member except conn.
	frame    []byte
	volatile bool
}

// room owns the membership of one room. Only run touches members and
// usernames.
type room struct {
	id     string
	server *Server
	inbox  chan roomOp

	// refs counts connections that may still post to inbox. Guarded
	// by server.mu.
	refs int

	// size mirrors len(members) for readers outside the actor.
	size atomic.Int32

	members   []*conn
	usernames map[string]string
}

func newRoom(s *Server, id string) *room {
	return &room{
		id:        id,
		server:    s,
		inbox:     make(chan roomOp, roomInbox),
		usernames: make(map[string]string),
	}
}

func (r *room) run() {
	for op := range r.inbox {
		switch op.kind {
		case opJoin:
			r.join(op.conn)
		case opLeave:
			r.leave(op.conn)
		case opUsername:
			r.setUsername(op.conn, op.username)
		case opBroadcast:
			r.broadcast(op.conn, op.frame, op.volatile)
		}
	}
}

func (r *room) join(c *conn) {
	if r.indexOf(c) >= 0 {
		return
	}
	r.members = append(r.members, c)
	r.usernames[c.id] = ""
	r.size.Store(int32(len(r.members)))

	if len(r.members) == 1 {
		r.sendTo(c, relayproto.Frame{Event: relayproto.EventFirstInRoom}, false)
	} else {
		frame, ok := r.encode(relayproto.Frame{Event: relayproto.EventNewUser, ID: c.id})
		if ok {
			r.broadcast(c, frame, false)
		}
	}
	r.broadcastPresence()
}

func (r *room) leave(c *conn) {
	if !r.remove(c) {
		return
	}
	if len(r.members) > 0 {
		r.broadcastPresence()
	}
}

func (r *room) setUsername(c *conn, username string) {
	if r.indexOf(c) < 0 {
		return
	}
	r.usernames[c.id] = username
	r.broadcastPresence()
}

// broadcast delivers frame to every member except sender. A member
// whose queue is full loses a volatile frame; for any other frame it
// is disconnected.
func (r *room) broadcast(sender *conn, frame []byte, volatile bool) {
	var evicted []*conn
	for _, member := range r.members {
		if member == sender {
			continue
		}
		if member.enqueue(frame) {
			continue
		}
		if volatile {
			r.server.logger.Debug("dropped volatile frame",
				"room_id", r.id,
				"connection_id", member.id,
			)
			continue
		}
		evicted = append(evicted, member)
	}
	r.evict(evicted)
}

// sendTo delivers one frame to a single member.
func (r *room) sendTo(c *conn, f relayproto.Frame, volatile bool) {
	frame, ok := r.encode(f)
	if !ok || c.enqueue(frame) || volatile {
		return
	}
	r.evict([]*conn{c})
}

func (r *room) broadcastPresence() {
	names := make([]string, 0, len(r.members))
	for _, member := range r.members {
		if name := r.usernames[member.id]; name != "" {
			names = append(names, name)
		}
	}
	frame, ok := r.encode(relayproto.Frame{
		Event:     relayproto.EventRoomUserChange,
		RoomID:    r.id,
		Usernames: names,
	})
	if ok {
		r.broadcast(nil, frame, true)
	}
}

func (r *room) evict(members []*conn) {
	if len(members) == 0 {
		return
	}
	for _, member := range members {
		r.server.logger.Warn("disconnecting slow participant",
			"room_id", r.id,
			"connection_id", member.id,
		)
		r.remove(member)
		member.kick()
	}
	if len(r.members) > 0 {
		r.broadcastPresence()
	}
}

func (r *room) remove(c *conn) bool {
	index := r.indexOf(c)
	if index < 0 {
		return false
	}
	r.members = slices.Delete(r.members, index, index+1)
	delete(r.usernames, c.id)
	r.size.Store(int32(len(r.members)))
	return true
}

func (r *room) indexOf(c *conn) int {
	return slices.Index(r.members, c)
}

func (r *room) encode(f relayproto.Frame) ([]byte, bool) {
	frame, err := relayproto.Encode(f)
	if err != nil {
		r.server.logger.Warn("encoding relay frame",
			"room_id", r.id,
			"event", f.Event,
			"error", err,
		)
		return nil, false
	}
	return frame, true
}
