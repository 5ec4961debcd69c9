// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package relay_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchroom/sketchroom/lib/relayproto"
	"github.com/sketchroom/sketchroom/lib/testutil"
	"github.com/sketchroom/sketchroom/relay"
)

const frameTimeout = 5 * time.Second

type testRelay struct {
	server  *relay.Server
	httpURL string
	wsURL   string
}

func startRelay(t *testing.T, options relay.Options) *testRelay {
	t.Helper()
	options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	server := relay.New(options)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return &testRelay{
		server:  server,
		httpURL: ts.URL,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket",
	}
}

// participant is a raw relay client. Frames arrive on frames; closed
// is closed when the relay drops the connection.
type participant struct {
	t      *testing.T
	name   string
	id     string
	ws     *websocket.Conn
	frames chan relayproto.Frame
	closed chan struct{}
}

func connect(t *testing.T, r *testRelay, name string) *participant {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(r.wsURL, nil)
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	p := &participant{
		t:      t,
		name:   name,
		ws:     ws,
		frames: make(chan relayproto.Frame, 64),
		closed: make(chan struct{}),
	}
	go func() {
		defer close(p.closed)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frame, err := relayproto.Decode(data)
			if err != nil {
				continue
			}
			p.frames <- frame
		}
	}()
	t.Cleanup(func() { ws.Close() })

	p.send(relayproto.Frame{Event: relayproto.EventInitRoom})
	ack := p.expect(relayproto.EventInitRoom)
	if ack.ID == "" {
		t.Fatalf("%s: init-room ack has no connection id", name)
	}
	p.id = ack.ID
	return p
}

func (p *participant) send(frame relayproto.Frame) {
	p.t.Helper()
	data, err := relayproto.Encode(frame)
	if err != nil {
		p.t.Fatalf("%s: Encode: %v", p.name, err)
	}
	if err := p.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.t.Fatalf("%s: write: %v", p.name, err)
	}
}

// expect returns the next frame and fails unless it is event.
func (p *participant) expect(event string) relayproto.Frame {
	p.t.Helper()
	frame := testutil.RequireReceive(p.t, p.frames, frameTimeout, "%s waiting for %s", p.name, event)
	if frame.Event != event {
		p.t.Fatalf("%s received %s, want %s", p.name, frame.Event, event)
	}
	return frame
}

// waitFor skips frames until one with event arrives.
func (p *participant) waitFor(event string) relayproto.Frame {
	p.t.Helper()
	for {
		frame := testutil.RequireReceive(p.t, p.frames, frameTimeout, "%s waiting for %s", p.name, event)
		if frame.Event == event {
			return frame
		}
	}
}

// waitForPresence skips frames until a presence update lists exactly
// names.
func (p *participant) waitForPresence(names ...string) {
	p.t.Helper()
	for {
		frame := p.waitFor(relayproto.EventRoomUserChange)
		if slices.Equal(frame.Usernames, names) {
			return
		}
	}
}

// join enters roomID as username and waits until the relay lists the
// username in the room.
func (p *participant) join(roomID, username string, others ...string) {
	p.t.Helper()
	p.send(relayproto.Frame{Event: relayproto.EventJoinRoom, RoomID: roomID})
	p.send(relayproto.Frame{Event: relayproto.EventRoomUserChange, Username: username})
	p.waitForPresence(append(others, username)...)
}

func (p *participant) broadcast(roomID, data string, volatile bool) {
	p.t.Helper()
	p.send(relayproto.Frame{
		Event:    relayproto.EventServerBroadcast,
		RoomID:   roomID,
		Data:     []byte(data),
		Volatile: volatile,
	})
}

// sync round-trips an init-room so every frame p sent before it has
// been handled by the relay.
func (p *participant) sync() {
	p.t.Helper()
	p.send(relayproto.Frame{Event: relayproto.EventInitRoom})
	p.waitFor(relayproto.EventInitRoom)
}

func TestJoinAndPresence(t *testing.T) {
	r := startRelay(t, relay.Options{})
	roomID := testutil.UniqueID("room")

	ana := connect(t, r, "ana")
	ana.send(relayproto.Frame{Event: relayproto.EventJoinRoom, RoomID: roomID})
	ana.expect(relayproto.EventFirstInRoom)
	if presence := ana.expect(relayproto.EventRoomUserChange); len(presence.Usernames) != 0 {
		t.Fatalf("presence before any username = %v, want empty", presence.Usernames)
	}
	ana.send(relayproto.Frame{Event: relayproto.EventRoomUserChange, Username: "ana"})
	ana.waitForPresence("ana")

	bo := connect(t, r, "bo")
	bo.send(relayproto.Frame{Event: relayproto.EventJoinRoom, RoomID: roomID})
	newUser := ana.expect(relayproto.EventNewUser)
	if newUser.ID != bo.id {
		t.Errorf("new-user ID = %q, want %q", newUser.ID, bo.id)
	}
	ana.waitForPresence("ana")
	bo.waitForPresence("ana")

	bo.send(relayproto.Frame{Event: relayproto.EventRoomUserChange, Username: "bo"})
	ana.waitForPresence("ana", "bo")
	bo.waitForPresence("ana", "bo")

	if got := r.server.RoomSize(roomID); got != 2 {
		t.Errorf("RoomSize = %d, want 2", got)
	}

	bo.ws.Close()
	ana.waitForPresence("ana")
}

func TestBroadcastReachesEveryOtherMember(t *testing.T) {
	r := startRelay(t, relay.Options{})
	roomID := testutil.UniqueID("room")

	ana := connect(t, r, "ana")
	bo := connect(t, r, "bo")
	cy := connect(t, r, "cy")
	ana.join(roomID, "ana")
	bo.join(roomID, "bo", "ana")
	cy.join(roomID, "cy", "ana", "bo")

	ana.broadcast(roomID, "scene-from-ana", false)
	for _, p := range []*participant{bo, cy} {
		got := p.waitFor(relayproto.EventClientBroadcast)
		if string(got.Data) != "scene-from-ana" {
			t.Errorf("%s received %q, want scene-from-ana", p.name, got.Data)
		}
	}

	// The sender never receives its own broadcast: the next frame ana
	// sees is bo's.
	bo.broadcast(roomID, "scene-from-bo", false)
	if got := ana.waitFor(relayproto.EventClientBroadcast); string(got.Data) != "scene-from-bo" {
		t.Errorf("ana received %q, want scene-from-bo", got.Data)
	}

	cy.send(relayproto.Frame{
		Event:  relayproto.EventServerVolatileBroadcast,
		RoomID: roomID,
		Data:   []byte("cursor-from-cy"),
	})
	for _, p := range []*participant{ana, bo} {
		if got := p.waitFor(relayproto.EventClientBroadcast); string(got.Data) != "cursor-from-cy" {
			t.Errorf("%s received %q, want cursor-from-cy", p.name, got.Data)
		}
	}
}

func TestBroadcastOutsideJoinedRoomIsDropped(t *testing.T) {
	r := startRelay(t, relay.Options{})
	roomID := testutil.UniqueID("room")
	otherRoom := testutil.UniqueID("room")

	ana := connect(t, r, "ana")
	bo := connect(t, r, "bo")
	intruder := connect(t, r, "intruder")
	ana.join(roomID, "ana")
	bo.join(roomID, "bo", "ana")
	intruder.join(otherRoom, "intruder")

	intruder.broadcast(roomID, "forged", false)
	intruder.sync()

	ana.broadcast(roomID, "genuine", false)
	if got := bo.waitFor(relayproto.EventClientBroadcast); string(got.Data) != "genuine" {
		t.Errorf("bo received %q, want genuine", got.Data)
	}
}

func TestRejoinMovesRooms(t *testing.T) {
	r := startRelay(t, relay.Options{})
	first := testutil.UniqueID("room")
	second := testutil.UniqueID("room")

	ana := connect(t, r, "ana")
	bo := connect(t, r, "bo")
	ana.join(first, "ana")
	bo.join(first, "bo", "ana")

	bo.send(relayproto.Frame{Event: relayproto.EventJoinRoom, RoomID: second})
	bo.waitFor(relayproto.EventFirstInRoom)
	ana.waitForPresence("ana")

	if got := r.server.RoomSize(first); got != 1 {
		t.Errorf("RoomSize(first) = %d, want 1", got)
	}
	if got := r.server.RoomSize(second); got != 1 {
		t.Errorf("RoomSize(second) = %d, want 1", got)
	}
}

func TestIdleAndFollowEvents(t *testing.T) {
	r := startRelay(t, relay.Options{})
	roomID := testutil.UniqueID("room")

	ana := connect(t, r, "ana")
	bo := connect(t, r, "bo")
	ana.join(roomID, "ana")
	bo.join(roomID, "bo", "ana")

	ana.send(relayproto.Frame{Event: relayproto.EventIdleState, RoomID: roomID, Idle: true})
	idle := bo.waitFor(relayproto.EventIdleState)
	if idle.ID != ana.id || !idle.Idle {
		t.Errorf("idle-state = {%q %v}, want {%q true}", idle.ID, idle.Idle, ana.id)
	}

	ana.send(relayproto.Frame{Event: relayproto.EventUserFollow, Data: []byte(`{"action":"FOLLOW"}`)})
	follow := bo.waitFor(relayproto.EventUserFollow)
	if !bytes.Equal(follow.Data, []byte(`{"action":"FOLLOW"}`)) {
		t.Errorf("user-follow data = %q", follow.Data)
	}

	bo.send(relayproto.Frame{Event: relayproto.EventUserFollowRoomChange, RoomID: roomID, Data: []byte("followers")})
	change := ana.waitFor(relayproto.EventUserFollowRoomChange)
	if string(change.Data) != "followers" {
		t.Errorf("user-follow-room-change data = %q, want followers", change.Data)
	}
}

func TestFollowRoomChangeReachesRoomNotJoined(t *testing.T) {
	r := startRelay(t, relay.Options{})
	followers := testutil.UniqueID("followers")
	elsewhere := testutil.UniqueID("elsewhere")
	unknown := testutil.UniqueID("unknown")

	ana := connect(t, r, "ana")
	ana.join(followers, "ana")
	leader := connect(t, r, "leader")
	leader.join(elsewhere, "leader")

	leader.send(relayproto.Frame{Event: relayproto.EventUserFollowRoomChange, RoomID: unknown, Data: []byte("lost")})
	leader.send(relayproto.Frame{Event: relayproto.EventUserFollowRoomChange, RoomID: followers, Data: []byte("moved")})
	change := ana.waitFor(relayproto.EventUserFollowRoomChange)
	if string(change.Data) != "moved" {
		t.Errorf("user-follow-room-change data = %q, want moved", change.Data)
	}
	if got := r.server.RoomSize(unknown); got != 0 {
		t.Errorf("RoomSize(unknown) = %d, want 0", got)
	}
	if got := r.server.RoomSize(elsewhere); got != 1 {
		t.Errorf("RoomSize(elsewhere) = %d, want 1 (leader stays put)", got)
	}
}

func TestRoomDiscardedAfterLastLeave(t *testing.T) {
	r := startRelay(t, relay.Options{})
	roomID := testutil.UniqueID("room")

	ana := connect(t, r, "ana")
	ana.join(roomID, "ana")

	response, err := http.Get(r.httpURL + "/rooms/" + roomID)
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	var status struct {
		RoomID       string `json:"room_id"`
		Participants int    `json:"participants"`
	}
	err = json.NewDecoder(response.Body).Decode(&status)
	response.Body.Close()
	if err != nil {
		t.Fatalf("decoding room status: %v", err)
	}
	if status.RoomID != roomID || status.Participants != 1 {
		t.Errorf("room status = %+v, want %s with 1 participant", status, roomID)
	}

	ana.ws.Close()
	for r.server.RoomSize(roomID) != 0 {
		if t.Context().Err() != nil {
			t.Fatal("room was not discarded")
		}
		time.Sleep(5 * time.Millisecond) //nolint:realclock // waiting on a real socket close
	}

	// A new joiner finds the room empty.
	bo := connect(t, r, "bo")
	bo.send(relayproto.Frame{Event: relayproto.EventJoinRoom, RoomID: roomID})
	bo.expect(relayproto.EventFirstInRoom)
}

func TestHealthz(t *testing.T) {
	r := startRelay(t, relay.Options{})
	response, err := http.Get(r.httpURL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("GET /healthz = %d %q, want 200 ok", response.StatusCode, body)
	}
}

func TestAllowedOrigins(t *testing.T) {
	r := startRelay(t, relay.Options{AllowedOrigins: []string{"https://sketch.example"}})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, response, err := websocket.DefaultDialer.Dial(r.wsURL, header)
	if err == nil {
		t.Fatal("dial with a foreign origin succeeded")
	}
	if response == nil || response.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin response = %v, want 403", response)
	}

	header.Set("Origin", "https://sketch.example")
	ws, _, err := websocket.DefaultDialer.Dial(r.wsURL, header)
	if err != nil {
		t.Fatalf("dial with an allowed origin: %v", err)
	}
	ws.Close()
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	r := startRelay(t, relay.Options{MaxMessageBytes: 512})
	ana := connect(t, r, "ana")
	ana.send(relayproto.Frame{Event: relayproto.EventServerBroadcast, RoomID: "r", Data: make([]byte, 4096)})
	testutil.RequireClosed(t, ana.closed, frameTimeout, "relay should drop the connection")
}

func TestCloseDisconnectsAndRefuses(t *testing.T) {
	r := startRelay(t, relay.Options{})
	ana := connect(t, r, "ana")

	r.server.Close()
	testutil.RequireClosed(t, ana.closed, frameTimeout, "connection should close with the server")

	_, response, err := websocket.DefaultDialer.Dial(r.wsURL, nil)
	if err == nil {
		t.Fatal("dial after Close succeeded")
	}
	if response == nil || response.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after Close response = %v, want 503", response)
	}
}
