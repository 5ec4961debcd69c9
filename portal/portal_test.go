// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package portal_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchroom/sketchroom/lib/roomkey"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/lib/testutil"
	"github.com/sketchroom/sketchroom/portal"
	"github.com/sketchroom/sketchroom/relay"
)

const eventTimeout = 5 * time.Second

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()
	server := relay.New(relay.Options{Logger: discard()})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return server, "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
}

func newKey(t *testing.T) roomkey.Key {
	t.Helper()
	key, err := roomkey.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func summary(elements []scene.Element) []string {
	result := make([]string, len(elements))
	for i, element := range elements {
		result[i] = fmt.Sprintf("%s@%d", element.ID, element.Version)
	}
	return result
}

// events collects handler calls on channels.
type events struct {
	scenes   chan []scene.Element
	cursors  chan scene.Cursor
	presence chan []string
	idle     chan string
	follows  chan []byte
	newUsers chan string
	first    chan struct{}
}

func newEvents() *events {
	return &events{
		scenes:   make(chan []scene.Element, 16),
		cursors:  make(chan scene.Cursor, 16),
		presence: make(chan []string, 16),
		idle:     make(chan string, 16),
		follows:  make(chan []byte, 16),
		newUsers: make(chan string, 16),
		first:    make(chan struct{}, 1),
	}
}

func (e *events) handlers() portal.Handlers {
	return portal.Handlers{
		OnScene:       func(elements []scene.Element) { e.scenes <- elements },
		OnCursor:      func(cursor scene.Cursor) { e.cursors <- cursor },
		OnPresence:    func(usernames []string) { e.presence <- usernames },
		OnIdle:        func(socketID string, idle bool) { e.idle <- fmt.Sprintf("%s:%v", socketID, idle) },
		OnFollow:      func(payload []byte) { e.follows <- payload },
		OnNewUser:     func(socketID string) { e.newUsers <- socketID },
		OnFirstInRoom: func() { e.first <- struct{}{} },
	}
}

func (e *events) waitForPresence(t *testing.T, names ...string) {
	t.Helper()
	for {
		got := testutil.RequireReceive(t, e.presence, eventTimeout, "waiting for presence %v", names)
		if slices.Equal(got, names) {
			return
		}
	}
}

func open(t *testing.T, url, roomID string, key roomkey.Key, username string, e *events) *portal.Portal {
	t.Helper()
	p, err := portal.Open(context.Background(), portal.Options{
		URL:      url,
		RoomID:   roomID,
		Key:      key,
		Username: username,
		Logger:   discard(),
	}, e.handlers())
	if err != nil {
		t.Fatalf("Open(%s): %v", username, err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// pair opens two portals in one room and waits until each sees the
// other.
func pair(t *testing.T, url string) (a, b *portal.Portal, aEvents, bEvents *events) {
	t.Helper()
	roomID := testutil.UniqueID("room")
	key := newKey(t)
	aEvents, bEvents = newEvents(), newEvents()
	a = open(t, url, roomID, key, "ana", aEvents)
	testutil.RequireReceive(t, aEvents.first, eventTimeout, "ana should be first in room")
	b = open(t, url, roomID, key, "bo", bEvents)
	if got := testutil.RequireReceive(t, aEvents.newUsers, eventTimeout, "ana waiting for new-user"); got != b.SocketID() {
		t.Fatalf("new-user = %q, want %q", got, b.SocketID())
	}
	aEvents.waitForPresence(t, "ana", "bo")
	bEvents.waitForPresence(t, "ana", "bo")
	return a, b, aEvents, bEvents
}

func TestSceneBroadcastIsDecrypted(t *testing.T) {
	_, url := startRelay(t)
	a, _, _, bEvents := pair(t, url)

	sent := []scene.Element{
		{ID: "x", Version: 3, VersionNonce: 7},
		{ID: "y", Version: 1, VersionNonce: 2},
	}
	if err := a.BroadcastScene(sent); err != nil {
		t.Fatalf("BroadcastScene: %v", err)
	}
	got := testutil.RequireReceive(t, bEvents.scenes, eventTimeout, "bo waiting for scene")
	if !slices.Equal(summary(got), []string{"x@3", "y@1"}) {
		t.Errorf("bo received %v, want [x@3 y@1]", summary(got))
	}
}

func TestCursorCarriesSocketID(t *testing.T) {
	_, url := startRelay(t)
	a, _, _, bEvents := pair(t, url)

	err := a.BroadcastCursor(scene.Cursor{
		Pointer:     scene.Pointer{X: 10, Y: 20},
		Button:      "down",
		SelectedIDs: map[string]bool{"x": true},
		Username:    "ana",
	})
	if err != nil {
		t.Fatalf("BroadcastCursor: %v", err)
	}
	cursor := testutil.RequireReceive(t, bEvents.cursors, eventTimeout, "bo waiting for cursor")
	if cursor.SocketID != a.SocketID() {
		t.Errorf("cursor SocketID = %q, want %q", cursor.SocketID, a.SocketID())
	}
	if cursor.Pointer != (scene.Pointer{X: 10, Y: 20}) || cursor.Button != "down" || !cursor.SelectedIDs["x"] {
		t.Errorf("cursor = %+v", cursor)
	}
}

func TestWrongKeyDropsBroadcasts(t *testing.T) {
	_, url := startRelay(t)
	roomID := testutil.UniqueID("room")

	aEvents, strangerEvents := newEvents(), newEvents()
	a := open(t, url, roomID, newKey(t), "ana", aEvents)
	testutil.RequireReceive(t, aEvents.first, eventTimeout, "ana should be first in room")
	open(t, url, roomID, newKey(t), "stranger", strangerEvents)
	testutil.RequireReceive(t, aEvents.newUsers, eventTimeout, "ana waiting for new-user")

	if err := a.BroadcastScene([]scene.Element{{ID: "x", Version: 1}}); err != nil {
		t.Fatalf("BroadcastScene: %v", err)
	}
	// Idle state is not encrypted and follows the scene through the
	// same ordered connection.
	if err := a.BroadcastIdle(true); err != nil {
		t.Fatalf("BroadcastIdle: %v", err)
	}
	testutil.RequireReceive(t, strangerEvents.idle, eventTimeout, "stranger waiting for idle-state")
	select {
	case got := <-strangerEvents.scenes:
		t.Fatalf("stranger decoded a scene with the wrong key: %v", summary(got))
	default:
	}
}

func TestIdleAndFollow(t *testing.T) {
	_, url := startRelay(t)
	a, _, _, bEvents := pair(t, url)

	if err := a.BroadcastIdle(true); err != nil {
		t.Fatalf("BroadcastIdle: %v", err)
	}
	want := a.SocketID() + ":true"
	if got := testutil.RequireReceive(t, bEvents.idle, eventTimeout, "bo waiting for idle"); got != want {
		t.Errorf("idle = %q, want %q", got, want)
	}

	if err := a.Follow([]byte("follow")); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if got := testutil.RequireReceive(t, bEvents.follows, eventTimeout, "bo waiting for follow"); string(got) != "follow" {
		t.Errorf("follow payload = %q", got)
	}
}

func TestSetUsernameUpdatesPresence(t *testing.T) {
	_, url := startRelay(t)
	_, b, aEvents, _ := pair(t, url)

	if err := b.SetUsername("bob"); err != nil {
		t.Fatalf("SetUsername: %v", err)
	}
	aEvents.waitForPresence(t, "ana", "bob")
}

func TestCloseIsIdempotentAndSilencesHandlers(t *testing.T) {
	_, url := startRelay(t)
	a, b, aEvents, bEvents := pair(t, url)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	testutil.RequireClosed(t, b.Done(), eventTimeout, "Done after Close")

	if err := b.BroadcastScene(nil); !errors.Is(err, portal.ErrNotOpen) {
		t.Errorf("BroadcastScene after Close = %v, want ErrNotOpen", err)
	}

	aEvents.waitForPresence(t, "ana")
	if err := a.BroadcastScene([]scene.Element{{ID: "x", Version: 1}}); err != nil {
		t.Fatalf("BroadcastScene: %v", err)
	}
	select {
	case <-bEvents.scenes:
		t.Fatal("closed portal delivered a scene")
	default:
	}
}

func TestDoneClosesWhenRelayStops(t *testing.T) {
	server, url := startRelay(t)
	a := open(t, url, testutil.UniqueID("room"), newKey(t), "ana", newEvents())

	server.Close()
	testutil.RequireClosed(t, a.Done(), eventTimeout, "Done after relay shutdown")
	if err := a.BroadcastScene(nil); !errors.Is(err, portal.ErrNotOpen) {
		t.Errorf("BroadcastScene after relay shutdown = %v, want ErrNotOpen", err)
	}
}

func TestOpenFailureIsTransportError(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
	ts.Close()

	_, err := portal.Open(context.Background(), portal.Options{
		URL:         url,
		RoomID:      "room",
		Key:         newKey(t),
		DialTimeout: time.Second,
		Logger:      discard(),
	}, portal.Handlers{})
	if !portal.IsTransportError(err) {
		t.Fatalf("Open error = %v, want *TransportError", err)
	}
	var transportErr *portal.TransportError
	errors.As(err, &transportErr)
	if transportErr.Op != "dial" {
		t.Errorf("Op = %q, want dial", transportErr.Op)
	}
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := portal.Open(context.Background(), portal.Options{URL: "ws://relay", RoomID: "room"}, portal.Handlers{})
	if err == nil || portal.IsTransportError(err) {
		t.Errorf("Open without key = %v, want a validation error", err)
	}
}

// stubRelay accepts websocket connections and hands each to serve.
func stubRelay(t *testing.T, serve func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		serve(ws)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
}

func TestOpenHonorsCancellationDuringHandshake(t *testing.T) {
	url := stubRelay(t, func(ws *websocket.Conn) {
		// Never acknowledge init-room; just drain until the client leaves.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := portal.Open(ctx, portal.Options{
		URL:         url,
		RoomID:      "room",
		Key:         newKey(t),
		DialTimeout: time.Minute,
		Logger:      discard(),
	}, portal.Handlers{})
	if !portal.IsTransportError(err) {
		t.Fatalf("Open error = %v, want *TransportError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Open error = %v, want it to wrap context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > eventTimeout {
		t.Errorf("Open returned after %v, want prompt return on cancel", elapsed)
	}
}

func TestOversizedFrameFailsHandshake(t *testing.T) {
	url := stubRelay(t, func(ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		ws.WriteMessage(websocket.BinaryMessage, make([]byte, 4096))
		ws.ReadMessage()
	})

	_, err := portal.Open(context.Background(), portal.Options{
		URL:             url,
		RoomID:          "room",
		Key:             newKey(t),
		DialTimeout:     eventTimeout,
		MaxMessageBytes: 512,
		Logger:          discard(),
	}, portal.Handlers{})
	var transportErr *portal.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Open error = %v, want *TransportError", err)
	}
	if transportErr.Op != "handshake" {
		t.Errorf("Op = %q, want handshake", transportErr.Op)
	}
	if !errors.Is(err, websocket.ErrReadLimit) {
		t.Errorf("Open error = %v, want it to wrap websocket.ErrReadLimit", err)
	}
}
