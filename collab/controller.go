// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchroom/sketchroom/lib/clock"
	"github.com/sketchroom/sketchroom/lib/localcache"
	"github.com/sketchroom/sketchroom/lib/roomkey"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/lib/schedule"
	"github.com/sketchroom/sketchroom/lib/sharelink"
	"github.com/sketchroom/sketchroom/persist"
	"github.com/sketchroom/sketchroom/portal"
	"github.com/sketchroom/sketchroom/syncer"
)

// DefaultSaveThrottle is the durable save window.
const DefaultSaveThrottle = 20 * time.Second

var (
	// ErrSessionActive is returned by StartSession when a session is
	// already running or starting.
	ErrSessionActive = errors.New("collab: session already active")

	// ErrNotActive is returned by operations that need an active
	// session.
	ErrNotActive = errors.New("collab: no active session")
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ViewStater is implemented by surfaces whose view state should be
// kept in the local cache with the elements.
type ViewStater interface {
	ViewState() scene.ViewState
}

// Options configures a Controller.
type Options struct {
	// Persister saves and loads room scenes. Required.
	Persister *persist.Persister

	// Surface is the editing collaborator. Required.
	Surface scene.Surface

	// RelayURL is the relay websocket endpoint. Required.
	RelayURL string

	// Username is announced to other participants and put on cursor
	// broadcasts.
	Username string

	// DialTimeout bounds opening the relay connection.
	DialTimeout time.Duration

	// Dialer is passed to the portal. Nil means the default dialer.
	Dialer *websocket.Dialer

	// SaveThrottle is the durable save window. Zero means
	// DefaultSaveThrottle.
	SaveThrottle time.Duration

	// PollTimeout and RetryDelay configure the durable-store watcher.
	PollTimeout time.Duration
	RetryDelay  time.Duration

	// Cache, if set, receives every applied scene.
	Cache *localcache.Cache

	// OnPresence, OnCursor, and OnIdle report room activity. They run
	// on the relay connection's goroutine.
	OnPresence func(usernames []string)
	OnCursor   func(cursor scene.Cursor)
	OnIdle     func(socketID string, idle bool)

	// Clock drives the save throttle and watcher retries. Nil means
	// the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Controller runs at most one collaboration session at a time.
type Controller struct {
	options   Options
	persister *persist.Persister
	live      *scene.Live
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	session  *session
	presence []string
}

// session is one joined room.
type session struct {
	roomID   string
	key      roomkey.Key
	ctx      context.Context
	cancel   context.CancelFunc
	syncer   *syncer.Manager
	saveTask *schedule.Task

	// watching is closed once the syncer has started or its start
	// retries have given up.
	watching chan struct{}

	// portal is set once Open returns; relay handlers may run before
	// that.
	portal atomic.Pointer[portal.Portal]

	// stopping is guarded by Controller.mu.
	stopping bool
}

// New validates options and returns an idle Controller.
func New(options Options) (*Controller, error) {
	switch {
	case options.Persister == nil:
		return nil, errors.New("collab: Persister is required")
	case options.Surface == nil:
		return nil, errors.New("collab: Surface is required")
	case options.RelayURL == "":
		return nil, errors.New("collab: RelayURL is required")
	}
	if options.SaveThrottle <= 0 {
		options.SaveThrottle = DefaultSaveThrottle
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = syncer.DefaultRetryDelay
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Controller{
		options:   options,
		persister: options.Persister,
		live:      scene.NewLive(options.Surface),
		clock:     options.Clock,
		logger:    options.Logger,
	}, nil
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the active session's room, or "".
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.roomID
}

// Presence returns the usernames last reported for the room.
func (c *Controller) Presence() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.presence)
}

// Elements returns the surface's current scene.
func (c *Controller) Elements() []scene.Element {
	return c.live.Elements()
}

// CreateRoom mints a room ID and key and creates the room's folders
// in the durable store. It does not start a session.
func (c *Controller) CreateRoom(ctx context.Context) (sharelink.Link, error) {
	roomID, err := sharelink.NewRoomID()
	if err != nil {
		return sharelink.Link{}, fmt.Errorf("collab: %w", err)
	}
	key, err := roomkey.Generate()
	if err != nil {
		return sharelink.Link{}, fmt.Errorf("collab: %w", err)
	}
	if err := c.persister.CreateRoom(ctx, roomID); err != nil {
		return sharelink.Link{}, err
	}
	return sharelink.Link{RoomID: roomID, Key: key}, nil
}

// StartSession joins roomID: it opens the relay connection, merges
// the durable scene into the surface, loads referenced files, and
// starts watching the store. If the relay cannot be joined the
// controller returns to Idle. A failed durable load is logged and the
// session continues with the local scene. A watcher that fails to
// start is retried every RetryDelay while the session lives.
func (c *Controller) StartSession(ctx context.Context, roomID string, key roomkey.Key) error {
	if err := sharelink.ValidateRoomID(roomID); err != nil {
		return fmt.Errorf("collab: %w", err)
	}
	if key.IsZero() {
		return errors.New("collab: room key is required")
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateJoining
	c.mu.Unlock()

	s, err := c.join(ctx, roomID, key)
	if err != nil {
		c.setState(StateIdle)
		return err
	}

	c.mu.Lock()
	c.session = s
	c.state = StateActive
	c.mu.Unlock()

	c.logger.Info("collaboration session started",
		"room_id", roomID,
		"key_fingerprint", key.Fingerprint(),
	)
	return nil
}

func (c *Controller) join(ctx context.Context, roomID string, key roomkey.Key) (*session, error) {
	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		roomID: roomID,
		key:    key,
		ctx:    sessionCtx,
		cancel: cancel,
	}
	s.saveTask = schedule.New(c.clock, func() { c.save(s) })

	p, err := portal.Open(ctx, portal.Options{
		URL:         c.options.RelayURL,
		RoomID:      roomID,
		Key:         key,
		Username:    c.options.Username,
		DialTimeout: c.options.DialTimeout,
		Dialer:      c.options.Dialer,
		Logger:      c.logger,
	}, c.portalHandlers(s))
	if err != nil {
		cancel()
		return nil, err
	}
	s.portal.Store(p)

	c.loadDurable(ctx, s)

	folder, err := c.persister.RoomFolder(roomID)
	if err != nil {
		c.abort(s)
		return nil, err
	}
	scenePath, err := c.persister.ScenePath(roomID)
	if err != nil {
		c.abort(s)
		return nil, err
	}
	watcher, err := syncer.New(syncer.Options{
		Backend:     c.persister.Backend(),
		Folder:      folder,
		ScenePath:   scenePath,
		Key:         key,
		Decoder:     c.persister,
		Scene:       c.live,
		OnMerge:     c.cache,
		PollTimeout: c.options.PollTimeout,
		RetryDelay:  c.options.RetryDelay,
		Clock:       c.clock,
		Logger:      c.logger.With("room_id", roomID),
	})
	if err != nil {
		c.abort(s)
		return nil, err
	}
	s.syncer = watcher
	s.watching = make(chan struct{})
	if err := watcher.Start(ctx); err != nil {
		if ctx.Err() != nil {
			c.abort(s)
			return nil, fmt.Errorf("collab: watching room %s: %w", roomID, err)
		}
		c.logger.Warn("durable sync did not start, continuing with the relay only",
			"room_id", roomID,
			"error", err,
			"retry_in", c.options.RetryDelay,
		)
		go c.retryWatch(s)
	} else {
		close(s.watching)
	}
	return s, nil
}

// retryWatch starts the session's syncer, retrying every RetryDelay
// until it starts or the session ends.
func (c *Controller) retryWatch(s *session) {
	defer close(s.watching)
	for {
		elapsed := make(chan struct{})
		timer := c.clock.AfterFunc(c.options.RetryDelay, func() { close(elapsed) })
		select {
		case <-elapsed:
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
		err := s.syncer.Start(s.ctx)
		if err == nil {
			c.logger.Info("durable sync started after retry", "room_id", s.roomID)
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		c.logger.Warn("durable sync start failed",
			"room_id", s.roomID,
			"error", err,
			"retry_in", c.options.RetryDelay,
		)
	}
}

// loadDurable merges the stored scene and its files into the surface.
func (c *Controller) loadDurable(ctx context.Context, s *session) {
	stored, err := c.persister.Load(ctx, s.roomID, s.key)
	if err != nil {
		c.logger.Warn("loading stored scene failed, continuing with local scene",
			"room_id", s.roomID,
			"error", err,
		)
		return
	}
	if stored == nil {
		return
	}
	merged := c.live.Merge(stored)
	c.cache(merged)

	fileIDs := scene.FileIDs(merged)
	if len(fileIDs) == 0 {
		return
	}
	files, failed := c.persister.LoadFiles(ctx, s.roomID, s.key, fileIDs)
	if len(failed) > 0 {
		c.logger.Warn("some files failed to load",
			"room_id", s.roomID,
			"failed", failed,
		)
	}
	c.live.AddFiles(files)
}

func (c *Controller) abort(s *session) {
	s.portal.Load().Close()
	s.cancel()
}

func (c *Controller) portalHandlers(s *session) portal.Handlers {
	return portal.Handlers{
		OnScene: func(elements []scene.Element) {
			c.cache(c.live.Merge(elements))
		},
		OnPresence: func(usernames []string) {
			c.mu.Lock()
			c.presence = slices.Clone(usernames)
			c.mu.Unlock()
			if c.options.OnPresence != nil {
				c.options.OnPresence(usernames)
			}
		},
		OnCursor: c.options.OnCursor,
		OnIdle:   c.options.OnIdle,
		OnNewUser: func(socketID string) {
			// Bring the newcomer up to date without waiting for the
			// durable store.
			p := s.portal.Load()
			if p == nil {
				return
			}
			if err := p.BroadcastScene(c.live.Elements()); err != nil {
				c.logger.Debug("scene broadcast for new participant failed",
					"room_id", s.roomID,
					"socket_id", socketID,
					"error", err,
				)
			}
		},
	}
}

// StopSession flushes any pending save, closes the relay connection,
// stops the durable-store watcher, and clears presence. No handler or
// merge from the session runs after StopSession returns.
func (c *Controller) StopSession() error {
	c.mu.Lock()
	s := c.session
	if s == nil || s.stopping {
		c.mu.Unlock()
		return ErrNotActive
	}
	s.stopping = true
	c.mu.Unlock()

	s.saveTask.Flush()
	s.portal.Load().Close()
	s.cancel()
	<-s.watching
	s.syncer.Stop()
	c.persister.Forget(s.roomID)

	c.mu.Lock()
	c.session = nil
	c.state = StateIdle
	c.presence = nil
	c.mu.Unlock()

	c.logger.Info("collaboration session stopped", "room_id", s.roomID)
	return nil
}

// Syncing reports whether the active session is watching the durable
// store.
func (c *Controller) Syncing() bool {
	s := c.active()
	if s == nil {
		return false
	}
	return s.syncer.State() == syncer.StatePolling
}

// SyncElements propagates a local edit: the scene is broadcast at
// once and a durable save is scheduled for the end of the current
// save window. Relay failures are logged; the durable path still
// carries the edit.
func (c *Controller) SyncElements(elements []scene.Element) {
	s := c.active()
	if s == nil {
		return
	}
	c.cache(elements)
	if err := s.portal.Load().BroadcastScene(elements); err != nil {
		c.logger.Debug("scene broadcast failed", "room_id", s.roomID, "error", err)
	}
	if c.persister.IsSceneSaved(s.roomID, elements) {
		return
	}
	c.scheduleSave(s)
}

// scheduleSave opens a save window unless one is open or the session
// is stopping.
func (c *Controller) scheduleSave(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.stopping {
		return
	}
	s.saveTask.ScheduleIfIdle(c.options.SaveThrottle)
}

// SaveNow runs the pending save immediately, if there is one.
func (c *Controller) SaveNow() bool {
	s := c.active()
	if s == nil {
		return false
	}
	return s.saveTask.Flush()
}

// save persists the surface's current scene unless it is already
// saved. The scene written, reconciled against the store, is merged
// back so remote elements found during the save reach the surface.
func (c *Controller) save(s *session) {
	elements := c.live.Elements()
	if c.persister.IsSceneSaved(s.roomID, elements) {
		return
	}
	merged, err := c.persister.Save(s.ctx, s.roomID, s.key, elements)
	if err != nil {
		c.logger.Warn("saving scene failed",
			"room_id", s.roomID,
			"error", err,
		)
		if s.ctx.Err() == nil {
			c.scheduleSave(s)
		}
		return
	}
	c.cache(c.live.Merge(merged))
}

// SyncFiles saves files for the active room and returns the IDs that
// failed.
func (c *Controller) SyncFiles(files []scene.File) ([]string, error) {
	s := c.active()
	if s == nil {
		return nil, ErrNotActive
	}
	_, failed := c.persister.SaveFiles(s.ctx, s.roomID, s.key, files)
	if len(failed) > 0 {
		c.logger.Warn("some files failed to save",
			"room_id", s.roomID,
			"failed", failed,
		)
	}
	return failed, nil
}

// BroadcastCursor sends a volatile cursor update. The controller's
// username is used when the cursor has none.
func (c *Controller) BroadcastCursor(cursor scene.Cursor) {
	s := c.active()
	if s == nil {
		return
	}
	if cursor.Username == "" {
		cursor.Username = c.options.Username
	}
	if err := s.portal.Load().BroadcastCursor(cursor); err != nil {
		c.logger.Debug("cursor broadcast failed", "room_id", s.roomID, "error", err)
	}
}

// BroadcastIdle tells the room whether this participant is idle.
func (c *Controller) BroadcastIdle(idle bool) {
	s := c.active()
	if s == nil {
		return
	}
	if err := s.portal.Load().BroadcastIdle(idle); err != nil {
		c.logger.Debug("idle broadcast failed", "room_id", s.roomID, "error", err)
	}
}

func (c *Controller) active() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.session.stopping {
		return nil
	}
	return c.session
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// cache hands an applied scene to the local cache.
func (c *Controller) cache(elements []scene.Element) {
	if c.options.Cache == nil {
		return
	}
	var view scene.ViewState
	if stater, ok := c.options.Surface.(ViewStater); ok {
		view = stater.ViewState()
	}
	if err := c.options.Cache.SaveScene(elements, view); err != nil {
		c.logger.Warn("caching scene failed", "error", err)
	}
}
