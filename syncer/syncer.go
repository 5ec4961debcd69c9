// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sketchroom/sketchroom/lib/clock"
	"github.com/sketchroom/sketchroom/lib/roomkey"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/store"
)

// Defaults for Options.
const (
	DefaultPollTimeout = 30 * time.Second
	DefaultRetryDelay  = 5 * time.Second
)

// State is the manager's lifecycle state.
type State int

const (
	StateInit State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Merger applies remote elements to the live local scene and returns
// the merge. *scene.Live implements it.
type Merger interface {
	Merge(remote []scene.Element) []scene.Element
}

// Decoder opens a stored scene object. *persist.Persister implements
// it.
type Decoder interface {
	Decode(key roomkey.Key, data []byte) ([]scene.Element, error)
}

// Options configures a Manager.
type Options struct {
	// Backend is the durable store. Required.
	Backend store.Backend

	// Folder is the room folder to watch. Required.
	Folder string

	// ScenePath is the scene object inside Folder. Required.
	ScenePath string

	// Key opens the scene object.
	Key roomkey.Key

	// Decoder and Scene are the capabilities the manager pulls
	// through. Required.
	Decoder Decoder
	Scene   Merger

	// OnMerge, if set, is called with each merge result from the poll
	// goroutine.
	OnMerge func(merged []scene.Element)

	// PollTimeout bounds each long poll. Zero means DefaultPollTimeout.
	PollTimeout time.Duration

	// RetryDelay is the wait after a failure. Zero means
	// DefaultRetryDelay.
	RetryDelay time.Duration

	// Clock drives retry and backoff waits. Nil means the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Manager is one room's durable-store watcher.
type Manager struct {
	options Options
	clock   clock.Clock
	logger  *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates options and returns a Manager in StateInit.
func New(options Options) (*Manager, error) {
	switch {
	case options.Backend == nil:
		return nil, errors.New("syncer: Backend is required")
	case options.Folder == "" || options.ScenePath == "":
		return nil, errors.New("syncer: Folder and ScenePath are required")
	case options.Decoder == nil || options.Scene == nil:
		return nil, errors.New("syncer: Decoder and Scene are required")
	}
	if options.PollTimeout <= 0 {
		options.PollTimeout = DefaultPollTimeout
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = DefaultRetryDelay
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Manager{
		options: options,
		clock:   options.Clock,
		logger:  options.Logger.With("folder", options.Folder),
		state:   StateInit,
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start acquires a cursor and starts polling. The poll loop runs until
// Stop; ctx only bounds cursor acquisition.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateInit {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("syncer: start in state %s", state)
	}
	m.mu.Unlock()

	cursor, err := m.options.Backend.LatestCursor(ctx, m.options.Folder)
	if err != nil {
		return fmt.Errorf("syncer: acquiring cursor: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.state != StateInit {
		m.mu.Unlock()
		cancel()
		return errors.New("syncer: stopped during start")
	}
	m.state = StatePolling
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(loopCtx, cursor)
	m.logger.Info("durable sync started")
	return nil
}

// Stop cancels any in-flight poll and waits for the loop to exit.
// Stop is idempotent and may be called before Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	previous := m.state
	m.state = StateStopped
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if previous != StatePolling {
		return
	}
	cancel()
	<-done
	m.logger.Info("durable sync stopped")
}

func (m *Manager) run(ctx context.Context, cursor string) {
	defer close(m.done)
	for ctx.Err() == nil {
		result, err := m.options.Backend.LongPoll(ctx, cursor, m.options.PollTimeout)
		if ctx.Err() != nil {
			return
		}
		if err == nil && result.Changed {
			var entries []store.Entry
			var next string
			entries, next, err = m.options.Backend.ListChanges(ctx, cursor)
			if err == nil {
				cursor = next
				if m.touchesScene(entries) {
					m.pull(ctx)
				}
			}
		}

		switch {
		case errors.Is(err, store.ErrCursorReset):
			m.logger.Info("change cursor expired, reacquiring", "error", err)
			fresh, err := m.options.Backend.LatestCursor(ctx, m.options.Folder)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("reacquiring cursor failed", "error", err)
				}
				m.sleep(ctx, m.options.RetryDelay)
				continue
			}
			cursor = fresh
			m.pull(ctx)
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("durable sync poll failed", "error", err, "retry_in", m.options.RetryDelay)
			m.sleep(ctx, m.options.RetryDelay)
		case result.Backoff > 0:
			m.logger.Debug("backing off", "backoff", result.Backoff)
			m.sleep(ctx, result.Backoff)
		}
	}
}

func (m *Manager) touchesScene(entries []store.Entry) bool {
	for _, entry := range entries {
		if entry.Kind == store.KindFile && store.SamePath(entry.Path, m.options.ScenePath) {
			return true
		}
	}
	return false
}

// pull downloads the scene and merges it. Failures are logged and the
// update dropped; the next change or save converges.
func (m *Manager) pull(ctx context.Context) {
	object, err := m.options.Backend.Download(ctx, m.options.ScenePath)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("downloading scene failed", "error", err)
		}
		return
	}
	remote, err := m.options.Decoder.Decode(m.options.Key, object.Data)
	if err != nil {
		m.logger.Warn("dropping undecodable scene", "revision", object.Revision, "error", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	merged := m.options.Scene.Merge(remote)
	m.logger.Debug("merged durable scene",
		"revision", object.Revision,
		"remote_elements", len(remote),
		"version", scene.Version(merged),
	)
	if m.options.OnMerge != nil {
		m.options.OnMerge(merged)
	}
}

// sleep waits d on the manager clock or until ctx is done.
func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	elapsed := make(chan struct{})
	timer := m.clock.AfterFunc(d, func() { close(elapsed) })
	defer timer.Stop()
	select {
	case <-elapsed:
	case <-ctx.Done():
	}
}
