// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package localcache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sketchroom/sketchroom/lib/clock"
	"github.com/sketchroom/sketchroom/lib/schedule"
	"github.com/sketchroom/sketchroom/lib/scene"
)

// DefaultDebounce is the write coalescing window.
const DefaultDebounce = 300 * time.Millisecond

// Keys used by SaveScene and LoadScene.
const (
	ElementsKey  = "local-elements"
	ViewStateKey = "local-view-state"
)

var bucketName = []byte("sketchroom")

// Options configures a Cache.
type Options struct {
	// Path is the database file. It is created if missing.
	Path string

	// Debounce is the write coalescing window. Zero means
	// DefaultDebounce.
	Debounce time.Duration

	// Clock drives the debounce timer. Nil means the real clock.
	Clock clock.Clock

	// Logger receives write failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Cache is a debounced key/value store.
type Cache struct {
	db       *bolt.DB
	debounce time.Duration
	logger   *slog.Logger
	task     *schedule.Task

	mu      sync.Mutex
	pending map[string][]byte

	// writeMu orders batches: a batch taken later is written later.
	writeMu sync.Mutex
}

// Open opens or creates the cache database.
func Open(options Options) (*Cache, error) {
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	db, err := bolt.Open(options.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("localcache: opening %s: %w", options.Path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("localcache: creating bucket: %w", err)
	}

	cache := &Cache{
		db:       db,
		debounce: options.Debounce,
		logger:   options.Logger,
		pending:  make(map[string][]byte),
	}
	cache.task = schedule.New(options.Clock, func() {
		if err := cache.writePending(); err != nil {
			cache.logger.Warn("local cache write failed", "error", err)
		}
	})
	return cache, nil
}

// Get returns the value for key, including a pending unwritten value.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	if value, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return append([]byte(nil), value...), true, nil
	}
	c.mu.Unlock()

	var value []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if stored := tx.Bucket(bucketName).Get([]byte(key)); stored != nil {
			value = append([]byte(nil), stored...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("localcache: reading %s: %w", key, err)
	}
	return value, value != nil, nil
}

// Set records value for key and schedules a write after the debounce
// window.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	c.pending[key] = append([]byte{}, value...)
	c.mu.Unlock()
	c.task.Schedule(c.debounce)
}

// Flush writes pending values now.
func (c *Cache) Flush() error {
	c.task.Cancel()
	return c.writePending()
}

// Clear removes every stored and pending value.
func (c *Cache) Clear() error {
	c.task.Cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	clear(c.pending)
	c.mu.Unlock()

	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	if err != nil {
		return fmt.Errorf("localcache: clearing: %w", err)
	}
	return nil
}

// Close writes pending values and closes the database.
func (c *Cache) Close() error {
	flushErr := c.Flush()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("localcache: closing: %w", err)
	}
	return flushErr
}

func (c *Cache) writePending() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	batch := maps.Clone(c.pending)
	clear(c.pending)
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for key, value := range batch {
			if err := bucket.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("localcache: writing %d keys: %w", len(batch), err)
	}
	return nil
}

// SaveScene schedules the elements and view state for writing.
func (c *Cache) SaveScene(elements []scene.Element, view scene.ViewState) error {
	if elements == nil {
		elements = []scene.Element{}
	}
	encodedElements, err := json.Marshal(elements)
	if err != nil {
		return fmt.Errorf("localcache: encoding elements: %w", err)
	}
	encodedView, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("localcache: encoding view state: %w", err)
	}
	c.mu.Lock()
	c.pending[ElementsKey] = encodedElements
	c.pending[ViewStateKey] = encodedView
	c.mu.Unlock()
	c.task.Schedule(c.debounce)
	return nil
}

// LoadScene returns the cached scene. It reports false when no
// elements were stored or the stored value does not decode.
func (c *Cache) LoadScene() ([]scene.Element, scene.ViewState, bool) {
	var view scene.ViewState
	encodedElements, ok, err := c.Get(ElementsKey)
	if err != nil || !ok {
		return nil, view, false
	}
	var elements []scene.Element
	if err := json.Unmarshal(encodedElements, &elements); err != nil {
		c.logger.Warn("discarding unreadable cached scene", "error", err)
		return nil, view, false
	}
	if encodedView, ok, err := c.Get(ViewStateKey); err == nil && ok {
		if err := json.Unmarshal(encodedView, &view); err != nil {
			view = scene.ViewState{}
		}
	}
	return scene.Restore(elements), view, true
}
