// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package localcache keeps the last scene on the device so a client
// reopens where it left off without waiting for the relay or the
// durable store.
//
// [Cache] is a small key/value store on a bbolt database file. [Cache.Set]
// is debounced: values are held in memory and written in one
// transaction once no Set has arrived for the debounce window (300 ms
// by default). [Cache.Get] sees pending values immediately.
//
// [Cache.SaveScene] and [Cache.LoadScene] store the scene's elements
// and the [scene.ViewState] subset under fixed keys. LoadScene reports
// absent when no elements were ever stored.
package localcache
