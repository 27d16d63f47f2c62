// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package storetest provides an in-memory store.Backend for tests.
package storetest

import (
	"context"
	"slices"
	"sync"

	"github.com/holomush/playerdb/internal/record"
	"github.com/holomush/playerdb/internal/store"
)

// MemoryBackend keeps the last saved batch in memory.
type MemoryBackend struct {
	mu      sync.Mutex
	dataset *store.Dataset
	batches []*store.Batch
	saveErr error
	failN   int
	loadErr error
	closed  bool
	onSave  func(*store.Batch)
}

var _ store.Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a backend that loads the given records. With no
// records it reports that nothing has been stored.
func NewMemoryBackend(records ...record.Data) *MemoryBackend {
	b := &MemoryBackend{}
	if len(records) > 0 {
		maxID := 0
		for _, d := range records {
			maxID = max(maxID, d.ID)
		}
		b.dataset = &store.Dataset{Version: 1, MaxID: maxID, Records: slices.Clone(records)}
	}
	return b
}

// Name implements store.Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// Load implements store.Backend.
func (b *MemoryBackend) Load(_ context.Context, _ store.RankResolver) (*store.Dataset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	if b.dataset == nil {
		return nil, nil
	}
	ds := *b.dataset
	ds.Records = slices.Clone(ds.Records)
	return &ds, nil
}

// Save implements store.Backend.
func (b *MemoryBackend) Save(_ context.Context, batch *store.Batch) error {
	b.mu.Lock()
	hook := b.onSave
	if b.failN != 0 {
		if b.failN > 0 {
			b.failN--
		}
		b.mu.Unlock()
		return b.saveErr
	}
	b.batches = append(b.batches, batch)
	b.dataset = &store.Dataset{Version: 1, MaxID: batch.MaxID, Records: slices.Clone(batch.All)}
	b.mu.Unlock()

	if hook != nil {
		hook(batch)
	}
	return nil
}

// Close implements store.Backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// FailNextSave makes the next Save return err.
func (b *MemoryBackend) FailNextSave(err error) {
	b.FailSaves(err, 1)
}

// FailSaves makes the next n saves return err. A negative n fails every
// save until FailSaves is called again; zero stops failing.
func (b *MemoryBackend) FailSaves(err error, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
	b.failN = n
}

// FailLoad makes Load return err.
func (b *MemoryBackend) FailLoad(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadErr = err
}

// OnSave installs a hook called after every successful save.
func (b *MemoryBackend) OnSave(fn func(*store.Batch)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSave = fn
}

// Batches returns every successfully saved batch.
func (b *MemoryBackend) Batches() []*store.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.batches)
}

// LastBatch returns the most recent saved batch, or nil.
func (b *MemoryBackend) LastBatch() *store.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batches) == 0 {
		return nil
	}
	return b.batches[len(b.batches)-1]
}

// Closed reports whether Close was called.
func (b *MemoryBackend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
