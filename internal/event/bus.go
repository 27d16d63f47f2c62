// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package event provides a synchronous, priority-ordered event bus.
//
// State transitions come in pairs: a cancellable "-ing" event published
// before the mutation, whose payload subscribers may rewrite or veto, and an
// informational "-ed" event published after it.
package event

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Priority orders delivery. Lower priorities are delivered first, so the
// highest priority subscriber has the last word on a cancellable event.
type Priority int

// Priority tiers.
const (
	Lowest Priority = iota
	Low
	Normal
	High
	Highest
)

func (p Priority) String() string {
	switch p {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Highest:
		return "highest"
	default:
		return "unknown"
	}
}

// Cancellable is embedded in "-ing" event payloads.
type Cancellable struct {
	cancelled bool
}

// Cancel vetoes the pending operation.
func (c *Cancellable) Cancel() { c.cancelled = true }

// SetCancelled sets or clears the veto. A later subscriber may overrule an
// earlier one.
func (c *Cancellable) SetCancelled(v bool) { c.cancelled = v }

// Cancelled reports whether the operation was vetoed.
func (c *Cancellable) Cancelled() bool { return c.cancelled }

// Canceller is implemented by payloads that embed Cancellable.
type Canceller interface {
	Cancelled() bool
}

// Handler receives an event payload.
type Handler[T any] func(T)

type subscription[T any] struct {
	id       uint64
	priority Priority
	handler  Handler[T]
}

// Bus delivers payloads of type T to subscribers in ascending priority
// order, then in registration order within a tier. Publishing never blocks
// on subscription changes: the subscriber list is copied on write.
type Bus[T any] struct {
	name   string
	mu     sync.Mutex // serializes writers
	subs   atomic.Pointer[[]subscription[T]]
	nextID atomic.Uint64
}

// NewBus creates a bus. The name identifies it in logs and relayed messages.
func NewBus[T any](name string) *Bus[T] {
	return &Bus[T]{name: name}
}

// Name returns the bus name.
func (b *Bus[T]) Name() string { return b.name }

// Subscribe registers h at priority p and returns a function that removes it.
func (b *Bus[T]) Subscribe(p Priority, h Handler[T]) (unsubscribe func()) {
	id := b.nextID.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	var cur []subscription[T]
	if ptr := b.subs.Load(); ptr != nil {
		cur = *ptr
	}
	next := make([]subscription[T], 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, subscription[T]{id: id, priority: p, handler: h})
	slices.SortStableFunc(next, func(a, b subscription[T]) int {
		return int(a.priority) - int(b.priority)
	})
	b.subs.Store(&next)

	var once sync.Once
	return func() { once.Do(func() { b.remove(id) }) }
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ptr := b.subs.Load()
	if ptr == nil {
		return
	}
	next := slices.DeleteFunc(slices.Clone(*ptr), func(s subscription[T]) bool {
		return s.id == id
	})
	if len(next) == 0 {
		b.subs.Store(nil)
		return
	}
	b.subs.Store(&next)
}

// HasSubscribers reports whether anything is listening.
func (b *Bus[T]) HasSubscribers() bool {
	ptr := b.subs.Load()
	return ptr != nil && len(*ptr) > 0
}

// Publish delivers payload to every subscriber synchronously. With no
// subscribers it returns immediately.
func (b *Bus[T]) Publish(payload T) {
	ptr := b.subs.Load()
	if ptr == nil {
		return
	}
	for _, s := range *ptr {
		s.handler(payload)
	}
}

// PublishCancellable delivers payload and reports whether a subscriber
// vetoed it. Every subscriber sees the payload, including those after a
// veto, so a later one may lift it again.
func PublishCancellable[T Canceller](b *Bus[T], payload T) (cancelled bool) {
	b.Publish(payload)
	return payload.Cancelled()
}
