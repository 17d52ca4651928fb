/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry shares one instance per credential between rooms and
// closes it when the last room lets go.
package registry

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("registry: closed")

// Key identifies a credential: a backend address plus the password used on it.
type Key struct {
	Server   string
	Password string
}

// CreateFunc builds the instance for a key.
type CreateFunc[T any] func(ctx context.Context, key Key) (T, error)

// CloseFunc tears an instance down.
type CloseFunc[T any] func(T)

type entry[T any] struct {
	value T
	err   error
	refs  int
	ready chan struct{}
}

// Registry is a reference-counted map from credential to instance.
type Registry[T any] struct {
	create  CreateFunc[T]
	destroy CloseFunc[T]

	mu      sync.Mutex
	entries map[Key]*entry[T]
	closed  bool
}

// New creates an empty registry.
func New[T any](create CreateFunc[T], destroy CloseFunc[T]) *Registry[T] {
	return &Registry[T]{
		create:  create,
		destroy: destroy,
		entries: make(map[Key]*entry[T]),
	}
}

// Acquire returns the instance for key, creating it on first use. Concurrent
// first callers share one creation. The returned release func drops the
// reference and is safe to call more than once.
func (r *Registry[T]) Acquire(ctx context.Context, key Key) (T, func(), error) {
	var zero T

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return zero, nil, ErrClosed
	}
	e, ok := r.entries[key]
	if ok {
		e.refs++
		r.mu.Unlock()
		<-e.ready
		if e.err != nil {
			return zero, nil, e.err
		}
		return e.value, r.releaser(key, e), nil
	}

	e = &entry[T]{refs: 1, ready: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	e.value, e.err = r.create(ctx, key)
	if e.err != nil {
		r.mu.Lock()
		if r.entries[key] == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		close(e.ready)
		return zero, nil, e.err
	}
	close(e.ready)
	return e.value, r.releaser(key, e), nil
}

func (r *Registry[T]) releaser(key Key, e *entry[T]) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(key, e) })
	}
}

func (r *Registry[T]) release(key Key, e *entry[T]) {
	r.mu.Lock()
	e.refs--
	if e.refs > 0 || r.entries[key] != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	if r.destroy != nil {
		r.destroy(e.value)
	}
}

// Len returns the number of live instances.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every instance regardless of outstanding references.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[Key]*entry[T])
	r.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.err == nil && r.destroy != nil {
			r.destroy(e.value)
		}
	}
}
