// Package spike provides a primitive to handle spike-like load on retrieving external resources
package spike

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	taskQueueLen           = 60
	currentlyExecutedSize  = 50
	defaultCleanupInterval = 5 * time.Second
)

// TODO: cache errors for a short period so a failing fetch is not repeated by every waiter

// Manager deduplicates concurrent fetches of the same key and caches successful results.
type Manager[K comparable, T any] struct {
	mu                sync.RWMutex
	handler           Handler[K, T]
	taskQueue         chan task[K, T]
	currentlyExecuted map[K][]chan<- result[T]
}

// NewCustomManager creates a new Manager with a custom cache implementation controlled by client code
// it should be used for non-trivial flows or non-default cache implementations
func NewCustomManager[K comparable, T any](h Handler[K, T]) *Manager[K, T] {
	cm := &Manager[K, T]{
		handler:           h,
		taskQueue:         make(chan task[K, T], taskQueueLen),
		currentlyExecuted: make(map[K][]chan<- result[T], currentlyExecutedSize),
	}
	go cm.start()
	return cm
}

// NewManager creates a new Manager with a default cache implementation
// it is preferred way of creating a new Manager
func NewManager[K comparable, T any](fetch func(ctx context.Context, k K) (T, error), cacheTime time.Duration) *Manager[K, T] {
	g := gocache.New(cacheTime, defaultCleanupInterval)
	return NewCustomManager[K, T](Handler[K, T]{
		Fetch: fetch,
		Set: func(k K, v T) {
			g.Set(fmt.Sprint(k), v, cacheTime)
		},
		Get: func(k K) (T, bool) {
			v, ok := g.Get(fmt.Sprint(k))
			if !ok {
				var rt T
				return rt, false
			}
			//nolint:forcetypeassert
			return v.(T), true
		},
	})
}

type Handler[K comparable, T any] struct {
	Fetch func(ctx context.Context, k K) (T, error)
	Set   func(k K, v T)
	Get   func(k K) (T, bool)
}

type task[K comparable, T any] struct {
	key K
	res chan<- result[T]
}

type result[T any] struct {
	v T
	e error
}

func (m *Manager[K, T]) start() {
	for t := range m.taskQueue {
		m.mu.Lock()
		v, ok := m.handler.Get(t.key)
		if ok {
			t.res <- result[T]{v: v}
			close(t.res)
			m.mu.Unlock()
			continue
		}

		chans, ok := m.currentlyExecuted[t.key]
		if ok {
			m.currentlyExecuted[t.key] = append(chans, t.res)
			m.mu.Unlock()
			continue
		}
		m.currentlyExecuted[t.key] = []chan<- result[T]{t.res}
		m.mu.Unlock()

		go m.fetch(t.key)
	}
}

func (m *Manager[K, T]) fetch(key K) {
	res, err := m.handler.Fetch(context.Background(), key)
	if err == nil {
		m.handler.Set(key, res)
	}

	m.mu.Lock()
	chans := m.currentlyExecuted[key]
	delete(m.currentlyExecuted, key)
	m.mu.Unlock()

	for _, ch := range chans {
		ch <- result[T]{v: res, e: err}
		close(ch)
	}
}

// GetResult returns the cached value for k or waits for a single shared fetch of it.
func (m *Manager[K, T]) GetResult(ctx context.Context, k K) (T, error) { //nolint:ireturn
	r, ok := m.handler.Get(k)
	if ok {
		return r, nil
	}

	// buffered so a finished fetch never blocks on a waiter that gave up
	resChan := make(chan result[T], 1)

	t := task[K, T]{
		key: k,
		res: resChan,
	}
	select {
	case m.taskQueue <- t:
	case <-ctx.Done():
		var tr T
		return tr, ctx.Err()
	}
	select {
	case <-ctx.Done():
		var tr T
		return tr, ctx.Err()
	case completed := <-resChan:
		return completed.v, completed.e
	}
}
