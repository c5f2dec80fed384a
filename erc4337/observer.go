package erc4337

import (
	"context"
	"strings"
	"sync"
)

// observer is one shared polling loop. Every waiter blocks on done and then reads the
// settled outcome.
type observer struct {
	cancel  context.CancelFunc
	done    chan struct{}
	waiters int

	result interface{}
	err    error
}

// observerRegistry deduplicates concurrent polling loops by key. Lookup and insertion
// happen under a single lock acquisition.
type observerRegistry struct {
	mu        sync.Mutex
	observers map[string]*observer
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{observers: make(map[string]*observer)}
}

var receiptObservers = newObserverRegistry()

// observerKey builds the registry key from its parts. Parts never contain the separator.
func observerKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// join returns the observer for key, starting run in a new loop if none is active.
// run receives a context that is cancelled when the last waiter leaves.
func (r *observerRegistry) join(key string, parent context.Context, run func(ctx context.Context) (interface{}, error)) *observer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if obs, ok := r.observers[key]; ok {
		obs.waiters++
		return obs
	}

	ctx, cancel := context.WithCancel(parent)
	obs := &observer{
		cancel:  cancel,
		done:    make(chan struct{}),
		waiters: 1,
	}
	r.observers[key] = obs

	go func() {
		result, err := run(ctx)
		r.settle(key, obs, result, err)
	}()
	return obs
}

func (r *observerRegistry) settle(key string, obs *observer, result interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obs.result = result
	obs.err = err
	if r.observers[key] == obs {
		delete(r.observers, key)
	}
	obs.cancel()
	close(obs.done)
}

// leave detaches a waiter. The last waiter to leave cancels the loop and frees the key so
// a later call starts fresh.
func (r *observerRegistry) leave(key string, obs *observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obs.waiters--
	if obs.waiters > 0 {
		return
	}
	if r.observers[key] == obs {
		delete(r.observers, key)
	}
	obs.cancel()
}

// wait blocks until the observer settles or ctx ends.
func (r *observerRegistry) wait(ctx context.Context, key string, obs *observer) (interface{}, error) {
	select {
	case <-obs.done:
		return obs.result, obs.err
	case <-ctx.Done():
		r.leave(key, obs)
		return nil, ctx.Err()
	}
}

func (r *observerRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

func (r *observerRegistry) waitersOf(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obs, ok := r.observers[key]; ok {
		return obs.waiters
	}
	return 0
}
