package client

import "sync"

// StatusBroadcast is a minimal last-value broadcast: it caches the most
// recent AuthStatus, replays it to every new subscriber, and synchronously
// notifies all subscribers on each emission. There is no history beyond the
// single latest value.
//
// Listener callbacks run on the emitting goroutine and must not call back
// into the broadcast or the AuthManager.
type StatusBroadcast struct {
	mu        sync.Mutex
	current   AuthStatus
	nextID    int
	listeners map[int]func(AuthStatus)
}

// NewStatusBroadcast returns a broadcast seeded with the Unauthenticated
// state.
func NewStatusBroadcast() *StatusBroadcast {
	return &StatusBroadcast{
		current:   AuthStatus{State: StateUnauthenticated},
		listeners: map[int]func(AuthStatus){},
	}
}

// Current returns the latest emitted status.
func (b *StatusBroadcast) Current() AuthStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers fn, immediately invokes it with the current value, and
// returns an idempotent unsubscribe function.
func (b *StatusBroadcast) Subscribe(fn func(AuthStatus)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	replay := b.current
	b.mu.Unlock()

	fn(replay)

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Emit replaces the current value and notifies every subscriber.
func (b *StatusBroadcast) Emit(status AuthStatus) {
	b.mu.Lock()
	b.current = status
	notify := make([]func(AuthStatus), 0, len(b.listeners))
	for _, fn := range b.listeners {
		notify = append(notify, fn)
	}
	b.mu.Unlock()

	for _, fn := range notify {
		fn(status)
	}
}
