// Package notify provides a broadcast "conditions changed" signal.
//
// Waiters grab a channel with Wait and block on it; Notify closes that
// channel, waking every waiter at once, and installs a fresh one. A waiter
// must call Wait before re-checking its condition so a Notify between the
// check and the wait is never lost.
package notify

import "sync"

// Notifier broadcasts change notifications.
//
// Thread-safety: safe for concurrent use.
type Notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

// New creates a notifier.
func New() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Wait returns a channel closed by the next Notify.
func (n *Notifier) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// Notify wakes all current waiters.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}
