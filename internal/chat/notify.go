package chat

import "sync"

// notifier fans out coalesced change signals. A subscriber that has not
// drained its channel yet gets one pending signal, not one per change.
type notifier struct {
	mu   sync.Mutex
	subs []chan struct{}
}

func (n *notifier) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
