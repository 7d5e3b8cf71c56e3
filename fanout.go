package wrcgw

import "sync"

// ActionBroadcaster fans out every decoded broker Action to all currently
// subscribed port managers (spec.md §4.5/§9: "single-producer,
// multi-consumer... a bounded buffer with oldest-drop is acceptable").
type ActionBroadcaster struct {
	mu   sync.Mutex
	subs []chan Action
}

// NewActionBroadcaster builds an empty broadcaster.
func NewActionBroadcaster() *ActionBroadcaster {
	return &ActionBroadcaster{}
}

// Subscribe registers a new consumer and returns its receive-only channel.
// Call Unsubscribe when the consumer (typically a port worker's manager
// goroutine) is torn down.
func (b *ActionBroadcaster) Subscribe() <-chan Action {
	ch := make(chan Action, 32)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (b *ActionBroadcaster) Unsubscribe(ch <-chan Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			close(s)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish sends action to every subscriber. A subscriber whose buffer is
// full has its oldest pending action dropped to make room rather than
// blocking the publisher.
func (b *ActionBroadcaster) Publish(action Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s <- action:
		default:
			select {
			case <-s:
			default:
			}
			select {
			case s <- action:
			default:
			}
		}
	}
}
