package stream

import "sync"

// Broadcast is a hot multicast stream: one publisher, any number of
// subscribers, each receiving every value published after it subscribed.
type Broadcast[T any] struct {
	mu       sync.Mutex
	subs     map[*Subscription[T]]struct{}
	finished bool
	err      error
}

// NewBroadcast returns an open Broadcast with no subscribers.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe attaches a new subscriber. Subscribing to a finished Broadcast
// yields a subscription that terminates immediately with the same result.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	sub := newSubscription[T]()

	b.mu.Lock()
	if b.finished {
		err := b.err
		b.mu.Unlock()
		sub.finish(err)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	sub.onClose(func() { b.remove(sub) })
	return sub
}

// Publish delivers v to every current subscriber and returns how many
// received it.
func (b *Broadcast[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return 0
	}
	delivered := 0
	for sub := range b.subs {
		if sub.push(v) {
			delivered++
		}
	}
	return delivered
}

// Complete ends the stream for all current and future subscribers.
func (b *Broadcast[T]) Complete() { b.end(nil) }

// Fail ends the stream with err for all current and future subscribers.
func (b *Broadcast[T]) Fail(err error) { b.end(err) }

// Len returns the number of attached subscribers.
func (b *Broadcast[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcast[T]) end(err error) {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return
	}
	b.finished = true
	b.err = err
	subs := b.subs
	b.subs = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.finish(err)
	}
}

func (b *Broadcast[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}
