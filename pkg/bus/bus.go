// Package bus is a small keyed pub/sub fabric: messages published under a
// key fan out to all subscribers of that key plus all wildcard subscribers.
// Delivery is synchronous through unbuffered channels so back-pressure
// propagates to publishers.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Message pairs a published value with the key it was published under.
type Message[K comparable, M any] struct {
	Key     K
	Message M
}

// Publisher publishes messages under a fixed key.
type Publisher[M any] func(ctx context.Context, msg M)

// Subscriber opens a subscription bound to keys chosen at creation time.
type Subscriber[K comparable, M any] func(ctx context.Context) <-chan Message[K, M]

// subscription is one subscriber channel plus the state needed to close it
// safely: sends and the close both run under mu, and a send aborts on the
// subscriber's context, so the channel is never closed with a send in
// flight.
type subscription[K comparable, M any] struct {
	ctx context.Context
	ch  chan Message[K, M]

	mu     sync.Mutex
	closed bool
}

func (s *subscription[K, M]) send(busCtx context.Context, msg Message[K, M]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case <-busCtx.Done():
		return false
	case <-s.ctx.Done():
	case s.ch <- msg:
	}
	return true
}

func (s *subscription[K, M]) close() {
	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

// Bus routes messages from publishers to subscribers. Zero or more workers
// drain the publish channel; subscriptions live until their context ends.
type Bus[K comparable, M any] struct {
	log         *zap.Logger
	concurrency int
	ready       chan struct{}

	ch           chan Message[K, M]
	keySubs      *xsync.MapOf[K, []*subscription[K, M]]
	wildcardSubs *xsync.MapOf[*subscription[K, M], struct{}]
}

func NewBus[K comparable, M any](log *zap.Logger) *Bus[K, M] {
	return &Bus[K, M]{
		log:         log,
		concurrency: 1,
		ready:       make(chan struct{}),

		ch:           make(chan Message[K, M]),
		keySubs:      xsync.NewMapOf[K, []*subscription[K, M]](),
		wildcardSubs: xsync.NewMapOf[*subscription[K, M], struct{}](),
	}
}

func (b *Bus[K, M]) Start(ctx context.Context) error {
	if b.concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	for i := 0; i < b.concurrency; i++ {
		go b.worker(ctx)
	}
	close(b.ready)
	return nil
}

func (b *Bus[K, M]) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.ch:
			b.deliver(ctx, msg)
		}
	}
}

// Ready is closed once the workers are running.
func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
		return
	case b.ch <- Message[K, M]{key, msg}:
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

func (b *Bus[K, M]) CreateSubscriber(keys ...K) Subscriber[K, M] {
	return func(ctx context.Context) <-chan Message[K, M] {
		return b.Subscribe(ctx, keys...)
	}
}

func (b *Bus[K, M]) deliver(ctx context.Context, msg Message[K, M]) {
	b.wildcardSubs.Range(func(sub *subscription[K, M], _ struct{}) bool {
		return sub.send(ctx, msg)
	})
	subs, ok := b.keySubs.Load(msg.Key)
	if !ok {
		return
	}
	for _, sub := range subs {
		if !sub.send(ctx, msg) {
			return
		}
	}
}

// Subscribe returns a channel receiving messages published under any of the
// given keys, or every message when no keys are given. The channel is closed
// when ctx ends.
func (b *Bus[K, M]) Subscribe(ctx context.Context, keys ...K) <-chan Message[K, M] {
	sub := &subscription[K, M]{
		ctx: ctx,
		ch:  make(chan Message[K, M]),
	}
	if len(keys) == 0 {
		b.wildcardSubs.Store(sub, struct{}{})
		go func() {
			<-ctx.Done()
			b.wildcardSubs.Delete(sub)
			sub.close()
		}()
		return sub.ch
	}
	for _, k := range keys {
		b.addKeySub(k, sub)
	}
	go func() {
		<-ctx.Done()
		for _, k := range keys {
			b.removeKeySub(k, sub)
		}
		sub.close()
	}()
	return sub.ch
}

// addKeySub and removeKeySub replace the slice instead of mutating it, so a
// concurrent deliver iterates an unchanging snapshot.
func (b *Bus[K, M]) addKeySub(k K, sub *subscription[K, M]) {
	b.keySubs.Compute(k, func(val []*subscription[K, M], _ bool) ([]*subscription[K, M], bool) {
		next := make([]*subscription[K, M], 0, len(val)+1)
		next = append(next, val...)
		return append(next, sub), false
	})
}

func (b *Bus[K, M]) removeKeySub(k K, sub *subscription[K, M]) {
	b.keySubs.Compute(k, func(val []*subscription[K, M], _ bool) ([]*subscription[K, M], bool) {
		next := make([]*subscription[K, M], 0, len(val))
		for _, s := range val {
			if s != sub {
				next = append(next, s)
			}
		}
		return next, len(next) == 0
	})
}
