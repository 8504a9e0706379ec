package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const defaultBufferSize = 1024

type (
	// InMemoryBus delivers messages between goroutines of one process.
	// Every subscriber of a subject receives every message published to it.
	// Publish blocks while a subscriber's buffer is full.
	InMemoryBus struct {
		mu         sync.RWMutex
		subs       map[string]map[*memorySubscription]struct{}
		bufferSize int
		closed     bool
	}

	memorySubscription struct {
		bus     *InMemoryBus
		subject string
		ch      chan Message
		done    chan struct{}
		once    sync.Once
	}
)

var _ Bus = (*InMemoryBus)(nil)

// NewInMemoryBus creates a bus whose subscriptions buffer up to bufferSize messages.
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &InMemoryBus{
		subs:       make(map[string]map[*memorySubscription]struct{}),
		bufferSize: bufferSize,
	}
}

// Publish hands msg to every current subscriber of msg.Subject.
// With no subscriber the message is dropped.
func (b *InMemoryBus) Publish(ctx context.Context, msg Message) error {
	if err := validateSubject(msg.Subject); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()

		return ErrBusClosed
	}

	targets := make([]*memorySubscription, 0, len(b.subs[msg.Subject]))
	for sub := range b.subs[msg.Subject] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Subscribe registers a subscription on subject.
func (b *InMemoryBus) Subscribe(_ context.Context, subject string) (Subscription, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		ch:      make(chan Message, b.bufferSize),
		done:    make(chan struct{}),
	}

	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySubscription]struct{})
	}

	b.subs[subject][sub] = struct{}{}

	return sub, nil
}

// Request publishes data on subject with a one-shot inbox and returns the first reply.
func (b *InMemoryBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if !b.hasSubscribers(subject) {
		return nil, fmt.Errorf("%w: %s", ErrNoResponders, subject)
	}

	inbox, err := b.Subscribe(ctx, inboxPrefix+uuid.NewString())
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = inbox.Close()
	}()

	if err := b.Publish(ctx, Message{Subject: subject, Reply: inbox.Subject(), Data: data}); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRequestTimeout, subject, err)
		}

		return nil, err
	}

	reply, err := inbox.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRequestTimeout, subject, ctx.Err())
		}

		return nil, err
	}

	return reply.Data, nil
}

// Close ends every subscription and rejects further use.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true

	var all []*memorySubscription

	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}

	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.done) })
	}

	return nil
}

func (b *InMemoryBus) hasSubscribers(subject string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[subject]) > 0
}

func (b *InMemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[sub.subject]; ok {
		delete(set, sub)

		if len(set) == 0 {
			delete(b.subs, sub.subject)
		}
	}
}

func (s *memorySubscription) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return Message{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
	})

	return nil
}
