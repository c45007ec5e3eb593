package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

// SignalBus implements domain.SignalBus in process. Stream IDs are decimal
// sequence numbers, so "0" reads from the beginning.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	notify  chan struct{}
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		notify:  make(chan struct{}),
	}
}

// Publish delivers payload to every current subscriber. Slow subscribers
// drop messages rather than block the publisher.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := strconv.Itoa(len(b.streams[stream]) + 1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      id,
		Payload: append([]byte(nil), payload...),
	})
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// StreamRead returns up to count entries after lastID. When none are
// available it waits for the next append or for ctx to end.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := strconv.Atoi(lastID)
	if err != nil {
		after = 0
	}
	for {
		b.mu.Lock()
		entries := b.streams[stream]
		wait := b.notify
		if after < len(entries) {
			end := len(entries)
			if count > 0 && after+count < end {
				end = after + count
			}
			out := append([]domain.StreamMessage(nil), entries[after:end]...)
			b.mu.Unlock()
			return out, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
