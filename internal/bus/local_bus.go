package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LocalBus is an in-process Bus used when no Redis is configured.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[string]map[chan JobEvent]struct{}
	closed bool
	buffer int
}

// NewLocalBus creates a bus whose subscribers buffer up to buffer events;
// a slow subscriber drops events rather than blocking publishers.
func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 16
	}
	return &LocalBus{subs: map[string]map[chan JobEvent]struct{}{}, buffer: buffer}
}

func (b *LocalBus) Publish(ctx context.Context, ev JobEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus: closed")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for ch := range b.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, jobID string) (<-chan JobEvent, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("bus: closed")
	}
	ch := make(chan JobEvent, b.buffer)
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[chan JobEvent]struct{}{}
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[jobID][ch]; ok {
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			close(ch)
		}
	}()
	return ch, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for jobID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, jobID)
	}
	return nil
}
