package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genstudio/internal/infra"
)

// RedisBus publishes job events on one Redis channel per job.
type RedisBus struct {
	rdb    *goredis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisBus connects to addr and verifies the connection.
func NewRedisBus(ctx context.Context, addr, prefix string, logger *infra.Logger) (*RedisBus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("bus: redis address is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "job-status"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bus: redis ping: %w", err)
	}

	l := zerolog.New(io.Discard)
	if logger != nil {
		l = logger.With().Str("component", "bus").Logger()
	}
	return &RedisBus{rdb: rdb, prefix: prefix, logger: l}, nil
}

func (b *RedisBus) channel(jobID string) string {
	return b.prefix + ":" + jobID
}

func (b *RedisBus) Publish(ctx context.Context, ev JobEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel(ev.JobID), raw).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, jobID string) (<-chan JobEvent, error) {
	sub := b.rdb.Subscribe(ctx, b.channel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}

	out := make(chan JobEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.logger.Warn().Err(err).Str("channel", m.Channel).Msg("bad job event payload")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

var (
	_ Bus = (*RedisBus)(nil)
	_ Bus = (*LocalBus)(nil)
)
