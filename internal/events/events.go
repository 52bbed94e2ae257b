// Package events best-effort-publishes completed-lease records onto a
// Redis stream for external consumers, adapted from pkg/queue.StreamQueue
// the way internal/card/service.go publishes fund_card events after
// CreateCard succeeds.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/internal/leaselog"
	"github.com/lndlease/publsp-go/pkg/logger"
	"github.com/lndlease/publsp-go/pkg/queue"
)

const streamName = "completed_leases"

// Publisher fans completed leases out onto a Redis stream. Failures are
// logged, not returned: the lease log file, not the stream, is the
// source of truth.
type Publisher struct {
	q *queue.StreamQueue
}

func New(q *queue.StreamQueue) *Publisher {
	return &Publisher{q: q}
}

// Declare ensures the stream's consumer group exists.
func (p *Publisher) Declare(ctx context.Context, consumerGroup string) error {
	return p.q.DeclareStream(ctx, streamName, consumerGroup)
}

// Publish encodes rec as JSON and appends it to the stream. Errors are
// logged and swallowed, matching the §6 note that this fan-out is
// best-effort.
func (p *Publisher) Publish(ctx context.Context, rec leaselog.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Error("failed to marshal lease record for event stream", zap.Error(err))
		return
	}
	if _, err := p.q.Publish(ctx, streamName, data); err != nil {
		logger.Error("failed to publish lease completed event", zap.Error(err))
	}
}

// Consume drains the stream, decoding each message back into a
// leaselog.Record before invoking handler.
func (p *Publisher) Consume(ctx context.Context, consumerGroup, consumerName string, handler func(leaselog.Record) error) error {
	return p.q.Consume(ctx, streamName, consumerGroup, consumerName, func(messageID string, data []byte) error {
		var rec leaselog.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode lease record: %w", err)
		}
		return handler(rec)
	})
}
