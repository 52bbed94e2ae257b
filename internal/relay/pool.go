package relay

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/pkg/logger"
)

// Pool fans out to every connected relay and fans in their replies on a
// single inbound channel, mirroring NostrClient's one-client-many-relays
// model.
type Pool struct {
	mu      sync.RWMutex
	relays  map[string]*connection
	inbound chan Message
}

// NewPool creates an empty pool. Call Connect to dial the configured
// relays.
func NewPool(bufferSize int) *Pool {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Pool{
		relays:  make(map[string]*connection),
		inbound: make(chan Message, bufferSize),
	}
}

// Inbound is the fan-in channel of raw frames received from any connected
// relay.
func (p *Pool) Inbound() <-chan Message { return p.inbound }

// Connect dials every url not already connected. Failures to dial an
// individual relay are logged and skipped rather than aborting the whole
// connect, since a marketplace with N relays should stay usable if one is
// down.
func (p *Pool) Connect(ctx context.Context, urls []string) {
	for _, url := range urls {
		p.connectOne(ctx, url)
	}
}

func (p *Pool) connectOne(ctx context.Context, url string) {
	p.mu.Lock()
	if _, exists := p.relays[url]; exists {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	conn, err := dial(ctx, url)
	if err != nil {
		logger.Warn("failed to connect to relay", zap.String("relay", url), zap.Error(err))
		return
	}

	p.mu.Lock()
	p.relays[url] = conn
	p.mu.Unlock()

	go conn.readLoop(p.inbound)
	logger.Info("connected to relay", zap.String("relay", url))
}

// Reload adds any url in urls that isn't already connected, without
// touching existing connections. Mirrors NostrClient.reload_relays: never
// disconnect a delisted relay mid-run, to avoid mixed-status ads across
// relays.
func (p *Pool) Reload(ctx context.Context, urls []string) {
	p.Connect(ctx, urls)
}

// Close tears down every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.relays {
		c.close()
	}
}

// Publish sends a ["EVENT", event] frame to every connected relay,
// returning an error only if every relay failed.
func (p *Pool) Publish(event any) error {
	frame := []any{"EVENT", event}
	return p.broadcast(frame)
}

// Subscribe sends a ["REQ", subID, filter...] frame to every connected
// relay.
func (p *Pool) Subscribe(subID string, filters ...Filter) error {
	frame := make([]any, 0, len(filters)+2)
	frame = append(frame, "REQ", subID)
	for _, f := range filters {
		frame = append(frame, f)
	}
	return p.broadcast(frame)
}

// Unsubscribe sends a ["CLOSE", subID] frame to every connected relay.
func (p *Pool) Unsubscribe(subID string) error {
	return p.broadcast([]any{"CLOSE", subID})
}

func (p *Pool) broadcast(frame any) error {
	p.mu.RLock()
	conns := make([]*connection, 0, len(p.relays))
	for _, c := range p.relays {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("no connected relays")
	}

	var lastErr error
	succeeded := 0
	for _, c := range conns {
		if err := c.writeJSON(frame); err != nil {
			logger.Warn("relay write failed", zap.String("relay", c.url), zap.Error(err))
			lastErr = err
			continue
		}
		succeeded++
	}
	if succeeded == 0 {
		return fmt.Errorf("all relays failed: %w", lastErr)
	}
	return nil
}

// URLs returns the currently connected relay URLs.
func (p *Pool) URLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.relays))
	for url := range p.relays {
		out = append(out, url)
	}
	return out
}
