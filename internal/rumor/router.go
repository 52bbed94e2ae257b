// Package rumor implements §4.C's DM Rumor Router: subscribe to gift-wrapped
// DMs addressed to us, unwrap and verify each one, then classify the
// resulting rumor by its tag keyset and fan it out to the right typed
// channel. Grounded on original_source/publsp/nostr/nip17.py's
// RumorHandler/Nip17NotificationHandler/Nip17Listener (single incoming
// queue, timestamp-gated against listener start time, tag-keyset dispatch
// via set-subset checks against each model's field names).
package rumor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/internal/giftwrap"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/tagcodec"
	"github.com/lndlease/publsp-go/pkg/logger"
)

var (
	orderRequestKeys  = tagcodec.RequiredKeys(offer.Order{})
	orderResponseKeys = tagcodec.RequiredKeys(offer.OrderResponse{})
	orderErrorKeys    = tagcodec.RequiredKeys(offer.OrderErrorResponse{})
	channelUpdateKeys = tagcodec.RequiredKeys(offer.ChannelUpdate{})
)

// OrderRequestMsg pairs a decoded order request with the pubkey of the
// customer who actually sent it (recovered from the seal, not the gift
// wrap's throwaway key) and the DM identifier needed to reply.
type OrderRequestMsg struct {
	SenderPubkey string
	RumorID      string
	Order        offer.Order
}

// OrderResponseMsg carries either a successful OrderResponse or an
// OrderErrorResponse, mirroring nip17.py's Union[OrderResponse,
// OrderErrorResponse] yield.
type OrderResponseMsg struct {
	SenderPubkey string
	RumorID      string
	Response     *offer.OrderResponse
	ErrorResp    *offer.OrderErrorResponse
}

type ChannelUpdateMsg struct {
	SenderPubkey string
	RumorID      string
	Update       offer.ChannelUpdate
}

// Router subscribes to GIFT_WRAP events addressed to self, unwraps each
// one, and classifies the rumor into one of three typed output channels.
type Router struct {
	pool       *relay.Pool
	self       *nostrid.KeyPair
	startedAt  int64
	subID      string
	orderReqs  chan OrderRequestMsg
	orderResps chan OrderResponseMsg
	chanUpds   chan ChannelUpdateMsg
}

func New(pool *relay.Pool, self *nostrid.KeyPair) *Router {
	return &Router{
		pool:       pool,
		self:       self,
		subID:      "rumor-" + self.PubkeyHex()[:8],
		orderReqs:  make(chan OrderRequestMsg, 64),
		orderResps: make(chan OrderResponseMsg, 64),
		chanUpds:   make(chan ChannelUpdateMsg, 64),
	}
}

func (r *Router) OrderRequests() <-chan OrderRequestMsg   { return r.orderReqs }
func (r *Router) OrderResponses() <-chan OrderResponseMsg { return r.orderResps }
func (r *Router) ChannelUpdates() <-chan ChannelUpdateMsg { return r.chanUpds }

// Start subscribes the relay pool to gift wraps addressed to self and
// begins consuming pool.Inbound() until ctx is cancelled. Rumors whose
// created_at predates Start (replayed history) are discarded, matching
// Nip17NotificationHandler's self._ts gate.
func (r *Router) Start(ctx context.Context) error {
	r.startedAt = time.Now().UTC().Unix()

	err := r.pool.Subscribe(r.subID, relay.Filter{
		Kinds: []int{giftwrap.KindGiftWrap},
		Tags:  map[string][]string{"p": {r.self.PubkeyHex()}},
	})
	if err != nil {
		return fmt.Errorf("subscribe gift wraps: %w", err)
	}

	go r.consume(ctx)
	return nil
}

func (r *Router) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = r.pool.Unsubscribe(r.subID)
			return
		case msg := <-r.pool.Inbound():
			r.handleFrame(msg)
		}
	}
}

// handleFrame parses a raw relay frame, expecting ["EVENT", subID, event].
func (r *Router) handleFrame(msg relay.Message) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg.Raw, &frame); err != nil || len(frame) < 3 {
		return
	}
	var frameType string
	if err := json.Unmarshal(frame[0], &frameType); err != nil || frameType != "EVENT" {
		return
	}

	var wrap giftwrap.Event
	if err := json.Unmarshal(frame[2], &wrap); err != nil {
		logger.Warn("failed to parse gift wrap event", zap.Error(err))
		return
	}

	senderPubkey, rumorEvent, err := giftwrap.Unwrap(r.self, &wrap)
	if err != nil {
		logger.Debug("failed to unwrap gift wrap", zap.Error(err))
		return
	}
	if rumorEvent.CreatedAt < r.startedAt {
		return
	}
	if rumorEvent.Kind != giftwrap.KindPrivateDirectMessage {
		return
	}

	tags := make([]tagcodec.Tag, 0, len(rumorEvent.Tags))
	for _, t := range rumorEvent.Tags {
		if len(t) >= 2 {
			tags = append(tags, tagcodec.Tag{Key: t[0], Value: t[1]})
		}
	}
	have := tagcodec.Keys(tags)

	switch {
	case tagcodec.Subset(orderRequestKeys, have):
		var o offer.Order
		if err := tagcodec.Decode(tags, &o); err != nil {
			logger.Warn("failed to decode order request", zap.Error(err))
			return
		}
		r.orderReqs <- OrderRequestMsg{SenderPubkey: senderPubkey, RumorID: rumorEvent.ID, Order: o}

	case tagcodec.Subset(orderResponseKeys, have):
		var resp offer.OrderResponse
		if err := tagcodec.Decode(tags, &resp); err != nil {
			logger.Warn("failed to decode order response", zap.Error(err))
			return
		}
		r.orderResps <- OrderResponseMsg{SenderPubkey: senderPubkey, RumorID: rumorEvent.ID, Response: &resp}

	case tagcodec.Subset(orderErrorKeys, have):
		var errResp offer.OrderErrorResponse
		if err := tagcodec.Decode(tags, &errResp); err != nil {
			logger.Warn("failed to decode order error response", zap.Error(err))
			return
		}
		r.orderResps <- OrderResponseMsg{SenderPubkey: senderPubkey, RumorID: rumorEvent.ID, ErrorResp: &errResp}

	case tagcodec.Subset(channelUpdateKeys, have):
		var upd offer.ChannelUpdate
		if err := tagcodec.Decode(tags, &upd); err != nil {
			logger.Warn("failed to decode channel update", zap.Error(err))
			return
		}
		r.chanUpds <- ChannelUpdateMsg{SenderPubkey: senderPubkey, RumorID: rumorEvent.ID, Update: upd}

	default:
		logger.Debug("rumor did not match any known tag keyset", zap.String("rumor_id", rumorEvent.ID))
	}
}

// Send gift-wraps payload's tags as a private-direct-message rumor
// addressed to recipientPubkeyHex and publishes it to every connected
// relay.
func Send(pool *relay.Pool, sender *nostrid.KeyPair, recipientPubkeyHex string, payload any) error {
	tags, err := tagcodec.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload tags: %w", err)
	}
	gwTags := make([]giftwrap.Tag, 0, len(tags))
	for _, t := range tags {
		gwTags = append(gwTags, giftwrap.Tag{t.Key, t.Value})
	}

	wrap, err := giftwrap.Wrap(sender, recipientPubkeyHex, giftwrap.Rumor{
		Kind: giftwrap.KindPrivateDirectMessage,
		Tags: gwTags,
	})
	if err != nil {
		return fmt.Errorf("gift wrap payload: %w", err)
	}
	return pool.Publish(wrap)
}
