// Package discovery implements §4.I's Ad Discovery & Cost Planner: pull
// every live offer ad off the relay pool and rank them by the cost of
// leasing a given capacity. Grounded on
// original_source/publsp/marketplace/base.py's
// MarketplaceAgent.get_ad_info/filter_ad_events/parse_filtered_ads and
// original_source/publsp/marketplace/customer.py's
// summarise_channel_prices.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/internal/adlifecycle"
	"github.com/lndlease/publsp-go/internal/giftwrap"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/tagcodec"
	"github.com/lndlease/publsp-go/pkg/logger"
)

var requiredOfferKeys = tagcodec.RequiredKeys(offer.Offer{})

// DefaultWindow is how long Refresh waits to collect offer events before
// giving up and returning what it has (§4.I: "bounded time window, e.g.
// 10s").
const DefaultWindow = 10 * time.Second

// Planner discovers offer ads published on the relay pool.
type Planner struct {
	pool *relay.Pool
}

func New(pool *relay.Pool) *Planner {
	return &Planner{pool: pool}
}

type pair struct {
	lspPubkey string
	offerID   string
}

// Refresh issues a bounded relay query for offer ad events, keeps only
// events whose tag keyset is a superset of every Offer field, drops
// status=inactive, and keeps the newest event per (lsp_pubkey, offer_id)
// pair before decoding the survivors into Offers.
func (p *Planner) Refresh(ctx context.Context) ([]offer.Offer, error) {
	return p.refresh(ctx, DefaultWindow)
}

func (p *Planner) refresh(ctx context.Context, window time.Duration) ([]offer.Offer, error) {
	subID := fmt.Sprintf("discovery-%d", time.Now().UnixNano())
	if err := p.pool.Subscribe(subID, relay.Filter{Kinds: []int{adlifecycle.KindOfferAd}}); err != nil {
		return nil, fmt.Errorf("subscribe offer ads: %w", err)
	}
	defer func() {
		if err := p.pool.Unsubscribe(subID); err != nil {
			logger.Warn("failed to unsubscribe discovery query", zap.Error(err))
		}
	}()

	wctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	latest := map[pair]giftwrap.Event{}
collect:
	for {
		select {
		case <-wctx.Done():
			break collect
		case msg := <-p.pool.Inbound():
			ev, ok := parseEventFrame(msg, subID)
			if !ok {
				continue
			}
			if ev.Kind != adlifecycle.KindOfferAd {
				continue
			}
			keep(latest, ev)
		}
	}

	offers := make([]offer.Offer, 0, len(latest))
	for _, ev := range latest {
		var o offer.Offer
		tags := make([]tagcodec.Tag, 0, len(ev.Tags))
		for _, t := range ev.Tags {
			if len(t) >= 2 {
				tags = append(tags, tagcodec.Tag{Key: t[0], Value: t[1]})
			}
		}
		if err := tagcodec.Decode(tags, &o); err != nil {
			logger.Warn("failed to decode offer ad tags", zap.Error(err))
			continue
		}
		offers = append(offers, o)
	}
	return offers, nil
}

// keep applies the superset/status/newest-wins filtering rules directly
// against the raw event, matching filter_ad_events.
func keep(latest map[pair]giftwrap.Event, ev giftwrap.Event) {
	tagMap := make(map[string]string, len(ev.Tags))
	for _, t := range ev.Tags {
		if len(t) >= 2 {
			tagMap[t[0]] = t[1]
		}
	}

	have := make(map[string]struct{}, len(tagMap))
	for k := range tagMap {
		have[k] = struct{}{}
	}
	if !tagcodec.Subset(requiredOfferKeys, have) {
		return
	}
	if tagMap["status"] == offer.StatusInactive {
		return
	}
	lspPubkey, offerID := tagMap["lsp_pubkey"], tagMap["d"]
	if lspPubkey == "" || offerID == "" {
		return
	}

	key := pair{lspPubkey: lspPubkey, offerID: offerID}
	if prev, ok := latest[key]; !ok || ev.CreatedAt > prev.CreatedAt {
		latest[key] = ev
	}
}

// parseEventFrame extracts an EVENT frame matching subID, expecting
// ["EVENT", subID, event].
func parseEventFrame(msg relay.Message, subID string) (giftwrap.Event, bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg.Raw, &frame); err != nil || len(frame) < 3 {
		return giftwrap.Event{}, false
	}
	var frameType, frameSubID string
	if err := json.Unmarshal(frame[0], &frameType); err != nil || frameType != "EVENT" {
		return giftwrap.Event{}, false
	}
	if err := json.Unmarshal(frame[1], &frameSubID); err == nil && frameSubID != subID {
		return giftwrap.Event{}, false
	}
	var ev giftwrap.Event
	if err := json.Unmarshal(frame[2], &ev); err != nil {
		return giftwrap.Event{}, false
	}
	return ev, true
}

// CostEstimate is one Offer's priced-out terms for a requested capacity
// (§4.I cost_breakdown).
type CostEstimate struct {
	Offer         offer.Offer
	TotalFeeSat   int64
	TotalCostSat  int64
	SatsPerBlock  float64
	APRPercent    float64
}

// CostBreakdown prices capacity against every offer whose
// [min_channel_balance_sat, max_channel_balance_sat] range covers it,
// pricing at the offer's max_channel_expiry_blocks, and returns the
// result sorted ascending by total cost (§4.I).
func CostBreakdown(offers []offer.Offer, capacity int64) []CostEstimate {
	estimates := make([]CostEstimate, 0, len(offers))
	for _, o := range offers {
		if capacity < o.MinChannelBalanceSat || capacity > o.MaxChannelBalanceSat {
			continue
		}
		// No client/lsp balance split is known yet at discovery time, so
		// the priced lease cost is just the fee itself (summarise_channel_prices'
		// total_lease_cost), not offer.TotalCost's order-total.
		fee := offer.Price(o.FixedCostSats, o.VariableCostPpm, capacity, o.MaxChannelExpiryBlocks, o.MaxChannelExpiryBlocks)
		cost := fee
		var satsPerBlock float64
		if o.MaxChannelExpiryBlocks > 0 {
			satsPerBlock = float64(cost) / float64(o.MaxChannelExpiryBlocks)
		}
		estimates = append(estimates, CostEstimate{
			Offer:        o,
			TotalFeeSat:  fee,
			TotalCostSat: cost,
			SatsPerBlock: satsPerBlock,
			APRPercent:   offer.APRPercent(o.FixedCostSats, o.VariableCostPpm, capacity, o.MaxChannelExpiryBlocks),
		})
	}
	sort.Slice(estimates, func(i, j int) bool { return estimates[i].TotalCostSat < estimates[j].TotalCostSat })
	return estimates
}
