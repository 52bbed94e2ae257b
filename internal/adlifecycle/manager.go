// Package adlifecycle implements §4.E's Ad Lifecycle Manager: publish,
// inactivate, and hot-reload an LSP's liquidity offer, with the
// solvency-adjusted balance cap and UTXO spend-cost accounting. Grounded
// on original_source/publsp/marketplace/lsp.py's AdHandler
// (generate_ad_id/build_ad/publish_ad/update_ad_events) and
// ln/utils.py's spend_all_cost for the solvency cap.
package adlifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/internal/giftwrap"
	"github.com/lndlease/publsp-go/internal/lnnode"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/pspErr"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/tagcodec"
	"github.com/lndlease/publsp-go/pkg/logger"
)

// KindOfferAd is the custom Nostr event kind LSPs publish offers under
// (§6), matching publsp.nostr.kinds.PublspKind.AD.
const KindOfferAd = 39735

// Defaults holds the operator-configured terms a published ad advertises.
// Field names mirror offer.Offer so a config loader can copy them in
// directly, plus the solvency-adjustment knobs §4.E point 3/4/5 describe.
type Defaults struct {
	MinRequiredChannelConfirmations int64
	MinFundingConfirmsWithinBlocks  int64
	SupportsZeroChannelReserve      bool
	MaxChannelExpiryBlocks          int64
	MinInitialClientBalanceSat      int64
	MaxInitialClientBalanceSat      int64
	MinInitialLspBalanceSat         int64
	MaxInitialLspBalanceSat         int64
	MinChannelBalanceSat            int64
	MaxChannelBalanceSat            int64
	FixedCostSats                   int64
	VariableCostPpm                 int64
	MaxPromisedFeeRate              int64
	MaxPromisedBaseFee              int64
	LspMessage                      string

	// SumUtxosAsMaxCapacity, if set, advertises the entire solvency-adjusted
	// spendable amount as max_channel_balance_sat rather than bucketing it.
	SumUtxosAsMaxCapacity bool
	// ChannelMaxBucketSat rounds a solvency-reduced max_channel_balance_sat
	// down to the nearest multiple of this, e.g. 1_000_000.
	ChannelMaxBucketSat int64

	// DynamicFixedCost replaces FixedCostSats with a chain-fee-derived
	// value each publish.
	DynamicFixedCost      bool
	FixedCostConfTarget   int32
	FixedCostVbMultiplier float64

	// IncludeNodeSig asks the node to sign the transport identity pubkey
	// and attaches the signature to the published offer.
	IncludeNodeSig bool
}

// Manager owns the single currently-published ad and (re)publishes it,
// mirroring AdHandler.active_ads.
type Manager struct {
	pool     *relay.Pool
	identity *nostrid.KeyPair
	backend  lnnode.Backend
	defaults Defaults

	mu       sync.RWMutex
	activeAd *offer.Offer
	activeID string
}

func New(pool *relay.Pool, identity *nostrid.KeyPair, backend lnnode.Backend, defaults Defaults) *Manager {
	return &Manager{pool: pool, identity: identity, backend: backend, defaults: defaults}
}

// Active returns the currently published ad, or nil if none has been
// published yet.
func (m *Manager) Active() *offer.Offer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeAd
}

// solvencyAdjustedMaxChannelBalance computes the live-solvency-adjusted
// max_channel_balance_sat per §4.E point 3: spendable = confirmed utxos -
// required_reserve - estimated_spend_all_cost(utxos, 2 outputs, fee_rate).
// ok is false when spendable has dropped below MinChannelBalanceSat, in
// which case the ad must not be published.
func (m *Manager) solvencyAdjustedMaxChannelBalance(ctx context.Context) (max int64, ok bool, err error) {
	utxos, err := m.backend.ListUTXOs(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("list utxos: %w", err)
	}
	reserve, err := m.backend.GetReserve(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("get required reserve: %w", err)
	}
	feeRate, err := m.backend.EstimateChainFeeRate(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("estimate chain fee rate: %w", err)
	}

	var confirmed int64
	for _, u := range utxos {
		if u.Confirmations > 0 {
			confirmed += u.AmountSat
		}
	}
	spendCost := lnnode.SpendAllCost(utxos, feeRate, 2)
	spendable := confirmed - reserve - spendCost

	if spendable < m.defaults.MinChannelBalanceSat {
		return 0, false, nil
	}

	switch {
	case m.defaults.SumUtxosAsMaxCapacity:
		return spendable, true, nil
	case spendable < m.defaults.MaxChannelBalanceSat:
		bucket := m.defaults.ChannelMaxBucketSat
		if bucket <= 0 {
			return spendable, true, nil
		}
		return (spendable / bucket) * bucket, true, nil
	default:
		return m.defaults.MaxChannelBalanceSat, true, nil
	}
}

// fixedCost returns the configured fixed cost, or a chain-fee-derived value
// when DynamicFixedCost is set (§4.E point 4), falling back to the static
// value on any estimation failure.
func (m *Manager) fixedCost(ctx context.Context) int64 {
	if !m.defaults.DynamicFixedCost {
		return m.defaults.FixedCostSats
	}
	feeRate, err := m.backend.EstimateChainFeeRate(ctx)
	if err != nil {
		logger.Warn("dynamic fixed cost estimation failed, using configured static value", zap.Error(err))
		return m.defaults.FixedCostSats
	}
	return int64(feeRate * m.defaults.FixedCostVbMultiplier)
}

// Terms is the subset of a published ad's fields that can drift between
// publishes purely from node-side conditions, independent of any order
// traffic (§4.F point 3).
type Terms struct {
	MaxChannelBalanceSat int64
	FixedCostSats        int64
}

// ComputeTerms resolves what Publish would advertise right now without
// actually publishing, so a caller can detect solvency or dynamic-fee
// drift before deciding to republish. ok is false when spendable balance
// has dropped below MinChannelBalanceSat, mirroring Publish's own
// not-publishable case.
func (m *Manager) ComputeTerms(ctx context.Context) (terms Terms, ok bool, err error) {
	maxChannelBalance, ok, err := m.solvencyAdjustedMaxChannelBalance(ctx)
	if err != nil {
		return Terms{}, false, fmt.Errorf("compute solvency-adjusted max channel balance: %w", err)
	}
	if !ok {
		return Terms{}, false, nil
	}
	return Terms{MaxChannelBalanceSat: maxChannelBalance, FixedCostSats: m.fixedCost(ctx)}, true, nil
}

// Publish builds and publishes the ad event, replacing any previously
// active one. status lets callers publish an "inactive" tombstone instead
// of deleting the event, matching update_ad_events's preference for
// republishing over relying on relay deletion support.
func (m *Manager) Publish(ctx context.Context, status string) (offer.Offer, error) {
	nodeID, err := m.backend.GetNodeID(ctx)
	if err != nil {
		return offer.Offer{}, fmt.Errorf("get node id: %w", err)
	}
	props, err := m.backend.GetNodeProperties(ctx)
	if err != nil {
		return offer.Offer{}, fmt.Errorf("get node properties: %w", err)
	}

	maxChannelBalance, ok, err := m.solvencyAdjustedMaxChannelBalance(ctx)
	if err != nil {
		logger.Warn("solvency cap computation failed, falling back to configured max", zap.Error(err))
		maxChannelBalance, ok = m.defaults.MaxChannelBalanceSat, true
	}
	if !ok {
		logger.Warn("spendable balance below min_channel_balance_sat, not publishing")
		if active := m.Active(); active != nil && active.Status == offer.StatusActive {
			if _, err := m.publish(ctx, nodeID, props, offer.StatusInactive, active.MaxChannelBalanceSat, active.FixedCostSats); err != nil {
				return offer.Offer{}, fmt.Errorf("deactivate ad after solvency drop: %w", err)
			}
		}
		return offer.Offer{}, pspErr.New(pspErr.InvalidParams, "spendable balance below min_channel_balance_sat")
	}

	return m.publish(ctx, nodeID, props, status, maxChannelBalance, m.fixedCost(ctx))
}

// publish builds, signs, and sends the ad event for an already-resolved
// maxChannelBalance/fixedCost pair, and records it as the active ad.
func (m *Manager) publish(ctx context.Context, nodeID lnnode.NodeID, props lnnode.NodeProperties, status string, maxChannelBalance, fixedCost int64) (offer.Offer, error) {
	ad := offer.Offer{
		ID:                              offer.DeriveID(nodeID.Pubkey),
		LspPubkey:                       nodeID.Pubkey,
		Status:                          status,
		MinRequiredChannelConfirmations: m.defaults.MinRequiredChannelConfirmations,
		MinFundingConfirmsWithinBlocks:  m.defaults.MinFundingConfirmsWithinBlocks,
		SupportsZeroChannelReserve:      m.defaults.SupportsZeroChannelReserve,
		MaxChannelExpiryBlocks:          m.defaults.MaxChannelExpiryBlocks,
		MinInitialClientBalanceSat:      m.defaults.MinInitialClientBalanceSat,
		MaxInitialClientBalanceSat:      m.defaults.MaxInitialClientBalanceSat,
		MinInitialLspBalanceSat:         m.defaults.MinInitialLspBalanceSat,
		MaxInitialLspBalanceSat:         m.defaults.MaxInitialLspBalanceSat,
		MinChannelBalanceSat:            m.defaults.MinChannelBalanceSat,
		MaxChannelBalanceSat:            maxChannelBalance,
		FixedCostSats:                   fixedCost,
		VariableCostPpm:                 m.defaults.VariableCostPpm,
		MaxPromisedFeeRate:              m.defaults.MaxPromisedFeeRate,
		MaxPromisedBaseFee:              m.defaults.MaxPromisedBaseFee,
	}

	if m.defaults.IncludeNodeSig {
		sig, err := m.backend.SignMessage(ctx, []byte(m.identity.PubkeyHex()))
		if err != nil {
			logger.Warn("node signature of transport pubkey failed, publishing unsigned", zap.Error(err))
		} else {
			ad.LspPubkeySig = &sig
		}
	}

	tags, err := tagcodec.Encode(ad)
	if err != nil {
		return offer.Offer{}, fmt.Errorf("encode ad tags: %w", err)
	}
	gwTags := make([]giftwrap.Tag, 0, len(tags))
	for _, t := range tags {
		gwTags = append(gwTags, giftwrap.Tag{t.Key, t.Value})
	}

	content := offer.AdContent{
		LspMessage: m.defaults.LspMessage,
		NodeStats: offer.NodeStats{
			Pubkey:            nodeID.Pubkey,
			Alias:             nodeID.Alias,
			TotalCapacity:     props.TotalCapacity,
			NumChannels:       props.NumChannels,
			MedianOutboundPPM: props.MedianOutboundPPM,
			MedianInboundPPM:  props.MedianInboundPPM,
		},
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return offer.Offer{}, fmt.Errorf("marshal ad content: %w", err)
	}

	event := &giftwrap.Event{Kind: KindOfferAd, Tags: gwTags, Content: string(contentJSON)}
	if err := giftwrap.Sign(event, m.identity); err != nil {
		return offer.Offer{}, fmt.Errorf("sign ad event: %w", err)
	}
	if err := m.pool.Publish(event); err != nil {
		return offer.Offer{}, fmt.Errorf("publish ad event: %w", err)
	}

	m.mu.Lock()
	m.activeAd = &ad
	m.activeID = event.ID
	m.mu.Unlock()

	logger.Info("published ad", zap.String("ad_id", ad.ID), zap.String("status", status))
	return ad, nil
}

// Inactivate republishes the active ad with status "inactive" instead of
// requesting relay-side deletion, since relays may not honor deletion
// requests (update_ad_events's stated rationale).
func (m *Manager) Inactivate(ctx context.Context) error {
	if m.Active() == nil {
		return nil
	}
	_, err := m.Publish(ctx, offer.StatusInactive)
	return err
}

// ReloadRelays adds newly configured relays to the pool without
// disconnecting ones no longer listed, matching NostrClient.reload_relays.
func (m *Manager) ReloadRelays(ctx context.Context, urls []string) {
	m.pool.Reload(ctx, urls)
}
