// Package health implements §4.F's Health Watcher: a periodic probe loop
// that publishes the ad if none is active yet, republishes it whenever its
// terms have drifted, and deactivates it the moment the node backend is
// unreachable or out of sync, waiting for it to recover before republishing.
// Grounded on original_source/publsp/cli/lsputils.py's HealthChecker.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/internal/adlifecycle"
	"github.com/lndlease/publsp-go/internal/lnnode"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/pkg/logger"
)

// Watcher owns the periodic probe loop.
type Watcher struct {
	ads      *adlifecycle.Manager
	backend  lnnode.Backend
	interval time.Duration
}

func New(ads *adlifecycle.Manager, backend lnnode.Backend, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Watcher{ads: ads, backend: backend, interval: interval}
}

// Run blocks, probing the node on a ticker until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("health watcher stopped")
			return
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

func (w *Watcher) probe(ctx context.Context) {
	logger.Debug("running ln node health check")

	status, err := w.backend.CheckConnection(ctx)
	if err != nil {
		logger.Error("health check failed", zap.Error(err))
		w.deactivateIfActive(ctx)
		return
	}

	if !status.Healthy || !status.SyncedToChain || !status.SyncedToGraph {
		logger.Warn("ln node connection not healthy",
			zap.Bool("healthy", status.Healthy),
			zap.Bool("synced_to_chain", status.SyncedToChain),
			zap.Bool("synced_to_graph", status.SyncedToGraph))
		w.deactivateIfActive(ctx)
		return
	}

	active := w.ads.Active()
	if active == nil {
		if _, err := w.ads.Publish(ctx, offer.StatusActive); err != nil {
			logger.Error("no ad currently published and could not publish one", zap.Error(err))
		}
		return
	}

	if active.Status != offer.StatusActive {
		logger.Info("republishing ad now that node is healthy again")
		if _, err := w.ads.Publish(ctx, offer.StatusActive); err != nil {
			logger.Error("failed to republish ad", zap.Error(err))
		}
		return
	}

	terms, ok, err := w.ads.ComputeTerms(ctx)
	if err != nil {
		logger.Warn("failed to compute current ad terms for drift check", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if terms.MaxChannelBalanceSat != active.MaxChannelBalanceSat || terms.FixedCostSats != active.FixedCostSats {
		logger.Info("ad terms have drifted, republishing",
			zap.Int64("old_max_channel_balance_sat", active.MaxChannelBalanceSat),
			zap.Int64("new_max_channel_balance_sat", terms.MaxChannelBalanceSat),
			zap.Int64("old_fixed_cost_sats", active.FixedCostSats),
			zap.Int64("new_fixed_cost_sats", terms.FixedCostSats))
		if _, err := w.ads.Publish(ctx, offer.StatusActive); err != nil {
			logger.Error("failed to republish ad after terms drift", zap.Error(err))
		}
	}
}

func (w *Watcher) deactivateIfActive(ctx context.Context) {
	active := w.ads.Active()
	if active == nil || active.Status != offer.StatusActive {
		return
	}
	logger.Warn("deactivating ad until ln node becomes healthy again")
	if err := w.ads.Inactivate(ctx); err != nil {
		logger.Error("could not inactivate ad", zap.Error(err))
	}
}
