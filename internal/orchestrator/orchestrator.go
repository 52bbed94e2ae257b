// Package orchestrator implements §4.G's LSP Order Orchestrator: the
// central per-order state machine that turns a validated Order into a
// hodl invoice, waits for it to reach HOLD, opens the funding channel,
// and settles or refunds depending on how the channel open resolves.
// Grounded on original_source/publsp/marketplace/lsp.py's OrderHandler
// (verify_order_and_connection/get_order_costs/_prepare_order/
// _payment_listener/_channel_open_listener/process_payment_and_channel_open/
// _handle_channel_request/_listen).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/internal/adlifecycle"
	"github.com/lndlease/publsp-go/internal/events"
	"github.com/lndlease/publsp-go/internal/leaselog"
	"github.com/lndlease/publsp-go/internal/lnnode"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/preimage"
	"github.com/lndlease/publsp-go/internal/pspErr"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/rumor"
	"github.com/lndlease/publsp-go/pkg/logger"
)

// Config holds the orchestrator's tunables; everything else comes from
// the active ad and the order itself.
type Config struct {
	// InvoiceExpiry is how long a hodl invoice stays payable (§4.G point 4).
	InvoiceExpiry time.Duration
	// ConnectTimeout bounds the non-permanent peer connect attempt
	// (§4.G point 3).
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InvoiceExpiry <= 0 {
		c.InvoiceExpiry = 1200 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	return c
}

// Orchestrator drives every accepted order's independent task. It shares
// the node backend across all of them, which must tolerate concurrent
// RPCs (§4.G "Concurrency").
type Orchestrator struct {
	pool    *relay.Pool
	self    *nostrid.KeyPair
	backend lnnode.Backend
	ads     *adlifecycle.Manager
	router  *rumor.Router
	leases  *leaselog.Log
	events  *events.Publisher
	cfg     Config
}

func New(pool *relay.Pool, self *nostrid.KeyPair, backend lnnode.Backend, ads *adlifecycle.Manager, router *rumor.Router, leases *leaselog.Log, pub *events.Publisher, cfg Config) *Orchestrator {
	return &Orchestrator{
		pool:    pool,
		self:    self,
		backend: backend,
		ads:     ads,
		router:  router,
		leases:  leases,
		events:  pub,
		cfg:     cfg.withDefaults(),
	}
}

// Run consumes order requests off the rumor router until ctx is
// cancelled, spawning one independent task per order (§4.G: "every
// accepted Order spawns an independent task; the orchestrator itself
// does not serialise orders").
func (o *Orchestrator) Run(ctx context.Context) {
	reqs := o.router.OrderRequests()
	for {
		select {
		case <-ctx.Done():
			logger.Info("order orchestrator stopped")
			return
		case msg, ok := <-reqs:
			if !ok {
				return
			}
			go o.handleOrder(ctx, msg)
		}
	}
}

// errorCodeOf maps the taxonomy code onto the wire-level OrderErrorCode
// enum, collapsing every code without a dedicated numeric slot onto
// connection_error, the closest thing to a generic node-failure bucket
// the wire format has (§7's unrecognised-failure rule).
func errorCodeOf(err error) offer.OrderErrorCode {
	switch pspErr.CodeOf(err) {
	case pspErr.InvalidParams:
		return offer.ErrCodeInvalidParams
	case pspErr.OptionMismatch:
		return offer.ErrCodeOptionMismatch
	case pspErr.ClientRejected:
		return offer.ErrCodeClientRejected
	default:
		return offer.ErrCodeConnectionError
	}
}

func (o *Orchestrator) sendError(senderPubkey string, err error) {
	resp := offer.OrderErrorResponse{Code: errorCodeOf(err), ErrorMessage: err.Error()}
	if sendErr := rumor.Send(o.pool, o.self, senderPubkey, resp); sendErr != nil {
		logger.Error("failed to send order error dm", zap.Error(sendErr), zap.String("to", senderPubkey))
	}
}

func (o *Orchestrator) sendUpdate(senderPubkey string, upd offer.ChannelUpdate) {
	if err := rumor.Send(o.pool, o.self, senderPubkey, upd); err != nil {
		logger.Error("failed to send channel update dm", zap.Error(err), zap.String("to", senderPubkey))
	}
}

// handleOrder drives a single order through [RECV] -> ... -> end,
// mirroring _handle_channel_request end to end.
func (o *Orchestrator) handleOrder(ctx context.Context, msg rumor.OrderRequestMsg) {
	order := msg.Order
	log := logger.With(zap.String("customer", msg.SenderPubkey), zap.String("offer_id", order.OfferID))
	log.Info("received order request")

	// [RECV] --validate-->
	ad := o.ads.Active()
	if ad == nil {
		o.sendError(msg.SenderPubkey, pspErr.New(pspErr.OptionMismatch, "no active offer"))
		return
	}
	if err := offer.Validate(order, *ad); err != nil {
		log.Warn("order failed validation", zap.Error(err))
		o.sendError(msg.SenderPubkey, err)
		return
	}

	// [CHECK_SOLVENCY]
	if err := o.checkSolvency(ctx, order); err != nil {
		log.Warn("order failed solvency check", zap.Error(err))
		o.sendError(msg.SenderPubkey, err)
		return
	}

	// [CONNECT_PEER]
	if err := o.connectPeer(ctx, order); err != nil {
		log.Warn("could not connect to target peer", zap.Error(err))
		o.sendError(msg.SenderPubkey, err)
		return
	}

	// [INVOICE]
	fee := offer.Price(ad.FixedCostSats, ad.VariableCostPpm, order.TotalCapacity(), order.ChannelExpiryBlocks, ad.MaxChannelExpiryBlocks)
	totalCost := offer.TotalCost(fee, order.ClientBalanceSat)

	pre, err := preimage.Generate()
	if err != nil {
		o.sendError(msg.SenderPubkey, pspErr.Wrap(pspErr.InvoiceError, "generate preimage", err))
		return
	}
	inv, err := o.backend.CreateHodlInvoice(ctx, pre.HashHex(), totalCost)
	if err != nil {
		o.sendError(msg.SenderPubkey, pspErr.Wrap(pspErr.InvoiceError, "create hodl invoice", err))
		return
	}

	payment := offer.Payment{Bolt11: offer.Bolt11{
		State:         offer.InvoiceExpectPayment,
		ExpiresAt:     time.Now().UTC().Add(o.cfg.InvoiceExpiry),
		FeeTotalSat:   fee,
		OrderTotalSat: totalCost,
		Invoice:       inv.PaymentRequest,
	}}
	resp := offer.FromOrder(order, payment)
	if err := rumor.Send(o.pool, o.self, msg.SenderPubkey, resp); err != nil {
		log.Error("failed to send order response dm", zap.Error(err))
		return
	}

	// [WAIT_HODL_ACCEPT]
	held, err := o.waitForHold(ctx, pre.HashHex())
	if err != nil {
		log.Warn("invoice subscription failed", zap.Error(err))
		return
	}
	if !held {
		log.Info("invoice subscription closed without reaching HOLD, letting it expire")
		return
	}

	// [OPEN_CHANNEL] -> [STREAM_UPDATES]
	o.openChannelAndSettle(ctx, msg.SenderPubkey, order, pre, fee, totalCost)
}

// checkSolvency refuses the order with invalid_params if the UTXO fetch
// fails or spendable funds can't cover the requested capacity (§4.G
// point 2).
func (o *Orchestrator) checkSolvency(ctx context.Context, order offer.Order) error {
	utxos, err := o.backend.ListUTXOs(ctx)
	if err != nil {
		return pspErr.Wrap(pspErr.InvalidParams, "list utxos", err)
	}
	reserve, err := o.backend.GetReserve(ctx)
	if err != nil {
		return pspErr.Wrap(pspErr.InvalidParams, "get required reserve", err)
	}
	feeRate, err := o.backend.EstimateChainFeeRate(ctx)
	if err != nil {
		return pspErr.Wrap(pspErr.InvalidParams, "estimate chain fee rate", err)
	}

	var spendable int64
	for _, u := range utxos {
		if u.Confirmations > 0 {
			spendable += u.AmountSat
		}
	}
	spendable -= reserve
	spendable -= lnnode.SpendAllCost(utxos, feeRate, 2)

	if spendable < order.TotalCapacity() {
		return pspErr.New(pspErr.InvalidParams, "spendable balance cannot cover requested capacity")
	}
	return nil
}

// connectPeer attempts a non-permanent connect to the order's target
// node URI, bounded by ConnectTimeout (§4.G point 3).
func (o *Orchestrator) connectPeer(ctx context.Context, order offer.Order) error {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()
	if err := o.backend.ConnectPeer(cctx, order.TargetPubkeyURI); err != nil {
		return pspErr.Wrap(pspErr.ConnectionError, fmt.Sprintf("could not connect to %s", order.TargetPubkeyURI), err)
	}
	return nil
}

// waitForHold subscribes to the invoice state stream and returns true
// only once HOLD is observed, false if the stream closes first (§4.G
// point 5).
func (o *Orchestrator) waitForHold(ctx context.Context, paymentHashHex string) (bool, error) {
	updates, err := o.backend.SubscribeHodlInvoice(ctx, paymentHashHex)
	if err != nil {
		return false, fmt.Errorf("subscribe hodl invoice: %w", err)
	}
	for upd := range updates {
		if offer.FromLND(upd.State) == offer.InvoiceHold {
			return true, nil
		}
	}
	return false, nil
}

// openChannelAndSettle drives [OPEN_CHANNEL] -> [STREAM_UPDATES] and its
// three terminal branches: PENDING republishes the ad, OPEN settles the
// invoice and records the lease, UNKNOWN/stream-end cancels the invoice
// (§4.G points 6-9).
func (o *Orchestrator) openChannelAndSettle(ctx context.Context, senderPubkey string, order offer.Order, pre preimage.Preimage, fee, totalCost int64) {
	log := logger.With(zap.String("customer", senderPubkey), zap.String("payment_hash", pre.HashHex()))

	req := lnnode.OpenChannelRequest{
		PeerPubkeyHex:  order.TargetPubkeyURI,
		LocalAmountSat: order.TotalCapacity(),
		PushAmountSat:  order.ClientBalanceSat,
		Private:        !order.AnnounceChannel,
	}
	updates, err := o.backend.OpenChannel(ctx, req)
	if err != nil {
		log.Error("open channel failed", zap.Error(err))
		o.refund(ctx, senderPubkey, pre.HashHex(), "failed to open channel")
		return
	}

	var lastFunding lnnode.ChannelUpdate
	sawOpen := false
	for upd := range updates {
		if upd.FundingTxidHex != "" {
			lastFunding = upd
		}
		state := offer.ChannelState(upd.State)
		o.sendUpdate(senderPubkey, offer.ChannelUpdate{OrderID: order.OfferID, ChannelState: state})

		switch state {
		case offer.ChannelPending:
			if _, err := o.ads.Publish(ctx, "active"); err != nil {
				log.Warn("failed to republish ad after PENDING", zap.Error(err))
			}
		case offer.ChannelOpen:
			sawOpen = true
		}
	}

	if !sawOpen {
		o.refund(ctx, senderPubkey, pre.HashHex(), "channel did not open")
		return
	}

	// [SETTLE_HODL] -> [RECORD_LEASE]
	if err := o.backend.SettleHodlInvoice(ctx, pre.Hex()); err != nil {
		log.Error("failed to settle hodl invoice", zap.Error(err))
		return
	}
	o.sendUpdate(senderPubkey, offer.ChannelUpdate{OrderID: order.OfferID, ChannelState: offer.ChannelOpen})

	startBlock, err := o.backend.GetBestBlock(ctx)
	if err != nil {
		log.Warn("failed to fetch best block for lease log, recording 0", zap.Error(err))
	}

	rec := leaselog.Record{
		PubkeyURI:           order.TargetPubkeyURI,
		LspBalanceSat:       order.LspBalanceSat,
		ClientBalanceSat:    order.ClientBalanceSat,
		TotalCapacity:       order.TotalCapacity(),
		ChannelExpiryBlocks: order.ChannelExpiryBlocks,
		LeaseStartBlock:     startBlock,
		LeaseEndBlock:       startBlock + order.ChannelExpiryBlocks,
		TotalFee:            fee,
		TotalCost:           totalCost,
		PaymentHash:         pre.HashHex(),
		ChannelPoint:        fmt.Sprintf("%s:%d", lastFunding.FundingTxidHex, lastFunding.FundingOutIndex),
	}
	if err := o.leases.Append(ctx, rec); err != nil {
		log.Error("failed to append lease record", zap.Error(err))
	} else if o.events != nil {
		o.events.Publish(ctx, rec)
	}

	if _, err := o.ads.Publish(ctx, "active"); err != nil {
		log.Warn("failed to republish ad after lease completion", zap.Error(err))
	}
}

// refund cancels the hodl invoice, releasing the customer's HTLC, and
// notifies them of the failure (§4.G point 9).
func (o *Orchestrator) refund(ctx context.Context, senderPubkey, paymentHashHex, reason string) {
	if err := o.backend.CancelHodlInvoice(ctx, paymentHashHex); err != nil {
		logger.Error("failed to cancel hodl invoice during refund", zap.Error(err), zap.String("payment_hash", paymentHashHex))
	}
	o.sendError(senderPubkey, pspErr.New(pspErr.ProtocolError, reason))
}
