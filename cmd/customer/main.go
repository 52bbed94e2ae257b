package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"

	"github.com/lndlease/publsp-go/config"
	"github.com/lndlease/publsp-go/internal/discovery"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/rumor"
	"github.com/lndlease/publsp-go/internal/validator"
	"github.com/lndlease/publsp-go/pkg/logger"
)

var Cfg config.CustomerConfig

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// deps bundles the identity, relay pool, and rumor router every
// subcommand needs, built once in the root command's PersistentPreRunE
// and torn down in PersistentPostRunE, mirroring customercli.py's
// CustomerCLI.startup/shutdown.
type deps struct {
	ctx    context.Context
	cancel context.CancelFunc
	self   *nostrid.KeyPair
	pool   *relay.Pool
	router *rumor.Router
	net    *chaincfg.Params
}

func newRootCommand() *cobra.Command {
	var d deps

	root := &cobra.Command{
		Use:   "publsp-customer",
		Short: "Discover inbound-liquidity offers and lease a channel from an LSP",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(&d)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			teardown(&d)
			return nil
		},
	}

	root.AddCommand(newDiscoverCommand(&d))
	root.AddCommand(newBreakdownCommand(&d))
	root.AddCommand(newOrderCommand(&d))
	return root
}

func setup(d *deps) error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("customer.toml")
	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	store := nostrid.NewStore(Cfg.Identity.KeyFile)
	self, err := nostrid.LoadOrGenerate(store, nostrid.RoleCustomer, Cfg.Identity.Reuse, Cfg.Identity.Persist, Cfg.Identity.Passphrase, "customer cli startup")
	if err != nil {
		cancel()
		return fmt.Errorf("failed to load or generate customer identity: %w", err)
	}

	pool := relay.NewPool(256)
	pool.Connect(ctx, Cfg.Relays.URLs)

	router := rumor.New(pool, self)
	if err := router.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start rumor router: %w", err)
	}

	net, err := networkParams(Cfg.Order.Network)
	if err != nil {
		cancel()
		return err
	}

	*d = deps{ctx: ctx, cancel: cancel, self: self, pool: pool, router: router, net: net}
	return nil
}

func teardown(d *deps) {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.cancel != nil {
		d.cancel()
	}
	logger.Sync()
}

func networkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

func newDiscoverCommand(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List every currently active liquidity offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			planner := discovery.New(d.pool)
			wctx, cancel := context.WithTimeout(d.ctx, Cfg.Discovery.Window)
			defer cancel()
			offers, err := planner.Refresh(wctx)
			if err != nil {
				return fmt.Errorf("refresh offers: %w", err)
			}
			if len(offers) == 0 {
				fmt.Println("no offers discovered")
				return nil
			}
			for _, o := range offers {
				fmt.Printf("%s  lsp=%s  capacity=[%d,%d] sat  fixed_cost=%d sat  variable_cost=%d ppm\n",
					o.ID, o.LspPubkey, o.MinChannelBalanceSat, o.MaxChannelBalanceSat, o.FixedCostSats, o.VariableCostPpm)
			}
			return nil
		},
	}
}

func newBreakdownCommand(d *deps) *cobra.Command {
	var capacity int64
	cmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Rank discovered offers by the cost of leasing a given capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			planner := discovery.New(d.pool)
			wctx, cancel := context.WithTimeout(d.ctx, Cfg.Discovery.Window)
			defer cancel()
			offers, err := planner.Refresh(wctx)
			if err != nil {
				return fmt.Errorf("refresh offers: %w", err)
			}
			estimates := discovery.CostBreakdown(offers, capacity)
			if len(estimates) == 0 {
				fmt.Println("no offers cover that capacity")
				return nil
			}
			for _, e := range estimates {
				fmt.Printf("%s  lsp=%s  total_cost=%d sat  sats_per_block=%.4f  apr=%.2f%%\n",
					e.Offer.ID, e.Offer.LspPubkey, e.TotalCostSat, e.SatsPerBlock, e.APRPercent)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&capacity, "capacity", 0, "requested channel capacity in sats")
	cmd.MarkFlagRequired("capacity")
	return cmd
}

func newOrderCommand(d *deps) *cobra.Command {
	var (
		offerID         string
		lspPubkey       string
		targetURI       string
		lspBalance      int64
		clientBalance   int64
		expiryBlocks    int64
		requiredConfs   int64
		confirmsWithin  int64
		announceChannel bool
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place a channel lease order against a discovered offer and wait for the LSP's response",
		RunE: func(cmd *cobra.Command, args []string) error {
			planner := discovery.New(d.pool)
			wctx, cancel := context.WithTimeout(d.ctx, Cfg.Discovery.Window)
			defer cancel()
			offers, err := planner.Refresh(wctx)
			if err != nil {
				return fmt.Errorf("refresh offers: %w", err)
			}

			var ad *offer.Offer
			for i := range offers {
				if offers[i].ID == offerID && offers[i].LspPubkey == lspPubkey {
					ad = &offers[i]
					break
				}
			}
			if ad == nil {
				return fmt.Errorf("offer %s from lsp %s not found", offerID, lspPubkey)
			}

			order := offer.Order{
				OfferID:                      offerID,
				TargetPubkeyURI:              targetURI,
				LspBalanceSat:                lspBalance,
				ClientBalanceSat:             clientBalance,
				RequiredChannelConfirmations: requiredConfs,
				FundingConfirmsWithinBlocks:  confirmsWithin,
				ChannelExpiryBlocks:          expiryBlocks,
				AnnounceChannel:              announceChannel,
			}
			if err := offer.Validate(order, *ad); err != nil {
				return fmt.Errorf("order does not satisfy offer terms: %w", err)
			}

			if err := rumor.Send(d.pool, d.self, lspPubkey, order); err != nil {
				return fmt.Errorf("send order request: %w", err)
			}
			fmt.Println("order sent, waiting for response...")

			respCtx, cancelResp := context.WithTimeout(d.ctx, Cfg.Order.ResponseTimeout)
			defer cancelResp()

			for {
				select {
				case <-respCtx.Done():
					return fmt.Errorf("timed out waiting for order response")
				case msg := <-d.router.OrderResponses():
					if msg.SenderPubkey != lspPubkey {
						continue
					}
					if msg.ErrorResp != nil {
						return fmt.Errorf("order rejected: code=%d message=%s", msg.ErrorResp.Code, msg.ErrorResp.ErrorMessage)
					}
					if msg.Response == nil {
						continue
					}
					if err := validator.Validate(d.net, *msg.Response, *ad, order); err != nil {
						return fmt.Errorf("lsp response failed validation: %w", err)
					}
					fmt.Printf("order accepted, pay invoice: %s\n", msg.Response.Payment.Bolt11.Invoice)
					return watchChannelUpdates(d, msg.Response.OrderID)
				}
			}
		},
	}

	cmd.Flags().StringVar(&offerID, "offer-id", "", "offer identifier from discover")
	cmd.Flags().StringVar(&lspPubkey, "lsp-pubkey", "", "LSP's transport pubkey from discover")
	cmd.Flags().StringVar(&targetURI, "target-pubkey-uri", "", "your node's pubkey@host:port the LSP should connect to")
	cmd.Flags().Int64Var(&lspBalance, "lsp-balance", 0, "requested LSP-side balance in sats")
	cmd.Flags().Int64Var(&clientBalance, "client-balance", 0, "requested client-side balance in sats")
	cmd.Flags().Int64Var(&expiryBlocks, "expiry-blocks", 0, "requested channel lease duration in blocks")
	cmd.Flags().Int64Var(&requiredConfs, "required-confirmations", 0, "confirmations required before the channel is usable")
	cmd.Flags().Int64Var(&confirmsWithin, "confirms-within-blocks", 6, "blocks the funding transaction must confirm within")
	cmd.Flags().BoolVar(&announceChannel, "announce", false, "announce the channel publicly")
	for _, name := range []string{"offer-id", "lsp-pubkey", "target-pubkey-uri"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

// watchChannelUpdates prints every streamed channel-open update for
// orderID until the channel opens, closes, or four times the configured
// order response timeout elapses, whichever comes first.
func watchChannelUpdates(d *deps, orderID string) error {
	timeout := time.NewTimer(Cfg.Order.ResponseTimeout * 4)
	defer timeout.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return nil
		case <-timeout.C:
			fmt.Println("stopped watching for channel updates")
			return nil
		case msg := <-d.router.ChannelUpdates():
			if msg.Update.OrderID != orderID {
				continue
			}
			fmt.Printf("channel update: %s\n", msg.Update.ChannelState)
			if msg.Update.ChannelState == offer.ChannelOpen || msg.Update.ChannelState == offer.ChannelClosed {
				return nil
			}
		}
	}
}
