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

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/config"
	"github.com/lndlease/publsp-go/internal/adlifecycle"
	"github.com/lndlease/publsp-go/internal/events"
	"github.com/lndlease/publsp-go/internal/health"
	"github.com/lndlease/publsp-go/internal/leaselog"
	"github.com/lndlease/publsp-go/internal/lnnode"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/orchestrator"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/rumor"
	"github.com/lndlease/publsp-go/pkg/cache"
	"github.com/lndlease/publsp-go/pkg/logger"
	"github.com/lndlease/publsp-go/pkg/queue"
)

var Cfg config.LspConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("lspd.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := nostrid.NewStore(Cfg.Identity.KeyFile)
	self, err := nostrid.LoadOrGenerate(store, nostrid.RoleLSP, Cfg.Identity.Reuse, Cfg.Identity.Persist, Cfg.Identity.Passphrase, "lspd startup")
	if err != nil {
		return fmt.Errorf("failed to load or generate lsp identity: %w", err)
	}
	logger.Info("lsp identity ready", zap.String("pubkey", self.PubkeyHex()))

	pool := relay.NewPool(256)
	defer pool.Close()
	pool.Connect(ctx, Cfg.Relays.URLs)

	var nodeCfg lnnode.Config
	if err := copier.Copy(&nodeCfg, &Cfg.Node); err != nil {
		return fmt.Errorf("failed to copy node config: %w", err)
	}
	backend, err := lnnode.NewLND(ctx, nodeCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to lnd: %w", err)
	}
	defer backend.Close()

	if err := backend.VerifyPermissions(ctx, lnnode.RequiredPermissionURIs); err != nil {
		return fmt.Errorf("macaroon permission check failed: %w", err)
	}
	logger.Info("macaroon permissions verified", zap.Int("required_uris", len(lnnode.RequiredPermissionURIs)))

	var adDefaults adlifecycle.Defaults
	if err := copier.Copy(&adDefaults, &Cfg.Ad); err != nil {
		return fmt.Errorf("failed to copy ad defaults: %w", err)
	}
	ads := adlifecycle.New(pool, self, backend, adDefaults)

	if _, err := ads.Publish(ctx, offer.StatusActive); err != nil {
		logger.Error("failed to publish initial ad", zap.Error(err))
	}

	router := rumor.New(pool, self)
	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("failed to start rumor router: %w", err)
	}

	leases := leaselog.New(Cfg.Leases.LogPath)

	streamQueue := queue.NewStreamQueue(cache.Client)
	publisher := events.New(streamQueue)
	if err := publisher.Declare(ctx, Cfg.Events.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to declare lease event stream: %w", err)
	}

	var orchCfg orchestrator.Config
	if err := copier.Copy(&orchCfg, &Cfg.Orchestrator); err != nil {
		return fmt.Errorf("failed to copy orchestrator config: %w", err)
	}
	orch := orchestrator.New(pool, self, backend, ads, router, leases, publisher, orchCfg)
	go orch.Run(ctx)

	watcher := health.New(ads, backend, Cfg.Health.Interval)
	go watcher.Run(ctx)

	logger.Info("lspd is running",
		zap.Strings("relays", Cfg.Relays.URLs),
		zap.String("lsp_pubkey", self.PubkeyHex()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	if err := ads.Inactivate(ctx); err != nil {
		logger.Warn("failed to inactivate ad on shutdown", zap.Error(err))
	}

	cancel()
	time.Sleep(3 * time.Second)
	logger.Info("lspd shut down gracefully")

	return nil
}
