// Package leaselog appends completed-lease records to a single JSON file,
// serialising concurrent writers with a Redis lock the way
// internal/card/service.go guards its treasury and per-card operations
// with cache.SetNX/cache.Delete (§6 lease log).
package leaselog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lndlease/publsp-go/pkg/cache"
	"github.com/lndlease/publsp-go/pkg/logger"
)

// Record is one completed lease, matching §6's literal lease log wire
// format exactly.
type Record struct {
	PubkeyURI           string `json:"pubkey_uri"`
	LspBalanceSat       int64  `json:"lsp_balance_sat"`
	ClientBalanceSat    int64  `json:"client_balance_sat"`
	TotalCapacity       int64  `json:"total_capacity"`
	ChannelExpiryBlocks int64  `json:"channel_expiry_blocks"`
	LeaseStartBlock     int64  `json:"lease_start_block"`
	LeaseEndBlock       int64  `json:"lease_end_block"`
	TotalFee            int64  `json:"total_fee"`
	TotalCost           int64  `json:"total_cost"`
	PaymentHash         string `json:"payment_hash"`
	ChannelPoint        string `json:"channel_point"`
}

type file struct {
	Leases []Record `json:"leases"`
}

const (
	lockKey = "leaselog:lock"
	lockTTL = 10 * time.Second
)

// Log appends Records to path, one file per process/deployment.
type Log struct {
	path string
}

func New(path string) *Log {
	return &Log{path: path}
}

// Append acquires the distributed lock, reads the current file (if any),
// appends rec, and writes the whole file back, matching §6's
// replace-whole-file-under-lock requirement.
func (l *Log) Append(ctx context.Context, rec Record) error {
	for {
		acquired, err := cache.SetNX(ctx, lockKey, "locked", lockTTL)
		if err != nil {
			return fmt.Errorf("acquire lease log lock: %w", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lease log lock: %w", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer func() {
		if _, err := cache.Delete(ctx, lockKey); err != nil {
			logger.Warn("failed to release lease log lock", zap.Error(err))
		}
	}()

	f, err := l.read()
	if err != nil {
		return fmt.Errorf("read lease log: %w", err)
	}
	f.Leases = append(f.Leases, rec)

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lease log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write lease log: %w", err)
	}

	logger.Info("appended lease record",
		zap.String("payment_hash", rec.PaymentHash),
		zap.String("channel_point", rec.ChannelPoint))
	return nil
}

func (l *Log) read() (file, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return file{}, nil
	}
	if err != nil {
		return file{}, err
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return file{}, err
	}
	return f, nil
}

// All returns every recorded lease, for inspection/reporting.
func (l *Log) All() ([]Record, error) {
	f, err := l.read()
	if err != nil {
		return nil, fmt.Errorf("read lease log: %w", err)
	}
	return f.Leases, nil
}
