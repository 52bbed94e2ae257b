//go:build integration

package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lndlease/publsp-go/internal/leaselog"
	"github.com/lndlease/publsp-go/internal/lnnode"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/pkg/cache"
	"github.com/lndlease/publsp-go/pkg/logger"
)

func init() {
	_ = logger.Init("development")
}

// TestOpenChannelAndSettleRecordsLeaseOnOpen exercises the full [OPEN] ->
// [SETTLE_HODL] -> [RECORD_LEASE] path (§4.G points 6/8) against a real
// leaselog.Log, whose Append needs Redis for its distributed lock.
func TestOpenChannelAndSettleRecordsLeaseOnOpen(t *testing.T) {
	cache.Client = redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 1})

	backend := &stubBackend{
		channelUpdates: []lnnode.ChannelUpdate{
			{State: "PENDING"},
			{State: "OPEN", FundingTxidHex: "abcd", FundingOutIndex: 0},
		},
	}
	o, _ := newOrchestrator(t, backend)
	_, err := o.ads.Publish(context.Background(), "active")
	require.NoError(t, err)

	o.leases = leaselog.New(filepath.Join(t.TempDir(), "leases.json"))

	customer, err := nostrid.Generate()
	require.NoError(t, err)
	pre := mustPreimage(t)

	o.openChannelAndSettle(context.Background(), customer.PubkeyHex(), testOrder(), pre, 10_000, 5_010_000)

	assert.True(t, backend.wasSettled())
	recs, err := o.leases.All()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "abcd:0", recs[0].ChannelPoint)
	assert.Equal(t, int64(10_000), recs[0].TotalFee)
}
