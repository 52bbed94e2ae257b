package adlifecycle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lndlease/publsp-go/internal/lnnode"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/relay"
)

type stubBackend struct {
	utxos   []lnnode.Utxo
	feeRate float64
	reserve int64
}

func (s *stubBackend) CheckConnection(ctx context.Context) (lnnode.NodeStatus, error) {
	return lnnode.NodeStatus{Healthy: true}, nil
}
func (s *stubBackend) GetNodeID(ctx context.Context) (lnnode.NodeID, error) {
	return lnnode.NodeID{Pubkey: "02aabb", Alias: "test-node"}, nil
}
func (s *stubBackend) GetNodeProperties(ctx context.Context) (lnnode.NodeProperties, error) {
	return lnnode.NodeProperties{TotalCapacity: 10_000_000, NumChannels: 4}, nil
}
func (s *stubBackend) ListUTXOs(ctx context.Context) ([]lnnode.Utxo, error) { return s.utxos, nil }
func (s *stubBackend) EstimateChainFeeRate(ctx context.Context) (float64, error) {
	return s.feeRate, nil
}
func (s *stubBackend) GetReserve(ctx context.Context) (int64, error) { return s.reserve, nil }
func (s *stubBackend) SignMessage(ctx context.Context, msg []byte) (string, error) {
	return "deadbeef", nil
}
func (s *stubBackend) CreateHodlInvoice(ctx context.Context, hash string, amt int64) (lnnode.HodlInvoice, error) {
	return lnnode.HodlInvoice{}, nil
}
func (s *stubBackend) SubscribeHodlInvoice(ctx context.Context, hash string) (<-chan lnnode.InvoiceUpdate, error) {
	return nil, nil
}
func (s *stubBackend) SettleHodlInvoice(ctx context.Context, preimage string) error { return nil }
func (s *stubBackend) CancelHodlInvoice(ctx context.Context, hash string) error     { return nil }
func (s *stubBackend) ConnectPeer(ctx context.Context, uri string) error           { return nil }
func (s *stubBackend) OpenChannel(ctx context.Context, req lnnode.OpenChannelRequest) (<-chan lnnode.ChannelUpdate, error) {
	return nil, nil
}
func (s *stubBackend) GetBestBlock(ctx context.Context) (int64, error) { return 0, nil }
func (s *stubBackend) VerifyPermissions(ctx context.Context, requiredURIs []string) error {
	return nil
}
func (s *stubBackend) Close() error { return nil }

func startEchoRelay(t *testing.T) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestSolvencyAdjustedMaxChannelBalance mirrors spec scenario S6: three
// 2_000_000-sat confirmed p2wpkh UTXOs, required_reserve=50_000,
// fee_rate=5 sat/vB. spend_all = round((10.5+62+3*68)*5) = 1383.
// spendable = 6_000_000 - 50_000 - 1383 = 5_948_617. With a 5_000_000
// bucket, adjusted max = 5_000_000.
func TestSolvencyAdjustedMaxChannelBalance(t *testing.T) {
	backend := &stubBackend{
		utxos: []lnnode.Utxo{
			{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: 2_000_000, Confirmations: 1},
			{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: 2_000_000, Confirmations: 1},
			{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: 2_000_000, Confirmations: 1},
		},
		feeRate: 5,
		reserve: 50_000,
	}
	m := New(nil, nil, backend, Defaults{
		MinChannelBalanceSat: 1_000_000,
		MaxChannelBalanceSat: 10_000_000,
		ChannelMaxBucketSat:  5_000_000,
	})

	max, ok, err := m.solvencyAdjustedMaxChannelBalance(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5_000_000), max)
}

func TestSolvencyBelowMinDisallowsPublish(t *testing.T) {
	backend := &stubBackend{
		utxos:   []lnnode.Utxo{{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: 500_000, Confirmations: 1}},
		feeRate: 1,
	}
	m := New(nil, nil, backend, Defaults{MinChannelBalanceSat: 1_000_000, MaxChannelBalanceSat: 10_000_000})

	_, ok, err := m.solvencyAdjustedMaxChannelBalance(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSolvencySumUtxosAsMaxCapacity(t *testing.T) {
	backend := &stubBackend{
		utxos:   []lnnode.Utxo{{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: 100_000_000, Confirmations: 1}},
		feeRate: 1,
	}
	m := New(nil, nil, backend, Defaults{
		MinChannelBalanceSat:  1_000_000,
		MaxChannelBalanceSat:  5_000_000,
		SumUtxosAsMaxCapacity: true,
	})

	max, ok, err := m.solvencyAdjustedMaxChannelBalance(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, max, int64(5_000_000))
}

func TestPublishAndInactivate(t *testing.T) {
	wsURL := startEchoRelay(t)

	pool := relay.NewPool(16)
	t.Cleanup(pool.Close)
	pool.Connect(context.Background(), []string{wsURL})
	require.Eventually(t, func() bool { return len(pool.URLs()) == 1 }, time.Second, 10*time.Millisecond)

	identity, err := nostrid.Generate()
	require.NoError(t, err)

	backend := &stubBackend{feeRate: 1, utxos: []lnnode.Utxo{{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: 20_000_000, Confirmations: 1}}}
	m := New(pool, identity, backend, Defaults{
		MaxChannelExpiryBlocks:     12960,
		MaxInitialClientBalanceSat: 5_000_000,
		MaxInitialLspBalanceSat:    10_000_000,
		MinChannelBalanceSat:       1_000_000,
		MaxChannelBalanceSat:       10_000_000,
		FixedCostSats:              75_000,
		VariableCostPpm:            10_000,
	})

	ad, err := m.Publish(context.Background(), "active")
	require.NoError(t, err)
	assert.Equal(t, "active", ad.Status)
	assert.NotNil(t, m.Active())

	require.NoError(t, m.Inactivate(context.Background()))
	assert.Equal(t, "inactive", m.Active().Status)
}

func TestPublishIncludesNodeSigWhenConfigured(t *testing.T) {
	wsURL := startEchoRelay(t)
	pool := relay.NewPool(16)
	t.Cleanup(pool.Close)
	pool.Connect(context.Background(), []string{wsURL})
	require.Eventually(t, func() bool { return len(pool.URLs()) == 1 }, time.Second, 10*time.Millisecond)

	identity, err := nostrid.Generate()
	require.NoError(t, err)

	backend := &stubBackend{feeRate: 1, utxos: []lnnode.Utxo{{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: 20_000_000, Confirmations: 1}}}
	m := New(pool, identity, backend, Defaults{
		MaxChannelBalanceSat: 10_000_000,
		IncludeNodeSig:       true,
	})

	ad, err := m.Publish(context.Background(), "active")
	require.NoError(t, err)
	require.NotNil(t, ad.LspPubkeySig)
	assert.Equal(t, "deadbeef", *ad.LspPubkeySig)
}
