package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lndlease/publsp-go/internal/adlifecycle"
	"github.com/lndlease/publsp-go/internal/lnnode"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/relay"
)

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

type fakeBackend struct {
	status  lnnode.NodeStatus
	statusE error

	utxoAmount int64
}

func (f *fakeBackend) CheckConnection(ctx context.Context) (lnnode.NodeStatus, error) {
	return f.status, f.statusE
}
func (f *fakeBackend) GetNodeID(ctx context.Context) (lnnode.NodeID, error) {
	return lnnode.NodeID{Pubkey: "02aabb", Alias: "n"}, nil
}
func (f *fakeBackend) GetNodeProperties(ctx context.Context) (lnnode.NodeProperties, error) {
	return lnnode.NodeProperties{}, nil
}
func (f *fakeBackend) ListUTXOs(ctx context.Context) ([]lnnode.Utxo, error) {
	amount := f.utxoAmount
	if amount == 0 {
		amount = 20_000_000
	}
	return []lnnode.Utxo{{AddressType: "WITNESS_PUBKEY_HASH", AmountSat: amount, Confirmations: 1}}, nil
}
func (f *fakeBackend) EstimateChainFeeRate(ctx context.Context) (float64, error) {
	return 1, nil
}
func (f *fakeBackend) GetReserve(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeBackend) SignMessage(ctx context.Context, msg []byte) (string, error) {
	return "deadbeef", nil
}
func (f *fakeBackend) CreateHodlInvoice(ctx context.Context, hash string, amt int64) (lnnode.HodlInvoice, error) {
	return lnnode.HodlInvoice{}, nil
}
func (f *fakeBackend) SubscribeHodlInvoice(ctx context.Context, hash string) (<-chan lnnode.InvoiceUpdate, error) {
	return nil, nil
}
func (f *fakeBackend) SettleHodlInvoice(ctx context.Context, preimage string) error { return nil }
func (f *fakeBackend) CancelHodlInvoice(ctx context.Context, hash string) error     { return nil }
func (f *fakeBackend) ConnectPeer(ctx context.Context, uri string) error           { return nil }
func (f *fakeBackend) OpenChannel(ctx context.Context, req lnnode.OpenChannelRequest) (<-chan lnnode.ChannelUpdate, error) {
	return nil, nil
}
func (f *fakeBackend) GetBestBlock(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeBackend) VerifyPermissions(ctx context.Context, requiredURIs []string) error {
	return nil
}
func (f *fakeBackend) Close() error { return nil }

func newManager(t *testing.T, backend lnnode.Backend) (*adlifecycle.Manager, string) {
	wsURL := startEchoRelay(t)
	pool := relay.NewPool(16)
	t.Cleanup(pool.Close)
	pool.Connect(context.Background(), []string{wsURL})
	require.Eventually(t, func() bool { return len(pool.URLs()) == 1 }, time.Second, 10*time.Millisecond)

	identity, err := nostrid.Generate()
	require.NoError(t, err)

	return adlifecycle.New(pool, identity, backend, adlifecycle.Defaults{
		MaxInitialLspBalanceSat: 1_000_000,
		SumUtxosAsMaxCapacity:   true,
	}), wsURL
}

func TestProbePublishesWhenNoneActiveAndHealthy(t *testing.T) {
	backend := &fakeBackend{status: lnnode.NodeStatus{Healthy: true, SyncedToChain: true, SyncedToGraph: true}}
	mgr, _ := newManager(t, backend)

	w := New(mgr, backend, time.Minute)
	w.probe(context.Background())

	require.NotNil(t, mgr.Active())
	assert.Equal(t, "active", mgr.Active().Status)
}

func TestProbeDeactivatesOnUnhealthy(t *testing.T) {
	backend := &fakeBackend{status: lnnode.NodeStatus{Healthy: true, SyncedToChain: true, SyncedToGraph: true}}
	mgr, _ := newManager(t, backend)
	w := New(mgr, backend, time.Minute)
	w.probe(context.Background())
	require.Equal(t, "active", mgr.Active().Status)

	backend.status = lnnode.NodeStatus{Healthy: false}
	w.probe(context.Background())
	assert.Equal(t, "inactive", mgr.Active().Status)
}

func TestProbeRepublishesOnTermsDrift(t *testing.T) {
	backend := &fakeBackend{
		status:     lnnode.NodeStatus{Healthy: true, SyncedToChain: true, SyncedToGraph: true},
		utxoAmount: 20_000_000,
	}
	mgr, _ := newManager(t, backend)
	w := New(mgr, backend, time.Minute)
	w.probe(context.Background())
	require.NotNil(t, mgr.Active())
	firstMax := mgr.Active().MaxChannelBalanceSat

	backend.utxoAmount = 5_000_000
	w.probe(context.Background())

	require.NotNil(t, mgr.Active())
	assert.Equal(t, "active", mgr.Active().Status)
	assert.NotEqual(t, firstMax, mgr.Active().MaxChannelBalanceSat)
}

func TestProbeDeactivatesOnConnectionError(t *testing.T) {
	backend := &fakeBackend{status: lnnode.NodeStatus{Healthy: true, SyncedToChain: true, SyncedToGraph: true}}
	mgr, _ := newManager(t, backend)
	w := New(mgr, backend, time.Minute)
	w.probe(context.Background())
	require.Equal(t, "active", mgr.Active().Status)

	backend.statusE = errors.New("connection refused")
	w.probe(context.Background())
	assert.Equal(t, "inactive", mgr.Active().Status)
}
