package rumor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lndlease/publsp-go/internal/giftwrap"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/tagcodec"
)

func wrapFrame(t *testing.T, sender *nostrid.KeyPair, recipient *nostrid.KeyPair, payload any) relay.Message {
	t.Helper()
	tags, err := tagcodec.Encode(payload)
	require.NoError(t, err)

	gwTags := make([]giftwrap.Tag, 0, len(tags))
	for _, tg := range tags {
		gwTags = append(gwTags, giftwrap.Tag{tg.Key, tg.Value})
	}

	wrap, err := giftwrap.Wrap(sender, recipient.PubkeyHex(), giftwrap.Rumor{
		Kind: giftwrap.KindPrivateDirectMessage,
		Tags: gwTags,
	})
	require.NoError(t, err)

	eventJSON, err := json.Marshal(wrap)
	require.NoError(t, err)
	frame, err := json.Marshal([]json.RawMessage{
		json.RawMessage(`"EVENT"`),
		json.RawMessage(`"sub1"`),
		eventJSON,
	})
	require.NoError(t, err)
	return relay.Message{RelayURL: "wss://test", Raw: frame}
}

func TestRouterClassifiesOrderRequest(t *testing.T) {
	lsp, err := nostrid.Generate()
	require.NoError(t, err)
	customer, err := nostrid.Generate()
	require.NoError(t, err)

	r := New(relay.NewPool(8), lsp)
	r.startedAt = time.Now().UTC().Add(-time.Minute).Unix()

	order := offer.Order{
		OfferID:                      "offer-1",
		LspBalanceSat:                1_000_000,
		ClientBalanceSat:             0,
		RequiredChannelConfirmations: 0,
		FundingConfirmsWithinBlocks:  3,
		ChannelExpiryBlocks:          4320,
		Token:                        "tok",
		AnnounceChannel:              true,
	}

	r.handleFrame(wrapFrame(t, customer, lsp, order))

	select {
	case got := <-r.OrderRequests():
		assert.Equal(t, customer.PubkeyHex(), got.SenderPubkey)
		assert.Equal(t, order.OfferID, got.Order.OfferID)
		assert.Equal(t, order.LspBalanceSat, got.Order.LspBalanceSat)
	case <-time.After(time.Second):
		t.Fatal("did not receive order request")
	}
}

func TestRouterClassifiesOrderErrorResponse(t *testing.T) {
	lsp, err := nostrid.Generate()
	require.NoError(t, err)
	customer, err := nostrid.Generate()
	require.NoError(t, err)

	r := New(relay.NewPool(8), customer)
	r.startedAt = time.Now().UTC().Add(-time.Minute).Unix()

	errResp := offer.OrderErrorResponse{
		Code:         offer.ErrCodeOptionMismatch,
		ErrorMessage: "client_balance_sat > max_initial_client_balance_sat",
	}
	r.handleFrame(wrapFrame(t, lsp, customer, errResp))

	select {
	case got := <-r.OrderResponses():
		require.NotNil(t, got.ErrorResp)
		assert.Equal(t, offer.ErrCodeOptionMismatch, got.ErrorResp.Code)
	case <-time.After(time.Second):
		t.Fatal("did not receive order error response")
	}
}

func TestRouterDropsStaleRumors(t *testing.T) {
	lsp, err := nostrid.Generate()
	require.NoError(t, err)
	customer, err := nostrid.Generate()
	require.NoError(t, err)

	r := New(relay.NewPool(8), lsp)
	r.startedAt = time.Now().UTC().Add(time.Hour).Unix()

	r.handleFrame(wrapFrame(t, customer, lsp, offer.Order{OfferID: "offer-1"}))

	select {
	case <-r.OrderRequests():
		t.Fatal("stale rumor should have been dropped")
	case <-time.After(100 * time.Millisecond):
	}
}
