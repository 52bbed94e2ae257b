package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lndlease/publsp-go/internal/adlifecycle"
	"github.com/lndlease/publsp-go/internal/giftwrap"
	"github.com/lndlease/publsp-go/internal/nostrid"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/relay"
	"github.com/lndlease/publsp-go/internal/tagcodec"
)

// buildAdEvent tag-encodes and signs ad as a kind-39735 event, the way
// internal/adlifecycle.Manager.publish does.
func buildAdEvent(t *testing.T, kp *nostrid.KeyPair, ad offer.Offer) *giftwrap.Event {
	tags, err := tagcodec.Encode(ad)
	require.NoError(t, err)
	gwTags := make([]giftwrap.Tag, 0, len(tags))
	for _, tg := range tags {
		gwTags = append(gwTags, giftwrap.Tag{tg.Key, tg.Value})
	}
	ev := &giftwrap.Event{Kind: adlifecycle.KindOfferAd, Tags: gwTags, Content: "{}"}
	require.NoError(t, giftwrap.Sign(ev, kp))
	return ev
}

// startCannedRelay echoes back the given events for whatever REQ
// subscription id the client opens with.
func startCannedRelay(t *testing.T, events []*giftwrap.Event) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}

		for _, ev := range events {
			msg, _ := json.Marshal([]any{"EVENT", subID, ev})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func baseAd(lspPubkey, offerID, status string) offer.Offer {
	return offer.Offer{
		ID:                     offerID,
		LspPubkey:              lspPubkey,
		Status:                 status,
		MaxChannelExpiryBlocks: 12960,
		MinChannelBalanceSat:   1_000_000,
		MaxChannelBalanceSat:   10_000_000,
		FixedCostSats:          10_000,
		VariableCostPpm:        5_000,
	}
}

func TestRefreshDropsInactiveAndKeepsNewestPerPair(t *testing.T) {
	kp, err := nostrid.Generate()
	require.NoError(t, err)

	stale := buildAdEvent(t, kp, baseAd("02aabb", "offer-1", offer.StatusActive))
	stale.CreatedAt = 100
	fresh := buildAdEvent(t, kp, baseAd("02aabb", "offer-1", offer.StatusActive))
	fresh.CreatedAt = 200
	inactive := buildAdEvent(t, kp, baseAd("03ccdd", "offer-2", offer.StatusInactive))

	wsURL := startCannedRelay(t, []*giftwrap.Event{stale, fresh, inactive})
	pool := relay.NewPool(16)
	t.Cleanup(pool.Close)
	pool.Connect(context.Background(), []string{wsURL})
	require.Eventually(t, func() bool { return len(pool.URLs()) == 1 }, time.Second, 10*time.Millisecond)

	p := New(pool)
	offers, err := p.refresh(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, offers, 1)
	assert.Equal(t, "offer-1", offers[0].ID)
}

func TestCostBreakdownFiltersByCapacityAndSortsAscending(t *testing.T) {
	cheap := baseAd("02aabb", "offer-cheap", offer.StatusActive)
	cheap.FixedCostSats = 5_000
	cheap.VariableCostPpm = 1_000

	expensive := baseAd("03ccdd", "offer-expensive", offer.StatusActive)
	expensive.FixedCostSats = 50_000
	expensive.VariableCostPpm = 10_000

	tooSmall := baseAd("04eeff", "offer-too-small", offer.StatusActive)
	tooSmall.MaxChannelBalanceSat = 500_000

	estimates := CostBreakdown([]offer.Offer{expensive, cheap, tooSmall}, 2_000_000)

	require.Len(t, estimates, 2)
	assert.Equal(t, "offer-cheap", estimates[0].Offer.ID)
	assert.Equal(t, "offer-expensive", estimates[1].Offer.ID)
	assert.Less(t, estimates[0].TotalCostSat, estimates[1].TotalCostSat)
}
