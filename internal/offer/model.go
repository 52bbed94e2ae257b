// Package offer implements §3's Offer/Order/OrderResponse data model and
// §4.D's validator and pricing functions, grounded on
// original_source/publsp/blip51/{info,order,payment,channel,utils}.py.
package offer

import "time"

// Offer is the wire-tagged advertisement a liquidity provider publishes
// (kind 39735). Field order matches declaration order in
// original_source/publsp/blip51/info.py's Ad model, since tagcodec.Encode
// walks fields in struct-declaration order.
type Offer struct {
	ID                               string `json:"d"`
	LspPubkey                        string `json:"lsp_pubkey"`
	Status                           string `json:"status"`
	MinRequiredChannelConfirmations  int64  `json:"min_required_channel_confirmations"`
	MinFundingConfirmsWithinBlocks   int64  `json:"min_funding_confirms_within_blocks"`
	SupportsZeroChannelReserve       bool   `json:"supports_zero_channel_reserve"`
	MaxChannelExpiryBlocks           int64  `json:"max_channel_expiry_blocks"`
	MinInitialClientBalanceSat       int64  `json:"min_initial_client_balance_sat"`
	MaxInitialClientBalanceSat       int64  `json:"max_initial_client_balance_sat"`
	MinInitialLspBalanceSat          int64  `json:"min_initial_lsp_balance_sat"`
	MaxInitialLspBalanceSat          int64  `json:"max_initial_lsp_balance_sat"`
	MinChannelBalanceSat             int64  `json:"min_channel_balance_sat"`
	MaxChannelBalanceSat             int64  `json:"max_channel_balance_sat"`
	FixedCostSats                    int64  `json:"fixed_cost_sats"`
	VariableCostPpm                  int64  `json:"variable_cost_ppm"`
	MaxPromisedFeeRate               int64  `json:"max_promised_fee_rate"`
	MaxPromisedBaseFee               int64  `json:"max_promised_base_fee"`
	// LspPubkeySig is the optional signature of the transport identity key
	// by the LN node's own key (§3, §4.E point 5); absent unless
	// include_node_sig is configured.
	LspPubkeySig *string `json:"lsp_pubkey_sig"`
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// NodeStats is publisher-node metadata carried in the offer event's JSON
// content payload (not as tags), matching lsp.py's get_lsp_data/node_stats.
type NodeStats struct {
	Pubkey            string `json:"pubkey"`
	Alias             string `json:"alias"`
	TotalCapacity     int64  `json:"total_capacity"`
	NumChannels       int64  `json:"num_channels"`
	MedianOutboundPPM int64  `json:"median_outbound_ppm"`
	MedianInboundPPM  int64  `json:"median_inbound_ppm"`
}

// AdContent is the JSON content string of an offer event (§6).
type AdContent struct {
	LspMessage string    `json:"lsp_message"`
	NodeStats  NodeStats `json:"node_stats"`
}

// Order is a customer's channel-lease request (§3).
type Order struct {
	OfferID                      string  `json:"d"`
	TargetPubkeyURI               string  `json:"target_pubkey_uri"`
	LspBalanceSat                int64   `json:"lsp_balance_sat"`
	ClientBalanceSat             int64   `json:"client_balance_sat"`
	RequiredChannelConfirmations int64   `json:"required_channel_confirmations"`
	FundingConfirmsWithinBlocks  int64   `json:"funding_confirms_within_blocks"`
	ChannelExpiryBlocks          int64   `json:"channel_expiry_blocks"`
	Token                        string  `json:"token"`
	RefundOnchainAddress         *string `json:"refund_onchain_address"`
	AnnounceChannel              bool    `json:"announce_channel"`
}

// TotalCapacity is lsp_side + client_side.
func (o Order) TotalCapacity() int64 { return o.LspBalanceSat + o.ClientBalanceSat }

type OrderState string

const (
	OrderCreated   OrderState = "CREATED"
	OrderCompleted OrderState = "COMPLETED"
	OrderFailed    OrderState = "FAILED"
)

type HodlInvoiceState string

const (
	InvoiceExpectPayment HodlInvoiceState = "EXPECT_PAYMENT"
	InvoiceHold          HodlInvoiceState = "HOLD"
	InvoicePaid          HodlInvoiceState = "PAID"
	InvoiceRefunded      HodlInvoiceState = "REFUNDED"
	InvoiceUnknown       HodlInvoiceState = "UNKNOWN"
)

// FromLND maps an LND invoice state string onto the HodlInvoiceState
// taxonomy, matching original_source/publsp/blip51/payment.py's
// HodlInvoiceState.from_lnd.
func FromLND(lndState string) HodlInvoiceState {
	switch lndState {
	case "OPEN":
		return InvoiceExpectPayment
	case "SETTLED":
		return InvoicePaid
	case "CANCELED":
		return InvoiceRefunded
	case "ACCEPTED":
		return InvoiceHold
	default:
		return InvoiceUnknown
	}
}

type Bolt11 struct {
	State         HodlInvoiceState `json:"state"`
	ExpiresAt     time.Time        `json:"expires_at"`
	FeeTotalSat   int64            `json:"fee_total_sat"`
	OrderTotalSat int64            `json:"order_total_sat"`
	Invoice       string           `json:"invoice"`
}

type Payment struct {
	Bolt11 Bolt11 `json:"bolt11"`
}

type ChannelState string

const (
	ChannelPending ChannelState = "PENDING"
	ChannelOpen    ChannelState = "OPEN"
	ChannelClosed  ChannelState = "CLOSED"
	ChannelUnknown ChannelState = "UNKNOWN"
)

type Channel struct {
	FundedAt        time.Time `json:"funded_at"`
	FundingOutpoint string    `json:"funding_outpoint"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ChannelUpdate is streamed to the customer as a DM for every channel-open
// progress tick (§4.C, §4.G point 6).
type ChannelUpdate struct {
	OrderID      string       `json:"order_id"`
	ChannelState ChannelState `json:"channel_state"`
}

type OrderResponse struct {
	OrderID                      string     `json:"order_id"`
	LspBalanceSat                int64      `json:"lsp_balance_sat"`
	ClientBalanceSat             int64      `json:"client_balance_sat"`
	RequiredChannelConfirmations int64      `json:"required_channel_confirmations"`
	FundingConfirmsWithinBlocks  int64      `json:"funding_confirms_within_blocks"`
	ChannelExpiryBlocks          int64      `json:"channel_expiry_blocks"`
	Token                        string     `json:"token"`
	CreatedAt                    time.Time  `json:"created_at"`
	AnnounceChannel              bool       `json:"announce_channel"`
	OrderState                   OrderState `json:"order_state"`
	Payment                      Payment    `json:"payment"`
	Channel                      *Channel   `json:"channel"`
	ErrorMessage                 string     `json:"error_message"`
}

// FromOrder builds a CREATED OrderResponse echoing the order's requested
// terms, matching original_source/publsp/blip51/order.py's
// OrderResponse.from_order.
func FromOrder(order Order, payment Payment) OrderResponse {
	return OrderResponse{
		OrderID:                      order.OfferID,
		LspBalanceSat:                order.LspBalanceSat,
		ClientBalanceSat:             order.ClientBalanceSat,
		RequiredChannelConfirmations: order.RequiredChannelConfirmations,
		FundingConfirmsWithinBlocks:  order.FundingConfirmsWithinBlocks,
		ChannelExpiryBlocks:          order.ChannelExpiryBlocks,
		Token:                        order.Token,
		CreatedAt:                    time.Now().UTC(),
		AnnounceChannel:              order.AnnounceChannel,
		OrderState:                   OrderCreated,
		Payment:                      payment,
	}
}

type OrderErrorCode int

const (
	ErrCodeConnectionError  OrderErrorCode = 0
	ErrCodeInvalidParams    OrderErrorCode = -32602
	ErrCodeClientRejected   OrderErrorCode = 1
	ErrCodeOptionMismatch   OrderErrorCode = 100
)

type OrderErrorResponse struct {
	Code         OrderErrorCode `json:"code"`
	ErrorMessage string         `json:"error_message"`
}
