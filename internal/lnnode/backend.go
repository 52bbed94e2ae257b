// Package lnnode adapts §4.J's Node Backend interface to LND's REST API
// (TLS cert + macaroon, no gRPC), grounded on
// original_source/publsp/ln/{base,requesthandlers,lnd,utils}.py for the
// method set, response shapes, and the UTXO spend-cost model, and on
// _examples/DanielDucuara2018-btc-giftcard/internal/exchange/provider.go's
// fetchJSON helper for the REST-calling idiom (interface-first pluggable
// backend, context-scoped *http.Client, connectivity check at
// construction).
package lnnode

import "context"

// NodeID is the node's own identity.
type NodeID struct {
	Pubkey string
	Alias  string
}

// NodeProperties summarises capacity and routing posture for the ad's
// node_stats payload.
type NodeProperties struct {
	TotalCapacity     int64
	NumChannels       int64
	MedianOutboundPPM int64
	MedianInboundPPM  int64
}

// NodeStatus is the health probe result (§4.F).
type NodeStatus struct {
	Healthy       bool
	SyncedToChain bool
	SyncedToGraph bool
}

// Utxo is a single unspent output, carrying enough of LND's ListUnspent
// response to compute spend cost (§4.E point 2).
type Utxo struct {
	AddressType   string
	AmountSat     int64
	Confirmations int64
}

// SpendCostVB is the estimated virtual size of spending this UTXO,
// matching original_source/publsp/ln/base.py's Utxo.spend_cost_vb.
func (u Utxo) SpendCostVB() float64 {
	switch u.AddressType {
	case "WITNESS_PUBKEY_HASH", "NESTED_PUBKEY_HASH":
		return 68
	case "TAPROOT_PUBKEY":
		return 57.5
	default:
		return 0
	}
}

// HodlInvoice is the result of creating a hold invoice.
type HodlInvoice struct {
	PaymentRequest string
	ExpirySecs     int64
}

// InvoiceUpdate is one state transition observed on a hodl invoice
// subscription.
type InvoiceUpdate struct {
	State string // raw LND state: OPEN, ACCEPTED, SETTLED, CANCELED
}

// ChannelUpdate is one state transition observed while opening a channel.
type ChannelUpdate struct {
	State           string // PENDING, OPEN, CLOSED, UNKNOWN
	FundingTxidHex  string
	FundingOutIndex int
}

// OpenChannelRequest carries what's needed to fund a channel to a
// customer.
type OpenChannelRequest struct {
	PeerPubkeyHex    string
	LocalAmountSat   int64
	PushAmountSat    int64
	MinConfs         int32
	SpendUnconfirmed bool
	Private          bool
}

// RequiredPermissionURIs is the macaroon-gated lnd RPC surface this
// module depends on (§6); VerifyPermissions checks each is actually
// granted to the configured macaroon before the daemon accepts orders.
var RequiredPermissionURIs = []string{
	"/lnrpc.Lightning/GetInfo",
	"/lnrpc.Lightning/GetNodeInfo",
	"/lnrpc.Lightning/ListPermissions",
	"/lnrpc.Lightning/CheckMacaroonPermissions",
	"/lnrpc.Lightning/ConnectPeer",
	"/lnrpc.Lightning/OpenChannel",
	"/lnrpc.Lightning/SignMessage",
	"/invoicesrpc.Invoices/AddHoldInvoice",
	"/invoicesrpc.Invoices/CancelInvoice",
	"/invoicesrpc.Invoices/SettleInvoice",
	"/invoicesrpc.Invoices/SubscribeSingleInvoice",
	"/walletrpc.WalletKit/EstimateFee",
	"/lnrpc.Lightning/ListUnspent",
	"/walletrpc.WalletKit/RequiredReserve",
	"/chainrpc.ChainKit/GetBestBlock",
}

// Backend is the node-implementation-agnostic surface §4.J names. LND is
// the only implementation in this module, but the interface keeps the
// orchestrator and ad lifecycle manager decoupled from the REST/macaroon
// details, the way NodeBase kept the Python marketplace logic decoupled
// from lnd.py.
type Backend interface {
	CheckConnection(ctx context.Context) (NodeStatus, error)
	GetNodeID(ctx context.Context) (NodeID, error)
	GetNodeProperties(ctx context.Context) (NodeProperties, error)
	ListUTXOs(ctx context.Context) ([]Utxo, error)
	EstimateChainFeeRate(ctx context.Context) (satPerVByte float64, err error)
	GetReserve(ctx context.Context) (requiredReserveSat int64, err error)
	SignMessage(ctx context.Context, msg []byte) (sigBase64 string, err error)
	GetBestBlock(ctx context.Context) (blockHeight int64, err error)

	// VerifyPermissions checks that the macaroon backing this client
	// has been granted every URI in requiredURIs, per §6's startup
	// requirement. A missing or denied URI is a fatal error.
	VerifyPermissions(ctx context.Context, requiredURIs []string) error

	CreateHodlInvoice(ctx context.Context, paymentHashHex string, amtSat int64) (HodlInvoice, error)
	SubscribeHodlInvoice(ctx context.Context, paymentHashHex string) (<-chan InvoiceUpdate, error)
	SettleHodlInvoice(ctx context.Context, preimageHex string) error
	CancelHodlInvoice(ctx context.Context, paymentHashHex string) error

	ConnectPeer(ctx context.Context, pubkeyURI string) error
	OpenChannel(ctx context.Context, req OpenChannelRequest) (<-chan ChannelUpdate, error)

	Close() error
}
