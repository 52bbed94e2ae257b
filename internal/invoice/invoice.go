// Package invoice decodes BOLT-11 payment requests for §4.A's Invoice
// Decoder, delegating the actual bech32/tagged-field parsing and signature
// recovery to lnd's zpay32 package rather than re-implementing it. Grounded
// on original_source/publsp/ln/invdecoder.py for the fields a caller needs,
// and on the vendored reference at
// _examples/backend-engineer1-land/zpay32/invoice.go for the real decoder's
// shape and failure modes.
package invoice

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/lndlease/publsp-go/internal/pspErr"
)

// Decoded is the subset of a BOLT-11 invoice the marketplace cares about:
// who it pays, how much, and when it expires.
type Decoded struct {
	DestPubkey  string
	AmountSat   int64
	ExpirySecs  int64
	PaymentHash string
}

// Decode parses a bech32-encoded BOLT-11 invoice string. Any bech32
// checksum failure, missing "ln" prefix, truncated signature, or failed
// signature/recovery is surfaced as pspErr.InvalidInvoice, matching the
// taxonomy §4.A names for a malformed invoice.
func Decode(net *chaincfg.Params, invoiceStr string) (Decoded, error) {
	inv, err := zpay32.Decode(invoiceStr, net)
	if err != nil {
		return Decoded{}, pspErr.Wrap(pspErr.InvalidInvoice, "decode bolt11 invoice", err)
	}

	if inv.Destination == nil {
		return Decoded{}, pspErr.New(pspErr.InvalidInvoice, "invoice has no recoverable destination pubkey")
	}
	if inv.PaymentHash == nil {
		return Decoded{}, pspErr.New(pspErr.InvalidInvoice, "invoice has no payment hash")
	}

	var amountSat int64
	if inv.MilliSat != nil {
		amountSat = int64(inv.MilliSat.ToSatoshis())
	}

	return Decoded{
		DestPubkey:  fmt.Sprintf("%x", inv.Destination.SerializeCompressed()),
		AmountSat:   amountSat,
		ExpirySecs:  int64(inv.Expiry().Seconds()),
		PaymentHash: fmt.Sprintf("%x", inv.PaymentHash[:]),
	}, nil
}
