// Package validator implements §4.H's Customer Response Validator: the
// six ordered checks a customer runs against an LSP's OrderResponse
// before paying its invoice. Grounded on
// original_source/publsp/marketplace/customer.py's
// OrderResponseHandler.is_order_resp_valid.
package validator

import (
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/lndlease/publsp-go/internal/invoice"
	"github.com/lndlease/publsp-go/internal/offer"
	"github.com/lndlease/publsp-go/internal/pspErr"
)

// Validate runs the six checks in order against an already-selected
// offer and the order that produced resp, returning the first failing
// check as a pspErr.OptionMismatch error (matching
// is_order_resp_valid's option_mismatch wrapping on the caller side).
// Grounded on customer.py's numbered comment list 1-6.
func Validate(net *chaincfg.Params, resp offer.OrderResponse, ad offer.Offer, order offer.Order) error {
	// 1. Decode the BOLT-11 invoice.
	decoded, err := invoice.Decode(net, resp.Payment.Bolt11.Invoice)
	if err != nil {
		return pspErr.Wrap(pspErr.OptionMismatch, "could not decode invoice", err)
	}

	// 2. invoice_dest_pubkey == offer.lsp_pubkey
	if decoded.DestPubkey != ad.LspPubkey {
		return pspErr.Newf(pspErr.OptionMismatch, "invoice does not originate from LSP, got %s", decoded.DestPubkey)
	}

	// 3. response.order_total_sat == invoice_amount_sat
	if resp.Payment.Bolt11.OrderTotalSat != decoded.AmountSat {
		return pspErr.Newf(pspErr.OptionMismatch,
			"order response order total of %d not consistent with the decoded bolt11 invoice amount of %d, something went wrong with the LSP",
			resp.Payment.Bolt11.OrderTotalSat, decoded.AmountSat)
	}

	// 4. expected_fee == response.fee_total_sat
	expectedFee := offer.Price(ad.FixedCostSats, ad.VariableCostPpm, order.TotalCapacity(), order.ChannelExpiryBlocks, ad.MaxChannelExpiryBlocks)
	if expectedFee != resp.Payment.Bolt11.FeeTotalSat {
		return pspErr.Newf(pspErr.OptionMismatch,
			"expected fee total of %d does not match order response fee total of %d",
			expectedFee, resp.Payment.Bolt11.FeeTotalSat)
	}

	// 5. expected_cost == response.order_total_sat
	expectedCost := offer.TotalCost(expectedFee, order.ClientBalanceSat)
	if expectedCost != resp.Payment.Bolt11.OrderTotalSat {
		return pspErr.Newf(pspErr.OptionMismatch,
			"expected total cost of %d does not match order response order total of %d",
			expectedCost, resp.Payment.Bolt11.OrderTotalSat)
	}

	// 6. expected_cost == invoice_amount_sat
	if expectedCost != decoded.AmountSat {
		return pspErr.Newf(pspErr.OptionMismatch,
			"expected total cost of %d does not match decoded bolt11 invoice amount of %d",
			expectedCost, decoded.AmountSat)
	}

	return nil
}
