package offer

import (
	"github.com/lndlease/publsp-go/internal/pspErr"
)

// Validate checks order against offer in the exact order specified by
// §4.D, returning an OptionMismatch error carrying the first failing
// field's name. Grounded on
// original_source/publsp/blip51/order.py's Order.validate_order.
func Validate(order Order, ad Offer) error {
	switch {
	case order.LspBalanceSat < ad.MinInitialLspBalanceSat:
		return pspErr.New(pspErr.OptionMismatch, "lsp_balance_sat < min_initial_lsp_balance_sat")
	case order.LspBalanceSat > ad.MaxInitialLspBalanceSat:
		return pspErr.New(pspErr.OptionMismatch, "lsp_balance_sat > max_initial_lsp_balance_sat")
	case order.ClientBalanceSat < ad.MinInitialClientBalanceSat:
		return pspErr.New(pspErr.OptionMismatch, "client_balance_sat < min_initial_client_balance_sat")
	case order.ClientBalanceSat > ad.MaxInitialClientBalanceSat:
		return pspErr.New(pspErr.OptionMismatch, "client_balance_sat > max_initial_client_balance_sat")
	case order.TotalCapacity() < ad.MinChannelBalanceSat:
		return pspErr.New(pspErr.OptionMismatch, "client_balance_sat + lsp_balance_sat < min_channel_balance_sat")
	case order.TotalCapacity() > ad.MaxChannelBalanceSat:
		return pspErr.New(pspErr.OptionMismatch, "client_balance_sat + lsp_balance_sat > max_channel_balance_sat")
	case order.RequiredChannelConfirmations < ad.MinRequiredChannelConfirmations:
		return pspErr.New(pspErr.OptionMismatch, "required_channel_confirmations < min_required_channel_confirmations")
	case order.FundingConfirmsWithinBlocks < ad.MinFundingConfirmsWithinBlocks:
		return pspErr.New(pspErr.OptionMismatch, "funding_confirms_within_blocks < min_funding_confirms_within_blocks")
	case order.ChannelExpiryBlocks > ad.MaxChannelExpiryBlocks:
		return pspErr.New(pspErr.OptionMismatch, "channel_expiry_blocks > max_channel_expiry_blocks")
	default:
		return nil
	}
}
