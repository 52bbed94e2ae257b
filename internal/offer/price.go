package offer

import "math"

// BlocksPerYear is the mined-blocks-per-year constant used by APRPercent,
// matching original_source/publsp/blip51/utils.py's YEARLY_MINED_BLOCKS
// (24*60/10*365).
const BlocksPerYear = 52560

// Price is the single pricing function §4.D requires to be byte-identical
// on both the LSP and the customer side; internal/orchestrator and
// internal/validator both call this rather than keeping two copies (see
// SPEC_FULL.md's resolution of the §4.D/§4.H Open Question). Grounded on
// original_source/publsp/blip51/utils.py's calculate_lease_cost.
func Price(fixedCostSats, variableCostPpm, capacity, channelExpiryBlocks, maxChannelExpiryBlocks int64) (totalFeeSat int64) {
	variableCost := float64(variableCostPpm) * 1e-6 * float64(capacity)
	leaseTimeFactor := float64(channelExpiryBlocks) / float64(maxChannelExpiryBlocks)
	return fixedCostSats + int64(math.Round(variableCost*leaseTimeFactor))
}

// TotalCost is total_fee + client_side_sats.
func TotalCost(totalFeeSat, clientBalanceSat int64) int64 {
	return totalFeeSat + clientBalanceSat
}

// APRPercent annualises the cost of repeatedly leasing a channel for the
// offer's maximum expiry, matching calculate_apr.
func APRPercent(fixedCostSats, variableCostPpm, capacity, maxChannelExpiryBlocks int64) float64 {
	variableCost := float64(variableCostPpm) * 1e-6 * float64(capacity)
	numYearlyRenewals := float64(BlocksPerYear) / float64(maxChannelExpiryBlocks)
	apr := (float64(fixedCostSats) + variableCost) * numYearlyRenewals / float64(capacity) * 100
	return math.Round(apr*100) / 100
}
