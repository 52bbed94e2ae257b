package lnnode

import "math"

// SpendAllCost estimates the on-chain fee (in sats) to sweep every utxo
// into a transaction with numOutputs outputs at chainFeeSatVB, matching
// original_source/publsp/ln/utils.py's spend_all_cost. Used by
// internal/adlifecycle to cap an ad's max_channel_balance_sat at what the
// node can actually still afford to fund after paying for its own UTXO
// consolidation (§4.E point 2).
func SpendAllCost(utxos []Utxo, chainFeeSatVB float64, numOutputs int) int64 {
	const header = 10.5
	outputCost := float64(31 * numOutputs)

	var sumUtxoCost float64
	for _, u := range utxos {
		sumUtxoCost += u.SpendCostVB()
	}

	return int64(math.Round((header + outputCost + sumUtxoCost) * chainFeeSatVB))
}
