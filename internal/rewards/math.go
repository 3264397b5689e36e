package rewards

import "XGrowth-Chain/internal/curve"

// AgentAllotment returns floor(pool * score / totalScore), or zero when no
// agent scored.
func AgentAllotment(pool, score, totalScore uint64) (uint64, error) {
	if totalScore == 0 || score == 0 {
		return 0, nil
	}
	return curve.MulDiv(pool, score, totalScore)
}

// Entitlement returns floor(balance * allotment / snapshotSupply). Because
// balances at the snapshot sum to snapshotSupply, entitlements of all holders
// never sum above the allotment.
func Entitlement(balance, allotment, snapshotSupply uint64) (uint64, error) {
	if snapshotSupply == 0 || balance == 0 {
		return 0, nil
	}
	return curve.MulDiv(balance, allotment, snapshotSupply)
}
