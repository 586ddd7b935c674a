// Package guard implements the three pure safety predicates (§4.5) the
// Decision Engine consults before entering, rotating, or holding a position:
// Depeg, Slippage, and APR cliff. None of these hold state of their own —
// every input they need is passed in by the caller each tick.
package guard

import (
	"math"

	"treasuryagent/pkg/types"
)

// Result is the uniform shape every guard predicate returns.
type Result struct {
	Triggered bool
	Reason    string
	Details   map[string]any
}

// Depeg triggers if any configured stable symbol's USD price has drifted
// more than depegThresholdBps from 1.00.
func Depeg(stablePrices map[string]float64, depegThresholdBps int) Result {
	for symbol, price := range stablePrices {
		deviationBps := int(math.Abs(price-1.0) * 10000)
		if deviationBps > depegThresholdBps {
			return Result{
				Triggered: true,
				Reason:    "stable depeg",
				Details:   map[string]any{"symbol": symbol, "price": price, "deviationBps": deviationBps},
			}
		}
	}
	return Result{}
}

// Slippage triggers when a snapshot's estimated price impact exceeds the
// configured ceiling.
func Slippage(snapshot types.PoolSnapshot, maxPriceImpactBps int) Result {
	if snapshot.SlippageBps > maxPriceImpactBps {
		return Result{
			Triggered: true,
			Reason:    "slippage too high",
			Details:   map[string]any{"poolId": snapshot.PoolID, "slippageBps": snapshot.SlippageBps},
		}
	}
	return Result{}
}

// AprCliff triggers when a pool's incentive APR drops by more than
// aprCliffDropBps from its previous reading. Absent a prior snapshot, or a
// non-positive prior incentiveAprBps, it never triggers — there is nothing
// to measure a drop against.
func AprCliff(prev, curr *types.PoolSnapshot, aprCliffDropBps int) Result {
	if prev == nil || prev.IncentiveAprBps <= 0 {
		return Result{}
	}
	if curr == nil {
		return Result{}
	}
	dropBps := ((prev.IncentiveAprBps - curr.IncentiveAprBps) * 10000) / prev.IncentiveAprBps
	if dropBps > aprCliffDropBps {
		return Result{
			Triggered: true,
			Reason:    "apr cliff",
			Details: map[string]any{
				"poolId":  curr.PoolID,
				"prevBps": prev.IncentiveAprBps,
				"currBps": curr.IncentiveAprBps,
				"dropBps": dropBps,
			},
		}
	}
	return Result{}
}
