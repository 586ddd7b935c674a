package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"treasuryagent/pkg/types"
)

func TestDepegNotTriggeredWithinThreshold(t *testing.T) {
	res := Depeg(map[string]float64{"USDC": 0.999}, 100)
	assert.False(t, res.Triggered)
}

func TestDepegTriggeredBeyondThreshold(t *testing.T) {
	res := Depeg(map[string]float64{"USDC": 0.95}, 100)
	assert.True(t, res.Triggered)
	assert.Equal(t, "USDC", res.Details["symbol"])
}

func TestDepegNoStablePricesIsNotDepeg(t *testing.T) {
	// A guard with no stable prices configured never triggers.
	res := Depeg(map[string]float64{}, 100)
	assert.False(t, res.Triggered)
}

func TestSlippageTriggeredAboveCap(t *testing.T) {
	snap := types.PoolSnapshot{PoolID: "p1", SlippageBps: 150}
	res := Slippage(snap, 100)
	assert.True(t, res.Triggered)
}

func TestSlippageNotTriggeredAtExactCap(t *testing.T) {
	snap := types.PoolSnapshot{PoolID: "p1", SlippageBps: 100}
	res := Slippage(snap, 100)
	assert.False(t, res.Triggered, "strictly greater-than, boundary must not trigger")
}

func TestAprCliffNoPriorSnapshotNeverTriggers(t *testing.T) {
	curr := types.PoolSnapshot{PoolID: "p1", IncentiveAprBps: 10}
	res := AprCliff(nil, &curr, 2000)
	assert.False(t, res.Triggered)
}

func TestAprCliffZeroPriorAprNeverTriggers(t *testing.T) {
	prev := types.PoolSnapshot{IncentiveAprBps: 0}
	curr := types.PoolSnapshot{IncentiveAprBps: 0}
	res := AprCliff(&prev, &curr, 2000)
	assert.False(t, res.Triggered)
}

func TestAprCliffTriggeredBeyondDropFloor(t *testing.T) {
	prev := types.PoolSnapshot{PoolID: "p1", IncentiveAprBps: 1000}
	curr := types.PoolSnapshot{PoolID: "p1", IncentiveAprBps: 400} // 60% drop = 6000 bps
	res := AprCliff(&prev, &curr, 2000)
	assert.True(t, res.Triggered)
	assert.Equal(t, 6000, res.Details["dropBps"])
}

func TestAprCliffNotTriggeredAtExactBoundary(t *testing.T) {
	prev := types.PoolSnapshot{IncentiveAprBps: 1000}
	curr := types.PoolSnapshot{IncentiveAprBps: 800} // exactly 2000 bps drop
	res := AprCliff(&prev, &curr, 2000)
	assert.False(t, res.Triggered, "strictly greater-than, boundary must not trigger")
}

func TestAprCliffIncreaseNeverTriggers(t *testing.T) {
	prev := types.PoolSnapshot{IncentiveAprBps: 400}
	curr := types.PoolSnapshot{IncentiveAprBps: 1000}
	res := AprCliff(&prev, &curr, 2000)
	assert.False(t, res.Triggered)
}
