// Package decision implements the pure Decision Engine (§4.6): a single
// function from the current tick's observations to one Decision. It holds
// no state of its own and performs no I/O.
package decision

import (
	"context"
	"math"
	"math/big"
	"sort"

	"treasuryagent/pkg/guard"
	"treasuryagent/pkg/types"
)

// Input bundles every value the decision function needs for one tick.
type Input struct {
	NowTs               int64
	Position            types.Position
	Snapshots           []types.PoolSnapshot
	PreviousSnapshots   map[string]types.PoolSnapshot // poolId -> most recent prior snapshot
	StablePrices        map[string]float64
	Pools               map[string]types.Pool // poolId -> Pool, for tier/enabled/tokenIn eligibility
	DeployableEntryIDs  map[string]struct{}   // optional movement-cap preview restriction; nil disables it
	Policy              types.Policy
	DepositToken        string
	TradeAmountRaw      *big.Int
}

// Engine evaluates Decide with an injected rotation-cost estimator, since
// that estimate is adapter-specific (§4.1).
type Engine struct {
	RotationCost func(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error)
}

func New(rotationCost func(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error)) *Engine {
	return &Engine{RotationCost: rotationCost}
}

func holdReason9(reason string) types.Decision {
	return types.Decision{Action: types.ActionHold, ReasonCode: types.ReasonNoEligiblePool, Reason: reason}
}

// Decide is the pure function described in §4.6. It is deterministic: equal
// inputs always produce byte-identical output.
func (e *Engine) Decide(ctx context.Context, in Input) types.Decision {
	eligible := eligiblePools(in)
	bySnapshot := indexSnapshots(in.Snapshots)

	decision := holdReason9("no eligible pools")
	decision.Timestamp = in.NowTs
	if len(eligible) == 0 {
		return decision
	}

	depegResult := guard.Depeg(in.StablePrices, in.Policy.DepegThresholdBps)

	if in.Position.IsDeployed() {
		if depegResult.Triggered {
			return emergencyExit(in, types.ReasonDepegExit)
		}
		currentSnap, hasCurrent := bySnapshot[*in.Position.PoolID]
		if hasCurrent {
			prev := prevFor(in, *in.Position.PoolID)
			aprCliff := guard.AprCliff(prev, &currentSnap, in.Policy.AprCliffDropBps)
			if aprCliff.Triggered {
				return emergencyExit(in, types.ReasonAprCliffExit)
			}
		}
	}

	if !in.Position.IsDeployed() {
		if depegResult.Triggered {
			d := holdReason9("depeg active, no entry")
			d.Timestamp = in.NowTs
			return d
		}
		ranked := rankEligible(eligible, bySnapshot)
		for _, snap := range ranked {
			slip := guard.Slippage(snap, in.Policy.MaxPriceImpactBps)
			if !slip.Triggered {
				chosen := snap.PoolID
				return types.Decision{
					Timestamp:    in.NowTs,
					Action:       types.ActionEnter,
					ReasonCode:   types.ReasonInitialDeploy,
					Reason:       "initial deploy",
					ChosenPoolID: &chosen,
					NewNetApyBps: snap.NetApyBps,
				}
			}
		}
		d := types.Decision{Timestamp: in.NowTs, Action: types.ActionHold, ReasonCode: types.ReasonSlippageTooHigh, Reason: "no pool passes slippage guard"}
		return d
	}

	// Active position from here.
	enteredAt := int64(0)
	if in.Position.EnteredAt != nil {
		enteredAt = *in.Position.EnteredAt
	}
	if in.NowTs-enteredAt < in.Policy.MinHoldSeconds {
		from := *in.Position.PoolID
		return types.Decision{
			Timestamp:  in.NowTs,
			Action:     types.ActionHold,
			ReasonCode: types.ReasonMinHoldActive,
			Reason:     "min hold active",
			FromPoolID: &from,
		}
	}
	currentSnap, hasCurrent := bySnapshot[*in.Position.PoolID]
	if !hasCurrent {
		d := holdReason9("current pool missing from scan")
		d.Timestamp = in.NowTs
		from := *in.Position.PoolID
		d.FromPoolID = &from
		return d
	}

	ranked := rankEligible(eligible, bySnapshot)
	var candidate *types.PoolSnapshot
	for i := range ranked {
		if ranked[i].PoolID == currentSnap.PoolID {
			continue
		}
		slip := guard.Slippage(ranked[i], in.Policy.MaxPriceImpactBps)
		if !slip.Triggered {
			c := ranked[i]
			candidate = &c
			break
		}
	}
	if candidate == nil {
		from := currentSnap.PoolID
		return types.Decision{Timestamp: in.NowTs, Action: types.ActionHold, ReasonCode: types.ReasonSlippageTooHigh, Reason: "no alternate passes slippage guard", FromPoolID: &from}
	}

	deltaBps := candidate.NetApyBps - currentSnap.NetApyBps
	if deltaBps < in.Policy.RotationDeltaApyBps {
		from := currentSnap.PoolID
		return types.Decision{Timestamp: in.NowTs, Action: types.ActionHold, ReasonCode: types.ReasonDeltaBelowThreshold, Reason: "delta below threshold", FromPoolID: &from}
	}

	fromPool, fromOk := in.Pools[currentSnap.PoolID]
	toPool, toOk := in.Pools[candidate.PoolID]
	costBps := 0
	if fromOk && toOk && e.RotationCost != nil {
		c, err := e.RotationCost(ctx, fromPool, toPool, in.TradeAmountRaw)
		if err == nil {
			costBps = c
		}
	}

	paybackHours := estimatePaybackHours(costBps, deltaBps)
	if paybackHours > in.Policy.MaxPaybackHours {
		from := currentSnap.PoolID
		return types.Decision{Timestamp: in.NowTs, Action: types.ActionHold, ReasonCode: types.ReasonPaybackTooLong, Reason: "payback too long", FromPoolID: &from}
	}

	from := currentSnap.PoolID
	chosen := candidate.PoolID
	hours := paybackHours
	return types.Decision{
		Timestamp:             in.NowTs,
		Action:                types.ActionRotate,
		ReasonCode:            types.ReasonApyUpgrade,
		Reason:                "apy upgrade",
		ChosenPoolID:          &chosen,
		FromPoolID:            &from,
		OldNetApyBps:          currentSnap.NetApyBps,
		NewNetApyBps:          candidate.NetApyBps,
		EstimatedPaybackHours: &hours,
	}
}

// estimatePaybackHours returns +Inf when deltaBps is 0, per §8's boundary
// behavior.
func estimatePaybackHours(costBps, deltaBps int) float64 {
	if deltaBps == 0 {
		return math.Inf(1)
	}
	return (float64(costBps) / float64(deltaBps)) * 24 * 365
}

func emergencyExit(in Input, reason types.ReasonCode) types.Decision {
	from := *in.Position.PoolID
	reasonText := "depeg"
	if reason == types.ReasonAprCliffExit {
		reasonText = "apr cliff"
	}
	return types.Decision{
		Timestamp:  in.NowTs,
		Action:     types.ActionExitToPark,
		ReasonCode: reason,
		Reason:     reasonText,
		FromPoolID: &from,
		Emergency:  true,
	}
}

// eligiblePools keeps S-tier, enabled pools and, when a movement-cap
// preview set is supplied, restricts further to it. A pool's tokenIn is
// not compared with the deposit token, here or at config load.
func eligiblePools(in Input) []types.Pool {
	out := make([]types.Pool, 0, len(in.Pools))
	for _, p := range in.Pools {
		if p.Tier != types.TierSelectable || !p.Enabled {
			continue
		}
		if in.DeployableEntryIDs != nil {
			if _, ok := in.DeployableEntryIDs[p.ID]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func indexSnapshots(snaps []types.PoolSnapshot) map[string]types.PoolSnapshot {
	out := make(map[string]types.PoolSnapshot, len(snaps))
	for _, s := range snaps {
		out[s.PoolID] = s
	}
	return out
}

func prevFor(in Input, poolID string) *types.PoolSnapshot {
	if in.PreviousSnapshots == nil {
		return nil
	}
	if p, ok := in.PreviousSnapshots[poolID]; ok {
		return &p
	}
	return nil
}

// rankEligible orders eligible pools' snapshots by the §4.6 tie-break:
// higher netApyBps first, then lower slippageBps, then poolId ascending.
func rankEligible(eligible []types.Pool, bySnapshot map[string]types.PoolSnapshot) []types.PoolSnapshot {
	out := make([]types.PoolSnapshot, 0, len(eligible))
	for _, p := range eligible {
		if s, ok := bySnapshot[p.ID]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NetApyBps != out[j].NetApyBps {
			return out[i].NetApyBps > out[j].NetApyBps
		}
		if out[i].SlippageBps != out[j].SlippageBps {
			return out[i].SlippageBps < out[j].SlippageBps
		}
		return out[i].PoolID < out[j].PoolID
	})
	return out
}
