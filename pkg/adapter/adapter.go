// Package adapter provides the per-protocol Strategy Adapter capability
// contract (§4.1): fetching live pool state, estimating price impact and
// rotation cost, and building opaque enter/exit requests. The Executor
// builds its Vault RPC requests itself and does not call the builders.
package adapter

import (
	"context"
	"math/big"

	"treasuryagent/pkg/types"
)

// PoolState is the live economic reading an adapter produces for one pool.
type PoolState struct {
	TvlUsd              float64
	RewardRatePerSecond float64
	RewardTokenSymbol   string
	BaseApyBps          int
	ProtocolFeeBps      int
}

// EnterParams are the inputs to BuildEnterRequest.
type EnterParams struct {
	Pool                types.Pool
	AmountIn            *big.Int
	MinOut              *big.Int
	Deadline            int64
	NetApyBps           int
	IntendedHoldSeconds int64
}

// ExitParams are the inputs to BuildExitRequest.
type ExitParams struct {
	Pool     types.Pool
	TokenOut types.Pool // only Target/PoolAddress/TokenIn fields are meaningful here
	AmountIn *big.Int
	MinOut   *big.Int
	Deadline int64
}

// Request is the opaque payload an adapter's builders return. The adapters
// in this package return an empty Data.
type Request struct {
	Data []byte
}

// Adapter is the capability set every protocol-specific implementation must
// satisfy. A pool's adapterId selects which Adapter instance serves it.
type Adapter interface {
	// FetchPoolState must not fail on a transient RPC error if the Pool's
	// static/mock fields provide a deterministic fallback; otherwise it
	// returns an ADAPTER_UNAVAILABLE error.
	FetchPoolState(ctx context.Context, pool types.Pool) (PoolState, error)

	// EstimatePriceImpactBps returns 0 for amountIn <= 0 or when this
	// adapter opts out of quote-based estimation (documented per adapter).
	EstimatePriceImpactBps(ctx context.Context, pool types.Pool, amountIn *big.Int) (int, error)

	// EstimateRotationCostBps returns 0 when from.ID == to.ID; otherwise the
	// default is max(fromRotationCostBps, toRotationCostBps). Pool carries
	// no per-pool rotation cost and every adapter here passes 0 for both,
	// so the estimate is always 0.
	EstimateRotationCostBps(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error)

	BuildEnterRequest(ctx context.Context, params EnterParams) (Request, error)
	BuildExitRequest(ctx context.Context, params ExitParams) (Request, error)
}

// DeriveMinOut implements §4.1's slippage-derivation rule for adapters that
// re-price at build time: the caller's requested minOut is converted into a
// tolerance in bps, then reapplied to a freshly quoted amount.
func DeriveMinOut(amountIn, requestedMinOut, quotedOut *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || requestedMinOut == nil || quotedOut == nil {
		return big.NewInt(1)
	}
	toleranceBps := new(big.Int).Mul(requestedMinOut, big.NewInt(10000))
	toleranceBps.Div(toleranceBps, amountIn)
	toleranceBps = clampBigInt(toleranceBps, big.NewInt(1), big.NewInt(10000))

	minOut := new(big.Int).Mul(quotedOut, toleranceBps)
	minOut.Div(minOut, big.NewInt(10000))
	if minOut.Sign() < 1 {
		return big.NewInt(1)
	}
	return minOut
}

func clampBigInt(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return v
}

// rotationCostBps returns the default max(from, to) estimate used by every
// adapter that does not override rotation-cost estimation with a live quote.
func rotationCostBps(from, to types.Pool, fromCostBps, toCostBps int) int {
	if from.ID == to.ID {
		return 0
	}
	if fromCostBps > toCostBps {
		return fromCostBps
	}
	return toCostBps
}

var errAdapterUnavailable = func(poolID string, cause error) error {
	return types.NewError(types.CodeAdapterUnavailable, "adapter unavailable for pool "+poolID, map[string]any{"cause": cause.Error()})
}
