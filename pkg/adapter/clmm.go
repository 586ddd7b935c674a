package adapter

import (
	"context"
	"math/big"

	"treasuryagent/pkg/types"
)

// ChainReader is the minimal on-chain read surface a CLMM adapter needs:
// the pool's current virtual reserves (derived from its concentrated
// liquidity and current tick) for quoting, and its TVL/reward state for
// fetchPoolState.
type ChainReader interface {
	Reserves(ctx context.Context, pool types.Pool) (reserveIn, reserveOut *big.Int, err error)
	TvlUsd(ctx context.Context, pool types.Pool) (float64, error)
}

// ClmmAdapter serves concentrated-liquidity pools (Uniswap V3/Algebra-style).
// It is the one adapter that performs real quote-based slippage estimation;
// lending and vault4626 opt out, per §4.1.
type ClmmAdapter struct {
	reader ChainReader
}

func NewClmmAdapter(reader ChainReader) *ClmmAdapter {
	return &ClmmAdapter{reader: reader}
}

func (a *ClmmAdapter) FetchPoolState(ctx context.Context, pool types.Pool) (PoolState, error) {
	tvl, err := a.reader.TvlUsd(ctx, pool)
	if err != nil {
		if pool.Mock.TvlUsd > 0 {
			return fallbackState(pool), nil
		}
		return PoolState{}, errAdapterUnavailable(pool.ID, err)
	}
	return PoolState{
		TvlUsd:              tvl,
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}, nil
}

// EstimatePriceImpactBps quotes amountIn against the pool's constant-product
// virtual reserves, then quotes the round trip back, per §4.1's literal
// formula: (amountIn − roundtrip(amountIn)) / amountIn · 10000.
func (a *ClmmAdapter) EstimatePriceImpactBps(ctx context.Context, pool types.Pool, amountIn *big.Int) (int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return 0, nil
	}
	reserveIn, reserveOut, err := a.reader.Reserves(ctx, pool)
	if err != nil {
		return 0, errAdapterUnavailable(pool.ID, err)
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return 0, nil
	}

	amountOut := swapOut(amountIn, reserveIn, reserveOut)
	if amountOut.Sign() <= 0 {
		return 10000, nil
	}

	roundtrip := swapOut(amountOut, reserveOut, reserveIn)

	delta := new(big.Int).Sub(amountIn, roundtrip)
	if delta.Sign() <= 0 {
		return 0, nil
	}
	bps := new(big.Int).Mul(delta, big.NewInt(10000))
	bps.Div(bps, amountIn)
	return int(bps.Int64()), nil
}

// swapOut applies the constant-product formula amountOut = reserveOut *
// amountIn / (reserveIn + amountIn).
func swapOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	num := new(big.Int).Mul(reserveOut, amountIn)
	denom := new(big.Int).Add(reserveIn, amountIn)
	if denom.Sign() == 0 {
		return big.NewInt(0)
	}
	return num.Div(num, denom)
}

func (a *ClmmAdapter) EstimateRotationCostBps(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error) {
	return rotationCostBps(from, to, 0, 0), nil
}

func (a *ClmmAdapter) BuildEnterRequest(ctx context.Context, params EnterParams) (Request, error) {
	return Request{Data: nil}, nil
}

func (a *ClmmAdapter) BuildExitRequest(ctx context.Context, params ExitParams) (Request, error) {
	return Request{Data: nil}, nil
}

func fallbackState(pool types.Pool) PoolState {
	return PoolState{
		TvlUsd:              pool.Mock.TvlUsd,
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}
}
