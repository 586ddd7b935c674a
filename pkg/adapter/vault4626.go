package adapter

import (
	"context"
	"math/big"

	"treasuryagent/pkg/types"
)

// Erc4626Reader is the minimal ERC-4626 read surface a vault adapter needs:
// the vault's total managed assets (for TVL) and a previewRedeem quote,
// shared in shape with pkg/oracle's lookback reader so the same on-chain
// client can satisfy both.
type Erc4626Reader interface {
	TotalAssetsUsd(ctx context.Context, pool types.Pool) (float64, error)
	PreviewRedeem(ctx context.Context, pool types.Pool, shares int64) (int64, error)
}

// Vault4626Adapter serves ERC-4626 external-vault pools. Like
// LendingAdapter, it opts out of quote-based price-impact estimation:
// deposits mint shares at the vault's posted share price, not through a
// priced swap with slippage.
type Vault4626Adapter struct {
	reader Erc4626Reader
}

func NewVault4626Adapter(reader Erc4626Reader) *Vault4626Adapter {
	return &Vault4626Adapter{reader: reader}
}

func (a *Vault4626Adapter) FetchPoolState(ctx context.Context, pool types.Pool) (PoolState, error) {
	tvl, err := a.reader.TotalAssetsUsd(ctx, pool)
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

// EstimatePriceImpactBps always returns 0, documented per §4.1's opt-out
// clause: share minting has no roundtrip quote to compare against.
func (a *Vault4626Adapter) EstimatePriceImpactBps(ctx context.Context, pool types.Pool, amountIn *big.Int) (int, error) {
	return 0, nil
}

func (a *Vault4626Adapter) EstimateRotationCostBps(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error) {
	return rotationCostBps(from, to, 0, 0), nil
}

func (a *Vault4626Adapter) BuildEnterRequest(ctx context.Context, params EnterParams) (Request, error) {
	return Request{Data: nil}, nil
}

func (a *Vault4626Adapter) BuildExitRequest(ctx context.Context, params ExitParams) (Request, error) {
	return Request{Data: nil}, nil
}
