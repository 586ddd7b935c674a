package adapter

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryagent/pkg/types"
)

type fakeChainReader struct {
	reserveIn, reserveOut *big.Int
	tvl                   float64
	err                   error
}

func (f fakeChainReader) Reserves(ctx context.Context, pool types.Pool) (*big.Int, *big.Int, error) {
	return f.reserveIn, f.reserveOut, f.err
}

func (f fakeChainReader) TvlUsd(ctx context.Context, pool types.Pool) (float64, error) {
	return f.tvl, f.err
}

func TestClmmEstimatePriceImpactBpsZeroForNonPositiveAmount(t *testing.T) {
	a := NewClmmAdapter(fakeChainReader{reserveIn: big.NewInt(1000), reserveOut: big.NewInt(1000)})
	bps, err := a.EstimatePriceImpactBps(context.Background(), types.Pool{}, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, 0, bps)
}

func TestClmmEstimatePriceImpactBpsGrowsWithTradeSize(t *testing.T) {
	reader := fakeChainReader{reserveIn: big.NewInt(1_000_000), reserveOut: big.NewInt(1_000_000)}
	a := NewClmmAdapter(reader)

	small, err := a.EstimatePriceImpactBps(context.Background(), types.Pool{}, big.NewInt(1_000))
	require.NoError(t, err)

	large, err := a.EstimatePriceImpactBps(context.Background(), types.Pool{}, big.NewInt(100_000))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, small, 0)
	assert.Greater(t, large, small, "larger trades must incur more price impact")
}

func TestClmmFetchPoolStateFallsBackToMock(t *testing.T) {
	a := NewClmmAdapter(fakeChainReader{err: assertErr{}})
	pool := types.Pool{Mock: types.MockEconomics{TvlUsd: 5000}}
	state, err := a.FetchPoolState(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, state.TvlUsd)
}

func TestClmmFetchPoolStateFailsWithoutFallback(t *testing.T) {
	a := NewClmmAdapter(fakeChainReader{err: assertErr{}})
	_, err := a.FetchPoolState(context.Background(), types.Pool{ID: "p1"})
	require.Error(t, err)
	var agentErr *types.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, types.CodeAdapterUnavailable, agentErr.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "rpc unavailable" }

func TestLendingAdapterAlwaysZeroPriceImpact(t *testing.T) {
	a := NewLendingAdapter(nil)
	bps, err := a.EstimatePriceImpactBps(context.Background(), types.Pool{}, big.NewInt(500_000))
	require.NoError(t, err)
	assert.Equal(t, 0, bps)
}

func TestVault4626AdapterAlwaysZeroPriceImpact(t *testing.T) {
	a := NewVault4626Adapter(nil)
	bps, err := a.EstimatePriceImpactBps(context.Background(), types.Pool{}, big.NewInt(500_000))
	require.NoError(t, err)
	assert.Equal(t, 0, bps)
}

func TestEstimateRotationCostBpsZeroForSamePool(t *testing.T) {
	a := NewClmmAdapter(nil)
	pool := types.Pool{ID: "p1"}
	bps, err := a.EstimateRotationCostBps(context.Background(), pool, pool, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, 0, bps)
}

func TestDeriveMinOutClampsToleranceBounds(t *testing.T) {
	amountIn := big.NewInt(1_000_000)
	requestedMinOut := big.NewInt(990_000) // 9900 bps tolerance
	quotedOut := big.NewInt(995_000)

	minOut := DeriveMinOut(amountIn, requestedMinOut, quotedOut)
	assert.True(t, minOut.Sign() > 0)
	assert.True(t, minOut.Cmp(quotedOut) <= 0)
}

func TestDeriveMinOutNeverBelowOne(t *testing.T) {
	minOut := DeriveMinOut(big.NewInt(0), big.NewInt(0), big.NewInt(0))
	assert.Equal(t, big.NewInt(1), minOut)
}
