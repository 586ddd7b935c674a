package scanner

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryagent/pkg/adapter"
	"treasuryagent/pkg/oracle"
	"treasuryagent/pkg/types"
)

type fakeAdapter struct {
	state       adapter.PoolState
	impactBps   int
	failState   bool
	failImpact  bool
}

func (f fakeAdapter) FetchPoolState(ctx context.Context, pool types.Pool) (adapter.PoolState, error) {
	if f.failState {
		return adapter.PoolState{}, assertErr{}
	}
	return f.state, nil
}

func (f fakeAdapter) EstimatePriceImpactBps(ctx context.Context, pool types.Pool, amountIn *big.Int) (int, error) {
	if f.failImpact {
		return 0, assertErr{}
	}
	return f.impactBps, nil
}

func (f fakeAdapter) EstimateRotationCostBps(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error) {
	return 0, nil
}

func (f fakeAdapter) BuildEnterRequest(ctx context.Context, params adapter.EnterParams) (adapter.Request, error) {
	return adapter.Request{}, nil
}

func (f fakeAdapter) BuildExitRequest(ctx context.Context, params adapter.ExitParams) (adapter.Request, error) {
	return adapter.Request{}, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

type fakeBaseApyResolver struct {
	overrides map[string]int
}

func (f fakeBaseApyResolver) Resolve(ctx context.Context, pools []types.Pool) map[string]int {
	return f.overrides
}

func pool(id string, adapterID string) types.Pool {
	return types.Pool{ID: id, Pair: id, Protocol: "test", Enabled: true, AdapterID: adapterID, BaseApyBps: 100, RewardTokenSymbol: "RWD"}
}

func TestScanReturnsEmptyErrorWhenNoEnabledPools(t *testing.T) {
	s := New(nil, nil, fakeBaseApyResolver{}, nil, big.NewInt(1000), time.Second)
	_, err := s.Scan(context.Background(), 1000)
	require.Error(t, err)
	var agentErr *types.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, types.CodeScanEmpty, agentErr.Code)
}

func TestScanSortsByNetApyDescThenPoolIdAsc(t *testing.T) {
	pools := []types.Pool{pool("b", "a1"), pool("a", "a1"), pool("c", "a1")}
	adapters := map[string]adapter.Adapter{
		"a1": fakeAdapter{state: adapter.PoolState{TvlUsd: 100000, RewardRatePerSecond: 0, ProtocolFeeBps: 0}, impactBps: 10},
	}
	po := oracle.NewStaticPriceOracle(map[string]float64{"RWD": 1}, nil)
	overrides := map[string]int{"b": 500, "a": 500, "c": 100}
	s := New(pools, adapters, fakeBaseApyResolver{overrides: overrides}, po, big.NewInt(1000), time.Second)

	snaps, err := s.Scan(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, "a", snaps[0].PoolID, "tie on netApyBps broken by poolId ascending")
	assert.Equal(t, "b", snaps[1].PoolID)
	assert.Equal(t, "c", snaps[2].PoolID)
}

func TestScanSkipsFailingPoolsAndSucceedsWithRemainder(t *testing.T) {
	pools := []types.Pool{pool("good", "good"), pool("bad", "bad")}
	adapters := map[string]adapter.Adapter{
		"good": fakeAdapter{state: adapter.PoolState{TvlUsd: 1000}, impactBps: 5},
		"bad":  fakeAdapter{failState: true},
	}
	po := oracle.NewStaticPriceOracle(map[string]float64{"RWD": 1}, nil)
	s := New(pools, adapters, fakeBaseApyResolver{overrides: map[string]int{}}, po, big.NewInt(1000), time.Second)

	snaps, err := s.Scan(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "good", snaps[0].PoolID)
}

func TestScanFailsWithScanEmptyWhenAllPoolsFail(t *testing.T) {
	pools := []types.Pool{pool("bad", "bad")}
	adapters := map[string]adapter.Adapter{"bad": fakeAdapter{failState: true}}
	po := oracle.NewStaticPriceOracle(map[string]float64{"RWD": 1}, nil)
	s := New(pools, adapters, fakeBaseApyResolver{overrides: map[string]int{}}, po, big.NewInt(1000), time.Second)

	_, err := s.Scan(context.Background(), 1000)
	require.Error(t, err)
	var agentErr *types.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, types.CodeScanEmpty, agentErr.Code)
}

func TestScanIncentiveAprBpsNeverNegative(t *testing.T) {
	pools := []types.Pool{pool("p1", "a1")}
	adapters := map[string]adapter.Adapter{
		"a1": fakeAdapter{state: adapter.PoolState{TvlUsd: 1000, RewardRatePerSecond: 0, ProtocolFeeBps: 999999}},
	}
	po := oracle.NewStaticPriceOracle(map[string]float64{"RWD": 1}, nil)
	s := New(pools, adapters, fakeBaseApyResolver{overrides: map[string]int{}}, po, big.NewInt(1000), time.Second)

	snaps, err := s.Scan(context.Background(), 1000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snaps[0].IncentiveAprBps, 0)
	assert.GreaterOrEqual(t, snaps[0].NetApyBps, 0)
}
