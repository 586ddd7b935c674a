package executor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryagent/pkg/types"
	"treasuryagent/pkg/vaultclient"
)

type fakeVault struct {
	simulateErr    error
	sendErr        error
	sendHash       common.Hash
	awaitReceipt   *types.TxReceipt
	awaitErr       error
	balance        *big.Int
	movementCapBps int
	simulateCalls  int
	sendCalls      int
	lastSendArgs   []interface{}
}

func (f *fakeVault) Simulate(ctx context.Context, method string, args ...interface{}) error {
	f.simulateCalls++
	return f.simulateErr
}

func (f *fakeVault) Send(ctx context.Context, kind types.TxKind, gasLimit uint64, method string, args ...interface{}) (common.Hash, error) {
	f.sendCalls++
	f.lastSendArgs = args
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	return f.sendHash, nil
}

func (f *fakeVault) Await(ctx context.Context, txHash common.Hash) (*types.TxReceipt, error) {
	return f.awaitReceipt, f.awaitErr
}

func (f *fakeVault) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeVault) MovementCapBps(ctx context.Context) (int, error) {
	return f.movementCapBps, nil
}

func assertErr(t *testing.T, err error, code types.Code) {
	t.Helper()
	require.Error(t, err)
	agentErr, ok := err.(*types.AgentError)
	require.True(t, ok, "expected *types.AgentError, got %T", err)
	assert.Equal(t, code, agentErr.Code)
}

func testPool(id string) types.Pool {
	return types.Pool{ID: id, Pair: id + "-pair", Protocol: "mock", TokenIn: common.HexToAddress("0x01"), LPToken: common.HexToAddress("0x02"), PoolAddress: common.HexToAddress("0x03")}
}

func baseExecutor(vault *fakeVault) *Executor {
	return &Executor{
		Vault:    vault,
		Pools:    map[string]types.Pool{"A": testPool("A"), "B": testPool("B")},
		Policy:   types.Policy{MaxPriceImpactBps: 50, TxDeadlineSeconds: 1800},
		Runtime:  types.Runtime{DryRun: true},
		GasLimit: 500000,
	}
}

func TestExecuteHoldIsIdempotent(t *testing.T) {
	e := baseExecutor(&fakeVault{})
	res, err := e.Execute(context.Background(), types.Decision{Action: types.ActionHold}, types.Position{}, nil, 1000)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDispatchDryRunSynthesizesHashWithoutSending(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000}
	e := baseExecutor(vault)
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}
	res, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.TxHash)
	assert.Equal(t, 0, vault.simulateCalls)
	assert.Equal(t, 0, vault.sendCalls)
}

func TestDispatchLiveModeNotArmedBlocksBroadcast(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime = types.Runtime{DryRun: false, ExecutorPrivateKey: "deadbeef", LiveModeArmed: false}
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}
	_, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	assertErr(t, err, types.CodePolicyBlocked)
	assert.Equal(t, 1, vault.simulateCalls)
	assert.Equal(t, 0, vault.sendCalls)
}

func TestDispatchMissingWalletKeyIsConfigError(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime = types.Runtime{DryRun: false, ExecutorPrivateKey: ""}
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}
	_, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	assertErr(t, err, types.CodeConfigError)
	assert.Equal(t, 0, vault.simulateCalls)
}

func TestDispatchSimulationFailurePropagates(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000, simulateErr: types.NewError(types.CodeSimulationFailed, "revert", nil)}
	e := baseExecutor(vault)
	e.Runtime = types.Runtime{DryRun: false, ExecutorPrivateKey: "deadbeef", LiveModeArmed: true}
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}
	_, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	assertErr(t, err, types.CodeSimulationFailed)
	assert.Equal(t, 0, vault.sendCalls)
}

func TestDispatchLiveModeArmedSendsAndAwaits(t *testing.T) {
	vault := &fakeVault{
		balance:        big.NewInt(1000),
		movementCapBps: 10000,
		sendHash:       common.HexToHash("0xabc"),
		awaitReceipt:   &types.TxReceipt{TxHash: "0xabc", Status: 1, BlockTimestamp: 5000},
	}
	e := baseExecutor(vault)
	e.Runtime = types.Runtime{DryRun: false, ExecutorPrivateKey: "deadbeef", LiveModeArmed: true}
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen, NewNetApyBps: 500}
	res, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.TxHash)
	assert.Equal(t, common.HexToHash("0xabc"), *res.TxHash)
	assert.Equal(t, 1, vault.simulateCalls)
	assert.Equal(t, 1, vault.sendCalls)
	require.NotNil(t, res.UpdatedPosition)
	require.NotNil(t, res.UpdatedPosition.EnteredAt)
	assert.Equal(t, int64(5000), *res.UpdatedPosition.EnteredAt)
}

func TestDispatchSendFailurePropagates(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000, sendErr: types.NewError(types.CodeSendFailed, "rejected", nil)}
	e := baseExecutor(vault)
	e.Runtime = types.Runtime{DryRun: false, ExecutorPrivateKey: "deadbeef", LiveModeArmed: true}
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}
	_, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	assertErr(t, err, types.CodeSendFailed)
}

func TestEnterAmountZeroBalanceIsPolicyBlocked(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(0), movementCapBps: 10000}
	e := baseExecutor(vault)
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}
	_, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	assertErr(t, err, types.CodePolicyBlocked)
}

func TestEnterAmountRespectsDefaultTradeCap(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1_000_000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime.DefaultTradeAmountRaw = big.NewInt(100)
	chosen := "A"
	d := types.Decision{Action: types.ActionEnter, ChosenPoolID: &chosen}
	res, err := e.Execute(context.Background(), d, types.Position{}, nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, res)
}

func TestTrainingWheelsEnterOnlyModeBlocksRotate(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime.EnterOnlyMode = true
	e.Runtime.MaxRotationsPerDay = 10
	from, to := "A", "B"
	d := types.Decision{Action: types.ActionRotate, FromPoolID: &from, ChosenPoolID: &to}
	_, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.NewFromInt(500)}, nil, 100000)
	assertErr(t, err, types.CodePolicyBlocked)
}

func TestTrainingWheelsMaxRotationsPerDayBlocksNthPlusOne(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime.MaxRotationsPerDay = 2
	e.Runtime.CooldownSeconds = 0
	from, to := "A", "B"
	recent := []types.StoredDecision{
		{Action: types.ActionRotate, Timestamp: 99000},
		{Action: types.ActionRotate, Timestamp: 99500},
	}
	d := types.Decision{Action: types.ActionRotate, FromPoolID: &from, ChosenPoolID: &to}
	_, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.NewFromInt(500)}, recent, 100000)
	assertErr(t, err, types.CodePolicyBlocked)
}

func TestTrainingWheelsUnderDailyCapAllowsRotate(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime.MaxRotationsPerDay = 2
	e.Runtime.CooldownSeconds = 0
	from, to := "A", "B"
	recent := []types.StoredDecision{
		{Action: types.ActionRotate, Timestamp: 1000},
	}
	d := types.Decision{Action: types.ActionRotate, FromPoolID: &from, ChosenPoolID: &to, NewNetApyBps: 600}
	res, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.NewFromInt(500)}, recent, 100000)
	require.NoError(t, err)
	require.NotNil(t, res)
}

func TestTrainingWheelsCooldownBlocksRecentRotate(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime.MaxRotationsPerDay = 10
	e.Runtime.CooldownSeconds = 21600
	from, to := "A", "B"
	recent := []types.StoredDecision{
		{Action: types.ActionRotate, Timestamp: 99000},
	}
	d := types.Decision{Action: types.ActionRotate, FromPoolID: &from, ChosenPoolID: &to}
	_, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.NewFromInt(500)}, recent, 100000)
	assertErr(t, err, types.CodePolicyBlocked)
}

func TestTrainingWheelsSkippedForEmergencyRotateEquivalentExit(t *testing.T) {
	// Emergency exits bypass the training-wheels gate entirely (§4.7): only
	// non-emergency ROTATE is checked.
	vault := &fakeVault{balance: big.NewInt(0)}
	e := baseExecutor(vault)
	e.Runtime.EnterOnlyMode = true
	from := "A"
	d := types.Decision{Action: types.ActionExitToPark, FromPoolID: &from, Emergency: true}
	res, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.NewFromInt(500)}, nil, 100000)
	require.NoError(t, err)
	require.NotNil(t, res)
}

func TestExitClearsPositionWhenLpFullyUnwound(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(0), movementCapBps: 10000}
	e := baseExecutor(vault)
	from := "A"
	d := types.Decision{Action: types.ActionExitToPark, FromPoolID: &from, Emergency: true}
	res, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.NewFromInt(500)}, nil, 100000)
	require.NoError(t, err)
	require.NotNil(t, res.UpdatedPosition)
	assert.True(t, res.UpdatedPosition.IsParked())
}

func TestExitLeavesResidualLpOnPartialUnwind(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(250), movementCapBps: 10000}
	e := baseExecutor(vault)
	from := "A"
	d := types.Decision{Action: types.ActionExitToPark, FromPoolID: &from, Emergency: true}
	res, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.NewFromInt(500)}, nil, 100000)
	require.NoError(t, err)
	require.NotNil(t, res.UpdatedPosition)
	assert.True(t, res.UpdatedPosition.IsDeployed())
	assert.False(t, res.UpdatedPosition.LPBalance.IsZero())
}

func TestRotateMissingPoolIdsIsConfigError(t *testing.T) {
	e := baseExecutor(&fakeVault{})
	e.Runtime.MaxRotationsPerDay = 10
	d := types.Decision{Action: types.ActionRotate}
	_, err := e.Execute(context.Background(), d, types.Position{LPBalance: decimal.NewFromInt(1)}, nil, 1000)
	assertErr(t, err, types.CodeConfigError)
}

func TestRotateFallsBackToDefaultTradeAmountWhenLpBalanceIsZero(t *testing.T) {
	vault := &fakeVault{balance: big.NewInt(1_000_000), movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime.DefaultTradeAmountRaw = big.NewInt(777)
	e.Runtime.DryRun = false
	e.Runtime.ExecutorPrivateKey = "deadbeef"
	e.Runtime.LiveModeArmed = true
	e.Runtime.MaxRotationsPerDay = 10
	from, to := "A", "B"
	d := types.Decision{Action: types.ActionRotate, FromPoolID: &from, ChosenPoolID: &to}

	res, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.Zero}, nil, 1000)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, vault.lastSendArgs, 5)
	exitReq, ok := vault.lastSendArgs[0].(vaultclient.ExitPoolRequest)
	require.True(t, ok)
	assert.Equal(t, int64(777), exitReq.AmountIn.Int64())
}

func TestRotateWithZeroLpBalanceAndNoDefaultTradeAmountIsPolicyBlocked(t *testing.T) {
	vault := &fakeVault{movementCapBps: 10000}
	e := baseExecutor(vault)
	e.Runtime.MaxRotationsPerDay = 10
	from, to := "A", "B"
	d := types.Decision{Action: types.ActionRotate, FromPoolID: &from, ChosenPoolID: &to}

	_, err := e.Execute(context.Background(), d, types.Position{PoolID: &from, LPBalance: decimal.Zero}, nil, 1000)
	assertErr(t, err, types.CodePolicyBlocked)
}

func TestUnknownActionIsConfigError(t *testing.T) {
	e := baseExecutor(&fakeVault{})
	_, err := e.Execute(context.Background(), types.Decision{Action: types.Action("BOGUS")}, types.Position{}, nil, 1000)
	assertErr(t, err, types.CodeConfigError)
}
