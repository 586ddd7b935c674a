// Package executor applies the training-wheels checks, sizes the on-chain
// amount, and drives the simulate-then-send protocol (§4.7) for whichever
// action the Decision Engine chose.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"treasuryagent/pkg/adapter"
	"treasuryagent/pkg/types"
	"treasuryagent/pkg/vaultclient"
)

const oneDaySeconds = 24 * 60 * 60

// VaultSender is the low-level surface the simulate-then-send protocol
// needs — deliberately narrower than vaultclient.VaultRPC, since the
// Executor (not VaultClient's EnterPool/ExitPool/Rotate convenience
// methods) is what must gate a send on dryRun/liveModeArmed.
type VaultSender interface {
	Simulate(ctx context.Context, method string, args ...interface{}) error
	Send(ctx context.Context, kind types.TxKind, gasLimit uint64, method string, args ...interface{}) (common.Hash, error)
	Await(ctx context.Context, txHash common.Hash) (*types.TxReceipt, error)
	BalanceOf(ctx context.Context, token common.Address) (*big.Int, error)
	MovementCapBps(ctx context.Context) (int, error)
}

// Executor wires the Vault RPC, the per-pool adapters, and the Policy/
// Runtime records together to turn one Decision into an ExecutionResult.
type Executor struct {
	Vault    VaultSender
	Adapters map[string]adapter.Adapter
	Pools    map[string]types.Pool
	Policy   types.Policy
	Runtime  types.Runtime
	GasLimit uint64
}

// Execute dispatches on decision.Action. HOLD is idempotent: it returns
// (nil, nil) without touching the vault or the position, per §8's
// "idempotence of HOLD" invariant.
func (e *Executor) Execute(ctx context.Context, decision types.Decision, position types.Position, recentDecisions []types.StoredDecision, nowTs int64) (*types.ExecutionResult, error) {
	if decision.Action == types.ActionHold {
		return nil, nil
	}

	if decision.Action == types.ActionRotate && !decision.Emergency {
		if blocked := e.trainingWheelsBlock(decision, recentDecisions, nowTs); blocked != nil {
			return nil, blocked
		}
	}

	switch decision.Action {
	case types.ActionEnter:
		return e.executeEnter(ctx, decision, nowTs)
	case types.ActionRotate:
		return e.executeRotate(ctx, decision, position, nowTs)
	case types.ActionExitToPark:
		return e.executeExit(ctx, decision, position, nowTs)
	default:
		return nil, types.NewError(types.CodeConfigError, fmt.Sprintf("unknown action %q", decision.Action), nil)
	}
}

// trainingWheelsBlock enforces enter-only mode, the daily rotation cap, and
// the post-rotation cooldown for non-emergency rotations only.
func (e *Executor) trainingWheelsBlock(decision types.Decision, recentDecisions []types.StoredDecision, nowTs int64) error {
	if e.Runtime.EnterOnlyMode {
		return types.NewError(types.CodePolicyBlocked, "enter-only mode active", nil)
	}

	rotationsLast24h := 0
	var lastRotateAt int64 = -1
	for _, d := range recentDecisions {
		if d.Action != types.ActionRotate {
			continue
		}
		if nowTs-d.Timestamp < oneDaySeconds {
			rotationsLast24h++
		}
		if d.Timestamp > lastRotateAt {
			lastRotateAt = d.Timestamp
		}
	}
	if rotationsLast24h >= e.Runtime.MaxRotationsPerDay {
		return types.NewError(types.CodePolicyBlocked, "max rotations per day reached", map[string]any{"count": rotationsLast24h})
	}
	if lastRotateAt >= 0 && nowTs-lastRotateAt < e.Runtime.CooldownSeconds {
		return types.NewError(types.CodePolicyBlocked, "cooldown active", map[string]any{"secondsRemaining": e.Runtime.CooldownSeconds - (nowTs - lastRotateAt)})
	}
	return nil
}

// dispatch drives the exact five-step simulate-then-send protocol from
// §4.7 for one typed call, shared across enter/exit/rotate.
func (e *Executor) dispatch(ctx context.Context, nowTs int64, method string, args ...interface{}) (*types.TxReceipt, error) {
	if e.Runtime.DryRun {
		return &types.TxReceipt{TxHash: synthesizeHash(nowTs, method), Status: 1}, nil
	}
	if e.Runtime.ExecutorPrivateKey == "" {
		return nil, types.NewError(types.CodeConfigError, "no wallet key configured for a non-dry-run executor", nil)
	}
	if err := e.Vault.Simulate(ctx, method, args...); err != nil {
		return nil, err
	}
	if !e.Runtime.LiveModeArmed {
		return nil, types.NewError(types.CodePolicyBlocked, "broadcast blocked: live mode not armed", nil)
	}
	txHash, err := e.Vault.Send(ctx, types.Standard, e.GasLimit, method, args...)
	if err != nil {
		return nil, err
	}
	return e.Vault.Await(ctx, txHash)
}

// synthesizeHash produces a deterministic 32-byte pseudo-hash for dry-run
// mode, derived from the tick timestamp and method name rather than the
// real signature a broadcast transaction would carry.
func synthesizeHash(nowTs int64, method string) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(nowTs))
	h.Write(buf[:])
	h.Write([]byte(method))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (e *Executor) resolveEnterAmount(ctx context.Context, tokenIn common.Address) (*big.Int, error) {
	balance, err := e.Vault.BalanceOf(ctx, tokenIn)
	if err != nil {
		return nil, err
	}
	movementCapBps, err := e.Vault.MovementCapBps(ctx)
	if err != nil {
		return nil, err
	}
	capped := new(big.Int).Mul(balance, big.NewInt(int64(movementCapBps)))
	capped.Div(capped, big.NewInt(10000))

	amount := minBigInt(balance, capped)
	if e.Runtime.DefaultTradeAmountRaw != nil {
		amount = minBigInt(amount, e.Runtime.DefaultTradeAmountRaw)
	}
	if amount.Sign() <= 0 {
		return nil, types.NewError(types.CodePolicyBlocked, "no deployable balance", nil)
	}
	return amount, nil
}

func minBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// deriveMinOut implements §4.7's minOut formula: max(1, amountIn ·
// (10000 − maxPriceImpactBps) / 10000).
func deriveMinOut(amountIn *big.Int, maxPriceImpactBps int) *big.Int {
	minOut := new(big.Int).Mul(amountIn, big.NewInt(int64(10000-maxPriceImpactBps)))
	minOut.Div(minOut, big.NewInt(10000))
	if minOut.Sign() < 1 {
		return big.NewInt(1)
	}
	return minOut
}

func (e *Executor) executeEnter(ctx context.Context, decision types.Decision, nowTs int64) (*types.ExecutionResult, error) {
	if decision.ChosenPoolID == nil {
		return nil, types.NewError(types.CodeConfigError, "enter decision missing chosenPoolId", nil)
	}
	pool, ok := e.Pools[*decision.ChosenPoolID]
	if !ok {
		return nil, types.NewError(types.CodeConfigError, "unknown pool "+*decision.ChosenPoolID, nil)
	}
	amountIn, err := e.resolveEnterAmount(ctx, pool.TokenIn)
	if err != nil {
		return &types.ExecutionResult{Error: err}, err
	}
	minOut := deriveMinOut(amountIn, e.Policy.MaxPriceImpactBps)
	req := vaultclient.EnterPoolRequest{
		Target:    pool.Target,
		Pool:      pool.PoolAddress,
		TokenIn:   pool.TokenIn,
		LPToken:   pool.LPToken,
		AmountIn:  amountIn,
		MinOut:    minOut,
		Deadline:  nowTs + e.Policy.TxDeadlineSeconds,
		Pair:      pool.Pair,
		Protocol:  pool.Protocol,
		NetApyBps: decision.NewNetApyBps,
	}

	receipt, err := e.dispatch(ctx, nowTs, "enterPool", req)
	if err != nil {
		return &types.ExecutionResult{Error: err}, err
	}

	enteredAt := nowTs
	if receipt != nil && receipt.BlockTimestamp != 0 {
		enteredAt = receipt.BlockTimestamp
	}
	postLP, lpErr := e.Vault.BalanceOf(ctx, pool.LPToken)

	poolID, pair, protocol := pool.ID, pool.Pair, pool.Protocol
	updated := types.Position{PoolID: &poolID, Pair: &pair, Protocol: &protocol, EnteredAt: &enteredAt, LastNetApyBps: decision.NewNetApyBps}
	if lpErr == nil && postLP != nil {
		updated.LPBalance = decimalFromBigInt(postLP)
	}

	return &types.ExecutionResult{TxHash: txHashFromReceipt(receipt), UpdatedPosition: &updated}, nil
}

func (e *Executor) executeExit(ctx context.Context, decision types.Decision, position types.Position, nowTs int64) (*types.ExecutionResult, error) {
	if position.PoolID == nil {
		return nil, types.NewError(types.CodeConfigError, "exit decision with no open position", nil)
	}
	pool, ok := e.Pools[*position.PoolID]
	if !ok {
		return nil, types.NewError(types.CodeConfigError, "unknown pool "+*position.PoolID, nil)
	}
	amountIn, err := e.movementCappedAmount(ctx, position.LPBalance.BigInt(), "no lp balance to move")
	if err != nil {
		return &types.ExecutionResult{Error: err}, err
	}
	minOut := deriveMinOut(amountIn, e.Policy.MaxPriceImpactBps)
	req := vaultclient.ExitPoolRequest{
		Target:   pool.Target,
		Pool:     pool.PoolAddress,
		LPToken:  pool.LPToken,
		TokenOut: pool.TokenIn,
		AmountIn: amountIn,
		MinOut:   minOut,
		Deadline: nowTs + e.Policy.TxDeadlineSeconds,
		Pair:     pool.Pair,
		Protocol: pool.Protocol,
	}

	receipt, err := e.dispatch(ctx, nowTs, "exitPool", req)
	if err != nil {
		return &types.ExecutionResult{Error: err}, err
	}

	// EXIT_TO_PARK leaves a residual LP balance only if the post-exit LP
	// balance is >0 (partial unwind); otherwise the position clears to
	// parked, per §4.7's state machine.
	postExitLP, lpErr := e.Vault.BalanceOf(ctx, pool.LPToken)
	var updated types.Position
	if lpErr == nil && postExitLP != nil && postExitLP.Sign() > 0 {
		poolID, pair, protocol := pool.ID, pool.Pair, pool.Protocol
		updated = types.Position{PoolID: &poolID, Pair: &pair, Protocol: &protocol, EnteredAt: position.EnteredAt, LPBalance: decimalFromBigInt(postExitLP)}
	} else {
		parkedToken := pool.TokenIn.Hex()
		updated = types.Position{ParkedToken: &parkedToken}
	}

	return &types.ExecutionResult{TxHash: txHashFromReceipt(receipt), UpdatedPosition: &updated}, nil
}

func (e *Executor) executeRotate(ctx context.Context, decision types.Decision, position types.Position, nowTs int64) (*types.ExecutionResult, error) {
	if decision.FromPoolID == nil || decision.ChosenPoolID == nil {
		return nil, types.NewError(types.CodeConfigError, "rotate decision missing from/chosen pool id", nil)
	}
	fromPool, ok := e.Pools[*decision.FromPoolID]
	if !ok {
		return nil, types.NewError(types.CodeConfigError, "unknown pool "+*decision.FromPoolID, nil)
	}
	toPool, ok := e.Pools[*decision.ChosenPoolID]
	if !ok {
		return nil, types.NewError(types.CodeConfigError, "unknown pool "+*decision.ChosenPoolID, nil)
	}

	// §4.7: rotate sizes off the current LP balance, falling back to the
	// configured default trade amount when the position carries none.
	rotateBase := position.LPBalance.BigInt()
	if rotateBase == nil || rotateBase.Sign() <= 0 {
		rotateBase = e.Runtime.DefaultTradeAmountRaw
	}
	amountIn, err := e.movementCappedAmount(ctx, rotateBase, "no amount available to rotate")
	if err != nil {
		return &types.ExecutionResult{Error: err}, err
	}
	minOut := deriveMinOut(amountIn, e.Policy.MaxPriceImpactBps)
	deadline := nowTs + e.Policy.TxDeadlineSeconds

	req := vaultclient.RotateRequest{
		Exit: vaultclient.ExitPoolRequest{
			Target: fromPool.Target, Pool: fromPool.PoolAddress, LPToken: fromPool.LPToken,
			TokenOut: fromPool.TokenIn, AmountIn: amountIn, MinOut: minOut, Deadline: deadline,
			Pair: fromPool.Pair, Protocol: fromPool.Protocol,
		},
		Enter: vaultclient.EnterPoolRequest{
			Target: toPool.Target, Pool: toPool.PoolAddress, TokenIn: toPool.TokenIn, LPToken: toPool.LPToken,
			Deadline: deadline, Pair: toPool.Pair, Protocol: toPool.Protocol, NetApyBps: decision.NewNetApyBps,
		},
		OldNetApyBps: decision.OldNetApyBps,
		NewNetApyBps: decision.NewNetApyBps,
		ReasonCode:   decision.ReasonCode,
	}

	receipt, err := e.dispatch(ctx, nowTs, "rotate", req.Exit, req.Enter, req.OldNetApyBps, req.NewNetApyBps, int(req.ReasonCode))
	if err != nil {
		return &types.ExecutionResult{Error: err}, err
	}

	enteredAt := nowTs
	if receipt != nil && receipt.BlockTimestamp != 0 {
		enteredAt = receipt.BlockTimestamp
	}
	postLP, lpErr := e.Vault.BalanceOf(ctx, toPool.LPToken)

	poolID, pair, protocol := toPool.ID, toPool.Pair, toPool.Protocol
	updated := types.Position{PoolID: &poolID, Pair: &pair, Protocol: &protocol, EnteredAt: &enteredAt, LastNetApyBps: decision.NewNetApyBps}
	if lpErr == nil && postLP != nil {
		updated.LPBalance = decimalFromBigInt(postLP)
	}

	return &types.ExecutionResult{TxHash: txHashFromReceipt(receipt), UpdatedPosition: &updated}, nil
}

// movementCappedAmount caps base at the vault's movementCapBps fraction of
// itself, shared by exit (base is always the LP balance) and rotate (base
// falls back to the default trade amount when the position carries none).
func (e *Executor) movementCappedAmount(ctx context.Context, base *big.Int, emptyMsg string) (*big.Int, error) {
	if base == nil || base.Sign() <= 0 {
		return nil, types.NewError(types.CodePolicyBlocked, emptyMsg, nil)
	}
	movementCapBps, err := e.Vault.MovementCapBps(ctx)
	if err != nil {
		return nil, err
	}
	capped := new(big.Int).Mul(base, big.NewInt(int64(movementCapBps)))
	capped.Div(capped, big.NewInt(10000))
	return minBigInt(base, capped), nil
}

func decimalFromBigInt(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, 0)
}

func txHashFromReceipt(receipt *types.TxReceipt) *common.Hash {
	if receipt == nil {
		return nil
	}
	h := common.HexToHash(receipt.TxHash)
	return &h
}
