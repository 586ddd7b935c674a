// Package agent wires the Scanner, Decision Engine, Executor, Announcer,
// durable Store, and optional audit mirror into the single tick function
// the Scheduler drives, generalizing the teacher's Blackhole struct (which
// wired AMM/staking reads into RunStrategy1) to the Vault-RPC-backed
// treasury loop.
package agent

import (
	"context"
	"log"
	"math/big"

	"treasuryagent/internal/auditmirror"
	"treasuryagent/internal/store"
	"treasuryagent/pkg/announcer"
	"treasuryagent/pkg/decision"
	"treasuryagent/pkg/executor"
	"treasuryagent/pkg/oracle"
	"treasuryagent/pkg/scanner"
	"treasuryagent/pkg/types"
)

// Agent bundles every per-tick dependency. Tick is the function handed to
// pkg/scheduler.New.
type Agent struct {
	Scanner     *scanner.Scanner
	Engine      *decision.Engine
	Executor    *executor.Executor
	Announcer   *announcer.Announcer
	Store       *store.Store
	Mirror      *auditmirror.Mirror // nil disables the secondary sink
	Operator    PendingActionSource
	PriceOracle oracle.PriceOracle

	pools          map[string]types.Pool
	policy         types.Policy
	depositToken   string
	tradeAmountRaw *big.Int

	prevSnapshots map[string]types.PoolSnapshot
}

// PendingActionSource is the narrow slice of pkg/scheduler.OperatorState
// Tick needs, kept as an interface so agent.go has no import-cycle-prone
// dependency on the scheduler's concrete type.
type PendingActionSource interface {
	ConsumePendingAction() (action *string, poolID *string)
}

// New builds an Agent. pools is keyed by ID for O(1) lookups inside Tick.
func New(
	sc *scanner.Scanner,
	engine *decision.Engine,
	exec *executor.Executor,
	ann *announcer.Announcer,
	st *store.Store,
	mirror *auditmirror.Mirror,
	operator PendingActionSource,
	priceOracle oracle.PriceOracle,
	pools []types.Pool,
	policy types.Policy,
	depositToken string,
	tradeAmountRaw *big.Int,
) *Agent {
	byID := make(map[string]types.Pool, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
	}
	return &Agent{
		Scanner:        sc,
		Engine:         engine,
		Executor:       exec,
		Announcer:      ann,
		Store:          st,
		Mirror:         mirror,
		Operator:       operator,
		PriceOracle:    priceOracle,
		pools:          byID,
		policy:         policy,
		depositToken:   depositToken,
		tradeAmountRaw: tradeAmountRaw,
		prevSnapshots:  make(map[string]types.PoolSnapshot),
	}
}

// Tick runs one full scan-decide-execute-announce cycle. It matches
// pkg/scheduler.TickFunc's signature.
func (a *Agent) Tick(ctx context.Context, nowTs int64) error {
	snapshots, err := a.Scanner.Scan(ctx, nowTs)
	if err != nil {
		return err
	}

	if a.Mirror != nil {
		if mErr := a.Mirror.RecordSnapshots(snapshots); mErr != nil {
			log.Printf("audit mirror: snapshot write failed: %v", mErr)
		}
	}

	position := a.Store.Position()
	action, poolID := a.Operator.ConsumePendingAction()
	if applied := a.applyOperatorOverride(action, poolID); applied != nil {
		return a.settle(ctx, nowTs, snapshots, *applied, position)
	}

	d := a.Engine.Decide(ctx, decision.Input{
		NowTs:             nowTs,
		Position:          position,
		Snapshots:         snapshots,
		PreviousSnapshots: a.prevSnapshots,
		StablePrices:      a.stablePrices(ctx),
		Pools:             a.pools,
		Policy:            a.policy,
		DepositToken:      a.depositToken,
		TradeAmountRaw:    a.tradeAmountRaw,
	})

	a.rememberSnapshots(snapshots)
	return a.settle(ctx, nowTs, snapshots, d, position)
}

// applyOperatorOverride turns a pending operator command into a synthetic
// Decision, or returns nil when there is no override to apply this tick.
func (a *Agent) applyOperatorOverride(action, poolID *string) *types.Decision {
	if action == nil {
		return nil
	}
	switch *action {
	case "exit":
		d := types.Decision{Action: types.ActionExitToPark, Reason: "operator-requested exit"}
		if poolID != nil {
			d.FromPoolID = poolID
		}
		return &d
	case "rotate":
		if poolID == nil {
			return nil
		}
		d := types.Decision{Action: types.ActionRotate, Reason: "operator-requested rotate", ChosenPoolID: poolID}
		return &d
	}
	return nil
}

// settle executes the decision (if actionable), records the outcome, mirrors
// it, and announces it, in that order.
func (a *Agent) settle(ctx context.Context, nowTs int64, snapshots []types.PoolSnapshot, d types.Decision, position types.Position) error {
	if d.Timestamp == 0 {
		d.Timestamp = nowTs
	}

	recentDecisions := a.Store.RecentDecisions()
	result, execErr := a.Executor.Execute(ctx, d, position, recentDecisions, nowTs)

	stored := types.StoredDecision{
		Timestamp:    d.Timestamp,
		Action:       d.Action,
		ReasonCode:   d.ReasonCode,
		ChosenPoolID: d.ChosenPoolID,
		FromPoolID:   d.FromPoolID,
		Emergency:    d.Emergency,
	}
	var newPosition *types.Position
	if result != nil {
		newPosition = result.UpdatedPosition
		if result.TxHash != nil {
			hash := result.TxHash.Hex()
			stored.TxHash = &hash
		}
	}

	if err := a.Store.RecordTick(snapshots, stored, newPosition); err != nil {
		return err
	}
	if a.Mirror != nil {
		if mErr := a.Mirror.RecordDecision(d.Timestamp, stored); mErr != nil {
			log.Printf("audit mirror: decision write failed: %v", mErr)
		}
		if newPosition != nil {
			if mErr := a.Mirror.RecordPosition(d.Timestamp, *newPosition); mErr != nil {
				log.Printf("audit mirror: position write failed: %v", mErr)
			}
		}
	}

	if execErr != nil {
		if isNonFatalExecutionError(execErr) {
			log.Printf("execution did not complete: %v", execErr)
			return nil
		}
		return execErr
	}
	if result == nil || d.Action == types.ActionHold {
		return nil
	}

	rec, annErr := a.Announcer.Announce(ctx, d, result)
	if annErr != nil {
		log.Printf("announcer: %v", annErr)
		return nil
	}
	if tErr := a.Store.RecordTweet(rec); tErr != nil {
		log.Printf("store: tweet record failed: %v", tErr)
	}
	return nil
}

// isNonFatalExecutionError reports whether err is one of the Executor
// outcomes §4.10/§7 document as "logged, tick remains successful": a
// blocked policy check, a reverted simulation, a failed broadcast, or a
// missing signing key. Anything else (e.g. PRICE_UNAVAILABLE) fails the
// tick.
func isNonFatalExecutionError(err error) bool {
	for _, code := range []types.Code{
		types.CodePolicyBlocked,
		types.CodeSimulationFailed,
		types.CodeSendFailed,
		types.CodeConfigError,
	} {
		if types.IsCode(err, code) {
			return true
		}
	}
	return false
}

func (a *Agent) stablePrices(ctx context.Context) map[string]float64 {
	prices, err := a.PriceOracle.GetStablePricesUsd(ctx)
	if err != nil {
		log.Printf("price oracle: stable price fetch failed: %v", err)
		return nil
	}
	return prices
}

func (a *Agent) rememberSnapshots(snapshots []types.PoolSnapshot) {
	for _, s := range snapshots {
		a.prevSnapshots[s.PoolID] = s
	}
}
