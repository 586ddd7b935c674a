// Package types defines the shared data model of the treasury agent: the
// allow-listed Pool catalogue, per-tick Scanner output, the Vault's current
// Position, Decisions produced by the policy engine, and the static
// configuration records (Policy, Runtime).
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Tier marks whether a Pool is selectable by the Decision Engine or merely
// tracked for observation.
type Tier string

const (
	TierSelectable Tier = "S"
	TierReserved   Tier = "R"
)

// Action is one of the four outcomes the Decision Engine may choose.
type Action string

const (
	ActionHold        Action = "HOLD"
	ActionEnter       Action = "ENTER"
	ActionRotate      Action = "ROTATE"
	ActionExitToPark  Action = "EXIT_TO_PARK"
)

// ReasonCode enumerates every reason a Decision can carry. The numeric value
// is load-bearing: it is what gets persisted to the state file and surfaced
// over the status API.
type ReasonCode int

const (
	ReasonInitialDeploy      ReasonCode = 1
	ReasonApyUpgrade         ReasonCode = 2
	ReasonDepegExit          ReasonCode = 3
	ReasonAprCliffExit       ReasonCode = 4
	ReasonMinHoldActive      ReasonCode = 5
	ReasonDeltaBelowThreshold ReasonCode = 6
	ReasonPaybackTooLong     ReasonCode = 7
	ReasonSlippageTooHigh    ReasonCode = 8
	ReasonNoEligiblePool     ReasonCode = 9
)

// MockEconomics is the fallback economic data used when an adapter cannot
// read live on-chain state for a pool.
type MockEconomics struct {
	TvlUsd              float64 `json:"tvlUsd" yaml:"tvlUsd"`
	RewardRatePerSecond float64 `json:"rewardRatePerSecond" yaml:"rewardRatePerSecond"`
	RewardTokenPriceUsd float64 `json:"rewardTokenPriceUsd" yaml:"rewardTokenPriceUsd"`
	ProtocolFeeBps      int     `json:"protocolFeeBps" yaml:"protocolFeeBps"`
}

// Pool is one allow-listed venue. Identity is the stable string id; every
// other component refers to a pool by id, never by pointer.
type Pool struct {
	ID                string        `json:"id" yaml:"id"`
	Protocol          string        `json:"protocol" yaml:"protocol"`
	Pair              string        `json:"pair" yaml:"pair"`
	Tier              Tier          `json:"tier" yaml:"tier"`
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	AdapterID         string        `json:"adapterId" yaml:"adapterId"`
	Target            common.Address `json:"target" yaml:"target"`
	PoolAddress       common.Address `json:"pool" yaml:"pool"`
	LPToken           common.Address `json:"lpToken" yaml:"lpToken"`
	TokenIn           common.Address `json:"tokenIn" yaml:"tokenIn"`
	BaseApyBps        int           `json:"baseApyBps" yaml:"baseApyBps"`
	RewardTokenSymbol string        `json:"rewardTokenSymbol" yaml:"rewardTokenSymbol"`
	Mock              MockEconomics `json:"mock" yaml:"mock"`
}

// PoolSnapshot is an immutable, per-tick economic observation of one pool.
type PoolSnapshot struct {
	PoolID              string  `json:"poolId"`
	Pair                string  `json:"pair"`
	Protocol            string  `json:"protocol"`
	Timestamp           int64   `json:"timestamp"`
	TvlUsd              float64 `json:"tvlUsd"`
	IncentiveAprBps      int     `json:"incentiveAprBps"`
	NetApyBps           int     `json:"netApyBps"`
	SlippageBps         int     `json:"slippageBps"`
	RewardRatePerSecond float64 `json:"rewardRatePerSecond"`
	RewardTokenPriceUsd float64 `json:"rewardTokenPriceUsd"`
}

// Position is the Vault's current allocation. Exactly one of PoolID or
// ParkedToken is set, or neither (uninitialized).
type Position struct {
	PoolID        *string         `json:"poolId"`
	Pair          *string         `json:"pair"`
	Protocol      *string         `json:"protocol"`
	EnteredAt     *int64          `json:"enteredAt"`
	LPBalance     decimal.Decimal `json:"lpBalance"`
	LastNetApyBps int             `json:"lastNetApyBps"`
	ParkedToken   *string         `json:"parkedToken"`
}

// IsUninitialized reports whether no capital has ever been deployed.
func (p Position) IsUninitialized() bool {
	return p.PoolID == nil && p.ParkedToken == nil
}

// IsDeployed reports whether the position is currently in a pool.
func (p Position) IsDeployed() bool {
	return p.PoolID != nil
}

// IsParked reports whether the position is parked in the deposit token.
func (p Position) IsParked() bool {
	return p.ParkedToken != nil
}

// Decision is the pure output of the policy engine for one tick.
type Decision struct {
	Timestamp             int64      `json:"timestamp"`
	Action                Action     `json:"action"`
	ReasonCode            ReasonCode `json:"reasonCode"`
	Reason                string     `json:"reason"`
	ChosenPoolID          *string    `json:"chosenPoolId"`
	FromPoolID            *string    `json:"fromPoolId"`
	Emergency             bool       `json:"emergency"`
	OldNetApyBps          int        `json:"oldNetApyBps"`
	NewNetApyBps          int        `json:"newNetApyBps"`
	EstimatedPaybackHours *float64   `json:"estimatedPaybackHours"`
}

// Policy holds the tunable thresholds the Decision Engine and Executor
// enforce. Created once at startup and read-only thereafter.
type Policy struct {
	MinHoldSeconds       int64 `json:"minHoldSeconds" yaml:"minHoldSeconds"`
	RotationDeltaApyBps  int   `json:"rotationDeltaApyBps" yaml:"rotationDeltaApyBps"`
	MaxPaybackHours      float64 `json:"maxPaybackHours" yaml:"maxPaybackHours"`
	DepegThresholdBps    int   `json:"depegThresholdBps" yaml:"depegThresholdBps"`
	MaxPriceImpactBps    int   `json:"maxPriceImpactBps" yaml:"maxPriceImpactBps"`
	AprCliffDropBps      int   `json:"aprCliffDropBps" yaml:"aprCliffDropBps"`
	TxDeadlineSeconds    int64 `json:"txDeadlineSeconds" yaml:"txDeadlineSeconds"`
}

// Runtime holds wiring/connectivity and the safety-interlock knobs.
// ExecutorPrivateKey is optional: dry-run/simulate-only deployments need
// none.
type Runtime struct {
	RPCUrl                string   `json:"rpcUrl" yaml:"rpcUrl"`
	ChainID               int64    `json:"chainId" yaml:"chainId"`
	VaultAddress          common.Address `json:"vaultAddress" yaml:"vaultAddress"`
	ExecutorPrivateKey    string   `json:"-" yaml:"-"`
	ExplorerTxBaseURL     string   `json:"explorerTxBaseUrl" yaml:"explorerTxBaseUrl"`
	DryRun                bool     `json:"dryRun" yaml:"dryRun"`
	LiveModeArmed         bool     `json:"liveModeArmed" yaml:"liveModeArmed"`
	ScanIntervalSeconds   int64    `json:"scanIntervalSeconds" yaml:"scanIntervalSeconds"`
	DefaultTradeAmountRaw *big.Int `json:"defaultTradeAmountRaw" yaml:"-"`
	EnterOnlyMode         bool     `json:"enterOnlyMode" yaml:"enterOnlyMode"`
	MaxRotationsPerDay    int      `json:"maxRotationsPerDay" yaml:"maxRotationsPerDay"`
	CooldownSeconds       int64    `json:"cooldownSeconds" yaml:"cooldownSeconds"`
}

// StoredDecision is a compact audit row persisted in the state file.
type StoredDecision struct {
	Timestamp    int64      `json:"timestamp"`
	Action       Action     `json:"action"`
	ReasonCode   ReasonCode `json:"reasonCode"`
	ChosenPoolID *string    `json:"chosenPoolId"`
	FromPoolID   *string    `json:"fromPoolId"`
	Emergency    bool       `json:"emergency"`
	TxHash       *string    `json:"txHash"`
}

// TweetRecord is a compact audit row for every announcement emitted.
type TweetRecord struct {
	Timestamp int64   `json:"timestamp"`
	Body      string  `json:"body"`
	RemoteID  *string `json:"remoteId"`
}

// ExecutionResult is what the Executor returns for an actionable decision.
type ExecutionResult struct {
	TxHash         *common.Hash
	Error          error
	UpdatedPosition *Position
}
