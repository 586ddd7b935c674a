// Package config loads the agent's configuration in the order the agent
// starts up: an optional .env file, environment variables into Runtime and
// Policy, a YAML file for ambient tuning knobs, and a JSON pools file.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"treasuryagent/pkg/types"
)

// Ambient holds the non-secret tuning knobs read from configs/config.yml.
// Everything that is secret or environment-specific lives in Runtime/Policy
// instead, sourced from the process environment.
type Ambient struct {
	StatePath          string `yaml:"statePath"`
	ScannerTimeoutMs   int    `yaml:"scannerTimeoutMs"`
	BotStatusEnabled   bool   `yaml:"botStatusServerEnabled"`
	BotStatusHost      string `yaml:"botStatusHost"`
	BotStatusPort      int    `yaml:"botStatusPort"`
	BotStatusAuthToken string `yaml:"botStatusAuthToken"`
	BotHealthStaleSecs int64  `yaml:"botHealthStaleSeconds"`
	AuditMirrorDSN     string `yaml:"auditMirrorDsn"`
	AnnouncerWebhook   string `yaml:"announcerWebhookUrl"`
}

// Config is the fully resolved, validated configuration the agent runs from.
type Config struct {
	Runtime types.Runtime
	Policy  types.Policy
	Ambient Ambient
	Pools   []types.Pool
}

// Load resolves Config from, in order: .env (optional), the process
// environment, configs/config.yml, and poolsPath. A missing .env file is
// logged and otherwise ignored; every other failure is fatal, matching the
// CLI's exit-code-1-on-startup-failure contract.
func Load(envPath, yamlPath, poolsPath string) (Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("config: no .env file at %s, relying on process environment (%v)", envPath, err)
	}

	runtime, policy, err := loadFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	ambient, err := loadAmbientYAML(yamlPath, runtime.ScanIntervalSeconds)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	pools, err := loadPoolsJSON(poolsPath)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return Config{Runtime: runtime, Policy: policy, Ambient: ambient, Pools: pools}, nil
}

func loadFromEnv() (types.Runtime, types.Policy, error) {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return types.Runtime{}, types.Policy{}, fmt.Errorf("RPC_URL is required")
	}
	vaultAddr := os.Getenv("VAULT_ADDRESS")
	if vaultAddr == "" {
		return types.Runtime{}, types.Policy{}, fmt.Errorf("VAULT_ADDRESS is required")
	}
	if !common.IsHexAddress(vaultAddr) {
		return types.Runtime{}, types.Policy{}, fmt.Errorf("VAULT_ADDRESS %q is not a valid address", vaultAddr)
	}

	chainID, err := envInt64("CHAIN_ID", 1)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}

	dryRun, err := envBool("DRY_RUN", true)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	liveModeArmed, err := envBool("LIVE_MODE_ARMED", false)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	scanIntervalSeconds, err := envInt64("SCAN_INTERVAL_SECONDS", 300)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	if scanIntervalSeconds <= 0 {
		return types.Runtime{}, types.Policy{}, fmt.Errorf("SCAN_INTERVAL_SECONDS must be positive, got %d", scanIntervalSeconds)
	}

	defaultTradeAmountRaw, err := envBigInt("DEFAULT_TRADE_AMOUNT_RAW", big.NewInt(0))
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}

	maxRotationsPerDay, err := envInt("MAX_ROTATIONS_PER_DAY", 1)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	if maxRotationsPerDay < 0 {
		return types.Runtime{}, types.Policy{}, fmt.Errorf("MAX_ROTATIONS_PER_DAY must be >= 0, got %d", maxRotationsPerDay)
	}
	cooldownSeconds, err := envInt64("COOLDOWN_SECONDS", 21600)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	enterOnly, err := envBool("ENTER_ONLY", false)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	txDeadlineSeconds, err := envInt64("TX_DEADLINE_SECONDS", 1800)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	if txDeadlineSeconds <= 0 {
		return types.Runtime{}, types.Policy{}, fmt.Errorf("TX_DEADLINE_SECONDS must be positive, got %d", txDeadlineSeconds)
	}

	minHoldSeconds, err := envInt64("MIN_HOLD_SECONDS", 3600)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	rotationDeltaApyBps, err := envInt("ROTATION_DELTA_APY_BPS", 50)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	depegThresholdBps, err := envInt("DEPEG_THRESHOLD_BPS", 100)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	maxPriceImpactBps, err := envInt("MAX_PRICE_IMPACT_BPS", 50)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	if maxPriceImpactBps < 0 || maxPriceImpactBps >= 10000 {
		return types.Runtime{}, types.Policy{}, fmt.Errorf("MAX_PRICE_IMPACT_BPS must be in [0, 10000), got %d", maxPriceImpactBps)
	}
	aprCliffDropBps, err := envInt("APR_CLIFF_DROP_BPS", 200)
	if err != nil {
		return types.Runtime{}, types.Policy{}, err
	}
	maxPaybackHoursRaw := os.Getenv("MAX_PAYBACK_HOURS")
	maxPaybackHours := 24.0
	if maxPaybackHoursRaw != "" {
		maxPaybackHours, err = strconv.ParseFloat(maxPaybackHoursRaw, 64)
		if err != nil {
			return types.Runtime{}, types.Policy{}, fmt.Errorf("MAX_PAYBACK_HOURS %q is not a number: %w", maxPaybackHoursRaw, err)
		}
	}

	runtime := types.Runtime{
		RPCUrl:                rpcURL,
		ChainID:               chainID,
		VaultAddress:          common.HexToAddress(vaultAddr),
		ExecutorPrivateKey:    os.Getenv("EXECUTOR_PRIVATE_KEY"),
		ExplorerTxBaseURL:     os.Getenv("EXPLORER_TX_BASE_URL"),
		DryRun:                dryRun,
		LiveModeArmed:         liveModeArmed,
		ScanIntervalSeconds:   scanIntervalSeconds,
		DefaultTradeAmountRaw: defaultTradeAmountRaw,
		EnterOnlyMode:         enterOnly,
		MaxRotationsPerDay:    maxRotationsPerDay,
		CooldownSeconds:       cooldownSeconds,
	}
	policy := types.Policy{
		MinHoldSeconds:      minHoldSeconds,
		RotationDeltaApyBps: rotationDeltaApyBps,
		MaxPaybackHours:     maxPaybackHours,
		DepegThresholdBps:   depegThresholdBps,
		MaxPriceImpactBps:   maxPriceImpactBps,
		AprCliffDropBps:     aprCliffDropBps,
		TxDeadlineSeconds:   txDeadlineSeconds,
	}
	return runtime, policy, nil
}

func loadAmbientYAML(path string, scanIntervalSeconds int64) (Ambient, error) {
	defaultStale := scanIntervalSeconds * 3
	if defaultStale < 60 {
		defaultStale = 60
	}

	ambient := Ambient{
		StatePath:          "./data/state.json",
		ScannerTimeoutMs:   12000,
		BotStatusEnabled:   false,
		BotStatusHost:      "0.0.0.0",
		BotStatusPort:      8787,
		BotHealthStaleSecs: defaultStale,
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Printf("config: no ambient yaml at %s, using defaults", path)
		return ambient, nil
	}
	if err != nil {
		return Ambient{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&ambient); err != nil {
		return Ambient{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	if ambient.ScannerTimeoutMs <= 0 {
		return Ambient{}, fmt.Errorf("%s: scannerTimeoutMs must be positive, got %d", path, ambient.ScannerTimeoutMs)
	}
	if ambient.BotStatusPort <= 0 || ambient.BotStatusPort > 65535 {
		return Ambient{}, fmt.Errorf("%s: botStatusPort must be in (0, 65535], got %d", path, ambient.BotStatusPort)
	}
	if ambient.BotHealthStaleSecs <= 0 {
		return Ambient{}, fmt.Errorf("%s: botHealthStaleSeconds must be positive, got %d", path, ambient.BotHealthStaleSecs)
	}
	if ambient.StatePath == "" {
		return Ambient{}, fmt.Errorf("%s: statePath must not be empty", path)
	}
	return ambient, nil
}

func loadPoolsJSON(path string) ([]types.Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var pools []types.Pool
	if err := dec.Decode(&pools); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(pools))
	for _, p := range pools {
		if p.ID == "" {
			return nil, fmt.Errorf("%s: pool with empty id", path)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate pool id %q", path, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.BaseApyBps < 0 {
			return nil, fmt.Errorf("%s: pool %q has negative baseApyBps", path, p.ID)
		}
	}
	return pools, nil
}

// ScannerTimeout is a convenience accessor converting the ambient millisecond
// knob into the time.Duration the Scanner constructor wants.
func (c Config) ScannerTimeout() time.Duration {
	return time.Duration(c.Ambient.ScannerTimeoutMs) * time.Millisecond
}

// HealthStaleSeconds is the liveness predicate's staleness window.
func (c Config) HealthStaleSeconds() int64 {
	return c.Ambient.BotHealthStaleSecs
}

func envBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a bool: %w", key, raw, err)
	}
	return v, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an int: %w", key, raw, err)
	}
	return v, nil
}

func envInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an int64: %w", key, raw, err)
	}
	return v, nil
}

func envBigInt(key string, def *big.Int) (*big.Int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%s=%q is not a base-10 integer", key, raw)
	}
	return v, nil
}
