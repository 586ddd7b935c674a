// Command agent is the treasury agent's entry point: load configuration,
// wire every component together, and run the scan-decide-execute-announce
// loop under the Scheduler, exposing the status/control HTTP surface
// alongside it. Grounded on the teacher's cmd/main.go (decrypt key, dial
// RPC, construct the domain struct, run its strategy loop, report over a
// channel) generalized to the Vault-RPC-backed agent.
package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"treasuryagent/internal/auditmirror"
	"treasuryagent/internal/chainreader"
	"treasuryagent/internal/config"
	"treasuryagent/internal/store"
	"treasuryagent/internal/util"
	"treasuryagent/pkg/adapter"
	"treasuryagent/pkg/agent"
	"treasuryagent/pkg/announcer"
	"treasuryagent/pkg/decision"
	"treasuryagent/pkg/executor"
	"treasuryagent/pkg/oracle"
	"treasuryagent/pkg/scanner"
	"treasuryagent/pkg/scheduler"
	"treasuryagent/pkg/statusserver"
	"treasuryagent/pkg/types"
	"treasuryagent/pkg/vaultclient"
)

const vaultGasLimit = 500_000

func main() {
	if err := run(); err != nil {
		log.Printf("startup failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env", "configs/config.yml", "configs/pools.json")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if enc := os.Getenv("ENC_PK"); enc != "" {
		key := os.Getenv("KEY")
		if key == "" {
			return fmt.Errorf("ENC_PK is set but KEY is not")
		}
		pk, err := util.Decrypt([]byte(key), enc)
		if err != nil {
			return fmt.Errorf("decrypting ENC_PK: %w", err)
		}
		cfg.Runtime.ExecutorPrivateKey = pk
	}

	ec, err := ethclient.Dial(cfg.Runtime.RPCUrl)
	if err != nil {
		return fmt.Errorf("dialing RPC: %w", err)
	}

	vaultABI, err := util.LoadABI("configs/vault_abi.json")
	if err != nil {
		return fmt.Errorf("loading vault ABI: %w", err)
	}

	client, err := vaultclient.NewClient(ec, cfg.Runtime.VaultAddress, vaultABI, big.NewInt(cfg.Runtime.ChainID), cfg.Runtime.ExecutorPrivateKey)
	if err != nil {
		return fmt.Errorf("constructing vault client: %w", err)
	}
	listener := vaultclient.NewTxListener(ec,
		vaultclient.WithPollInterval(3*time.Second),
		vaultclient.WithTimeout(time.Duration(cfg.Policy.TxDeadlineSeconds)*time.Second),
	)
	vault := vaultclient.NewVaultClient(client, listener, vaultGasLimit)

	reader, err := chainreader.New(ec)
	if err != nil {
		return fmt.Errorf("constructing chain reader: %w", err)
	}
	adapters := map[string]adapter.Adapter{
		"lending":   adapter.NewLendingAdapter(reader),
		"clmm":      adapter.NewClmmAdapter(reader),
		"vault4626": adapter.NewVault4626Adapter(reader),
	}

	priceOracle, err := oracle.NewLivePriceOracle(os.Getenv("PRICE_FEED_URL"), stableSymbols(), 60*time.Second, 5*time.Second, 256)
	if err != nil {
		return fmt.Errorf("constructing price oracle: %w", err)
	}
	baseApyOracle := oracle.NewBaseApyOracle(nil, nil, nil, nil, ec, 0)

	sc := scanner.New(cfg.Pools, adapters, baseApyOracle, priceOracle, cfg.Runtime.DefaultTradeAmountRaw, cfg.ScannerTimeout())

	poolsByID := make(map[string]types.Pool, len(cfg.Pools))
	for _, p := range cfg.Pools {
		poolsByID[p.ID] = p
	}
	rotationCost := func(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error) {
		a, ok := adapters[from.AdapterID]
		if !ok {
			return 0, nil
		}
		return a.EstimateRotationCostBps(ctx, from, to, amountIn)
	}
	engine := decision.New(rotationCost)

	exec := &executor.Executor{
		Vault:    vault,
		Adapters: adapters,
		Pools:    poolsByID,
		Policy:   cfg.Policy,
		Runtime:  cfg.Runtime,
		GasLimit: vaultGasLimit,
	}

	var xClient announcer.XClient = announcer.NoopXClient{}
	if cfg.Ambient.AnnouncerWebhook != "" {
		xClient = announcer.NewHTTPXClient(cfg.Ambient.AnnouncerWebhook)
	}
	ann := announcer.New(xClient, cfg.Runtime.ExplorerTxBaseURL)

	st, err := store.Open(cfg.Ambient.StatePath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	var mirror *auditmirror.Mirror
	if cfg.Ambient.AuditMirrorDSN != "" {
		mirror, err = auditmirror.NewMirror(cfg.Ambient.AuditMirrorDSN)
		if err != nil {
			log.Printf("audit mirror disabled: %v", err)
			mirror = nil
		}
	}

	operator := scheduler.NewOperatorState()
	ag := agent.New(sc, engine, exec, ann, st, mirror, operator, priceOracle, cfg.Pools, cfg.Policy, depositTokenSymbol(), cfg.Runtime.DefaultTradeAmountRaw)

	sched := scheduler.New(ag.Tick, cfg.Runtime.ScanIntervalSeconds, os.Getenv("RUN_ONCE") == "true", operator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Ambient.BotStatusEnabled {
		srv := statusserver.New(cfg.Ambient.BotStatusAuthToken, cfg.HealthStaleSeconds(), sched.Snapshot, operator, st)
		addr := fmt.Sprintf("%s:%d", cfg.Ambient.BotStatusHost, cfg.Ambient.BotStatusPort)
		httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}
		go func() {
			log.Printf("status server listening on %s", addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("status server stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	return sched.Run(ctx)
}

func stableSymbols() []string {
	return []string{"USDC", "USDT", "DAI"}
}

func depositTokenSymbol() string {
	if s := os.Getenv("DEPOSIT_TOKEN_SYMBOL"); s != "" {
		return s
	}
	return "USDC"
}
