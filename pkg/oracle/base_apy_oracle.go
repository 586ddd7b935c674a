package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"treasuryagent/pkg/types"
)

const (
	yearSeconds           = 31_536_000
	defaultLookbackSeconds = 3600
	minLookbackSeconds     = 300
	warningCooldown        = 5 * time.Minute
)

// BaseApyReader resolves a live base APY (in bps) for one protocol via a
// direct RPC read, bypassing both the GraphQL and ERC-4626 lookback paths.
type BaseApyReader interface {
	ReadBaseApyBps(ctx context.Context, pool types.Pool) (int, error)
}

// Erc4626PreviewRedeemer is the minimal ERC-4626 read surface the lookback
// algorithm needs.
type Erc4626PreviewRedeemer interface {
	PreviewRedeemAt(ctx context.Context, vault types.Pool, shares int64, blockNumber uint64) (int64, error)
}

// BaseApyOracle batches the three concurrent resolution strategies from
// §4.3 into one Map<poolId, bps> of overrides.
type BaseApyOracle struct {
	rpcReaders      map[string]BaseApyReader // keyed by protocol name
	graphqlPools    map[string]string        // poolId -> graphql endpoint
	erc4626Pools    map[string]struct{}      // poolId set
	redeemer        Erc4626PreviewRedeemer
	ethClient       *ethclient.Client
	httpClient      *http.Client
	lookbackSeconds int64

	mu           sync.Mutex
	lastWarnedAt map[string]time.Time
}

// NewBaseApyOracle constructs a BaseApyOracle. lookbackSeconds is clamped to
// a floor of 300s; 0 selects the 3600s default.
func NewBaseApyOracle(rpcReaders map[string]BaseApyReader, graphqlPools map[string]string, erc4626Pools map[string]struct{}, redeemer Erc4626PreviewRedeemer, ethClient *ethclient.Client, lookbackSeconds int64) *BaseApyOracle {
	if lookbackSeconds == 0 {
		lookbackSeconds = defaultLookbackSeconds
	}
	if lookbackSeconds < minLookbackSeconds {
		lookbackSeconds = minLookbackSeconds
	}
	return &BaseApyOracle{
		rpcReaders:      rpcReaders,
		graphqlPools:    graphqlPools,
		erc4626Pools:    erc4626Pools,
		redeemer:        redeemer,
		ethClient:       ethClient,
		httpClient:      &http.Client{},
		lookbackSeconds: lookbackSeconds,
		lastWarnedAt:    map[string]time.Time{},
	}
}

// Resolve fans out the three strategies concurrently and returns the
// resulting poolId -> bps override map. Per-pool errors are cooldown-
// deduplicated and silently omitted, never surfaced to the caller.
func (o *BaseApyOracle) Resolve(ctx context.Context, pools []types.Pool) map[string]int {
	overrides := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup

	set := func(poolID string, bps int) {
		mu.Lock()
		overrides[poolID] = bps
		mu.Unlock()
	}

	for _, pool := range pools {
		pool := pool
		if reader, ok := o.rpcReaders[pool.Protocol]; ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bps, err := reader.ReadBaseApyBps(ctx, pool)
				if err != nil {
					o.warn(pool.ID, err)
					return
				}
				set(pool.ID, bps)
			}()
		}
		if endpoint, ok := o.graphqlPools[pool.ID]; ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bps, err := o.fetchGraphqlApy(ctx, endpoint, pool)
				if err != nil {
					o.warn(pool.ID, err)
					return
				}
				set(pool.ID, bps)
			}()
		}
		if _, ok := o.erc4626Pools[pool.ID]; ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bps, err := o.resolveErc4626Lookback(ctx, pool)
				if err != nil {
					o.warn(pool.ID, err)
					return
				}
				set(pool.ID, bps)
			}()
		}
	}
	wg.Wait()
	return overrides
}

func (o *BaseApyOracle) warn(poolID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if last, ok := o.lastWarnedAt[poolID]; ok && time.Since(last) < warningCooldown {
		return
	}
	o.lastWarnedAt[poolID] = time.Now()
	fmt.Printf("base apy oracle: pool %s override skipped: %v\n", poolID, err)
}

type graphqlApyResponse struct {
	Data struct {
		ApyBps int `json:"apyBps"`
	} `json:"data"`
}

func (o *BaseApyOracle) fetchGraphqlApy(ctx context.Context, endpoint string, pool types.Pool) (int, error) {
	query := map[string]string{"query": fmt.Sprintf(`{ pool(id: "%s") { apyBps } }`, pool.ID)}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("graphql status %d for pool %s", resp.StatusCode, pool.ID)
	}
	var parsed graphqlApyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return parsed.Data.ApyBps, nil
}

// resolveErc4626Lookback binary-searches for the block at or before
// now-lookbackSeconds, compares previewRedeem(shares) then vs now, and
// annualizes the ratio.
func (o *BaseApyOracle) resolveErc4626Lookback(ctx context.Context, pool types.Pool) (int, error) {
	latestHeader, err := o.ethClient.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	latestBlock := latestHeader.Number.Uint64()
	targetTs := int64(latestHeader.Time) - o.lookbackSeconds

	pastBlock, err := o.binarySearchBlockBefore(ctx, targetTs, latestBlock)
	if err != nil {
		return 0, err
	}

	const shares = 1_000_000_000
	latestRedeem, err := o.redeemer.PreviewRedeemAt(ctx, pool, shares, latestBlock)
	if err != nil {
		return 0, err
	}
	pastRedeem, err := o.redeemer.PreviewRedeemAt(ctx, pool, shares, pastBlock)
	if err != nil {
		return 0, err
	}
	if pastRedeem <= 0 {
		return 0, fmt.Errorf("non-positive past preview redeem for pool %s", pool.ID)
	}

	pastHeader, err := o.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(pastBlock))
	if err != nil {
		return 0, err
	}
	elapsed := int64(latestHeader.Time) - int64(pastHeader.Time)
	if elapsed <= 0 {
		return 0, fmt.Errorf("non-positive elapsed time for pool %s lookback", pool.ID)
	}

	ratio := float64(latestRedeem) / float64(pastRedeem)
	apy := math.Pow(ratio, float64(yearSeconds)/float64(elapsed)) - 1
	bps := int(math.Round(apy * 10000))
	if bps < 0 {
		bps = 0
	}
	return bps, nil
}

func (o *BaseApyOracle) binarySearchBlockBefore(ctx context.Context, targetTs int64, latestBlock uint64) (uint64, error) {
	lo, hi := uint64(1), latestBlock
	best := lo
	for lo <= hi {
		mid := lo + (hi-lo)/2
		header, err := o.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			return 0, err
		}
		if int64(header.Time) <= targetTs {
			best = mid
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}
	return best, nil
}
