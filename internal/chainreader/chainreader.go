// Package chainreader is the generic, protocol-agnostic on-chain read
// surface that satisfies pkg/adapter's ChainReader/LendingReader/
// Erc4626Reader interfaces using the same call-then-unpack idiom as
// pkg/vaultclient.Client. It is intentionally minimal: a production
// deployment would bind one ABI per protocol, but every adapter already
// falls back to Pool.Mock economics when a read errors (§4.1), so a single
// thin reader covering the common getReserves/totalSupply/ERC-4626 method
// shapes is enough to exercise the real chain path when it's available.
package chainreader

import (
	"context"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"treasuryagent/pkg/types"
)

const pairABIJSON = `[
	{"constant":true,"inputs":[],"name":"getReserves","outputs":[
		{"name":"reserve0","type":"uint112"},
		{"name":"reserve1","type":"uint112"},
		{"name":"blockTimestampLast","type":"uint32"}
	],"stateMutability":"view","type":"function"}
]`

const totalSupplyABIJSON = `[
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const vault4626ABIJSON = `[
	{"constant":true,"inputs":[],"name":"totalAssets","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"shares","type":"uint256"}],"name":"previewRedeem","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// weiPerUnit approximates an 18-decimal token's float value; good enough for
// the TVL estimate an adapter uses only to gate FetchPoolState, never to
// size a transaction.
var weiPerUnit = new(big.Float).SetFloat64(1e18)

// EthReader implements adapter.ChainReader, adapter.LendingReader, and
// adapter.Erc4626Reader against a single dialed ethclient.Client.
type EthReader struct {
	ec        *ethclient.Client
	pairABI   abi.ABI
	supplyABI abi.ABI
	vaultABI  abi.ABI
}

func New(ec *ethclient.Client) (*EthReader, error) {
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, err
	}
	supplyABI, err := abi.JSON(strings.NewReader(totalSupplyABIJSON))
	if err != nil {
		return nil, err
	}
	vaultABI, err := abi.JSON(strings.NewReader(vault4626ABIJSON))
	if err != nil {
		return nil, err
	}
	return &EthReader{ec: ec, pairABI: pairABI, supplyABI: supplyABI, vaultABI: vaultABI}, nil
}

// Reserves satisfies adapter.ChainReader for CLMM-style pools by calling the
// pool contract's getReserves(), mirroring a Uniswap V2-shaped pair
// interface as the generic virtual-reserves proxy.
func (r *EthReader) Reserves(ctx context.Context, pool types.Pool) (*big.Int, *big.Int, error) {
	out, err := r.call(ctx, r.pairABI, pool.PoolAddress, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	reserve0 := out[0].(*big.Int)
	reserve1 := out[1].(*big.Int)
	return reserve0, reserve1, nil
}

// TvlUsd satisfies adapter.ChainReader by reading the pool contract's
// totalSupply as a rough proxy for deposited value.
func (r *EthReader) TvlUsd(ctx context.Context, pool types.Pool) (float64, error) {
	return r.readUnits(ctx, r.supplyABI, pool.PoolAddress, "totalSupply")
}

// ReserveState satisfies adapter.LendingReader the same way TvlUsd does: the
// reserve token's totalSupply as a deposited-value proxy.
func (r *EthReader) ReserveState(ctx context.Context, pool types.Pool) (float64, error) {
	return r.readUnits(ctx, r.supplyABI, pool.PoolAddress, "totalSupply")
}

// TotalAssetsUsd satisfies adapter.Erc4626Reader via the vault's
// totalAssets().
func (r *EthReader) TotalAssetsUsd(ctx context.Context, pool types.Pool) (float64, error) {
	return r.readUnits(ctx, r.vaultABI, pool.PoolAddress, "totalAssets")
}

// PreviewRedeem satisfies adapter.Erc4626Reader via the vault's
// previewRedeem(shares).
func (r *EthReader) PreviewRedeem(ctx context.Context, pool types.Pool, shares int64) (int64, error) {
	out, err := r.call(ctx, r.vaultABI, pool.PoolAddress, "previewRedeem", big.NewInt(shares))
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Int64(), nil
}

func (r *EthReader) readUnits(ctx context.Context, contract abi.ABI, addr common.Address, method string) (float64, error) {
	out, err := r.call(ctx, contract, addr, method)
	if err != nil {
		return 0, err
	}
	raw := new(big.Float).SetInt(out[0].(*big.Int))
	units, _ := new(big.Float).Quo(raw, weiPerUnit).Float64()
	return units, nil
}

func (r *EthReader) call(ctx context.Context, contract abi.ABI, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := r.ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return contract.Unpack(method, out)
}
