// Package vaultclient is the agent's only point of contact with the chain:
// a thin wrapper around go-ethereum's ethclient that knows how to call,
// simulate, sign, and send against one contract's ABI, and how to decode the
// logs and calldata that come back. It generalizes the teacher's
// ContractClient/TxListener pair into the single "Vault RPC" the rest of the
// agent treats as opaque.
package vaultclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	agenttypes "treasuryagent/pkg/types"
)

// Client binds one contract address + ABI to a dialed RPC connection and an
// optional signing key.
type Client struct {
	ec         *ethclient.Client
	address    common.Address
	contract   abi.ABI
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	fromAddr   common.Address
}

// NewClient constructs a Client. privateKeyHex may be empty: read-only and
// simulate-only usage never needs a signer.
func NewClient(ec *ethclient.Client, address common.Address, contract abi.ABI, chainID *big.Int, privateKeyHex string) (*Client, error) {
	c := &Client{ec: ec, address: address, contract: contract, chainID: chainID}
	if privateKeyHex != "" {
		pk, err := crypto.HexToECDSA(privateKeyHex)
		if err != nil {
			return nil, agenttypes.NewError(agenttypes.CodeConfigError, "invalid private key", nil)
		}
		c.privateKey = pk
		c.fromAddr = crypto.PubkeyToAddress(pk.PublicKey)
	}
	return c, nil
}

// Abi returns the contract's parsed ABI.
func (c *Client) Abi() abi.ABI { return c.contract }

// ContractAddress returns the bound contract address.
func (c *Client) ContractAddress() common.Address { return c.address }

// FromAddress returns the signer's address, or the zero address when the
// client was constructed without a private key.
func (c *Client) FromAddress() common.Address { return c.fromAddr }

// Call performs a read-only eth_call and decodes the outputs.
func (c *Client) Call(ctx context.Context, from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &c.address, Data: data}
	if from != nil {
		msg.From = *from
	}
	out, err := c.ec.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return c.contract.Unpack(method, out)
}

// Simulate runs the same call a Send would broadcast, as an eth_call, so the
// caller can detect a revert before spending gas. Simulate never mutates
// chain state.
func (c *Client) Simulate(ctx context.Context, method string, args ...interface{}) error {
	data, err := c.contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{From: c.fromAddr, To: &c.address, Data: data}
	if _, err := c.ec.CallContract(ctx, msg, nil); err != nil {
		return agenttypes.NewError(agenttypes.CodeSimulationFailed, err.Error(), map[string]any{"method": method})
	}
	return nil
}

// Send signs and broadcasts a state-changing call, returning the pending
// transaction hash. It does not wait for a receipt; pair with a
// txlistener.Listener for that.
func (c *Client) Send(ctx context.Context, kind agenttypes.TxKind, gasLimit uint64, method string, args ...interface{}) (common.Hash, error) {
	if c.privateKey == nil {
		return common.Hash{}, agenttypes.NewError(agenttypes.CodeConfigError, "no signing key configured", nil)
	}
	data, err := c.contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	nonce, err := c.ec.PendingNonceAt(ctx, c.fromAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce for %s: %w", c.fromAddr, err)
	}

	var tx *types.Transaction
	switch kind {
	case agenttypes.LegacyGas:
		gasPrice, err := c.ec.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce: nonce, To: &c.address, Value: big.NewInt(0),
			Gas: gasLimit, GasPrice: gasPrice, Data: data,
		})
	default:
		tip, err := c.ec.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggest gas tip: %w", err)
		}
		head, err := c.ec.HeaderByNumber(ctx, nil)
		if err != nil {
			return common.Hash{}, fmt.Errorf("fetch head: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID: c.chainID, Nonce: nonce, To: &c.address, Value: big.NewInt(0),
			Gas: gasLimit, GasTipCap: tip, GasFeeCap: feeCap, Data: data,
		})
	}

	signer := types.LatestSignerForChainID(c.chainID)
	signed, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, agenttypes.NewError(agenttypes.CodeSendFailed, err.Error(), nil)
	}
	return signed.Hash(), nil
}

// TransactionData fetches the raw calldata of a mined or pending
// transaction, for later decoding.
func (c *Client) TransactionData(ctx context.Context, txHash common.Hash) ([]byte, error) {
	tx, _, err := c.ec.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("fetch tx %s: %w", txHash, err)
	}
	return tx.Data(), nil
}

// DecodedCall is what DecodeTransaction returns: the resolved method name
// plus its positionally-decoded arguments.
type DecodedCall struct {
	MethodName string                 `json:"methodName"`
	Args       map[string]interface{} `json:"args"`
}

// DecodeTransaction resolves calldata back to a method name and its
// arguments using the bound ABI.
func (c *Client) DecodeTransaction(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	method, err := c.contract.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("resolve method: %w", err)
	}
	args := map[string]interface{}{}
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("unpack args for %s: %w", method.Name, err)
	}
	return &DecodedCall{MethodName: method.Name, Args: args}, nil
}

// ParseReceipt decodes every log in receipt that matches one of the bound
// contract's events, returned as a JSON array for the caller to inspect
// (mirrors the teacher's Mint/Unstake event-scraping pattern).
func (c *Client) ParseReceipt(receipt *types.Receipt) ([]map[string]interface{}, error) {
	var decoded []map[string]interface{}
	for _, lg := range receipt.Logs {
		if lg.Address != c.address || len(lg.Topics) == 0 {
			continue
		}
		event, err := c.contract.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}
		values := map[string]interface{}{}
		if err := event.Inputs.UnpackIntoMap(values, lg.Data); err != nil {
			continue
		}
		for i, topic := range lg.Topics[1:] {
			if i < len(event.Inputs) {
				values[event.Inputs[i].Name] = topic.Hex()
			}
		}
		values["event"] = event.Name
		decoded = append(decoded, values)
	}
	return decoded, nil
}
