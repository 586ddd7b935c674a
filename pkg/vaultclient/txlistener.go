package vaultclient

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	agenttypes "treasuryagent/pkg/types"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultTimeout      = 5 * time.Minute
)

// Listener polls for a transaction's receipt, grounded on the teacher's
// TxListener: go-ethereum exposes no receipt subscription, only
// TransactionReceipt, so every mined-tx wait in this codebase is poll-based.
type Listener struct {
	ec           *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a Listener.
type Option func(*Listener)

// WithPollInterval overrides the default 3s poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(l *Listener) { l.pollInterval = d }
}

// WithTimeout overrides the default 5-minute wait ceiling.
func WithTimeout(d time.Duration) Option {
	return func(l *Listener) { l.timeout = d }
}

// NewTxListener constructs a Listener with the given options applied over
// the package defaults.
func NewTxListener(ec *ethclient.Client, opts ...Option) *Listener {
	l := &Listener{ec: ec, pollInterval: defaultPollInterval, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls until txHash is mined, the listener's own
// timeout elapses, or ctx is done, whichever comes first.
func (l *Listener) WaitForTransaction(ctx context.Context, txHash common.Hash) (*agenttypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.ec.TransactionReceipt(ctx, txHash)
		if err == nil {
			return l.toAgentReceipt(ctx, receipt)
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, agenttypes.NewError(agenttypes.CodeSendFailed, "timed out waiting for receipt", map[string]any{"txHash": txHash.Hex()})
		case <-ticker.C:
		}
	}
}

func (l *Listener) toAgentReceipt(ctx context.Context, receipt *types.Receipt) (*agenttypes.TxReceipt, error) {
	header, err := l.ec.HeaderByNumber(ctx, receipt.BlockNumber)
	var blockTs int64
	if err == nil {
		blockTs = int64(header.Time)
	}
	return &agenttypes.TxReceipt{
		TxHash:            receipt.TxHash.Hex(),
		BlockNumber:       receipt.BlockNumber.Uint64(),
		BlockTimestamp:    blockTs,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice.String(),
		Status:            receipt.Status,
	}, nil
}
