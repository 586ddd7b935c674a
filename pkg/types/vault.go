package types

import "math/big"

// TxKind selects the gas-pricing strategy the Vault client uses when
// broadcasting a transaction. Standard is EIP-1559 dynamic fee; LegacyGas is
// kept for chains/RPC endpoints that reject dynamic-fee transactions.
type TxKind int

const (
	Standard TxKind = iota
	LegacyGas
)

// TxReceipt is the Vault client's own receipt shape, decoupled from
// go-ethereum's core/types.Receipt so the rest of the agent never has to
// import the full node stack just to read gas usage.
type TxReceipt struct {
	TxHash            string
	BlockNumber       uint64
	BlockTimestamp    int64
	GasUsed           uint64
	EffectiveGasPrice string // decimal wei, as a string to avoid precision loss over the wire
	Status            uint64 // 1 success, 0 reverted
	Logs              []byte // raw JSON-encoded decoded log list, see ParseReceipt
}

// GasCost returns gasUsed * effectiveGasPrice as a *big.Int, in wei.
func (r *TxReceipt) GasCost() (*big.Int, error) {
	price, ok := new(big.Int).SetString(r.EffectiveGasPrice, 10)
	if !ok {
		return nil, errInvalidGasPrice
	}
	gasUsed := new(big.Int).SetUint64(r.GasUsed)
	return new(big.Int).Mul(gasUsed, price), nil
}

var errInvalidGasPrice = &AgentError{Code: CodeConfigError, Message: "invalid effective gas price"}
