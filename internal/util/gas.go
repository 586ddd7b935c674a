package util

import (
	"fmt"
	"math/big"

	"treasuryagent/pkg/types"
)

// ExtractGasCost computes the wei cost of a mined transaction from its
// receipt, failing if the receipt reverted or carries an unparseable gas
// price.
func ExtractGasCost(receipt *types.TxReceipt) (*big.Int, error) {
	if receipt == nil {
		return nil, fmt.Errorf("nil receipt")
	}
	if receipt.Status == 0 {
		return nil, fmt.Errorf("transaction %s reverted", receipt.TxHash)
	}
	return receipt.GasCost()
}
