package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryagent/pkg/types"
)

func TestExtractGasCost(t *testing.T) {
	receipt := &types.TxReceipt{
		TxHash:            "0xabc",
		GasUsed:           21000,
		EffectiveGasPrice: "25000000000",
		Status:            1,
	}
	cost, err := ExtractGasCost(receipt)
	require.NoError(t, err)
	assert.Equal(t, "525000000000000", cost.String())
}

func TestExtractGasCostRevertedFails(t *testing.T) {
	receipt := &types.TxReceipt{Status: 0}
	_, err := ExtractGasCost(receipt)
	assert.Error(t, err)
}

func TestHex2Bytes(t *testing.T) {
	assert.Equal(t, []byte{0xab, 0xcd}, Hex2Bytes("0xabcd"))
	assert.Equal(t, []byte{0xab, 0xcd}, Hex2Bytes("abcd"))
}
