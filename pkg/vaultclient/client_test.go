package vaultclient

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testABI = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

func mustParseABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testABI))
	require.NoError(t, err)
	return parsed
}

func TestDecodeTransaction(t *testing.T) {
	parsed := mustParseABI(t)
	c := &Client{address: common.HexToAddress("0x1111111111111111111111111111111111111111"), contract: parsed}

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := parsed.Pack("transfer", to, big.NewInt(1000000))
	require.NoError(t, err)

	decoded, err := c.DecodeTransaction(data)
	require.NoError(t, err)
	assert.Equal(t, "transfer", decoded.MethodName)
	assert.Equal(t, big.NewInt(1000000), decoded.Args["amount"])
}

func TestDecodeTransactionRejectsShortData(t *testing.T) {
	parsed := mustParseABI(t)
	c := &Client{contract: parsed}
	_, err := c.DecodeTransaction([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestNewClientWithoutPrivateKeyHasZeroAddress(t *testing.T) {
	parsed := mustParseABI(t)
	c, err := NewClient(nil, common.Address{}, parsed, big.NewInt(43114), "")
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, c.FromAddress())
}

func TestNewClientRejectsInvalidPrivateKey(t *testing.T) {
	parsed := mustParseABI(t)
	_, err := NewClient(nil, common.Address{}, parsed, big.NewInt(43114), "not-hex")
	assert.Error(t, err)
}
