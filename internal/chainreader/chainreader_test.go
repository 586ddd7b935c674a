package chainreader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesAllABIs(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
	_, hasReserves := r.pairABI.Methods["getReserves"]
	assert.True(t, hasReserves)
	_, hasSupply := r.supplyABI.Methods["totalSupply"]
	assert.True(t, hasSupply)
	_, hasRedeem := r.vaultABI.Methods["previewRedeem"]
	assert.True(t, hasRedeem)
}
