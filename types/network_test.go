package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkChainID(t *testing.T) {
	id, err := NetworkMonadTestnet.ChainID()
	require.NoError(t, err)
	assert.Equal(t, uint64(10143), id)

	s, err := NetworkMonadTestnet.ChainIDString()
	require.NoError(t, err)
	assert.Equal(t, "10143", s)

	_, err = Network("solana-devnet").ChainID()
	require.Error(t, err)
	gerr, ok := err.(*GateError)
	require.True(t, ok)
	assert.Equal(t, ErrUnsupportedNetwork, gerr.Code)
}

func TestNetworkIsTestnet(t *testing.T) {
	assert.True(t, NetworkMonadTestnet.IsTestnet())
	assert.True(t, NetworkBaseSepolia.IsTestnet())
	assert.False(t, NetworkMonad.IsTestnet())
	assert.False(t, NetworkBase.IsTestnet())
}
