package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3ai/x402gate/types"
)

func TestParseConfig_AppliesDefaults(t *testing.T) {
	raw := []byte(`{
		"network": "monad-testnet",
		"rpcUrl": "https://testnet-rpc.monad.xyz",
		"receiverWallet": "0x9497FE4B4ECA41229b9337abAEbCC91eCc7be23B"
	}`)

	config, err := ParseConfig(raw)
	require.NoError(t, err)

	assert.Equal(t, types.DefaultPollAttempts, config.PollAttempts)
	assert.Equal(t, time.Second, config.PollInterval)
	assert.Equal(t, types.DefaultTolerance, config.Tolerance)
	assert.Equal(t, "MON", config.Asset)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"malformed json":  `{`,
		"missing rpc":     `{"network":"monad-testnet","receiverWallet":"0x9497FE4B4ECA41229b9337abAEbCC91eCc7be23B"}`,
		"bad receiver":    `{"network":"monad-testnet","rpcUrl":"https://x","receiverWallet":"nope"}`,
		"unknown network": `{"network":"mainnet-zz","rpcUrl":"https://x","receiverWallet":"0x9497FE4B4ECA41229b9337abAEbCC91eCc7be23B"}`,
		"bad tolerance":   `{"network":"monad-testnet","rpcUrl":"https://x","receiverWallet":"0x9497FE4B4ECA41229b9337abAEbCC91eCc7be23B","tolerance":"-1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(raw))
			assert.Error(t, err)
		})
	}
}
