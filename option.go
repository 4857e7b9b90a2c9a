package x402gate

import (
	"github.com/web3ai/x402gate/clients"
	"github.com/web3ai/x402gate/logger"
	"github.com/web3ai/x402gate/metrics"
)

type Option func(*X402Gate)

func WithLogger(l logger.Logger) Option {
	return func(x *X402Gate) {
		x.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402Gate) {
		x.metrics = r
	}
}

// WithChainClient injects a chain client instead of dialing the configured
// RPC endpoint. Used for testing and for alternative transports.
func WithChainClient(c clients.ChainClient) Option {
	return func(x *X402Gate) {
		x.client = c
	}
}
