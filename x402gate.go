// Package x402gate gates access to metered API operations behind the x402
// pay-per-call protocol: a request without proof of payment receives an
// HTTP 402 challenge, a request with a transaction hash is executed only
// after the payment verifies on chain and is recorded exactly once.
package x402gate

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/web3ai/x402gate/clients"
	"github.com/web3ai/x402gate/gate"
	"github.com/web3ai/x402gate/ledger"
	"github.com/web3ai/x402gate/logger"
	"github.com/web3ai/x402gate/metrics"
	"github.com/web3ai/x402gate/types"
	"github.com/web3ai/x402gate/utils"
	"github.com/web3ai/x402gate/verification"
)

// X402Gate bundles the chain client, verifier, ledger and access gate for
// one network and receiving wallet.
type X402Gate struct {
	client   clients.ChainClient
	verifier *verification.Service
	store    *ledger.Store
	gate     *gate.Gate
	config   *types.Config
	log      logger.Logger
	metrics  metrics.Recorder
}

// New creates an X402Gate from config, dialing the configured RPC endpoint
// unless a chain client is injected via WithChainClient.
func New(config *types.Config, store *ledger.Store, opts ...Option) (*X402Gate, error) {
	if err := utils.ValidateConfig(config); err != nil {
		return nil, err
	}

	x := &X402Gate{
		store:   store,
		config:  config,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	if config.LogLevel != "" {
		x.log = logger.NewZapLogger(config.LogLevel)
	}
	if config.EnableMetrics {
		x.metrics = metrics.NewPrometheusRecorder()
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.client == nil {
		var clientOpts []clients.EVMClientOption
		if config.ForceIPv4 {
			clientOpts = append(clientOpts, clients.WithForceIPv4())
		}
		client, err := clients.NewEVMClient(types.Network(config.Network), config.RPCUrl, clientOpts...)
		if err != nil {
			return nil, err
		}
		x.client = client
	}

	tolerance := decimal.RequireFromString(config.Tolerance)
	x.verifier = verification.NewService(x.client,
		verification.WithAttempts(config.PollAttempts),
		verification.WithInterval(config.PollInterval),
		verification.WithTolerance(tolerance),
		verification.WithLogger(x.log),
		verification.WithMetrics(x.metrics),
	)

	g, err := gate.New(x.verifier, store, types.Network(config.Network),
		config.ReceiverWallet, config.Asset,
		gate.WithTolerance(tolerance),
		gate.WithLogger(x.log),
		gate.WithMetrics(x.metrics),
	)
	if err != nil {
		return nil, err
	}
	x.gate = g

	return x, nil
}

// Protect wraps a protected operation behind the payment gate.
func (x *X402Gate) Protect(price gate.Price, op gate.ProtectedHandler) http.Handler {
	return x.gate.Protect(price, op)
}

// Verify checks a proof against an expectation without going through HTTP.
func (x *X402Gate) Verify(ctx context.Context, txHash string, expectation types.PaymentExpectation) (*types.VerificationResult, error) {
	return x.verifier.Verify(ctx, txHash, expectation)
}

// Gate exposes the underlying access gate.
func (x *X402Gate) Gate() *gate.Gate {
	return x.gate
}

// Handlers returns the payment-link and verification HTTP API.
func (x *X402Gate) Handlers() *gate.Handlers {
	return gate.NewHandlers(x.gate)
}

// Ledger exposes the underlying store.
func (x *X402Gate) Ledger() *ledger.Store {
	return x.store
}

// Close releases the chain client connection.
func (x *X402Gate) Close() {
	x.client.Close()
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)
