package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3ai/x402gate/clients"
	"github.com/web3ai/x402gate/logger"
	"github.com/web3ai/x402gate/metrics"
	"github.com/web3ai/x402gate/types"
	"github.com/web3ai/x402gate/utils"
)

// Verifier is the contract the access gate depends on.
type Verifier interface {
	Verify(ctx context.Context, txHash string, expectation types.PaymentExpectation) (*types.VerificationResult, error)
}

// Service verifies proofs of payment by polling a chain client under a
// bounded retry budget. Payment finality is eventually consistent from this
// side: the client usually submits its proof before the network has
// propagated the transaction, so a single lookup is the wrong primitive.
// The budget is fixed so a broken client cannot hold a worker indefinitely.
type Service struct {
	client    clients.ChainClient
	attempts  int
	interval  time.Duration
	tolerance decimal.Decimal
	log       logger.Logger
	metrics   metrics.Recorder
}

var _ Verifier = (*Service)(nil)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTolerance sets the absolute band subtracted from the required amount
// before comparing. Absorbs unit-conversion rounding; it must stay well
// below the smallest priced unit.
func WithTolerance(t decimal.Decimal) ServiceOption {
	return func(s *Service) {
		s.tolerance = t
	}
}

func WithLogger(l logger.Logger) ServiceOption {
	return func(s *Service) {
		s.log = l
	}
}

func WithMetrics(r metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.metrics = r
	}
}

// NewService creates a verifier over the given chain client.
func NewService(client clients.ChainClient, opts ...ServiceOption) *Service {
	s := &Service{
		client:    client,
		attempts:  types.DefaultPollAttempts,
		interval:  types.DefaultPollInterval,
		tolerance: decimal.RequireFromString(types.DefaultTolerance),
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify polls the chain for txHash and checks it against the expectation.
// Outcomes are mutually exclusive; a non-nil error is returned only for
// mechanical failures (malformed hash), never for a payment that is merely
// absent or wrong.
func (s *Service) Verify(ctx context.Context, txHash string, expectation types.PaymentExpectation) (*types.VerificationResult, error) {
	network := s.client.Network().String()

	if err := utils.ValidateTxHash(txHash); err != nil {
		return nil, &types.GateError{
			Code:    types.ErrClientError,
			Message: err.Error(),
		}
	}

	start := time.Now()
	result := s.poll(ctx, txHash, expectation)
	result.TxHash = txHash
	result.Network = network

	s.metrics.IncCounter(string(result.Outcome), map[string]string{"network": network})
	s.metrics.ObserveLatency("verify", time.Since(start), map[string]string{"network": network})
	s.log.Info("verification finished", map[string]any{
		"txHash":   txHash,
		"outcome":  result.Outcome,
		"attempts": result.Attempts,
	})

	return result, nil
}

// poll runs the bounded retry loop. Any error during a single attempt is
// swallowed and counted as a retry; only exhausting the budget without a
// sighting yields NotFound.
func (s *Service) poll(ctx context.Context, txHash string, expectation types.PaymentExpectation) *types.VerificationResult {
	var (
		tx      *clients.Transaction
		receipt *clients.Receipt
		sawTx   bool
	)

	attempts := 0
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return s.inconclusive(sawTx, attempts)
			case <-time.After(s.interval):
			}
		}
		attempts++

		t, r, err := s.client.FetchTransaction(ctx, txHash)
		if err != nil {
			if ctx.Err() != nil {
				return s.inconclusive(sawTx, attempts)
			}
			s.log.Debug("poll attempt failed", map[string]any{
				"txHash":  txHash,
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			continue
		}
		if t != nil {
			sawTx = true
		}
		if t != nil && r != nil {
			tx, receipt = t, r
			break
		}
	}

	if tx == nil || receipt == nil {
		return s.inconclusive(sawTx, attempts)
	}

	return s.check(tx, receipt, expectation, attempts)
}

// check validates a found transaction. Receipt status comes first and is
// fatal: a reverted transfer cannot become valid by waiting.
func (s *Service) check(tx *clients.Transaction, receipt *clients.Receipt, expectation types.PaymentExpectation, attempts int) *types.VerificationResult {
	if !receipt.Success {
		return &types.VerificationResult{
			Outcome:       types.OutcomeFailed,
			InvalidReason: clients.ReasonTxFailed,
			Payer:         tx.From,
			Attempts:      attempts,
		}
	}

	if !strings.EqualFold(tx.To, expectation.Recipient) {
		return &types.VerificationResult{
			Outcome:       types.OutcomeWrongRecipient,
			InvalidReason: clients.ReasonInvalidRecipient,
			Payer:         tx.From,
			Recipient:     tx.To,
			Attempts:      attempts,
		}
	}

	floor := expectation.Amount.Sub(s.tolerance)
	if tx.Value.LessThan(floor) {
		return &types.VerificationResult{
			Outcome:       types.OutcomeInsufficientAmount,
			InvalidReason: clients.ReasonInsufficientAmount,
			Amount:        tx.Value,
			Required:      expectation.Amount,
			Payer:         tx.From,
			Recipient:     tx.To,
			Attempts:      attempts,
		}
	}

	return &types.VerificationResult{
		Outcome:   types.OutcomeVerified,
		IsValid:   true,
		Amount:    tx.Value,
		Required:  expectation.Amount,
		Payer:     tx.From,
		Recipient: tx.To,
		Attempts:  attempts,
	}
}

// inconclusive maps an exhausted budget to NotFound or Pending depending on
// whether the transaction was ever sighted.
func (s *Service) inconclusive(sawTx bool, attempts int) *types.VerificationResult {
	if sawTx {
		return &types.VerificationResult{
			Outcome:       types.OutcomePending,
			InvalidReason: clients.ReasonTxPending,
			Attempts:      attempts,
		}
	}
	return &types.VerificationResult{
		Outcome:       types.OutcomeNotFound,
		InvalidReason: clients.ReasonTxNotFound,
		Attempts:      attempts,
	}
}

// Describe returns a human-readable account of a non-verified result,
// suitable for challenge bodies.
func Describe(result *types.VerificationResult) string {
	switch result.Outcome {
	case types.OutcomeNotFound:
		return "transaction not found on chain"
	case types.OutcomePending:
		return "transaction pending confirmation"
	case types.OutcomeFailed:
		return "transaction failed on chain"
	case types.OutcomeWrongRecipient:
		return "invalid receiver address"
	case types.OutcomeInsufficientAmount:
		return fmt.Sprintf("insufficient amount: sent %s, needed %s",
			result.Amount.String(), result.Required.String())
	default:
		return string(result.Outcome)
	}
}
