package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequestKind distinguishes how a payment request came to exist.
type PaymentRequestKind string

const (
	// KindStatic marks a request synthesized at verification time for an
	// ad-hoc transfer to the receiving wallet.
	KindStatic PaymentRequestKind = "STATIC"

	// KindDynamic marks a request created ahead of payment (payment link / QR flow).
	KindDynamic PaymentRequestKind = "DYNAMIC"
)

// PaymentRequestStatus is the lifecycle state of a payment request.
// PENDING is the only non-terminal state: a request moves PENDING→PAID or
// PENDING→EXPIRED and never again.
type PaymentRequestStatus string

const (
	StatusPending PaymentRequestStatus = "PENDING"
	StatusPaid    PaymentRequestStatus = "PAID"
	StatusExpired PaymentRequestStatus = "EXPIRED"
)

// Outcome classifies the result of verifying a proof-of-payment.
// The six values are mutually exclusive.
type Outcome string

const (
	// OutcomeNotFound means the transaction never appeared on chain within
	// the polling budget.
	OutcomeNotFound Outcome = "not_found"

	// OutcomePending means the transaction was seen but had no receipt by
	// the time the polling budget ran out.
	OutcomePending Outcome = "pending"

	// OutcomeFailed means the transaction is final but its execution
	// reverted. Terminal for the hash.
	OutcomeFailed Outcome = "failed"

	// OutcomeWrongRecipient means the funds went to an address other than
	// the configured receiving wallet.
	OutcomeWrongRecipient Outcome = "wrong_recipient"

	// OutcomeInsufficientAmount means the transferred value is below the
	// required amount minus the tolerance band.
	OutcomeInsufficientAmount Outcome = "insufficient_amount"

	OutcomeVerified Outcome = "verified"
)

// Retryable reports whether resubmitting the same hash later could still
// succeed. Failed, wrong-recipient and insufficient payments are terminal:
// the client must pay again with a new transaction.
func (o Outcome) Retryable() bool {
	return o == OutcomeNotFound || o == OutcomePending
}

// VerificationResult is what the verifier returns for a single proof.
// Domain failures are expressed through Outcome and InvalidReason; Go errors
// are reserved for mechanical problems (bad inputs, closed clients).
type VerificationResult struct {
	Outcome       Outcome          `json:"outcome"`
	IsValid       bool             `json:"isValid"`
	InvalidReason string           `json:"invalidReason,omitempty"`
	TxHash        string           `json:"txHash"`
	Network       string           `json:"network,omitempty"`
	Amount        decimal.Decimal  `json:"amount,omitempty"`
	Required      decimal.Decimal  `json:"required,omitempty"`
	Payer         string           `json:"payer,omitempty"`
	Recipient     string           `json:"recipient,omitempty"`
	Attempts      int              `json:"attempts"`
}

// PaymentExpectation is what a protected operation demands before it runs.
type PaymentExpectation struct {
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset" validate:"required"`
	Recipient string          `json:"recipient" validate:"required"`
}

// AccessTicket is the ephemeral artifact the gate hands a protected
// operation after a proof verifies. It is never persisted.
type AccessTicket struct {
	TxHash    string
	Asset     string
	Amount    decimal.Decimal
	Payer     string
	Network   string
	RequestID string
	IssuedAt  time.Time
}

// PaymentRequirements is the body of a 402 challenge: everything a client
// needs to pay and retry. Amount is a plain decimal string — clients parse
// it with fixed-point libraries, so it must never be in scientific notation.
type PaymentRequirements struct {
	Amount      string `json:"amount" validate:"required"`
	Asset       string `json:"asset" validate:"required"`
	Chain       string `json:"chain" validate:"required"`
	ChainID     string `json:"chainId" validate:"required"`
	PayTo       string `json:"payTo" validate:"required"`
	Description string `json:"description"`
}

// ChallengeResponse is the JSON shape of an HTTP 402 response.
type ChallengeResponse struct {
	Message             string              `json:"message"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Error codes, grouped by the taxonomy the gate maps to HTTP statuses.
const (
	ErrClientError          = "CLIENT_ERROR"
	ErrPaymentNotYetVisible = "PAYMENT_NOT_YET_VISIBLE"
	ErrPaymentInvalid       = "PAYMENT_INVALID"
	ErrLedgerConflict       = "LEDGER_CONFLICT"
	ErrUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	ErrConfigError          = "CONFIG_ERROR"
	ErrUnsupportedNetwork   = "UNSUPPORTED_NETWORK"
)

// GateError is a coded error. Code selects the taxonomy branch, Message is
// safe to surface to clients.
type GateError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Config is the top-level configuration for the gate subsystem.
type Config struct {
	Network        string        `json:"network" validate:"required"`
	RPCUrl         string        `json:"rpcUrl" validate:"required,url"`
	ReceiverWallet string        `json:"receiverWallet" validate:"required"`
	Asset          string        `json:"asset" validate:"required"`
	PollAttempts   int           `json:"pollAttempts,omitempty" validate:"omitempty,gt=0"`
	PollInterval   time.Duration `json:"pollInterval,omitempty"`
	Tolerance      string        `json:"tolerance,omitempty"`
	ForceIPv4      bool          `json:"forceIPv4,omitempty"`
	LogLevel       string        `json:"logLevel,omitempty"`
	EnableMetrics  bool          `json:"enableMetrics,omitempty"`
}

// Defaults applied where Config leaves fields zero.
const (
	DefaultPollAttempts = 10
	DefaultPollInterval = time.Second
	DefaultTolerance    = "0.0001"
	DefaultAsset        = "MON"
)
