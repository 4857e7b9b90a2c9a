// Package gate implements the x402 access-control protocol: an
// unauthenticated request is answered with an HTTP 402 payment challenge,
// and a request carrying a proof-of-payment is executed only after the
// proof verifies on chain and is recorded in the ledger.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3ai/x402gate/ledger"
	"github.com/web3ai/x402gate/logger"
	"github.com/web3ai/x402gate/metrics"
	"github.com/web3ai/x402gate/types"
	"github.com/web3ai/x402gate/utils"
	"github.com/web3ai/x402gate/verification"
)

// Proof and binding headers. PaymentHeader carries the transaction hash;
// RequestIDHeader optionally ties the proof to a pending dynamic request.
const (
	PaymentHeader   = "X-Payment"
	RequestIDHeader = "X-Payment-Request"

	chainIDHeader   = "x-chain-id"
	addressHeader   = "x-payment-address"
	currencyHeader  = "x-price-currency"
	amountHeader    = "x-price-amount"
	exposedHeaders  = "x-chain-id, x-payment-address, x-price-currency, x-price-amount"
)

// ProtectedHandler is a protected operation. The gate only invokes it after
// authorization, with the ticket carrying what the payment actually bought.
type ProtectedHandler func(w http.ResponseWriter, r *http.Request, ticket *types.AccessTicket)

// Price is the per-operation payment requirement. Each protected operation
// declares its own; the gate is parameterized per operation, not global.
type Price struct {
	Amount      decimal.Decimal
	Asset       string
	Description string
}

// Gate wires the verifier and the ledger into HTTP middleware.
type Gate struct {
	verifier  verification.Verifier
	store     *ledger.Store
	network   types.Network
	chainID   string
	receiver  string
	asset     string
	tolerance decimal.Decimal
	log       logger.Logger
	metrics   metrics.Recorder
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l logger.Logger) Option {
	return func(g *Gate) { g.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) { g.metrics = r }
}

// WithTolerance overrides the amount tolerance used when matching replayed
// transactions against an operation's price.
func WithTolerance(t decimal.Decimal) Option {
	return func(g *Gate) { g.tolerance = t }
}

// New creates a Gate for one network and receiving wallet.
func New(verifier verification.Verifier, store *ledger.Store, network types.Network, receiverWallet, asset string, opts ...Option) (*Gate, error) {
	chainID, err := network.ChainIDString()
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateAddress(receiverWallet); err != nil {
		return nil, &types.GateError{Code: types.ErrConfigError, Message: err.Error()}
	}

	g := &Gate{
		verifier:  verifier,
		store:     store,
		network:   network,
		chainID:   chainID,
		receiver:  receiverWallet,
		asset:     asset,
		tolerance: decimal.RequireFromString(types.DefaultTolerance),
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Requirements builds the challenge body for a price.
func (g *Gate) Requirements(price Price) types.PaymentRequirements {
	asset := price.Asset
	if asset == "" {
		asset = g.asset
	}
	return types.PaymentRequirements{
		Amount:      utils.FormatAmount(price.Amount),
		Asset:       asset,
		Chain:       g.network.String(),
		ChainID:     g.chainID,
		PayTo:       g.receiver,
		Description: price.Description,
	}
}

// Protect wraps a protected operation. The returned handler drives the
// protocol: challenge on missing proof, verify-then-record on present
// proof, execute exactly once.
func (g *Gate) Protect(price Price, op ProtectedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proof := r.Header.Get(PaymentHeader)
		if proof == "" {
			g.metrics.IncCounter("challenge_issued", map[string]string{"network": g.network.String()})
			g.log.Info("payment challenge issued", map[string]any{
				"operation": price.Description,
				"amount":    utils.FormatAmount(price.Amount),
			})
			g.writeChallenge(w, price)
			return
		}

		auth, err := g.Authorize(r.Context(), proof, r.Header.Get(RequestIDHeader), price)
		if err != nil {
			g.writeRejection(w, price, asGateError(err))
			return
		}

		if auth.Replayed {
			// The hash was already credited; the paid side effect must not
			// run twice. Answer success without executing.
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"message": "already processed",
				"txHash":  auth.Ticket.TxHash,
			})
			return
		}

		op(w, r, auth.Ticket)
	})
}

// Authorization is the outcome of a successful Authorize call.
type Authorization struct {
	Ticket *types.AccessTicket
	Result *types.VerificationResult

	// Replayed is set when the hash was recorded by an earlier request.
	// The caller must skip the protected operation.
	Replayed bool
}

// Authorize turns a proof into an authorization: replay check, on-chain
// verification, then record-before-execute. Recording happens before the
// protected operation runs so a crash between the two can never
// under-charge; the worst case is a recorded hash whose operation the
// client retries, which the replay branch answers idempotently.
//
// Failures come back as *types.GateError with the taxonomy code set.
func (g *Gate) Authorize(ctx context.Context, txHash, requestID string, price Price) (*Authorization, error) {
	if err := utils.ValidateTxHash(txHash); err != nil {
		return nil, &types.GateError{Code: types.ErrClientError, Message: err.Error()}
	}

	// Cheap replay check up front so resubmitted hashes skip the polling
	// budget. The authoritative guard stays the insert below.
	if existing, err := g.store.GetTransaction(ctx, txHash); err == nil {
		return g.replay(existing, price)
	}

	expectation := types.PaymentExpectation{
		Amount:    price.Amount,
		Asset:     g.asset,
		Recipient: g.receiver,
	}
	result, err := g.verifier.Verify(ctx, txHash, expectation)
	if err != nil {
		return nil, asGateError(err)
	}

	if !result.IsValid {
		code := types.ErrPaymentInvalid
		if result.Outcome.Retryable() {
			code = types.ErrPaymentNotYetVisible
		}
		g.metrics.IncCounter("payment_rejected", map[string]string{"network": g.network.String()})
		return nil, &types.GateError{
			Code:    code,
			Message: verification.Describe(result),
			Data:    result,
		}
	}

	// The client may disconnect while we were polling; a payment already
	// detected as valid is still recorded.
	recordCtx := context.WithoutCancel(ctx)

	req, err := g.resolveRequest(recordCtx, requestID, result)
	if err != nil {
		return nil, &types.GateError{Code: types.ErrUpstreamUnavailable, Message: err.Error()}
	}

	var reqID *string
	if req != nil {
		reqID = &req.ID
	}
	outcome, rec, err := g.store.RecordVerifiedTransaction(
		recordCtx, txHash, reqID, result.Payer, result.Recipient, result.Amount, g.chainID)
	if err != nil {
		return nil, &types.GateError{Code: types.ErrUpstreamUnavailable, Message: err.Error()}
	}
	if outcome == ledger.AlreadyExists {
		// Lost the race to a concurrent verification of the same hash.
		return g.replay(rec, price)
	}

	g.metrics.IncCounter("payment_verified", map[string]string{"network": g.network.String()})
	g.log.Info("payment verified and recorded", map[string]any{
		"txHash": txHash,
		"payer":  result.Payer,
		"amount": result.Amount.String(),
	})

	return &Authorization{
		Ticket: g.ticket(rec),
		Result: result,
	}, nil
}

// replay handles a hash the ledger already holds: success without side
// effects, provided the recorded payment satisfies this operation's price.
func (g *Gate) replay(rec *ledger.VerifiedTransaction, price Price) (*Authorization, error) {
	floor := price.Amount.Sub(g.tolerance)
	if rec.Amount.LessThan(floor) {
		return nil, &types.GateError{
			Code:    types.ErrPaymentInvalid,
			Message: "recorded payment does not cover this operation",
		}
	}
	g.metrics.IncCounter("payment_replayed", map[string]string{"network": g.network.String()})
	return &Authorization{
		Ticket:   g.ticket(rec),
		Replayed: true,
	}, nil
}

// resolveRequest binds the verified payment to a payment request. A known
// pending dynamic request is marked paid; otherwise a static request is
// synthesized, matching the ad-hoc transfer flow.
func (g *Gate) resolveRequest(ctx context.Context, requestID string, result *types.VerificationResult) (*ledger.PaymentRequest, error) {
	if requestID != "" {
		req, err := g.store.GetRequest(ctx, requestID)
		if err == nil {
			if err := g.store.MarkPaid(ctx, req.ID); err != nil {
				return nil, err
			}
			return req, nil
		}
		if !errors.Is(err, ledger.ErrRequestNotFound) {
			return nil, err
		}
		// Unknown id: fall through to the static flow, like an ad-hoc pay.
	}

	req, err := g.store.CreateRequest(ctx, types.KindStatic, result.Amount, "static transfer", g.receiver)
	if err != nil {
		return nil, err
	}
	if err := g.store.MarkPaid(ctx, req.ID); err != nil {
		return nil, err
	}
	return req, nil
}

func (g *Gate) ticket(rec *ledger.VerifiedTransaction) *types.AccessTicket {
	ticket := &types.AccessTicket{
		TxHash:   rec.TxHash,
		Asset:    g.asset,
		Amount:   rec.Amount,
		Payer:    rec.PayerWallet,
		Network:  g.network.String(),
		IssuedAt: time.Now().UTC(),
	}
	if rec.RequestID != nil {
		ticket.RequestID = *rec.RequestID
	}
	return ticket
}

func (g *Gate) setChallengeHeaders(w http.ResponseWriter, reqs types.PaymentRequirements) {
	w.Header().Set(chainIDHeader, reqs.ChainID)
	w.Header().Set(addressHeader, reqs.PayTo)
	w.Header().Set(currencyHeader, reqs.Asset)
	w.Header().Set(amountHeader, reqs.Amount)
	w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
}

func (g *Gate) writeChallenge(w http.ResponseWriter, price Price) {
	reqs := g.Requirements(price)
	g.setChallengeHeaders(w, reqs)
	writeJSON(w, http.StatusPaymentRequired, types.ChallengeResponse{
		Message:             "Payment Required: " + reqs.Description,
		PaymentRequirements: reqs,
	})
}

// writeRejection maps a GateError to its HTTP shape. Retryable and invalid
// payments carry the challenge headers again so the client can redo the
// payment step without another probe request.
func (g *Gate) writeRejection(w http.ResponseWriter, price Price, gerr *types.GateError) {
	reqs := g.Requirements(price)

	status := http.StatusPaymentRequired
	switch gerr.Code {
	case types.ErrClientError:
		status = http.StatusBadRequest
	case types.ErrUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	default:
		g.setChallengeHeaders(w, reqs)
	}

	writeJSON(w, status, map[string]any{
		"error":               gerr.Message,
		"code":                gerr.Code,
		"paymentRequirements": reqs,
	})
}

// asGateError keeps the taxonomy code when one is present; anything else is
// a mechanical failure reaching the chain or the database.
func asGateError(err error) *types.GateError {
	var gerr *types.GateError
	if errors.As(err, &gerr) {
		return gerr
	}
	return &types.GateError{Code: types.ErrUpstreamUnavailable, Message: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
