package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/web3ai/x402gate/clients"
	"github.com/web3ai/x402gate/ledger"
	"github.com/web3ai/x402gate/types"
	"github.com/web3ai/x402gate/verification"
)

const (
	receiver = "0x9497FE4B4ECA41229b9337abAEbCC91eCc7be23B"
	payer    = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	goodHash     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	failedHash   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	missingHash  = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	cheapHash    = "0xdddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd"
	strangerHash = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
)

// fakeChain serves a fixed set of on-chain transactions by hash.
type fakeChain struct {
	entries map[string]fakeEntry
}

type fakeEntry struct {
	tx      *clients.Transaction
	receipt *clients.Receipt
}

func (f *fakeChain) FetchTransaction(ctx context.Context, txHash string) (*clients.Transaction, *clients.Receipt, error) {
	e, ok := f.entries[strings.ToLower(txHash)]
	if !ok {
		return nil, nil, clients.ErrTxNotFound
	}
	return e.tx, e.receipt, nil
}

func (f *fakeChain) Network() types.Network { return types.NetworkMonadTestnet }
func (f *fakeChain) Close()                 {}

func newTestChain() *fakeChain {
	mk := func(hash, to, value string, success bool) fakeEntry {
		return fakeEntry{
			tx: &clients.Transaction{
				Hash:  hash,
				From:  payer,
				To:    to,
				Value: decimal.RequireFromString(value),
			},
			receipt: &clients.Receipt{TxHash: hash, Success: success, BlockNumber: 7},
		}
	}
	return &fakeChain{entries: map[string]fakeEntry{
		goodHash:     mk(goodHash, receiver, "0.001", true),
		failedHash:   mk(failedHash, receiver, "0.001", false),
		cheapHash:    mk(cheapHash, receiver, "0.0001", true),
		strangerHash: mk(strangerHash, payer, "0.001", true),
	}}
}

type testEnv struct {
	gate  *Gate
	store *ledger.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := ledger.Open(sqlite.Open(filepath.Join(t.TempDir(), "gate.db")))
	require.NoError(t, err)

	verifier := verification.NewService(newTestChain(),
		verification.WithAttempts(2),
		verification.WithInterval(time.Millisecond),
	)

	g, err := New(verifier, store, types.NetworkMonadTestnet, receiver, "MON")
	require.NoError(t, err)

	return &testEnv{gate: g, store: store}
}

func testPrice(amount string) Price {
	return Price{
		Amount:      decimal.RequireFromString(amount),
		Description: "Web Scraper Agent",
	}
}

func protect(env *testEnv, price Price, invoked *int) http.Handler {
	return env.gate.Protect(price, func(w http.ResponseWriter, r *http.Request, ticket *types.AccessTicket) {
		*invoked++
		writeJSON(w, http.StatusOK, map[string]any{"paidBy": ticket.Payer, "txHash": ticket.TxHash})
	})
}

func do(handler http.Handler, hash, requestID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/agents/scrape", strings.NewReader(`{"url":"https://example.com"}`))
	if hash != "" {
		req.Header.Set(PaymentHeader, hash)
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestProtect_MissingProofGetsChallenge(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.00001"), &invoked)

	w := do(handler, "", "")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 0, invoked)

	// All four challenge headers, exposed for browser clients.
	assert.Equal(t, "10143", w.Header().Get("x-chain-id"))
	assert.Equal(t, receiver, w.Header().Get("x-payment-address"))
	assert.Equal(t, "MON", w.Header().Get("x-price-currency"))
	assert.Equal(t, "0.00001", w.Header().Get("x-price-amount"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "x-payment-address")

	var body types.ChallengeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Payment Required: Web Scraper Agent", body.Message)
	assert.Equal(t, "0.00001", body.PaymentRequirements.Amount, "amount must be plain decimal, never exponential")
	assert.NotContains(t, body.PaymentRequirements.Amount, "e")
	assert.Equal(t, receiver, body.PaymentRequirements.PayTo)
	assert.Equal(t, "10143", body.PaymentRequirements.ChainID)
	assert.Equal(t, "MON", body.PaymentRequirements.Asset)
}

func TestProtect_MalformedProofIsClientError(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	w := do(handler, "deadbeef", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, invoked)
}

func TestProtect_FailedTransactionRejected(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	w := do(handler, failedHash, "")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 0, invoked)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.ErrPaymentInvalid, body["code"])
	// Challenge headers ride along so the client can pay again.
	assert.Equal(t, receiver, w.Header().Get("x-payment-address"))

	// A failed hash is never recorded.
	_, err := env.store.GetTransaction(context.Background(), failedHash)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestProtect_UnknownHashIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	w := do(handler, missingHash, "")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 0, invoked)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.ErrPaymentNotYetVisible, body["code"])
	assert.Equal(t, "0.001", w.Header().Get("x-price-amount"))
}

func TestProtect_InsufficientAmountRejected(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	w := do(handler, cheapHash, "")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 0, invoked)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.ErrPaymentInvalid, body["code"])
}

func TestProtect_WrongRecipientRejected(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	w := do(handler, strangerHash, "")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 0, invoked)
}

func TestProtect_VerifiedPaymentExecutesOnce(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	w := do(handler, goodHash, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, invoked)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, payer, body["paidBy"])

	// Recorded exactly once, bound to a synthesized static request.
	rec, err := env.store.GetTransaction(context.Background(), goodHash)
	require.NoError(t, err)
	assert.True(t, rec.Verified)
	require.NotNil(t, rec.RequestID)

	req, err := env.store.GetRequest(context.Background(), *rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, types.KindStatic, req.Kind)
	assert.Equal(t, types.StatusPaid, req.Status)
	assert.NotNil(t, req.PaidAt)
}

func TestProtect_ReplaySkipsOperation(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	first := do(handler, goodHash, "")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, 1, invoked)

	second := do(handler, goodHash, "")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, invoked, "the paid side effect must not run twice")

	var body map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "already processed", body["message"])

	recs, err := env.store.ListTransactions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestProtect_ReplayAgainstHigherPriceRejected(t *testing.T) {
	env := newTestEnv(t)
	invoked := 0
	cheap := protect(env, testPrice("0.001"), &invoked)
	require.Equal(t, http.StatusOK, do(cheap, goodHash, "").Code)

	expensiveInvoked := 0
	expensive := protect(env, testPrice("0.01"), &expensiveInvoked)
	w := do(expensive, goodHash, "")

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, 0, expensiveInvoked, "a recorded payment cannot buy a pricier operation")
}

func TestProtect_DynamicRequestTransitionsToPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.store.CreateRequest(ctx, types.KindDynamic, decimal.RequireFromString("0.001"), "invoice", receiver)
	require.NoError(t, err)

	invoked := 0
	handler := protect(env, testPrice("0.001"), &invoked)

	w := do(handler, goodHash, req.ID)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, invoked)

	got, err := env.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	paidAt := *got.PaidAt

	rec, err := env.store.GetTransaction(ctx, goodHash)
	require.NoError(t, err)
	require.NotNil(t, rec.RequestID)
	assert.Equal(t, req.ID, *rec.RequestID)

	// Replays never revert the request state.
	do(handler, goodHash, req.ID)
	got, err = env.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaid, got.Status)
	assert.Equal(t, paidAt, *got.PaidAt)
}
