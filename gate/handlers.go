package gate

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/web3ai/x402gate/ledger"
	"github.com/web3ai/x402gate/types"
	"github.com/web3ai/x402gate/utils"
)

// Handlers exposes the payment-link and verification API around a Gate.
// Presentation (QR pages, receipts, dashboards) stays with the frontend;
// everything here is JSON.
type Handlers struct {
	gate *Gate
}

func NewHandlers(g *Gate) *Handlers {
	return &Handlers{gate: g}
}

// Register mounts the payment API on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /payments/requests", h.CreateRequest)
	mux.HandleFunc("GET /payments/requests/{id}", h.GetRequest)
	mux.HandleFunc("POST /payments/verify", h.VerifyTransaction)
	mux.HandleFunc("GET /payments/receipt/{hash}", h.Receipt)
	mux.HandleFunc("GET /payments/history", h.History)
}

type createRequestBody struct {
	Amount string `json:"amount"`
	Note   string `json:"note"`
}

// CreateRequest issues a dynamic payment link: a PENDING request the payer
// later settles, identified by its uuid.
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrClientError, "invalid JSON body")
		return
	}

	amount, err := utils.ValidateAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrClientError, err.Error())
		return
	}

	req, err := h.gate.store.CreateRequest(r.Context(), types.KindDynamic, amount, body.Note, h.gate.receiver)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrUpstreamUnavailable, "could not create payment request")
		return
	}

	writeJSON(w, http.StatusCreated, requestView(req))
}

// GetRequest returns the state of a payment request.
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.gate.store.GetRequest(r.Context(), r.PathValue("id"))
	if errors.Is(err, ledger.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, types.ErrClientError, "payment request not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrUpstreamUnavailable, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, requestView(req))
}

type verifyBody struct {
	TxHash    string `json:"tx_hash"`
	RequestID string `json:"request_id"`
}

// VerifyTransaction is the stand-alone verification endpoint: the payer
// submits a hash (optionally bound to a dynamic request) outside of any
// protected operation. Replays answer success without side effects.
func (h *Handlers) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrClientError, "invalid JSON body")
		return
	}
	if body.TxHash == "" {
		writeError(w, http.StatusBadRequest, types.ErrClientError, "missing tx_hash")
		return
	}

	// The payer decided the amount; the only expectations are recipient
	// and finality, so the price floor is zero.
	price := Price{Asset: h.gate.asset, Description: "direct transfer"}

	auth, err := h.gate.Authorize(r.Context(), body.TxHash, body.RequestID, price)
	if err != nil {
		gerr := asGateError(err)
		status := http.StatusBadRequest
		switch gerr.Code {
		case types.ErrPaymentNotYetVisible:
			status = http.StatusNotFound
		case types.ErrUpstreamUnavailable:
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, gerr.Code, gerr.Message)
		return
	}

	resp := map[string]any{
		"success": true,
		"txHash":  auth.Ticket.TxHash,
		"amount":  utils.FormatAmount(auth.Ticket.Amount),
	}
	if auth.Replayed {
		resp["message"] = "already processed"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Receipt returns the recorded transaction for a hash.
func (h *Handlers) Receipt(w http.ResponseWriter, r *http.Request) {
	rec, err := h.gate.store.GetTransaction(r.Context(), r.PathValue("hash"))
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		writeError(w, http.StatusNotFound, types.ErrClientError, "transaction not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrUpstreamUnavailable, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, transactionView(rec))
}

// History lists recorded transactions, newest first.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	recs, err := h.gate.store.ListTransactions(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrUpstreamUnavailable, "lookup failed")
		return
	}
	views := make([]map[string]any, 0, len(recs))
	for i := range recs {
		views = append(views, transactionView(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

func requestView(req *ledger.PaymentRequest) map[string]any {
	view := map[string]any{
		"id":             req.ID,
		"kind":           req.Kind,
		"amount":         utils.FormatAmount(req.Amount),
		"note":           req.Note,
		"receiverWallet": req.ReceiverWallet,
		"status":         req.Status,
		"createdAt":      req.CreatedAt,
	}
	if req.PaidAt != nil {
		view["paidAt"] = req.PaidAt
	}
	return view
}

func transactionView(rec *ledger.VerifiedTransaction) map[string]any {
	view := map[string]any{
		"txHash":      rec.TxHash,
		"payerWallet": rec.PayerWallet,
		"recipient":   rec.Recipient,
		"chainId":     rec.ChainID,
		"amount":      utils.FormatAmount(rec.Amount),
		"verified":    rec.Verified,
		"createdAt":   rec.CreatedAt,
	}
	if rec.RequestID != nil {
		view["requestId"] = *rec.RequestID
	}
	return view
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": message, "code": code})
}
