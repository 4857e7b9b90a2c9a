package clients

const (
	// -----------------------------
	// LOOKUP / FINALITY
	// -----------------------------
	ReasonTxNotFound = "transaction_not_found"
	ReasonTxPending  = "transaction_pending"
	ReasonTxFailed   = "transaction_failed"

	// -----------------------------
	// PAYMENT CHECKS
	// -----------------------------
	ReasonInvalidRecipient   = "invalid_recipient"
	ReasonInsufficientAmount = "insufficient_amount"

	// -----------------------------
	// UNEXPECTED
	// -----------------------------
	ReasonUnexpectedVerifyError = "unexpected_verify_error"
)
