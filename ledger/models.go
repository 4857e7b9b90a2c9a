package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/web3ai/x402gate/types"
)

// PaymentRequest is a persisted request for payment. Dynamic requests are
// created ahead of payment (payment link / QR flow); static ones are
// synthesized at verification time for ad-hoc transfers.
type PaymentRequest struct {
	ID             string                     `gorm:"type:varchar(36);primaryKey"`
	Kind           types.PaymentRequestKind   `gorm:"type:varchar(10);not null;default:DYNAMIC"`
	Amount         decimal.Decimal            `gorm:"type:numeric(20,8);not null"`
	Note           string                     `gorm:"type:text"`
	ReceiverWallet string                     `gorm:"type:varchar(42);not null"`
	Status         types.PaymentRequestStatus `gorm:"type:varchar(10);not null;default:PENDING;index"`
	CreatedAt      time.Time
	PaidAt         *time.Time
}

// VerifiedTransaction is the append-only record of a proof that passed
// verification. The unique index on TxHash is the replay guard: a second
// insert for the same hash must fail at the storage layer, not be filtered
// by a racy lookup.
type VerifiedTransaction struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	TxHash      string          `gorm:"type:varchar(66);uniqueIndex;not null"`
	RequestID   *string         `gorm:"type:varchar(36);index"`
	PayerWallet string          `gorm:"type:varchar(42);not null"`
	Recipient   string          `gorm:"type:varchar(42);not null"`
	ChainID     string          `gorm:"type:varchar(10);not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Verified    bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time
}
