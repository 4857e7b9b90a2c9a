// Package ledger persists payment requests and verified transactions.
// The unique constraint on the transaction hash is the only serialization
// primitive in the system: concurrent verifications of the same hash race
// on the insert, and exactly one wins.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3ai/x402gate/types"
)

// RecordResult reports how RecordVerifiedTransaction concluded.
type RecordResult int

const (
	// Created means this call inserted the row and owns the credit.
	Created RecordResult = iota

	// AlreadyExists means the hash was recorded before (client retry,
	// duplicate webhook, replay). The caller must not credit or execute
	// the paid operation again.
	AlreadyExists
)

// ErrRequestNotFound is returned for lookups of unknown request ids.
var ErrRequestNotFound = errors.New("payment request not found")

// ErrTransactionNotFound is returned for lookups of unrecorded hashes.
var ErrTransactionNotFound = errors.New("verified transaction not found")

// Store is the payment ledger backed by a relational database.
type Store struct {
	db *gorm.DB
}

// Open connects to the database behind dialector, migrates the ledger
// tables and returns a ready Store. TranslateError is required so driver
// duplicate-key errors surface as gorm.ErrDuplicatedKey.
func Open(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New wraps an existing gorm handle, migrating the ledger tables.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&PaymentRequest{}, &VerifiedTransaction{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// CreateRequest inserts a new PENDING payment request.
func (s *Store) CreateRequest(ctx context.Context, kind types.PaymentRequestKind, amount decimal.Decimal, note, receiverWallet string) (*PaymentRequest, error) {
	req := &PaymentRequest{
		ID:             uuid.NewString(),
		Kind:           kind,
		Amount:         amount,
		Note:           note,
		ReceiverWallet: receiverWallet,
		Status:         types.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

// GetRequest fetches a payment request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*PaymentRequest, error) {
	var req PaymentRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// MarkPaid transitions a request PENDING→PAID. Idempotent: a request that
// is already PAID or EXPIRED is left untouched and no error is returned.
func (s *Store) MarkPaid(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.StatusPaid)
}

// ExpireRequest transitions a request PENDING→EXPIRED, same idempotency
// rules as MarkPaid.
func (s *Store) ExpireRequest(ctx context.Context, id string) error {
	return s.transition(ctx, id, types.StatusExpired)
}

func (s *Store) transition(ctx context.Context, id string, to types.PaymentRequestStatus) error {
	updates := map[string]interface{}{"status": to}
	if to == types.StatusPaid {
		now := time.Now().UTC()
		updates["paid_at"] = &now
	}

	// The status guard in the WHERE clause keeps PAID and EXPIRED terminal.
	res := s.db.WithContext(ctx).
		Model(&PaymentRequest{}).
		Where("id = ? AND status = ?", id, types.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either already terminal (fine) or unknown id (not fine).
		var count int64
		if err := s.db.WithContext(ctx).Model(&PaymentRequest{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRequestNotFound
		}
	}
	return nil
}

// RecordVerifiedTransaction appends the record for a hash that passed
// verification. The insert itself is the serialization point: if another
// worker already recorded the hash, the unique index rejects this insert
// and the existing row is returned with AlreadyExists. Lookup-before-insert
// would be a race, so there is none.
func (s *Store) RecordVerifiedTransaction(ctx context.Context, txHash string, requestID *string, payer, recipient string, amount decimal.Decimal, chainID string) (RecordResult, *VerifiedTransaction, error) {
	rec := &VerifiedTransaction{
		TxHash:      txHash,
		RequestID:   requestID,
		PayerWallet: payer,
		Recipient:   recipient,
		ChainID:     chainID,
		Amount:      amount,
		Verified:    true,
	}

	err := s.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return Created, rec, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return Created, nil, err
	}

	existing, lookupErr := s.GetTransaction(ctx, txHash)
	if lookupErr != nil {
		return AlreadyExists, nil, lookupErr
	}
	return AlreadyExists, existing, nil
}

// GetTransaction fetches the verified transaction for a hash.
func (s *Store) GetTransaction(ctx context.Context, txHash string) (*VerifiedTransaction, error) {
	var rec VerifiedTransaction
	err := s.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListTransactions returns recorded transactions newest first. A limit of
// zero or less means no limit.
func (s *Store) ListTransactions(ctx context.Context, limit int) ([]VerifiedTransaction, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []VerifiedTransaction
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
