package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TouristID identifies the owner of a bonus account.
type TouristID struct {
	value string
}

// NewTouristID validates and normalizes a tourist id.
func NewTouristID(raw string) (TouristID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TouristID{}, fmt.Errorf("%w: empty value", ErrInvalidTouristID)
	}
	return TouristID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TouristID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id TouristID) IsZero() bool {
	return id.value == ""
}

// IdempotencyKey scopes duplicate detection for a single tourist.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// MetadataJSON stores arbitrary transaction metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// PositivePoints is a strictly positive amount of bonus points.
type PositivePoints struct {
	value decimal.Decimal
}

// NewPositivePoints validates an amount and ensures it is strictly positive.
func NewPositivePoints(raw decimal.Decimal) (PositivePoints, error) {
	if !raw.IsPositive() {
		return PositivePoints{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositivePoints{value: raw}, nil
}

// Decimal returns the amount as a decimal.
func (points PositivePoints) Decimal() decimal.Decimal {
	return points.value
}

// String renders the amount.
func (points PositivePoints) String() string {
	return points.value.String()
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	KindEarnedFromCancellation TransactionKind = "earned_from_cancellation"
	KindSpentOnPurchase        TransactionKind = "spent_on_purchase"
	KindExpired                TransactionKind = "expired"
)

// ParseTransactionKind validates a stored kind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	kind := TransactionKind(strings.TrimSpace(raw))
	switch kind {
	case KindEarnedFromCancellation, KindSpentOnPurchase, KindExpired:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
	}
}

// String returns the kind name.
func (kind TransactionKind) String() string {
	return string(kind)
}

func (kind TransactionKind) validateSign(amount decimal.Decimal) error {
	switch kind {
	case KindEarnedFromCancellation:
		if !amount.IsPositive() {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, kind)
		}
	case KindSpentOnPurchase, KindExpired:
		if !amount.IsNegative() {
			return fmt.Errorf("%w: %s must be negative", ErrInvalidAmount, kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransactionKind, kind)
	}
	return nil
}

// Reference ties a transaction to the booking objects that caused it.
type Reference struct {
	TourID         string
	PurchaseID     string
	IdempotencyKey string
	Metadata       string
}

// Account is the per-tourist balance.
type Account struct {
	TouristID TouristID
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// apply returns the account after delta, refusing a negative balance.
func (account Account) apply(delta decimal.Decimal, at time.Time) (Account, error) {
	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return Account{}, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientPoints, account.Balance, delta.Neg())
	}
	account.Balance = next
	account.UpdatedAt = at
	return account, nil
}

// TransactionInput is a validated transaction ready to be appended.
type TransactionInput struct {
	touristID         TouristID
	kind              TransactionKind
	amount            decimal.Decimal
	reason            string
	relatedTourID     string
	relatedPurchaseID string
	idempotencyKey    string
	metadata          MetadataJSON
	createdAt         time.Time
}

// NewTransactionInput validates a signed transaction.
func NewTransactionInput(touristID TouristID, kind TransactionKind, amount decimal.Decimal, reason string, reference Reference, createdAt time.Time) (TransactionInput, error) {
	if touristID.IsZero() {
		return TransactionInput{}, fmt.Errorf("%w: empty value", ErrInvalidTouristID)
	}
	if err := kind.validateSign(amount); err != nil {
		return TransactionInput{}, err
	}
	normalizedReason := strings.TrimSpace(reason)
	if normalizedReason == "" {
		return TransactionInput{}, fmt.Errorf("%w: must not be empty", ErrInvalidReason)
	}
	metadata, err := NewMetadataJSON(reference.Metadata)
	if err != nil {
		return TransactionInput{}, err
	}
	idempotencyKey := ""
	if strings.TrimSpace(reference.IdempotencyKey) != "" {
		key, err := NewIdempotencyKey(reference.IdempotencyKey)
		if err != nil {
			return TransactionInput{}, err
		}
		idempotencyKey = key.String()
	}
	return TransactionInput{
		touristID:         touristID,
		kind:              kind,
		amount:            amount,
		reason:            normalizedReason,
		relatedTourID:     strings.TrimSpace(reference.TourID),
		relatedPurchaseID: strings.TrimSpace(reference.PurchaseID),
		idempotencyKey:    idempotencyKey,
		metadata:          metadata,
		createdAt:         createdAt,
	}, nil
}

func (input TransactionInput) TouristID() TouristID { return input.touristID }
func (input TransactionInput) Kind() TransactionKind { return input.kind }
func (input TransactionInput) Amount() decimal.Decimal { return input.amount }
func (input TransactionInput) Reason() string { return input.reason }
func (input TransactionInput) RelatedTourID() string { return input.relatedTourID }
func (input TransactionInput) RelatedPurchaseID() string { return input.relatedPurchaseID }
func (input TransactionInput) IdempotencyKey() string { return input.idempotencyKey }
func (input TransactionInput) Metadata() MetadataJSON { return input.metadata }
func (input TransactionInput) CreatedAt() time.Time { return input.createdAt }

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	ID                string
	TouristID         TouristID
	Kind              TransactionKind
	Amount            decimal.Decimal
	Reason            string
	RelatedTourID     string
	RelatedPurchaseID string
	IdempotencyKey    string
	Metadata          MetadataJSON
	CreatedAt         time.Time
}

// TransactionPage is one page of history, newest first.
type TransactionPage struct {
	Transactions []Transaction
	Page         int
	PageSize     int
	Total        int64
}

// AuditReport compares the stored balance with the replayed log.
type AuditReport struct {
	TouristID    TouristID
	Balance      decimal.Decimal
	Replayed     decimal.Decimal
	Transactions int64
}

// Consistent reports whether balance equals the sum of transactions.
func (report AuditReport) Consistent() bool {
	return report.Balance.Equal(report.Replayed) && !report.Balance.IsNegative()
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccount(ctx context.Context, touristID TouristID, at time.Time) (Account, error)
	LockAccount(ctx context.Context, touristID TouristID) (Account, error)
	SetBalance(ctx context.Context, account Account) error
	InsertTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	ListTransactions(ctx context.Context, touristID TouristID, offset int, limit int) ([]Transaction, error)
	CountTransactions(ctx context.Context, touristID TouristID) (int64, error)
	SumTransactions(ctx context.Context, touristID TouristID) (decimal.Decimal, error)
}
