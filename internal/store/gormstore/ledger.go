package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

var _ ledger.Store = (*LedgerStore)(nil)

// NewLedgerStore returns a LedgerStore backed by gorm.DB.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

func (store *LedgerStore) GetOrCreateAccount(ctx context.Context, touristID ledger.TouristID, at time.Time) (ledger.Account, error) {
	seed := Account{TouristID: touristID.String(), Balance: decimal.Zero, CreatedAt: at.UTC(), UpdatedAt: at.UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tourist_id"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	var row Account
	if err := store.db.WithContext(ctx).Where("tourist_id = ?", touristID.String()).Take(&row).Error; err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapAccount(row)
}

func (store *LedgerStore) LockAccount(ctx context.Context, touristID ledger.TouristID) (ledger.Account, error) {
	var row Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tourist_id = ?", touristID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return mapAccount(row)
}

func (store *LedgerStore) SetBalance(ctx context.Context, account ledger.Account) error {
	if account.Balance.IsNegative() {
		return wrapStoreError(errorSubjectBalance, errorCodeInvalid, ledger.ErrInvalidBalance)
	}
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("tourist_id = ?", account.TouristID.String()).
		Updates(map[string]interface{}{
			"balance":    account.Balance,
			"updated_at": account.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

func (store *LedgerStore) InsertTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	row := LedgerTransaction{
		TouristID:         input.TouristID().String(),
		Kind:              input.Kind().String(),
		Amount:            input.Amount(),
		Reason:            input.Reason(),
		RelatedTourID:     optionalString(input.RelatedTourID()),
		RelatedPurchaseID: optionalString(input.RelatedPurchaseID()),
		IdempotencyKey:    optionalString(input.IdempotencyKey()),
		Metadata:          datatypesJSON(input.Metadata().String()),
		CreatedAt:         input.CreatedAt().UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintTransactionIdempotency) {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction, err := mapLedgerTransaction(row)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *LedgerStore) ListTransactions(ctx context.Context, touristID ledger.TouristID, offset int, limit int) ([]ledger.Transaction, error) {
	var rows []LedgerTransaction
	err := store.db.WithContext(ctx).
		Where("tourist_id = ?", touristID.String()).
		Order("created_at DESC").
		Order("transaction_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapLedgerTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *LedgerStore) CountTransactions(ctx context.Context, touristID ledger.TouristID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerTransaction{}).
		Where("tourist_id = ?", touristID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return count, nil
}

func (store *LedgerStore) SumTransactions(ctx context.Context, touristID ledger.TouristID) (decimal.Decimal, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerTransaction{}).
		Select("coalesce(sum(amount),0) as total").
		Where("tourist_id = ?", touristID.String()).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum.Total.Round(2), nil
}

type sqlSum struct {
	Total decimal.Decimal
}

func mapAccount(row Account) (ledger.Account, error) {
	touristID, err := ledger.NewTouristID(row.TouristID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		TouristID: touristID,
		Balance:   row.Balance,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func mapLedgerTransaction(row LedgerTransaction) (ledger.Transaction, error) {
	touristID, err := ledger.NewTouristID(row.TouristID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind, err := ledger.ParseTransactionKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:                row.TransactionID,
		TouristID:         touristID,
		Kind:              kind,
		Amount:            row.Amount,
		Reason:            row.Reason,
		RelatedTourID:     stringOrEmpty(row.RelatedTourID),
		RelatedPurchaseID: stringOrEmpty(row.RelatedPurchaseID),
		IdempotencyKey:    stringOrEmpty(row.IdempotencyKey),
		Metadata:          metadata,
		CreatedAt:         row.CreatedAt,
	}, nil
}
