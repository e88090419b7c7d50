package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetOrCreate returns the tourist's account, opening an empty one on first use.
func (service *Service) GetOrCreate(ctx context.Context, touristID TouristID) (Account, error) {
	if touristID.IsZero() {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidTouristID)
	}
	return service.store.GetOrCreateAccount(ctx, touristID, service.nowFn())
}

// Credit adds points and appends an earned_from_cancellation transaction.
func (service *Service) Credit(ctx context.Context, touristID TouristID, amount PositivePoints, reason string, reference Reference) (Account, error) {
	return service.post(ctx, operationCredit, touristID, KindEarnedFromCancellation, amount, amount.Decimal(), reason, reference)
}

// Debit removes points and appends a spent_on_purchase transaction.
func (service *Service) Debit(ctx context.Context, touristID TouristID, amount PositivePoints, reason string, reference Reference) (Account, error) {
	return service.post(ctx, operationDebit, touristID, KindSpentOnPurchase, amount, amount.Decimal().Neg(), reason, reference)
}

// Expire removes points that lapsed and appends an expired transaction.
func (service *Service) Expire(ctx context.Context, touristID TouristID, amount PositivePoints, reason string, reference Reference) (Account, error) {
	return service.post(ctx, operationExpire, touristID, KindExpired, amount, amount.Decimal().Neg(), reason, reference)
}

// post writes the balance change and its transaction in one store transaction.
func (service *Service) post(ctx context.Context, operation string, touristID TouristID, kind TransactionKind, amount PositivePoints, delta decimal.Decimal, reason string, reference Reference) (Account, error) {
	var updated Account
	operationError := func() error {
		if touristID.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidTouristID)
		}
		if !amount.Decimal().IsPositive() {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
		}
		now := service.nowFn()
		input, err := NewTransactionInput(touristID, kind, delta, reason, reference, now)
		if err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.GetOrCreateAccount(ctx, touristID, now); err != nil {
				return err
			}
			account, err := transactionStore.LockAccount(ctx, touristID)
			if err != nil {
				return err
			}
			next, err := account.apply(delta, now)
			if err != nil {
				return err
			}
			if _, err := transactionStore.InsertTransaction(ctx, input); err != nil {
				return err
			}
			if err := transactionStore.SetBalance(ctx, next); err != nil {
				return err
			}
			updated = next
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:      operation,
		TouristID:      touristID,
		Kind:           kind,
		Amount:         amount.Decimal(),
		Reason:         reason,
		IdempotencyKey: reference.IdempotencyKey,
		Error:          operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return updated, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
