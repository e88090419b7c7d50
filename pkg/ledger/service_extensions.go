package ledger

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/paging"
)

// History lists a tourist's transactions newest first. Pages are zero-based.
func (service *Service) History(ctx context.Context, touristID TouristID, page int, pageSize int) (TransactionPage, error) {
	if touristID.IsZero() {
		return TransactionPage{}, fmt.Errorf("%w: empty value", ErrInvalidTouristID)
	}
	request, err := paging.New(page, pageSize)
	if err != nil {
		return TransactionPage{}, err
	}
	transactions, err := service.store.ListTransactions(ctx, touristID, request.Offset(), request.Size)
	if err != nil {
		return TransactionPage{}, err
	}
	total, err := service.store.CountTransactions(ctx, touristID)
	if err != nil {
		return TransactionPage{}, err
	}
	return TransactionPage{
		Transactions: transactions,
		Page:         request.Page,
		PageSize:     request.Size,
		Total:        total,
	}, nil
}

// Audit replays the transaction log and compares it with the stored balance.
func (service *Service) Audit(ctx context.Context, touristID TouristID) (AuditReport, error) {
	account, err := service.GetOrCreate(ctx, touristID)
	if err != nil {
		return AuditReport{}, err
	}
	replayed, err := service.store.SumTransactions(ctx, touristID)
	if err != nil {
		return AuditReport{}, err
	}
	count, err := service.store.CountTransactions(ctx, touristID)
	if err != nil {
		return AuditReport{}, err
	}
	return AuditReport{
		TouristID:    touristID,
		Balance:      account.Balance,
		Replayed:     replayed,
		Transactions: count,
	}, nil
}
