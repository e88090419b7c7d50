package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubStore struct {
	mu           sync.Mutex
	accounts     map[string]Account
	transactions []Transaction
	keys         map[string]struct{}
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: map[string]Account{},
		keys:     map[string]struct{}{},
	}
}

// WithTx snapshots the store and restores it when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	accounts := make(map[string]Account, len(store.accounts))
	for key, value := range store.accounts {
		accounts[key] = value
	}
	transactions := append([]Transaction(nil), store.transactions...)
	keys := make(map[string]struct{}, len(store.keys))
	for key := range store.keys {
		keys[key] = struct{}{}
	}
	store.mu.Unlock()

	if err := fn(ctx, store); err != nil {
		store.mu.Lock()
		store.accounts = accounts
		store.transactions = transactions
		store.keys = keys
		store.mu.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(_ context.Context, touristID TouristID, at time.Time) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[touristID.String()]
	if !ok {
		account = Account{TouristID: touristID, Balance: decimal.Zero, CreatedAt: at, UpdatedAt: at}
		store.accounts[touristID.String()] = account
	}
	return account, nil
}

func (store *stubStore) LockAccount(_ context.Context, touristID TouristID) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[touristID.String()]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) SetBalance(_ context.Context, account Account) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.accounts[account.TouristID.String()] = account
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, input TransactionInput) (Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if input.IdempotencyKey() != "" {
		scoped := input.TouristID().String() + "/" + input.IdempotencyKey()
		if _, exists := store.keys[scoped]; exists {
			return Transaction{}, ErrDuplicateIdempotencyKey
		}
		store.keys[scoped] = struct{}{}
	}
	transaction := Transaction{
		ID:                input.TouristID().String() + "-" + decimal.NewFromInt(int64(len(store.transactions))).String(),
		TouristID:         input.TouristID(),
		Kind:              input.Kind(),
		Amount:            input.Amount(),
		Reason:            input.Reason(),
		RelatedTourID:     input.RelatedTourID(),
		RelatedPurchaseID: input.RelatedPurchaseID(),
		IdempotencyKey:    input.IdempotencyKey(),
		Metadata:          input.Metadata(),
		CreatedAt:         input.CreatedAt(),
	}
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubStore) ListTransactions(_ context.Context, touristID TouristID, offset int, limit int) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	owned := store.ownedLocked(touristID)
	sort.SliceStable(owned, func(left, right int) bool {
		return owned[left].CreatedAt.After(owned[right].CreatedAt)
	})
	if offset >= len(owned) {
		return []Transaction{}, nil
	}
	end := offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[offset:end], nil
}

func (store *stubStore) CountTransactions(_ context.Context, touristID TouristID) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return int64(len(store.ownedLocked(touristID))), nil
}

func (store *stubStore) SumTransactions(_ context.Context, touristID TouristID) (decimal.Decimal, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	sum := decimal.Zero
	for _, transaction := range store.ownedLocked(touristID) {
		sum = sum.Add(transaction.Amount)
	}
	return sum, nil
}

func (store *stubStore) ownedLocked(touristID TouristID) []Transaction {
	owned := make([]Transaction, 0)
	for _, transaction := range store.transactions {
		if transaction.TouristID == touristID {
			owned = append(owned, transaction)
		}
	}
	return owned
}

func (store *stubStore) balance(touristID TouristID) decimal.Decimal {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.accounts[touristID.String()].Balance
}

type failingStore struct {
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	if err == nil {
		err = errors.New("store failure")
	}
	return &failingStore{err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *failingStore) GetOrCreateAccount(context.Context, TouristID, time.Time) (Account, error) {
	return Account{}, store.err
}

func (store *failingStore) LockAccount(context.Context, TouristID) (Account, error) {
	return Account{}, store.err
}

func (store *failingStore) SetBalance(context.Context, Account) error {
	return store.err
}

func (store *failingStore) InsertTransaction(context.Context, TransactionInput) (Transaction, error) {
	return Transaction{}, store.err
}

func (store *failingStore) ListTransactions(context.Context, TouristID, int, int) ([]Transaction, error) {
	return nil, store.err
}

func (store *failingStore) CountTransactions(context.Context, TouristID) (int64, error) {
	return 0, store.err
}

func (store *failingStore) SumTransactions(context.Context, TouristID) (decimal.Decimal, error) {
	return decimal.Zero, store.err
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so history ordering is deterministic.
func (clock *steppingClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(time.Second)
	return clock.current
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, newSteppingClock().Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustTouristID(test *testing.T, raw string) TouristID {
	test.Helper()
	touristID, err := NewTouristID(raw)
	if err != nil {
		test.Fatalf("tourist id: %v", err)
	}
	return touristID
}

func mustPoints(test *testing.T, raw int64) PositivePoints {
	test.Helper()
	points, err := NewPositivePoints(decimal.NewFromInt(raw))
	if err != nil {
		test.Fatalf("points: %v", err)
	}
	return points
}
