package ledger

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientPoints      = fmt.Errorf("%w: insufficient points", fault.ErrInvalidArgument)
	ErrDuplicateIdempotencyKey = fmt.Errorf("%w: duplicate idempotency key", fault.ErrInvalidState)
	ErrInvalidTouristID        = fmt.Errorf("%w: invalid tourist id", fault.ErrInvalidArgument)
	ErrInvalidIdempotencyKey   = fmt.Errorf("%w: invalid idempotency key", fault.ErrInvalidArgument)
	ErrInvalidAmount           = fmt.Errorf("%w: invalid amount", fault.ErrInvalidArgument)
	ErrInvalidReason           = fmt.Errorf("%w: invalid reason", fault.ErrInvalidArgument)
	ErrInvalidTransactionKind  = fmt.Errorf("%w: invalid transaction kind", fault.ErrInvalidArgument)
	ErrInvalidMetadataJSON     = fmt.Errorf("%w: invalid metadata json", fault.ErrInvalidArgument)
	ErrAccountNotFound         = fmt.Errorf("%w: account", fault.ErrNotFound)
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrInvalidBalance          = errors.New("invalid balance")
)
