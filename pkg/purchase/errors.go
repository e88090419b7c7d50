package purchase

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	"github.com/MarkoPoloResearchLab/tourledger/pkg/ledger"
)

var (
	ErrEmptyCart            = fmt.Errorf("%w: cart is empty", fault.ErrInvalidArgument)
	ErrTourNotPublished     = fmt.Errorf("%w: tour is not published", fault.ErrInvalidArgument)
	ErrTourAlreadyStarted   = fmt.Errorf("%w: tour is not in the future", fault.ErrInvalidArgument)
	ErrInvalidBonusPoints   = fmt.Errorf("%w: bonus points must not be negative", fault.ErrInvalidArgument)
	ErrBonusExceedsTotal    = fmt.Errorf("%w: bonus points exceed purchase total", fault.ErrInvalidArgument)
	ErrInsufficientPoints   = ledger.ErrInsufficientPoints
	ErrInvalidPurchase      = fmt.Errorf("%w: invalid purchase", fault.ErrInvalidArgument)
	ErrPurchaseNotFound     = fmt.Errorf("%w: purchase", fault.ErrNotFound)
	ErrReminderAlreadySent  = fmt.Errorf("%w: reminder already sent", fault.ErrInvalidState)
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// StageBonusDebit names the caveat raised when the debit fails after the purchase was stored.
const StageBonusDebit = "bonus_debit"
