// Package catalog describes the tour records the booking core reads.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
	"github.com/shopspring/decimal"
)

var (
	ErrTourNotFound   = fmt.Errorf("%w: tour", fault.ErrNotFound)
	ErrInvalidTour    = fmt.Errorf("%w: invalid tour", fault.ErrInvalidArgument)
	ErrInvalidTourID  = fmt.Errorf("%w: invalid tour id", fault.ErrInvalidArgument)
	ErrInvalidGuideID = fmt.Errorf("%w: invalid guide id", fault.ErrInvalidArgument)
)

// State is the publication state of a tour.
type State string

const (
	StateDraft    State = "draft"
	StateComplete State = "complete"
)

// ParseState validates a stored state.
func ParseState(raw string) (State, error) {
	state := State(strings.ToLower(strings.TrimSpace(raw)))
	switch state {
	case StateDraft, StateComplete:
		return state, nil
	default:
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidTour, raw)
	}
}

// Tour is the subset of a catalog tour the booking workflows depend on.
type Tour struct {
	ID          string
	AuthorID    string
	Name        string
	Description string
	Difficulty  int
	Category    int
	Price       decimal.Decimal
	Date        time.Time
	State       State
}

// Validate checks the catalog invariants.
func (tour Tour) Validate() error {
	if strings.TrimSpace(tour.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTourID)
	}
	if strings.TrimSpace(tour.AuthorID) == "" {
		return fmt.Errorf("%w: empty author", ErrInvalidGuideID)
	}
	if strings.TrimSpace(tour.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTour)
	}
	if tour.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidTour)
	}
	if tour.Difficulty < 1 || tour.Difficulty > 5 {
		return fmt.Errorf("%w: difficulty must be between 1 and 5", ErrInvalidTour)
	}
	if tour.Category < 1 || tour.Category > 5 {
		return fmt.Errorf("%w: category must be between 1 and 5", ErrInvalidTour)
	}
	if _, err := ParseState(string(tour.State)); err != nil {
		return err
	}
	return nil
}

// IsPublished reports whether the tour can be sold.
func (tour Tour) IsPublished() bool {
	return tour.State == StateComplete
}

// StartsAfter reports whether the tour date is strictly after now.
func (tour Tour) StartsAfter(now time.Time) bool {
	return tour.Date.After(now)
}

// SameDay reports whether both tours fall on the same calendar date.
func (tour Tour) SameDay(other Tour) bool {
	return SameDate(tour.Date, other.Date)
}

// SameDate compares the calendar dates of two instants in UTC.
func SameDate(left time.Time, right time.Time) bool {
	leftYear, leftMonth, leftDay := left.UTC().Date()
	rightYear, rightMonth, rightDay := right.UTC().Date()
	return leftYear == rightYear && leftMonth == rightMonth && leftDay == rightDay
}

// KeyPoint is a stop on a tour.
type KeyPoint struct {
	ID          string
	TourID      string
	Name        string
	Description string
	Order       int
}
