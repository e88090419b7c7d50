// Package replacement implements the guide-replacement workflow.
package replacement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
)

var (
	ErrReplacementNotFound      = fmt.Errorf("%w: replacement", fault.ErrNotFound)
	ErrInvalidReplacement       = fmt.Errorf("%w: invalid replacement", fault.ErrInvalidArgument)
	ErrInvalidTransition        = fmt.Errorf("%w: replacement transition not allowed", fault.ErrInvalidState)
	ErrNotTourOwner             = fmt.Errorf("%w: guide does not own this tour", fault.ErrForbidden)
	ErrNotRequester             = fmt.Errorf("%w: only the requesting guide may cancel", fault.ErrForbidden)
	ErrTourNotPublished         = fmt.Errorf("%w: tour is not published", fault.ErrInvalidArgument)
	ErrTourAlreadyStarted       = fmt.Errorf("%w: tour is not in the future", fault.ErrInvalidArgument)
	ErrPendingReplacementExists = fmt.Errorf("%w: a pending replacement already exists for this tour", fault.ErrInvalidArgument)
	ErrSameGuide                = fmt.Errorf("%w: the requesting guide cannot accept their own replacement", fault.ErrInvalidArgument)
	ErrScheduleConflict         = fmt.Errorf("%w: guide already has a tour on that date", fault.ErrInvalidArgument)
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// Status is the workflow state of a replacement request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusAccepted, StatusCancelled, StatusExpired:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidReplacement, raw)
	}
}

// Replacement is a guide's request for another guide to take over a tour.
type Replacement struct {
	ID                 string
	TourID             string
	OriginalGuideID    string
	ReplacementGuideID string
	Status             Status
	RequestedAt        time.Time
	AcceptedAt         *time.Time
	CancelledAt        *time.Time
	ExpiredAt          *time.Time
	RefundsSettledAt   *time.Time
}

// NewReplacement builds a pending request.
func NewReplacement(id string, tourID string, originalGuideID string, requestedAt time.Time) (Replacement, error) {
	if strings.TrimSpace(id) == "" {
		return Replacement{}, fmt.Errorf("%w: empty id", ErrInvalidReplacement)
	}
	if strings.TrimSpace(tourID) == "" {
		return Replacement{}, fmt.Errorf("%w: empty tour id", ErrInvalidReplacement)
	}
	if strings.TrimSpace(originalGuideID) == "" {
		return Replacement{}, fmt.Errorf("%w: empty guide id", ErrInvalidReplacement)
	}
	return Replacement{
		ID:              id,
		TourID:          tourID,
		OriginalGuideID: originalGuideID,
		Status:          StatusPending,
		RequestedAt:     requestedAt,
	}, nil
}

// Accept hands the tour to guideID.
func (replacement Replacement) Accept(guideID string, at time.Time) (Replacement, error) {
	if err := replacement.requirePending("accept"); err != nil {
		return Replacement{}, err
	}
	if strings.TrimSpace(guideID) == "" {
		return Replacement{}, fmt.Errorf("%w: empty guide id", ErrInvalidReplacement)
	}
	if guideID == replacement.OriginalGuideID {
		return Replacement{}, ErrSameGuide
	}
	stamp := at
	replacement.Status = StatusAccepted
	replacement.ReplacementGuideID = guideID
	replacement.AcceptedAt = &stamp
	return replacement, nil
}

// Cancel withdraws the request.
func (replacement Replacement) Cancel(at time.Time) (Replacement, error) {
	if err := replacement.requirePending("cancel"); err != nil {
		return Replacement{}, err
	}
	stamp := at
	replacement.Status = StatusCancelled
	replacement.CancelledAt = &stamp
	return replacement, nil
}

// MarkAsExpired closes a request nobody accepted in time.
func (replacement Replacement) MarkAsExpired(at time.Time) (Replacement, error) {
	if err := replacement.requirePending("expire"); err != nil {
		return Replacement{}, err
	}
	stamp := at
	replacement.Status = StatusExpired
	replacement.ExpiredAt = &stamp
	return replacement, nil
}

// RefundsSettled reports whether the cancellation cascade finished.
func (replacement Replacement) RefundsSettled() bool {
	return replacement.RefundsSettledAt != nil
}

func (replacement Replacement) requirePending(action string) error {
	if replacement.Status != StatusPending {
		return fmt.Errorf("%w: cannot %s a replacement in status %s", ErrInvalidTransition, action, replacement.Status)
	}
	return nil
}
