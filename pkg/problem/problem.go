// Package problem implements the tour-problem escalation workflow.
package problem

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
)

var (
	ErrProblemNotFound      = fmt.Errorf("%w: problem", fault.ErrNotFound)
	ErrInvalidProblem       = fmt.Errorf("%w: invalid problem", fault.ErrInvalidArgument)
	ErrInvalidTransition    = fmt.Errorf("%w: problem transition not allowed", fault.ErrInvalidState)
	ErrNotPurchased         = fmt.Errorf("%w: tourist has not purchased this tour", fault.ErrForbidden)
	ErrNotTourOwner         = fmt.Errorf("%w: guide does not own this tour", fault.ErrForbidden)
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Status is the workflow state of a problem.
type Status string

const (
	StatusPending     Status = "pending"
	StatusResolved    Status = "resolved"
	StatusUnderReview Status = "under_review"
	StatusRejected    Status = "rejected"
)

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusResolved, StatusUnderReview, StatusRejected:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidProblem, raw)
	}
}

// Terminal reports whether no event leaves the status.
func (status Status) Terminal() bool {
	return len(transitions[status]) == 0
}

// Event drives a problem from one status to another.
type Event string

const (
	EventResolve             Event = "resolve"
	EventSendToAdministrator Event = "send_to_administrator"
	EventReturnToGuide       Event = "return_to_guide"
	EventReject              Event = "reject"
)

var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventResolve:             StatusResolved,
		EventSendToAdministrator: StatusUnderReview,
	},
	StatusUnderReview: {
		EventReturnToGuide: StatusPending,
		EventReject:        StatusRejected,
	},
}

// Problem is a tourist's complaint about a purchased tour.
type Problem struct {
	ID                string
	TourID            string
	TouristID         string
	Title             string
	Description       string
	Status            Status
	ReportedAt        time.Time
	ResolvedAt        *time.Time
	ReviewRequestedAt *time.Time
	RejectedAt        *time.Time
}

// NewProblem validates a freshly reported problem.
func NewProblem(id string, tourID string, touristID string, title string, description string, reportedAt time.Time) (Problem, error) {
	if strings.TrimSpace(id) == "" {
		return Problem{}, fmt.Errorf("%w: empty id", ErrInvalidProblem)
	}
	if strings.TrimSpace(tourID) == "" {
		return Problem{}, fmt.Errorf("%w: empty tour id", ErrInvalidProblem)
	}
	if strings.TrimSpace(touristID) == "" {
		return Problem{}, fmt.Errorf("%w: empty tourist id", ErrInvalidProblem)
	}
	normalizedTitle := strings.TrimSpace(title)
	if normalizedTitle == "" {
		return Problem{}, fmt.Errorf("%w: title is required", ErrInvalidProblem)
	}
	normalizedDescription := strings.TrimSpace(description)
	if normalizedDescription == "" {
		return Problem{}, fmt.Errorf("%w: description is required", ErrInvalidProblem)
	}
	return Problem{
		ID:          id,
		TourID:      tourID,
		TouristID:   touristID,
		Title:       normalizedTitle,
		Description: normalizedDescription,
		Status:      StatusPending,
		ReportedAt:  reportedAt,
	}, nil
}

// Apply returns the problem after event, or ErrInvalidTransition naming the
// current status.
func (problem Problem) Apply(event Event, at time.Time) (Problem, error) {
	next, ok := transitions[problem.Status][event]
	if !ok {
		return Problem{}, fmt.Errorf("%w: cannot %s a problem in status %s", ErrInvalidTransition, event, problem.Status)
	}
	stamp := at
	switch event {
	case EventResolve:
		problem.ResolvedAt = &stamp
	case EventSendToAdministrator:
		problem.ReviewRequestedAt = &stamp
	case EventReject:
		problem.RejectedAt = &stamp
	}
	problem.Status = next
	return problem, nil
}
