package problem

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/fault"
)

var reportedAt = time.Date(2026, time.July, 1, 8, 0, 0, 0, time.UTC)

func TestApplyFollowsTransitionTable(test *testing.T) {
	test.Parallel()
	allStatuses := []Status{StatusPending, StatusResolved, StatusUnderReview, StatusRejected}
	allEvents := []Event{EventResolve, EventSendToAdministrator, EventReturnToGuide, EventReject}
	allowed := map[Status]map[Event]Status{
		StatusPending:     {EventResolve: StatusResolved, EventSendToAdministrator: StatusUnderReview},
		StatusUnderReview: {EventReturnToGuide: StatusPending, EventReject: StatusRejected},
	}
	for _, from := range allStatuses {
		for _, event := range allEvents {
			problem := Problem{ID: "p", TourID: "t", TouristID: "u", Title: "x", Description: "y", Status: from, ReportedAt: reportedAt}
			next, err := problem.Apply(event, reportedAt.Add(time.Hour))
			expected, listed := allowed[from][event]
			if listed {
				if err != nil {
					test.Fatalf("%s --%s--> expected success, got %v", from, event, err)
				}
				if next.Status != expected {
					test.Fatalf("%s --%s--> expected %s, got %s", from, event, expected, next.Status)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) || fault.Classify(err) != fault.CategoryInvalidState {
				test.Fatalf("%s --%s--> expected state conflict, got %v", from, event, err)
			}
			if !strings.Contains(err.Error(), string(from)) {
				test.Fatalf("expected error to name status %s, got %q", from, err.Error())
			}
		}
	}
}

func TestTerminalStatuses(test *testing.T) {
	test.Parallel()
	if !StatusResolved.Terminal() || !StatusRejected.Terminal() {
		test.Fatalf("expected resolved and rejected to be terminal")
	}
	if StatusPending.Terminal() || StatusUnderReview.Terminal() {
		test.Fatalf("expected pending and under review to be open")
	}
}

func TestApplyStampsTimestamps(test *testing.T) {
	test.Parallel()
	problem := mustProblem(test)
	escalatedAt := reportedAt.Add(time.Hour)
	escalated, err := problem.Apply(EventSendToAdministrator, escalatedAt)
	if err != nil {
		test.Fatalf("escalate: %v", err)
	}
	if escalated.ReviewRequestedAt == nil || !escalated.ReviewRequestedAt.Equal(escalatedAt) {
		test.Fatalf("expected review request timestamp, got %v", escalated.ReviewRequestedAt)
	}
	rejected, err := escalated.Apply(EventReject, escalatedAt.Add(time.Hour))
	if err != nil {
		test.Fatalf("reject: %v", err)
	}
	if rejected.RejectedAt == nil || rejected.Status != StatusRejected {
		test.Fatalf("unexpected rejected problem %+v", rejected)
	}
	if problem.Status != StatusPending {
		test.Fatalf("apply must not mutate the receiver")
	}
}

func TestNewProblemValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		title       string
		description string
	}{
		{name: "blank title", title: " ", description: "broken bus"},
		{name: "blank description", title: "Bus", description: ""},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, err := NewProblem("p", "t", "u", testCase.title, testCase.description, reportedAt)
			if !errors.Is(err, ErrInvalidProblem) {
				test.Fatalf("expected ErrInvalidProblem, got %v", err)
			}
		})
	}
}

func TestParseStatus(test *testing.T) {
	test.Parallel()
	status, err := ParseStatus("UNDER_REVIEW")
	if err != nil || status != StatusUnderReview {
		test.Fatalf("expected under_review, got %q (%v)", status, err)
	}
	if _, err := ParseStatus("closed"); !errors.Is(err, ErrInvalidProblem) {
		test.Fatalf("expected ErrInvalidProblem, got %v", err)
	}
}

func mustProblem(test *testing.T) Problem {
	test.Helper()
	problem, err := NewProblem("problem-1", "tour-1", "tourist-1", "Late start", "The tour started an hour late.", reportedAt)
	if err != nil {
		test.Fatalf("new problem: %v", err)
	}
	return problem
}
