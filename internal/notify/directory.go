package notify

import (
	"context"
	"fmt"
	"strings"
)

// Directory resolves a tourist id to an email address.
type Directory interface {
	Email(ctx context.Context, touristID string) (string, error)
}

// StaticDirectory maps tourist ids to addresses.
type StaticDirectory map[string]string

// Email returns the configured address.
func (directory StaticDirectory) Email(_ context.Context, touristID string) (string, error) {
	address, ok := directory[strings.TrimSpace(touristID)]
	if !ok || strings.TrimSpace(address) == "" {
		return "", fmt.Errorf("%w: %s", ErrRecipientUnknown, touristID)
	}
	return address, nil
}

// PatternDirectory derives addresses as "<touristID>@<Domain>".
type PatternDirectory struct {
	Domain string
}

// Email builds the address.
func (directory PatternDirectory) Email(_ context.Context, touristID string) (string, error) {
	touristID = strings.TrimSpace(touristID)
	domain := strings.TrimPrefix(strings.TrimSpace(directory.Domain), "@")
	if touristID == "" || domain == "" {
		return "", fmt.Errorf("%w: %s", ErrRecipientUnknown, touristID)
	}
	return touristID + "@" + domain, nil
}
