package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	"go.uber.org/zap"
)

// Mailer renders notifications as emails and hands them to a Transport.
type Mailer struct {
	directory Directory
	transport Transport
	logger    *zap.Logger
}

var _ notification.Sender = (*Mailer)(nil)

// NewMailer wires a Mailer.
func NewMailer(directory Directory, transport Transport, logger *zap.Logger) (*Mailer, error) {
	if directory == nil {
		return nil, fmt.Errorf("%w: directory is nil", ErrInvalidTransport)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidTransport)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{directory: directory, transport: transport, logger: logger}, nil
}

// SendPurchaseConfirmation emails the purchase summary.
func (mailer *Mailer) SendPurchaseConfirmation(ctx context.Context, touristID string, data notification.PurchaseConfirmation) error {
	body, err := render(purchaseConfirmationTemplate, data)
	if err != nil {
		return err
	}
	return mailer.deliver(ctx, touristID, subjectPurchaseConfirmation, body)
}

// SendTourReminder emails the tour details two days ahead.
func (mailer *Mailer) SendTourReminder(ctx context.Context, touristID string, data notification.TourReminder) error {
	body, err := render(tourReminderTemplate, data)
	if err != nil {
		return err
	}
	return mailer.deliver(ctx, touristID, fmt.Sprintf(subjectTourReminder, data.TourName), body)
}

// SendTourCancellation emails every affected tourist. Each recipient is
// attempted; the joined failures are returned.
func (mailer *Mailer) SendTourCancellation(ctx context.Context, touristIDs []string, data notification.TourCancellation) error {
	body, err := render(tourCancellationTemplate, data)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf(subjectTourCancellation, data.TourName)
	var failures []error
	for _, touristID := range touristIDs {
		if err := mailer.deliver(ctx, touristID, subject, body); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", touristID, err))
		}
	}
	return errors.Join(failures...)
}

func (mailer *Mailer) deliver(ctx context.Context, touristID string, subject string, body string) error {
	address, err := mailer.directory.Email(ctx, touristID)
	if err != nil {
		mailer.logger.Warn("email recipient lookup failed", zap.String("tourist_id", touristID), zap.Error(err))
		return err
	}
	if err := mailer.transport.Deliver(ctx, Message{To: address, Subject: subject, Body: body}); err != nil {
		mailer.logger.Warn("email delivery failed", zap.String("tourist_id", touristID), zap.String("subject", subject), zap.Error(err))
		return err
	}
	return nil
}
