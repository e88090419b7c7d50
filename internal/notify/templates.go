package notify

import (
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

const (
	subjectPurchaseConfirmation = "Purchase Confirmation - Your Tour Booking"
	subjectTourCancellation     = "Tour Cancellation - %s"
	subjectTourReminder         = "Tour Reminder - %s in 48 Hours!"
	dateLayout                  = "January 02, 2006 at 15:04"
)

var templateFuncs = template.FuncMap{
	"money": func(amount decimal.Decimal) string { return amount.StringFixed(2) },
	"date":  func(at time.Time) string { return at.UTC().Format(dateLayout) },
	"join":  strings.Join,
}

var purchaseConfirmationTemplate = template.Must(template.New("purchase_confirmation").Funcs(templateFuncs).Parse(`Dear traveler,

Thank you for your purchase! Your tour booking has been confirmed.

Purchase Details:
- Purchase ID: #{{.PurchaseID}}
- Purchase Date: {{date .PurchasedAt}}
- Tours Booked: {{join .TourNames ", "}}

Payment Summary:
- Subtotal: €{{money .TotalAmount}}
{{- if .BonusPointsUsed.IsPositive}}
- Bonus Points Used: -€{{money .BonusPointsUsed}}
{{- end}}
- Final Amount: €{{money .FinalAmount}}

You will receive a reminder 48 hours before each tour date.

Best regards,
The Tours Team
`))

var tourCancellationTemplate = template.Must(template.New("tour_cancellation").Funcs(templateFuncs).Parse(`Dear traveler,

We regret to inform you that the following tour has been cancelled:

Tour: {{.TourName}}
Original Date: {{date .OriginalDate}}
Reason: {{.Reason}}

We have added €{{money .RefundAmount}} in bonus points to your account. You can use them for any future tour purchase.

We sincerely apologize for the inconvenience.

Best regards,
The Tours Team
`))

var tourReminderTemplate = template.Must(template.New("tour_reminder").Funcs(templateFuncs).Parse(`Dear traveler,

This is a friendly reminder that your tour is scheduled in 48 hours!

Tour Details:
- Tour: {{.TourName}}
- Date: {{date .TourDate}}
- Description: {{.TourDescription}}
{{- if .KeyPoints}}

Tour Highlights:
{{- range .KeyPoints}}
• {{.}}
{{- end}}
{{- end}}

Please be ready and on time for departure.

Best regards,
The Tours Team
`))

func render(tmpl *template.Template, data any) (string, error) {
	var builder strings.Builder
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}
