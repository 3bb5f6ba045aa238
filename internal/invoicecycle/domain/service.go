package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ResetSummary reports one monthly refill run. Failures holds one error per
// subscription that could not be reset.
type ResetSummary struct {
	Processed int
	Reset     int
	Skipped   int
	Failures  []error
}

type GenerateSummary struct {
	Reference        string
	Clients          int
	PaymentsCreated  int
	PaymentsToppedUp int
	DemandsInvoiced  int
	Total            decimal.Decimal
	Failures         []error
}

type Service interface {
	ResetActiveSubscriptions(ctx context.Context) (ResetSummary, error)
	// GenerateInvoices bills the calendar month containing period.
	GenerateInvoices(ctx context.Context, period time.Time) (GenerateSummary, error)
}

// PeriodBounds returns the UTC month containing t as [start, end).
func PeriodBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// PreviousPeriod is the month before the one containing now.
func PreviousPeriod(now time.Time) time.Time {
	start, _ := PeriodBounds(now)
	return start.AddDate(0, -1, 0)
}

var (
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrInvoiceConflict = errors.New("invoice_conflict")
)
