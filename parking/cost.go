package parking

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COST ACCRUAL
// =============================================================================

// CostPlaces is the number of decimal places charges are rounded to.
const CostPlaces = 2

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Estimate returns the charge for a reservation as of asOf. Closed
// reservations use their end time and ignore asOf, so the result is the
// final charge. Open reservations give a live estimate.
//
// cost = round(elapsed hours * hourly rate, 2), rounding half away from
// zero. Zero or negative elapsed time costs nothing.
func Estimate(r Reservation, asOf time.Time) decimal.Decimal {
	end := asOf
	if r.EndTime != nil {
		end = *r.EndTime
	}
	return Charge(r.HourlyRate, end.Sub(r.StartTime))
}

// Charge prices an elapsed duration at an hourly rate.
func Charge(rate decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 || !rate.IsPositive() {
		return decimal.Zero.Round(CostPlaces)
	}
	// Multiply before dividing so whole-hour and half-hour durations stay exact.
	return rate.Mul(decimal.NewFromInt(int64(elapsed))).
		Div(nanosPerHour).
		Round(CostPlaces)
}
