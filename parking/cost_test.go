package parking_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/parking-engine/parking"
)

var start = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func openReservation(rate string) parking.Reservation {
	return parking.Reservation{
		ID:         "r-1",
		StartTime:  start,
		HourlyRate: decimal.RequireFromString(rate),
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name    string
		rate    string
		elapsed time.Duration
		want    string
	}{
		{"two hours", "10.0", 2 * time.Hour, "20.00"},
		{"hour and a half", "10.0", 90 * time.Minute, "15.00"},
		{"zero elapsed", "10.0", 0, "0.00"},
		{"clock before start", "10.0", -time.Minute, "0.00"},
		{"free lot", "0", 3 * time.Hour, "0.00"},
		{"one minute", "6", time.Minute, "0.10"},
		{"fractional rate", "2.75", 20 * time.Minute, "0.92"},
		// 0.005 exactly: half rounds away from zero
		{"half cent rounds up", "0.01", 30 * time.Minute, "0.01"},
		{"just under half cent", "0.01", 29 * time.Minute, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parking.Estimate(openReservation(tt.rate), start.Add(tt.elapsed))
			assert.Equal(t, tt.want, got.StringFixed(parking.CostPlaces))
		})
	}
}

func TestEstimate_ClosedReservationIgnoresAsOf(t *testing.T) {
	// GIVEN: A reservation closed after 1 hour at 10/hr
	// WHEN: Estimating at a much later time
	// THEN: The charge is still 10.00

	r := openReservation("10")
	end := start.Add(time.Hour)
	r.EndTime = &end

	got := parking.Estimate(r, start.Add(48*time.Hour))

	assert.Equal(t, "10.00", got.StringFixed(2))
}

func TestEstimate_Monotonic(t *testing.T) {
	r := openReservation("3.33")
	prev := decimal.Zero
	for m := 0; m <= 240; m += 7 {
		got := parking.Estimate(r, start.Add(time.Duration(m)*time.Minute))
		assert.True(t, got.GreaterThanOrEqual(prev), "estimate decreased at %d minutes", m)
		prev = got
	}
}
