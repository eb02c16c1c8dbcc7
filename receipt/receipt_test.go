package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/parking"
)

func testView(final bool) parking.ReservationView {
	start := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	v := parking.ReservationView{
		Reservation: parking.Reservation{
			ID:         "r-1",
			SpotID:     "s-1",
			UserID:     "u-1",
			VehicleID:  "AB-123",
			StartTime:  start,
			HourlyRate: decimal.NewFromInt(10),
		},
		LotName:   "Central",
		SpotLabel: "S-001",
		Cost:      decimal.RequireFromString("15"),
		Final:     final,
	}
	if final {
		end := start.Add(90 * time.Minute)
		v.EndTime = &end
	}
	return v
}

func TestPayload(t *testing.T) {
	assert.Equal(t, "parking|r-1|S-001|AB-123|15.00", Payload(testView(true)))
}

func TestRender_ProducesPDF(t *testing.T) {
	for _, final := range []bool{true, false} {
		var buf bytes.Buffer

		err := Render(&buf, testView(final), time.Date(2025, time.March, 10, 10, 30, 0, 0, time.UTC))

		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")), "output should be a PDF")
		assert.Greater(t, buf.Len(), 1000)
	}
}
