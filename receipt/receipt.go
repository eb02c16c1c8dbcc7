// Package receipt renders reservation receipts as PDF with a QR code.
package receipt

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
	"github.com/warp/parking-engine/parking"
)

const timeLayout = "2006-01-02 15:04 MST"

// Payload is the text encoded in the receipt QR code.
func Payload(v parking.ReservationView) string {
	return fmt.Sprintf("parking|%s|%s|%s|%s",
		v.ID, v.SpotLabel, v.VehicleID, v.Cost.StringFixed(parking.CostPlaces))
}

// Render writes a one-page PDF for the reservation. An open reservation is
// rendered as an estimate as of asOf.
func Render(w io.Writer, v parking.ReservationView, asOf time.Time) error {
	qrPNG, err := qrcode.Encode(Payload(v), qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("failed to generate QR code: %w", err)
	}

	title := "Parking Receipt"
	if !v.Final {
		title = "Parking Estimate"
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetCreationDate(asOf)
	pdf.SetTitle(title, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, title)
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 11)
	line := func(label, value string) {
		pdf.CellFormat(35, 8, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
	}
	line("Reservation", string(v.ID))
	line("Lot", v.LotName)
	line("Spot", v.SpotLabel)
	line("Vehicle", v.VehicleID)
	line("Rate", v.HourlyRate.StringFixed(parking.CostPlaces)+" / hour")
	line("Start", v.StartTime.Format(timeLayout))
	if v.EndTime != nil {
		line("End", v.EndTime.Format(timeLayout))
	} else {
		line("As of", asOf.Format(timeLayout))
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 13)
	line("Total", v.Cost.StringFixed(parking.CostPlaces))

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 95, 20, 40, 40, false, opts, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to generate PDF: %w", err)
	}
	return nil
}
