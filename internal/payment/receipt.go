package payment

import (
	"bytes"
	"fmt"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/pricing"
)

const qrSize = 256

// Receipt renders a one page PDF for a booking. The QR code encodes the booking id so
// the front desk can look it up at check-in.
//
//nolint:gomnd // page layout
func Receipt(b *booking.Booking, room *booking.Room, currency string) ([]byte, error) {
	qrPNG, err := qrcode.Encode("bnb:booking:"+b.ID, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Booking "+b.ID, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 12, "Booking receipt")
	pdf.Ln(16)

	pdf.SetFont("Arial", "", 12)

	lines := []string{
		"Booking: " + b.ID,
		"Room: " + room.Name,
		"Guest: " + b.Guest.Name + " <" + b.Guest.Email + ">",
		fmt.Sprintf("Stay: %s to %s (%d nights)", b.CheckIn.Format("Jan 2, 2006"), b.CheckOut.Format("Jan 2, 2006"), b.Nights()),
		fmt.Sprintf("Guests: %d", b.Guests),
		"Status: " + string(b.Status),
	}

	for _, line := range lines {
		pdf.Cell(0, 8, line)
		pdf.Ln(8)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, "Nights")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 11)

	for _, night := range pricing.Quote(room.Pricing, b.CheckIn, b.CheckOut).Lines {
		label := string(night.Tier)
		if night.Label != "" {
			label += " (" + night.Label + ")"
		}

		pdf.CellFormat(60, 7, night.Date.Format("Mon Jan 2"), "", 0, "L", false, 0, "")
		pdf.CellFormat(60, 7, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(40, 7, night.Price.String()+" "+currency, "", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(120, 8, "Total", "T", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, b.TotalPrice.String()+" "+currency, "T", 1, "R", false, 0, "")

	if b.Payment.Status != booking.PaymentPending {
		pdf.SetFont("Arial", "", 11)
		pdf.Cell(0, 8, fmt.Sprintf("Payment: %s via %s, transaction %s", b.Payment.Status, b.Payment.Method, b.Payment.TransactionID))
		pdf.Ln(8)
	}

	imageOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imageOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 20, 40, 40, false, imageOpts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}

	return buf.Bytes(), nil
}
