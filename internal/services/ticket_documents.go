package services

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
)

const qrImageSize = 320

// QRImage renders the ticket's active QR payload as a PNG
func (s *TicketService) QRImage(ctx context.Context, id uuid.UUID, caller Caller) ([]byte, error) {
	ticket, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if !ticket.IsPreUse() {
		return nil, errs.Conflict("invalid_state", "ticket %s is %s", ticket.TicketNumber, ticket.Status)
	}
	return renderQR(ticket.QRPayload)
}

func renderQR(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, errs.Internal("failed to render qr code", err)
	}
	return png, nil
}

// TicketPDF renders the e-ticket document and its file name
func (s *TicketService) TicketPDF(ctx context.Context, id uuid.UUID, caller Caller) ([]byte, string, error) {
	ticket, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, "", err
	}
	if !ticket.IsPreUse() {
		return nil, "", errs.Conflict("invalid_state", "ticket %s is %s", ticket.TicketNumber, ticket.Status)
	}

	png, err := renderQR(ticket.QRPayload)
	if err != nil {
		return nil, "", err
	}

	doc, err := buildTicketPDF(ticket, s.stationName(ctx, ticket.SourceStationID), s.stationName(ctx, ticket.DestinationStationID), png)
	if err != nil {
		return nil, "", errs.Internal("failed to render ticket pdf", err)
	}
	return doc, fmt.Sprintf("ETICKET_%s.pdf", ticket.TicketNumber), nil
}

func buildTicketPDF(t *models.Ticket, from, to string, qrPNG []byte) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+t.TicketNumber, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Ticket No      : %s", t.TicketNumber),
		fmt.Sprintf("Booking No     : %s", t.BookingNumber),
		fmt.Sprintf("Passenger      : %s", t.PassengerName),
		fmt.Sprintf("Passengers     : %d", t.PassengerCount),
		fmt.Sprintf("Journey        : %s -> %s", from, to),
		fmt.Sprintf("Travel Date    : %s", t.TravelDate.Format("2006-01-02")),
		fmt.Sprintf("Valid          : %s to %s", t.ValidFrom.Format("2006-01-02 15:04"), t.ValidUntil.Format("2006-01-02 15:04")),
		fmt.Sprintf("Ticket Type    : %s (%d journeys)", t.TicketType, t.MaxUsageCount),
		fmt.Sprintf("Fare           : %s %.2f", t.Currency, t.FareAmount),
	}
	for _, line := range lines {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	name := fmt.Sprintf("qr-%s-v%d", t.ID, t.QRVersion)
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions(name, 65, pdf.GetY()+6, 80, 80, false, opts, 0, "")
	pdf.SetY(pdf.GetY() + 92)

	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Present this QR code at the gate. A regenerated QR code replaces this document.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
