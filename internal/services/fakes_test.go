package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
)

// In-memory stores used by the service tests. Updates enforce the same
// version check as the SQL repositories.

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fixedClock(t time.Time) clock {
	return func() time.Time { return t }
}

type fakeTx struct{}

func (fakeTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ============================================================================
// SHARED
// ============================================================================

type fakeSequences struct {
	mu sync.Mutex
	n  map[string]int
}

func (f *fakeSequences) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == nil {
		f.n = map[string]int{}
	}
	key := prefix + at.Format("20060102")
	f.n[key]++
	return fmt.Sprintf("%s-%s-%06d", prefix, at.Format("20060102"), f.n[key]), nil
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []*models.HistoryEntry
}

func (f *fakeHistory) Append(ctx context.Context, e *models.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) ListByEntity(ctx context.Context, id uuid.UUID) ([]*models.HistoryEntry, error) {
	return f.forEntity(id), nil
}

func (f *fakeHistory) forEntity(id uuid.UUID) []*models.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.HistoryEntry
	for _, e := range f.entries {
		if e.EntityID == id {
			out = append(out, e)
		}
	}
	return out
}

type fakeOutbox struct {
	mu       sync.Mutex
	messages []*models.OutboxMessage
}

func (f *fakeOutbox) Create(ctx context.Context, m *models.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeOutbox) ofType(t string) []*models.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.OutboxMessage
	for _, m := range f.messages {
		if m.MessageType == t {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeOutbox) ClaimBatch(ctx context.Context, now time.Time, limit int) ([]*models.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.OutboxMessage
	for _, m := range f.messages {
		if len(out) == limit {
			break
		}
		if m.Status == models.OutboxStatusPending && !m.NextAttemptAt.After(now) {
			m.Status = models.OutboxStatusProcessing
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeOutbox) find(id uuid.UUID) *models.OutboxMessage {
	for _, m := range f.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (f *fakeOutbox) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(id)
	m.Status = models.OutboxStatusProcessed
	m.ProcessedAt = &at
	return nil
}

func (f *fakeOutbox) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(id)
	m.Status = models.OutboxStatusPending
	m.Attempts = attempts
	m.NextAttemptAt = next
	m.LastError = &lastErr
	return nil
}

func (f *fakeOutbox) Close(ctx context.Context, id uuid.UUID, status models.OutboxStatus, attempts int, lastErr string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.find(id)
	m.Status = status
	m.Attempts = attempts
	m.LastError = &lastErr
	m.ProcessedAt = &at
	return nil
}

func (f *fakeOutbox) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

// ============================================================================
// BOOKINGS
// ============================================================================

type fakeBookings struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*models.Booking
	passengers map[uuid.UUID][]*models.BookingPassenger
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{
		rows:       map[uuid.UUID]*models.Booking{},
		passengers: map[uuid.UUID][]*models.BookingPassenger{},
	}
}

func (f *fakeBookings) Create(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *b
	f.rows[b.ID] = &c
	f.passengers[b.ID] = b.Passengers
	return nil
}

func (f *fakeBookings) Update(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[b.ID]
	if !ok || cur.Version != b.Version {
		return errs.StaleVersion("booking")
	}
	b.Version++
	c := *b
	f.rows[b.ID] = &c
	return nil
}

func (f *fakeBookings) UpdatePassenger(ctx context.Context, p *models.BookingPassenger) error {
	return nil
}

func (f *fakeBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (f *fakeBookings) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeBookings) GetByNumber(ctx context.Context, number string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.rows {
		if b.BookingNumber == number {
			c := *b
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeBookings) ListPassengers(ctx context.Context, id uuid.UUID) ([]*models.BookingPassenger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passengers[id], nil
}

func (f *fakeBookings) ListByUser(ctx context.Context, userID uuid.UUID, params models.ListParams) ([]*models.Booking, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Booking
	for _, b := range f.rows {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, len(out), nil
}

func (f *fakeBookings) Search(ctx context.Context, params models.BookingSearchParams) ([]*models.Booking, int, error) {
	return nil, 0, nil
}

func (f *fakeBookings) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, b := range f.rows {
		if b.IsExpired(now) {
			out = append(out, b.ID)
		}
	}
	return out, nil
}

func (f *fakeBookings) Stats(ctx context.Context) ([]models.StatusCount, error) {
	return nil, nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

type fakePayments struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*models.Payment
	refunds []*models.PaymentRefund
}

func newFakePayments() *fakePayments {
	return &fakePayments{rows: map[uuid.UUID]*models.Payment{}}
}

func (f *fakePayments) Create(ctx context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *p
	f.rows[p.ID] = &c
	return nil
}

func (f *fakePayments) Update(ctx context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[p.ID]
	if !ok || cur.Version != p.Version {
		return errs.StaleVersion("payment")
	}
	p.Version++
	c := *p
	f.rows[p.ID] = &c
	return nil
}

func (f *fakePayments) CreateRefund(ctx context.Context, r *models.PaymentRefund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *r
	f.refunds = append(f.refunds, &c)
	return nil
}

func (f *fakePayments) UpdateRefund(ctx context.Context, r *models.PaymentRefund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.refunds {
		if cur.ID == r.ID {
			c := *r
			f.refunds[i] = &c
			return nil
		}
	}
	return errs.NotFound("payment refund")
}

func (f *fakePayments) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (f *fakePayments) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return f.GetByID(ctx, id)
}

func (f *fakePayments) GetByNumber(ctx context.Context, number string) (*models.Payment, error) {
	return f.first(func(p *models.Payment) bool { return p.PaymentNumber == number }), nil
}

func (f *fakePayments) GetByGatewayPaymentID(ctx context.Context, gateway, id string) (*models.Payment, error) {
	return f.first(func(p *models.Payment) bool {
		return p.Gateway == gateway && p.GatewayPaymentID != nil && *p.GatewayPaymentID == id
	}), nil
}

func (f *fakePayments) GetActiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return f.first(func(p *models.Payment) bool { return p.BookingID == bookingID && p.Status.IsActive() }), nil
}

func (f *fakePayments) first(match func(p *models.Payment) bool) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if match(p) {
			c := *p
			return &c
		}
	}
	return nil
}

func (f *fakePayments) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Payment
	for _, p := range f.rows {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePayments) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*models.PaymentRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PaymentRefund
	for _, r := range f.refunds {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakePayments) Search(ctx context.Context, params models.PaymentSearchParams) ([]*models.Payment, int, error) {
	return nil, 0, nil
}

func (f *fakePayments) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, p := range f.rows {
		if (p.Status == models.PaymentStatusPending || p.Status == models.PaymentStatusProcessing) && now.After(p.ExpiresAt) {
			out = append(out, p.ID)
		}
	}
	return out, nil
}

func (f *fakePayments) Stats(ctx context.Context) ([]models.StatusCount, error) {
	return nil, nil
}

type fakeTransactionLog struct {
	mu   sync.Mutex
	logs []*models.PaymentTransaction
}

func (f *fakeTransactionLog) Log(ctx context.Context, t *models.PaymentTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, t)
	return nil
}

func (f *fakeTransactionLog) CheckDuplicate(ctx context.Context, paymentID uuid.UUID, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if l.PaymentID == paymentID && l.IdempotencyKey != nil && *l.IdempotencyKey == key && !l.IsDuplicate {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================================
// TICKETS
// ============================================================================

type fakeTickets struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Ticket
	qrs  []*models.TicketQRCode
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{rows: map[uuid.UUID]*models.Ticket{}}
}

func (f *fakeTickets) Create(ctx context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *t
	f.rows[t.ID] = &c
	return nil
}

func (f *fakeTickets) Update(ctx context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[t.ID]
	if !ok || cur.Version != t.Version {
		return errs.StaleVersion("ticket")
	}
	t.Version++
	c := *t
	f.rows[t.ID] = &c
	return nil
}

func (f *fakeTickets) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (f *fakeTickets) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTickets) first(match func(t *models.Ticket) bool) *models.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		if match(t) {
			c := *t
			return &c
		}
	}
	return nil
}

func (f *fakeTickets) GetByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	return f.first(func(t *models.Ticket) bool { return t.TicketNumber == number }), nil
}

func (f *fakeTickets) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Ticket, error) {
	return f.first(func(t *models.Ticket) bool { return t.BookingID == bookingID }), nil
}

// GetByQRHash matches any QR version, like the joined SQL query
func (f *fakeTickets) GetByQRHash(ctx context.Context, hash string) (*models.Ticket, error) {
	f.mu.Lock()
	var ticketID uuid.UUID
	for _, qr := range f.qrs {
		if qr.Hash == hash {
			ticketID = qr.TicketID
		}
	}
	f.mu.Unlock()
	if ticketID == uuid.Nil {
		return nil, nil
	}
	return f.GetByID(ctx, ticketID)
}

func (f *fakeTickets) Search(ctx context.Context, params models.TicketSearchParams) ([]*models.Ticket, int, error) {
	return nil, 0, nil
}

func (f *fakeTickets) ListExpirable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, t := range f.rows {
		if t.IsPreUse() && now.After(t.ValidUntil) {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (f *fakeTickets) Stats(ctx context.Context) ([]models.StatusCount, error) {
	return nil, nil
}

func (f *fakeTickets) CreateQRCode(ctx context.Context, qr *models.TicketQRCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.qrs {
		if existing.TicketID == qr.TicketID && existing.Status == models.QRStatusActive {
			return fmt.Errorf("ticket %s already has an active qr code", qr.TicketID)
		}
	}
	f.qrs = append(f.qrs, qr)
	return nil
}

func (f *fakeTickets) GetActiveQRCode(ctx context.Context, ticketID uuid.UUID) (*models.TicketQRCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.qrs {
		if qr.TicketID == ticketID && qr.Status == models.QRStatusActive {
			return qr, nil
		}
	}
	return nil, nil
}

func (f *fakeTickets) InvalidateQRCode(ctx context.Context, id, nextID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qr := range f.qrs {
		if qr.ID == id && qr.Status == models.QRStatusActive {
			qr.Status = models.QRStatusInvalidated
			qr.NextQRID = &nextID
			qr.InvalidatedAt = &at
			return nil
		}
	}
	return errs.NotFound("ticket qr code")
}

type fakeValidations struct {
	mu        sync.Mutex
	rows      []*models.TicketValidation
	transfers []*models.TicketTransfer
}

func (f *fakeValidations) Create(ctx context.Context, v *models.TicketValidation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, v)
	return nil
}

func (f *fakeValidations) GetByID(ctx context.Context, id uuid.UUID) (*models.TicketValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.rows {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeValidations) CreateTransfer(ctx context.Context, t *models.TicketTransfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, t)
	return nil
}

// ============================================================================
// PEERS
// ============================================================================

type fakeStations struct {
	routes   map[string]*models.RouteFare
	stations map[string]*models.Station
}

func newFakeStations() *fakeStations {
	return &fakeStations{
		routes: map[string]*models.RouteFare{
			"R1": {RouteID: "R1", Name: "Colombo - Kandy", BaseFare: 100, DistanceKM: 115, Currency: "LKR",
				StationIDs: []string{"CMB", "RGM", "KDY"}},
		},
		stations: map[string]*models.Station{
			"CMB": {ID: "CMB", Code: "CMB", Name: "Colombo Fort"},
			"RGM": {ID: "RGM", Code: "RGM", Name: "Ragama"},
			"KDY": {ID: "KDY", Code: "KDY", Name: "Kandy"},
		},
	}
}

func (f *fakeStations) GetRoute(ctx context.Context, id string) (*models.RouteFare, error) {
	return f.routes[id], nil
}

func (f *fakeStations) GetStation(ctx context.Context, id string) (*models.Station, error) {
	return f.stations[id], nil
}

// stubPeers serves fixed bookings and payments and records refund requests
type stubPeers struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*models.Booking
	payments  map[uuid.UUID]*models.Payment
	refunds   []*models.RefundRequest
	refundErr error
	confirmed []uuid.UUID
	completed chan uuid.UUID
}

func newStubPeers() *stubPeers {
	return &stubPeers{
		bookings:  map[uuid.UUID]*models.Booking{},
		payments:  map[uuid.UUID]*models.Payment{},
		completed: make(chan uuid.UUID, 8),
	}
}

func (s *stubPeers) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id], nil
}

func (s *stubPeers) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id], nil
}

func (s *stubPeers) RefundPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	s.refunds = append(s.refunds, req)
	return s.payments[paymentID], nil
}

func (s *stubPeers) CompleteBooking(ctx context.Context, id uuid.UUID) error {
	s.completed <- id
	return nil
}
