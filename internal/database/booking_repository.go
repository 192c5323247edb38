package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smarttransit/afc-backend/internal/models"
)

const bookingColumns = `
	id, booking_number, user_id, route_id, source_station_id, destination_station_id,
	travel_date, contact_name, contact_phone, contact_email,
	base_fare, total_fare, discount_amount, tax_amount, final_amount, discount_code, currency,
	fare_snapshot, status, booking_expires_at, payment_id,
	confirmed_at, cancelled_at, cancellation_reason, completed_at,
	version, is_deleted, created_at, updated_at`

const passengerColumns = `
	id, booking_id, passenger_type, name, age, phone, email, seat_number,
	base_fare, discount_amount, fare, created_at, updated_at`

// BookingRepository handles booking and passenger persistence
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// WRITES
// ============================================================================

// Create inserts a booking and its passengers
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	q := executor(ctx, r.db)

	query := `
		INSERT INTO bookings (` + bookingColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25,
			$26, $27, $28, $29
		)`

	_, err := q.ExecContext(ctx, query,
		b.ID, b.BookingNumber, b.UserID, b.RouteID, b.SourceStationID, b.DestinationStationID,
		b.TravelDate, b.ContactName, b.ContactPhone, b.ContactEmail,
		b.BaseFare, b.TotalFare, b.DiscountAmount, b.TaxAmount, b.FinalAmount, b.DiscountCode, b.Currency,
		b.FareSnapshot, b.Status, b.BookingExpiresAt, b.PaymentID,
		b.ConfirmedAt, b.CancelledAt, b.CancellationReason, b.CompletedAt,
		b.Version, b.IsDeleted, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("create booking", err)
	}

	for _, p := range b.Passengers {
		if err := r.insertPassenger(ctx, q, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *BookingRepository) insertPassenger(ctx context.Context, q sqlx.ExtContext, p *models.BookingPassenger) error {
	query := `
		INSERT INTO booking_passengers (` + passengerColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := q.ExecContext(ctx, query,
		p.ID, p.BookingID, p.PassengerType, p.Name, p.Age, p.Phone, p.Email, p.SeatNumber,
		p.BaseFare, p.DiscountAmount, p.Fare, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("create booking passenger", err)
	}
	return nil
}

// Update writes the mutable booking columns if the stored version still
// matches b.Version, then advances b.Version
func (r *BookingRepository) Update(ctx context.Context, b *models.Booking) error {
	query := `
		UPDATE bookings SET
			status = $1,
			contact_name = $2,
			contact_phone = $3,
			contact_email = $4,
			payment_id = $5,
			confirmed_at = $6,
			cancelled_at = $7,
			cancellation_reason = $8,
			completed_at = $9,
			updated_at = $10,
			version = version + 1
		WHERE id = $11 AND version = $12 AND is_deleted = FALSE`

	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		b.Status, b.ContactName, b.ContactPhone, b.ContactEmail, b.PaymentID,
		b.ConfirmedAt, b.CancelledAt, b.CancellationReason, b.CompletedAt,
		b.UpdatedAt, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if err := expectOneRow(res, "booking"); err != nil {
		return err
	}
	b.Version++
	return nil
}

// UpdatePassenger writes a passenger's seat and contact metadata
func (r *BookingRepository) UpdatePassenger(ctx context.Context, p *models.BookingPassenger) error {
	query := `
		UPDATE booking_passengers
		SET seat_number = $1, phone = $2, email = $3, updated_at = $4
		WHERE id = $5 AND booking_id = $6`

	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		p.SeatNumber, p.Phone, p.Email, p.UpdatedAt, p.ID, p.BookingID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking passenger: %w", err)
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

// GetByID returns a booking without passengers, or nil if it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND is_deleted = FALSE`, id)
}

// GetByIDForUpdate locks the booking row for the current transaction. It
// returns nil when another transaction already holds the lock.
func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE id = $1 AND is_deleted = FALSE
		FOR UPDATE SKIP LOCKED`, id)
}

// GetByNumber returns a booking by its booking number
func (r *BookingRepository) GetByNumber(ctx context.Context, number string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE booking_number = $1 AND is_deleted = FALSE`, number)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var b models.Booking
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &b, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// ListPassengers returns a booking's passengers in creation order
func (r *BookingRepository) ListPassengers(ctx context.Context, bookingID uuid.UUID) ([]*models.BookingPassenger, error) {
	query := `SELECT ` + passengerColumns + ` FROM booking_passengers WHERE booking_id = $1 ORDER BY created_at ASC, id ASC`

	var passengers []*models.BookingPassenger
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &passengers, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list booking passengers: %w", err)
	}
	return passengers, nil
}

// ListByUser returns one page of a user's bookings, newest first, and the total count
func (r *BookingRepository) ListByUser(ctx context.Context, userID uuid.UUID, params models.ListParams) ([]*models.Booking, int, error) {
	return r.Search(ctx, models.BookingSearchParams{ListParams: params, UserID: &userID})
}

// Search filters bookings for the admin views
func (r *BookingRepository) Search(ctx context.Context, params models.BookingSearchParams) ([]*models.Booking, int, error) {
	params.Normalize()

	where := []string{"is_deleted = FALSE"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(params.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(models.StringArray(params.Statuses))+")")
	}
	if params.UserID != nil {
		where = append(where, "user_id = "+arg(*params.UserID))
	}
	if params.RouteID != "" {
		where = append(where, "route_id = "+arg(params.RouteID))
	}
	if params.BookingNumber != "" {
		where = append(where, "booking_number = "+arg(params.BookingNumber))
	}
	if params.From != nil {
		where = append(where, "travel_date >= "+arg(*params.From))
	}
	if params.To != nil {
		where = append(where, "travel_date <= "+arg(*params.To))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &total, `SELECT COUNT(*) FROM bookings WHERE `+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + clause +
		` ORDER BY created_at DESC LIMIT ` + arg(params.Limit) + ` OFFSET ` + arg(params.Offset)

	var bookings []*models.Booking
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to search bookings: %w", err)
	}
	return bookings, total, nil
}

// ListExpiredPending returns ids of pending bookings whose hold ended before now
func (r *BookingRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM bookings
		WHERE status = 'pending' AND booking_expires_at < $1 AND is_deleted = FALSE
		ORDER BY booking_expires_at ASC
		LIMIT $2`

	var ids []uuid.UUID
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired bookings: %w", err)
	}
	return ids, nil
}

// Stats aggregates bookings per status
func (r *BookingRepository) Stats(ctx context.Context) ([]models.StatusCount, error) {
	query := `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(final_amount), 0) AS amount
		FROM bookings
		WHERE is_deleted = FALSE
		GROUP BY status
		ORDER BY status`

	var rows []models.StatusCount
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}
	return rows, nil
}
