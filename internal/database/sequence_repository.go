package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Number prefixes
const (
	PrefixBooking = "BK"
	PrefixPayment = "PAY"
	PrefixTicket  = "TKT"
)

// SequenceRepository allocates human-readable, date-sequenced numbers.
// Allocation is a single upsert on a per-prefix, per-day counter row, so
// concurrent callers never observe the same value.
type SequenceRepository struct {
	db *sqlx.DB
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *sqlx.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Next allocates the next number for prefix on the UTC day of at
func (r *SequenceRepository) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	day := at.UTC().Format("2006-01-02")

	query := `
		INSERT INTO number_sequences (prefix, day, value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, day)
		DO UPDATE SET value = number_sequences.value + 1
		RETURNING value`

	var value int64
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &value, query, prefix, day); err != nil {
		return "", fmt.Errorf("failed to allocate %s number: %w", prefix, err)
	}

	return FormatNumber(prefix, at, value), nil
}

// FormatNumber renders PREFIX-YYYYMMDD-NNNNNN
func FormatNumber(prefix string, at time.Time, value int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, at.UTC().Format("20060102"), value)
}
