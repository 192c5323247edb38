package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
// Returns JSON as string for compatibility with pgx simple protocol mode
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Actor identifies who drove a status transition
type Actor string

const (
	ActorSystem  Actor = "system"
	ActorSweeper Actor = "sweeper"
	ActorGateway Actor = "gateway"
)

// UserActor builds an actor string for an authenticated user
func UserActor(userID uuid.UUID) Actor {
	return Actor("user:" + userID.String())
}

// ServiceActor builds an actor string for a peer service
func ServiceActor(name string) Actor {
	return Actor("service:" + name)
}

// HistoryEntry is one append-only row of a lifecycle's audit trail.
// FromStatus is empty for the creation row.
type HistoryEntry struct {
	ID         uuid.UUID `json:"id" db:"id"`
	EntityID   uuid.UUID `json:"entity_id" db:"entity_id"`
	FromStatus string    `json:"from_status" db:"from_status"`
	ToStatus   string    `json:"to_status" db:"to_status"`
	Action     string    `json:"action" db:"action"`
	Actor      Actor     `json:"actor" db:"actor"`
	Reason     *string   `json:"reason,omitempty" db:"reason"`
	Metadata   JSONB     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// NewHistoryEntry creates a history row stamped with the given time
func NewHistoryEntry(entityID uuid.UUID, from, to, action string, actor Actor, reason string, at time.Time) *HistoryEntry {
	h := &HistoryEntry{
		ID:         uuid.New(),
		EntityID:   entityID,
		FromStatus: from,
		ToStatus:   to,
		Action:     action,
		Actor:      actor,
		CreatedAt:  at,
	}
	if reason != "" {
		h.Reason = &reason
	}
	return h
}

// RoundMoney rounds half away from zero to two decimal places
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// ListParams is the paging window shared by list and search endpoints
type ListParams struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

// Normalize clamps the window to sane bounds
func (p *ListParams) Normalize() {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// StatusCount is one row of a per-status aggregate
type StatusCount struct {
	Status string  `json:"status" db:"status"`
	Count  int64   `json:"count" db:"count"`
	Amount float64 `json:"amount" db:"amount"`
}

// LifecycleStats summarises one lifecycle for the admin dashboards
type LifecycleStats struct {
	Total    int64         `json:"total"`
	Amount   float64       `json:"amount"`
	ByStatus []StatusCount `json:"by_status"`
}

// NewLifecycleStats folds per-status rows into a summary
func NewLifecycleStats(rows []StatusCount) *LifecycleStats {
	stats := &LifecycleStats{ByStatus: rows}
	for _, r := range rows {
		stats.Total += r.Count
		stats.Amount += r.Amount
	}
	stats.Amount = RoundMoney(stats.Amount)
	return stats
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
