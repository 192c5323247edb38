package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBookingTransitions(t *testing.T) {
	allowed := map[BookingStatus][]BookingStatus{
		BookingStatusDraft:     {BookingStatusPending, BookingStatusCancelled},
		BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled, BookingStatusFailed},
		BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusCompleted},
	}
	all := []BookingStatus{
		BookingStatusDraft, BookingStatusPending, BookingStatusConfirmed,
		BookingStatusCancelled, BookingStatusCompleted, BookingStatusFailed,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, BookingStatusCancelled.IsTerminal())
	assert.True(t, BookingStatusFailed.IsTerminal())
	assert.True(t, BookingStatusCompleted.IsTerminal())
	assert.False(t, BookingStatusConfirmed.IsTerminal())
	assert.True(t, BookingStatusPending.IsEditable())
	assert.False(t, BookingStatusConfirmed.IsEditable())
}

func TestPaymentTransitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusProcessing))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusExpired))
	assert.True(t, PaymentStatusProcessing.CanTransitionTo(PaymentStatusCompleted))
	assert.True(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusPartiallyRefunded))
	assert.True(t, PaymentStatusPartiallyRefunded.CanTransitionTo(PaymentStatusPartiallyRefunded))
	assert.True(t, PaymentStatusPartiallyRefunded.CanTransitionTo(PaymentStatusRefunded))

	assert.False(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusCompleted))
	assert.False(t, PaymentStatusRefunded.CanTransitionTo(PaymentStatusPartiallyRefunded))
	assert.False(t, PaymentStatusExpired.CanTransitionTo(PaymentStatusPending))
	assert.False(t, PaymentStatusProcessing.CanTransitionTo(PaymentStatusPending))

	assert.True(t, PaymentStatusPending.IsActive())
	assert.True(t, PaymentStatusRefunded.IsActive())
	assert.False(t, PaymentStatusFailed.IsActive())
	assert.False(t, PaymentStatusCancelled.IsActive())
	assert.False(t, PaymentStatusExpired.IsActive())
}

func TestTicketTransitions(t *testing.T) {
	assert.True(t, TicketStatusDraft.CanTransitionTo(TicketStatusGenerated))
	assert.True(t, TicketStatusGenerated.CanTransitionTo(TicketStatusActive))
	assert.True(t, TicketStatusActive.CanTransitionTo(TicketStatusUsed))
	assert.True(t, TicketStatusSuspended.CanTransitionTo(TicketStatusActive))
	assert.True(t, TicketStatusCancelled.CanTransitionTo(TicketStatusRefunded))

	assert.False(t, TicketStatusDraft.CanTransitionTo(TicketStatusActive))
	assert.False(t, TicketStatusGenerated.CanTransitionTo(TicketStatusUsed))
	assert.False(t, TicketStatusUsed.CanTransitionTo(TicketStatusCancelled))
	assert.False(t, TicketStatusExpired.CanTransitionTo(TicketStatusActive))
	assert.False(t, TicketStatusRefunded.CanTransitionTo(TicketStatusCancelled))
}

func TestTicketWindow(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ticket := &Ticket{ValidFrom: from, ValidUntil: from.Add(24 * time.Hour), MaxUsageCount: 2, UsageCount: 1}

	assert.False(t, ticket.WithinValidity(from.Add(-time.Second)))
	assert.True(t, ticket.WithinValidity(from))
	assert.True(t, ticket.WithinValidity(from.Add(24*time.Hour)))
	assert.False(t, ticket.WithinValidity(from.Add(24*time.Hour+time.Second)))

	assert.False(t, ticket.IsExhausted())
	ticket.UsageCount = 2
	assert.True(t, ticket.IsExhausted())
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, 0.13, RoundMoney(0.125))
	assert.Equal(t, -0.13, RoundMoney(-0.125))
	assert.Equal(t, 10.0, RoundMoney(10.004))
	assert.Equal(t, 210.0, RoundMoney(210))
}

func TestNewLifecycleStats(t *testing.T) {
	stats := NewLifecycleStats([]StatusCount{
		{Status: "pending", Count: 3, Amount: 30.10},
		{Status: "confirmed", Count: 2, Amount: 20.20},
	})
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, 50.3, stats.Amount)
}

func TestCreateBookingRequestValidate(t *testing.T) {
	age := 200
	req := &CreateBookingRequest{
		SourceStationID:      "A",
		DestinationStationID: "B",
		Passengers:           []PassengerRequest{{Type: PassengerAdult, Name: "Kamal"}},
	}
	assert.NoError(t, req.Validate(10))

	req.Passengers = append(req.Passengers, PassengerRequest{Type: "infant", Name: "X"})
	assert.Error(t, req.Validate(10))

	req.Passengers = []PassengerRequest{{Type: PassengerChild, Name: "Nimal", Age: &age}}
	assert.Error(t, req.Validate(10))

	req.Passengers = []PassengerRequest{{Type: PassengerChild, Name: "Nimal"}, {Type: PassengerAdult, Name: "Kamal"}}
	assert.Error(t, req.Validate(1))

	req.DestinationStationID = "A"
	assert.Error(t, req.Validate(10))
}

func TestHistoryEntry(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	h := NewHistoryEntry(id, "", string(BookingStatusDraft), BookingActionCreated, UserActor(id), "", now)
	assert.Nil(t, h.Reason)
	assert.Equal(t, Actor("user:"+id.String()), h.Actor)

	h = NewHistoryEntry(id, "pending", "failed", BookingActionExpired, ActorSweeper, "Expired", now)
	if assert.NotNil(t, h.Reason) {
		assert.Equal(t, "Expired", *h.Reason)
	}
}
