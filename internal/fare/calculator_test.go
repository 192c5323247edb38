package fare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
)

func newTestCalculator(policy string) *Calculator {
	return NewCalculator(config.FareConfig{
		TaxRate:            0.05,
		Currency:           "LKR",
		DiscountCodePolicy: policy,
		DiscountCodes:      map[string]float64{"SAVE10": 0.10, "festive25": 0.25},
	})
}

func route(base float64) *models.RouteFare {
	return &models.RouteFare{RouteID: "R1", BaseFare: base, DistanceKM: 12.5, StationIDs: []string{"A", "B"}}
}

func fareRequest(code string, types ...models.PassengerType) models.FareRequest {
	return models.FareRequest{
		RouteID:              "R1",
		SourceStationID:      "A",
		DestinationStationID: "B",
		PassengerTypes:       types,
		DiscountCode:         code,
		TravelDate:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCalculate_TwoAdultsNoCode(t *testing.T) {
	calc := newTestCalculator(config.DiscountPolicyLenient)

	got, err := calc.Calculate(route(100), fareRequest("", models.PassengerAdult, models.PassengerAdult))
	require.NoError(t, err)

	assert.Equal(t, 200.0, got.TotalFare)
	assert.Equal(t, 0.0, got.DiscountAmount)
	assert.Equal(t, 10.0, got.TaxAmount)
	assert.Equal(t, 210.0, got.FinalAmount)
	assert.Equal(t, "LKR", got.Currency)
	require.Len(t, got.Passengers, 2)
	assert.Equal(t, 100.0, got.Passengers[0].Fare)
}

func TestCalculate_PassengerRates(t *testing.T) {
	calc := newTestCalculator(config.DiscountPolicyLenient)

	got, err := calc.Calculate(route(100), fareRequest("",
		models.PassengerAdult, models.PassengerChild, models.PassengerSenior,
		models.PassengerStudent, models.PassengerDisabled,
	))
	require.NoError(t, err)

	fares := make([]float64, len(got.Passengers))
	for i, p := range got.Passengers {
		fares[i] = p.Fare
	}
	assert.Equal(t, []float64{100, 50, 70, 80, 50}, fares)
	assert.Equal(t, 500.0, got.TotalFare)
	assert.Equal(t, 150.0, got.PassengerDiscount)
	assert.Equal(t, 350.0, got.Subtotal)
	assert.Equal(t, 17.5, got.TaxAmount)
	assert.Equal(t, 367.5, got.FinalAmount)
}

func TestCalculate_CodeAppliesOnceToSubtotal(t *testing.T) {
	calc := newTestCalculator(config.DiscountPolicyLenient)

	// adult 100 + child 50 = 150 subtotal; 10% code = 15, not 10 + 5 compounded per head
	got, err := calc.Calculate(route(100), fareRequest("save10", models.PassengerAdult, models.PassengerChild))
	require.NoError(t, err)

	assert.True(t, got.DiscountCodeValid)
	assert.Equal(t, "SAVE10", got.DiscountCode)
	assert.Equal(t, 15.0, got.DiscountCodeAmount)
	assert.Equal(t, 65.0, got.DiscountAmount)
	assert.Equal(t, 6.75, got.TaxAmount)
	assert.Equal(t, 141.75, got.FinalAmount)
}

func TestCalculate_UnknownCodePolicy(t *testing.T) {
	t.Run("lenient applies zero rate", func(t *testing.T) {
		calc := newTestCalculator(config.DiscountPolicyLenient)
		got, err := calc.Calculate(route(100), fareRequest("NOPE", models.PassengerAdult))
		require.NoError(t, err)
		assert.False(t, got.DiscountCodeValid)
		assert.Equal(t, 0.0, got.DiscountCodeAmount)
		assert.Equal(t, 105.0, got.FinalAmount)
	})

	t.Run("strict rejects", func(t *testing.T) {
		calc := newTestCalculator(config.DiscountPolicyStrict)
		_, err := calc.Calculate(route(100), fareRequest("NOPE", models.PassengerAdult))
		require.Error(t, err)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	})
}

func TestCalculate_Deterministic(t *testing.T) {
	calc := newTestCalculator(config.DiscountPolicyLenient)
	req := fareRequest("FESTIVE25", models.PassengerSenior, models.PassengerStudent, models.PassengerChild)

	first, err := calc.Calculate(route(37.35), req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := calc.Calculate(route(37.35), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCalculate_Rejects(t *testing.T) {
	calc := newTestCalculator(config.DiscountPolicyLenient)

	_, err := calc.Calculate(nil, fareRequest("", models.PassengerAdult))
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = calc.Calculate(route(100), fareRequest(""))
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = calc.Calculate(route(100), fareRequest("", "infant"))
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = calc.Calculate(route(-1), fareRequest("", models.PassengerAdult))
	assert.True(t, errs.Is(err, errs.KindValidation))
}
