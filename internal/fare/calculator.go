// Package fare prices journeys. The calculator is pure: the same route and
// request always produce the same itemised breakdown.
package fare

import (
	"strings"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
)

var passengerRates = map[models.PassengerType]float64{
	models.PassengerAdult:    0,
	models.PassengerChild:    0.50,
	models.PassengerDisabled: 0.50,
	models.PassengerSenior:   0.30,
	models.PassengerStudent:  0.20,
}

// PassengerRate returns the discount rate for a passenger type
func PassengerRate(t models.PassengerType) float64 {
	return passengerRates[t]
}

// Calculator applies passenger discounts, discount codes and tax
type Calculator struct {
	taxRate  float64
	currency string
	strict   bool
	codes    map[string]float64
}

// NewCalculator creates a calculator from fare configuration
func NewCalculator(cfg config.FareConfig) *Calculator {
	codes := make(map[string]float64, len(cfg.DiscountCodes))
	for code, rate := range cfg.DiscountCodes {
		codes[strings.ToUpper(code)] = rate
	}
	return &Calculator{
		taxRate:  cfg.TaxRate,
		currency: cfg.Currency,
		strict:   cfg.DiscountCodePolicy == config.DiscountPolicyStrict,
		codes:    codes,
	}
}

// LookupCode returns the rate for a discount code, case-insensitively
func (c *Calculator) LookupCode(code string) (float64, bool) {
	rate, ok := c.codes[strings.ToUpper(strings.TrimSpace(code))]
	return rate, ok
}

// Calculate prices one journey for the given passengers.
//
// Each passenger pays the route base fare less their type discount. A
// discount code then applies once to the sum of passenger fares, and tax is
// charged on what remains.
func (c *Calculator) Calculate(route *models.RouteFare, req models.FareRequest) (*models.FareBreakdown, error) {
	if route == nil {
		return nil, errs.Validation("route_required", "route is required")
	}
	if route.BaseFare < 0 {
		return nil, errs.Validation("invalid_fare", "route %s has a negative base fare", route.RouteID)
	}
	if len(req.PassengerTypes) == 0 {
		return nil, errs.Validation("passengers_required", "at least one passenger is required")
	}

	currency := route.Currency
	if currency == "" {
		currency = c.currency
	}

	breakdown := &models.FareBreakdown{
		RouteID:    route.RouteID,
		BaseFare:   models.RoundMoney(route.BaseFare),
		DistanceKM: route.DistanceKM,
		TravelDate: req.TravelDate,
		Currency:   currency,
		Passengers: make([]models.PassengerFare, 0, len(req.PassengerTypes)),
		TaxRate:    c.taxRate,
	}

	var total, passengerDiscount float64
	for _, pt := range req.PassengerTypes {
		if !pt.IsValid() {
			return nil, errs.Validation("invalid_passenger_type", "unknown passenger type: %s", pt)
		}
		rate := PassengerRate(pt)
		discount := models.RoundMoney(breakdown.BaseFare * rate)
		breakdown.Passengers = append(breakdown.Passengers, models.PassengerFare{
			Type:           pt,
			BaseFare:       breakdown.BaseFare,
			DiscountRate:   rate,
			DiscountAmount: discount,
			Fare:           models.RoundMoney(breakdown.BaseFare - discount),
		})
		total += breakdown.BaseFare
		passengerDiscount += discount
	}

	breakdown.TotalFare = models.RoundMoney(total)
	breakdown.PassengerDiscount = models.RoundMoney(passengerDiscount)
	breakdown.Subtotal = models.RoundMoney(breakdown.TotalFare - breakdown.PassengerDiscount)

	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		breakdown.DiscountCode = strings.ToUpper(code)
		rate, ok := c.LookupCode(code)
		if !ok && c.strict {
			return nil, errs.Validation("invalid_discount_code", "discount code %s is not valid", breakdown.DiscountCode)
		}
		breakdown.DiscountCodeValid = ok
		breakdown.DiscountCodeRate = rate
		breakdown.DiscountCodeAmount = models.RoundMoney(breakdown.Subtotal * rate)
	}

	taxable := models.RoundMoney(breakdown.Subtotal - breakdown.DiscountCodeAmount)
	breakdown.DiscountAmount = models.RoundMoney(breakdown.PassengerDiscount + breakdown.DiscountCodeAmount)
	breakdown.TaxAmount = models.RoundMoney(taxable * c.taxRate)
	breakdown.FinalAmount = models.RoundMoney(taxable + breakdown.TaxAmount)

	return breakdown, nil
}
