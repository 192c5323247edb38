package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PassengerType drives the per-passenger discount rate
type PassengerType string

const (
	PassengerAdult    PassengerType = "adult"
	PassengerChild    PassengerType = "child"
	PassengerSenior   PassengerType = "senior"
	PassengerStudent  PassengerType = "student"
	PassengerDisabled PassengerType = "disabled"
)

// IsValid reports whether t is a known passenger type
func (t PassengerType) IsValid() bool {
	switch t {
	case PassengerAdult, PassengerChild, PassengerSenior, PassengerStudent, PassengerDisabled:
		return true
	}
	return false
}

// FareRequest is the input of a fare calculation
type FareRequest struct {
	RouteID              string          `json:"route_id" binding:"required"`
	SourceStationID      string          `json:"source_station_id" binding:"required"`
	DestinationStationID string          `json:"destination_station_id" binding:"required"`
	PassengerTypes       []PassengerType `json:"passenger_types" binding:"required,min=1"`
	DiscountCode         string          `json:"discount_code,omitempty"`
	TravelDate           time.Time       `json:"travel_date" binding:"required"`
}

// PassengerFare is one itemised line of a fare breakdown
type PassengerFare struct {
	Type           PassengerType `json:"type"`
	BaseFare       float64       `json:"base_fare"`
	DiscountRate   float64       `json:"discount_rate"`
	DiscountAmount float64       `json:"discount_amount"`
	Fare           float64       `json:"fare"`
}

// FareBreakdown is the immutable, itemised output of the fare calculator.
// It is stored verbatim on bookings as the fare snapshot.
type FareBreakdown struct {
	RouteID            string          `json:"route_id"`
	BaseFare           float64         `json:"base_fare"`
	DistanceKM         float64         `json:"distance_km"`
	TravelDate         time.Time       `json:"travel_date"`
	Currency           string          `json:"currency"`
	Passengers         []PassengerFare `json:"passengers"`
	TotalFare          float64         `json:"total_fare"`
	PassengerDiscount  float64         `json:"passenger_discount"`
	Subtotal           float64         `json:"subtotal"`
	DiscountCode       string          `json:"discount_code,omitempty"`
	DiscountCodeValid  bool            `json:"discount_code_valid"`
	DiscountCodeRate   float64         `json:"discount_code_rate"`
	DiscountCodeAmount float64         `json:"discount_code_amount"`
	DiscountAmount     float64         `json:"discount_amount"`
	TaxRate            float64         `json:"tax_rate"`
	TaxAmount          float64         `json:"tax_amount"`
	FinalAmount        float64         `json:"final_amount"`
}

// Value implements the driver.Valuer interface
func (f FareBreakdown) Value() (driver.Value, error) {
	bytes, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (f *FareBreakdown) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("cannot scan %T into FareBreakdown", value)
	}
}

// RouteFare is what the station directory reports about a route
type RouteFare struct {
	RouteID    string   `json:"route_id"`
	Name       string   `json:"name"`
	BaseFare   float64  `json:"base_fare"`
	DistanceKM float64  `json:"distance_km"`
	Currency   string   `json:"currency"`
	StationIDs []string `json:"station_ids"`
}

// Serves reports whether the route calls at both stations in travel order
func (r *RouteFare) Serves(source, destination string) bool {
	src, dst := -1, -1
	for i, id := range r.StationIDs {
		if id == source && src < 0 {
			src = i
		}
		if id == destination {
			dst = i
		}
	}
	return src >= 0 && dst > src
}

// Station is a read-only entry of the station directory
type Station struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}
