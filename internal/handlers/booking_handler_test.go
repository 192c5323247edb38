package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/middleware"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/services"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// testRouter simulates AuthMiddleware with a fixed principal
func testRouter(userCtx middleware.UserContext) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.UserContextKey, userCtx)
		c.Next()
	})
	return router
}

func passenger(userID uuid.UUID) middleware.UserContext {
	return middleware.UserContext{UserID: userID, Phone: "+94771234567", Roles: []string{"user"}}
}

func peer(name string) middleware.UserContext {
	return middleware.UserContext{Roles: []string{"service"}, Service: name}
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type stubBookings struct {
	booking      *models.Booking
	err          error
	gotUserID    uuid.UUID
	gotCaller    services.Caller
	gotActor     models.Actor
	gotReason    string
	gotList      models.ListParams
	gotSearch    models.BookingSearchParams
	gotCreateReq *models.CreateBookingRequest
}

func (s *stubBookings) CalculateFare(ctx context.Context, req *models.FareRequest) (*models.FareBreakdown, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.FareBreakdown{Currency: "LKR", FinalAmount: 240}, nil
}

func (s *stubBookings) Create(ctx context.Context, userID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	s.gotUserID = userID
	s.gotCreateReq = req
	return s.booking, s.err
}

func (s *stubBookings) Get(ctx context.Context, id uuid.UUID, caller services.Caller) (*models.Booking, error) {
	s.gotCaller = caller
	return s.booking, s.err
}

func (s *stubBookings) GetByNumber(ctx context.Context, number string, caller services.Caller) (*models.Booking, error) {
	s.gotCaller = caller
	return s.booking, s.err
}

func (s *stubBookings) ListMine(ctx context.Context, userID uuid.UUID, params models.ListParams) ([]*models.Booking, int, error) {
	s.gotUserID = userID
	s.gotList = params
	return []*models.Booking{s.booking}, 1, s.err
}

func (s *stubBookings) Update(ctx context.Context, id uuid.UUID, caller services.Caller, req *models.UpdateBookingRequest) (*models.Booking, error) {
	s.gotCaller = caller
	return s.booking, s.err
}

func (s *stubBookings) Confirm(ctx context.Context, id uuid.UUID, actor models.Actor, req *models.ConfirmBookingRequest) (*models.Booking, error) {
	s.gotActor = actor
	return s.booking, s.err
}

func (s *stubBookings) Cancel(ctx context.Context, id uuid.UUID, caller services.Caller, reason string) (*models.Booking, error) {
	s.gotCaller = caller
	s.gotReason = reason
	return s.booking, s.err
}

func (s *stubBookings) Complete(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.Booking, error) {
	s.gotActor = actor
	return s.booking, s.err
}

func (s *stubBookings) Search(ctx context.Context, params models.BookingSearchParams) ([]*models.Booking, int, error) {
	s.gotSearch = params
	return []*models.Booking{}, 0, s.err
}

func (s *stubBookings) Stats(ctx context.Context) (*models.LifecycleStats, error) {
	return &models.LifecycleStats{}, s.err
}

func bookingRouter(stub *stubBookings, userCtx middleware.UserContext) *gin.Engine {
	h := NewBookingHandler(stub, quietLogger())
	router := testRouter(userCtx)
	router.POST("/fares/calculate", h.CalculateFare)
	router.POST("/bookings", h.CreateBooking)
	router.GET("/bookings/mine", h.ListMyBookings)
	router.GET("/bookings/:id", h.GetBooking)
	router.POST("/bookings/:id/confirm", h.ConfirmBooking)
	router.POST("/bookings/:id/cancel", h.CancelBooking)
	router.POST("/bookings/:id/complete", h.CompleteBooking)
	router.GET("/admin/bookings", h.SearchBookings)
	return router
}

func TestCreateBooking_Success(t *testing.T) {
	userID := uuid.New()
	stub := &stubBookings{booking: &models.Booking{ID: uuid.New(), BookingNumber: "BK-20260301-000001", Status: models.BookingStatusPending}}
	router := bookingRouter(stub, passenger(userID))

	w := doJSON(router, http.MethodPost, "/bookings", map[string]interface{}{
		"route_id":               "R1",
		"source_station_id":      "S1",
		"destination_station_id": "S3",
		"travel_date":            time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"passengers":             []map[string]string{{"type": "adult", "name": "Nimal"}},
		"contact_name":           "Nimal",
		"contact_phone":          "+94771234567",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, userID, stub.gotUserID)
	assert.Equal(t, "S3", stub.gotCreateReq.DestinationStationID)
	assert.Equal(t, "BK-20260301-000001", decode(t, w)["booking_number"])
}

func TestCreateBooking_InvalidBody(t *testing.T) {
	stub := &stubBookings{}
	router := bookingRouter(stub, passenger(uuid.New()))

	w := doJSON(router, http.MethodPost, "/bookings", map[string]interface{}{"route_id": "R1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation", body["error"])
	assert.Equal(t, "invalid_request", body["code"])
	assert.Nil(t, stub.gotCreateReq)
}

func TestBookingHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"validation", errs.Validation("travel_date_in_past", "travel date is in the past"), http.StatusBadRequest, "travel_date_in_past", "travel date is in the past"},
		{"not found", errs.NotFound("booking"), http.StatusNotFound, "booking_not_found", "booking not found"},
		{"conflict", errs.Conflict("invalid_state", "booking is cancelled"), http.StatusConflict, "invalid_state", "booking is cancelled"},
		{"dependency", errs.Dependency("station directory unavailable", errors.New("dial tcp")), http.StatusBadGateway, "dependency_failure", "station directory unavailable"},
		{"internal", errs.Internal("insert booking", errors.New("pq: deadlock")), http.StatusInternalServerError, "internal_error", "An unexpected error occurred"},
		{"untagged", errors.New("boom"), http.StatusInternalServerError, "internal_error", "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := bookingRouter(&stubBookings{err: tt.err}, passenger(uuid.New()))

			w := doJSON(router, http.MethodGet, "/bookings/"+uuid.New().String(), nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, tt.wantMessage, body["message"])
		})
	}
}

func TestGetBooking_InvalidID(t *testing.T) {
	router := bookingRouter(&stubBookings{}, passenger(uuid.New()))

	w := doJSON(router, http.MethodGet, "/bookings/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid id", decode(t, w)["message"])
}

func TestGetBooking_CallerMapping(t *testing.T) {
	userID := uuid.New()

	t.Run("passenger", func(t *testing.T) {
		stub := &stubBookings{booking: &models.Booking{ID: uuid.New()}}
		doJSON(bookingRouter(stub, passenger(userID)), http.MethodGet, "/bookings/"+uuid.New().String(), nil)

		assert.Equal(t, userID, stub.gotCaller.UserID)
		assert.False(t, stub.gotCaller.Privileged)
		assert.Equal(t, models.UserActor(userID), stub.gotCaller.Actor)
	})

	t.Run("admin", func(t *testing.T) {
		stub := &stubBookings{booking: &models.Booking{ID: uuid.New()}}
		admin := middleware.UserContext{UserID: userID, Roles: []string{"admin"}}
		doJSON(bookingRouter(stub, admin), http.MethodGet, "/bookings/"+uuid.New().String(), nil)

		assert.True(t, stub.gotCaller.Privileged)
	})

	t.Run("service token", func(t *testing.T) {
		stub := &stubBookings{booking: &models.Booking{ID: uuid.New()}}
		doJSON(bookingRouter(stub, peer("ticket-service")), http.MethodGet, "/bookings/"+uuid.New().String(), nil)

		assert.True(t, stub.gotCaller.Privileged)
		assert.Equal(t, models.ServiceActor("ticket-service"), stub.gotCaller.Actor)
	})
}

func TestConfirmBooking_UsesPeerActor(t *testing.T) {
	stub := &stubBookings{booking: &models.Booking{ID: uuid.New(), Status: models.BookingStatusConfirmed}}
	router := bookingRouter(stub, peer("payment-service"))

	w := doJSON(router, http.MethodPost, "/bookings/"+uuid.New().String()+"/confirm", map[string]interface{}{
		"payment_id": uuid.New(),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ServiceActor("payment-service"), stub.gotActor)
}

func TestCancelBooking_BodyIsOptional(t *testing.T) {
	stub := &stubBookings{booking: &models.Booking{ID: uuid.New(), Status: models.BookingStatusCancelled}}
	router := bookingRouter(stub, passenger(uuid.New()))

	w := doJSON(router, http.MethodPost, "/bookings/"+uuid.New().String()+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, stub.gotReason)

	w = doJSON(router, http.MethodPost, "/bookings/"+uuid.New().String()+"/cancel", map[string]string{"reason": "plans changed"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "plans changed", stub.gotReason)
}

func TestListMyBookings_Paging(t *testing.T) {
	userID := uuid.New()
	stub := &stubBookings{booking: &models.Booking{ID: uuid.New()}}
	router := bookingRouter(stub, passenger(userID))

	w := doJSON(router, http.MethodGet, "/bookings/mine?limit=500&offset=-3", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, stub.gotUserID)
	assert.Equal(t, 100, stub.gotList.Limit)
	assert.Equal(t, 0, stub.gotList.Offset)

	body := decode(t, w)
	assert.Len(t, body["bookings"], 1)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(100), body["limit"])
}

func TestSearchBookings_Filters(t *testing.T) {
	stub := &stubBookings{}
	router := bookingRouter(stub, middleware.UserContext{UserID: uuid.New(), Roles: []string{"admin"}})
	userID := uuid.New()

	w := doJSON(router, http.MethodGet, "/admin/bookings?status=pending&status=confirmed&user_id="+userID.String()+"&route_id=R1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pending", "confirmed"}, stub.gotSearch.Statuses)
	require.NotNil(t, stub.gotSearch.UserID)
	assert.Equal(t, userID, *stub.gotSearch.UserID)
	assert.Equal(t, "R1", stub.gotSearch.RouteID)
	assert.Equal(t, 20, stub.gotSearch.Limit)

	w = doJSON(router, http.MethodGet, "/admin/bookings?user_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCalculateFare(t *testing.T) {
	router := bookingRouter(&stubBookings{}, passenger(uuid.New()))

	w := doJSON(router, http.MethodPost, "/fares/calculate", map[string]interface{}{
		"route_id":               "R1",
		"source_station_id":      "S1",
		"destination_station_id": "S2",
		"passenger_types":        []string{"adult"},
		"travel_date":            time.Now().Format(time.RFC3339),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "LKR", decode(t, w)["currency"])
}
