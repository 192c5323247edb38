package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/afc-backend/internal/clients"
	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/pkg/gateway"
)

const directoryYAML = `
stations:
  - {id: S1, code: FOT, name: Fort}
  - {id: S2, code: MRD, name: Maradana}
routes:
  - {id: R1, name: Coastal, base_fare: 120, distance_km: 14.5, currency: LKR, stations: [S1, S2]}
`

func testApp(t *testing.T, cfg *config.Config) *App {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &App{Config: cfg, Logger: logger}
}

func TestStationDirectory_StaticFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryYAML), 0o600))

	a := testApp(t, &config.Config{Stations: config.StationsConfig{StaticFile: path}})

	directory, err := a.stationDirectory()
	require.NoError(t, err)

	route, err := directory.GetRoute(context.Background(), "R1")
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, 120.0, route.BaseFare)
	assert.True(t, route.Serves("S1", "S2"))
}

func TestStationDirectory_RemoteWithoutCache(t *testing.T) {
	a := testApp(t, &config.Config{Stations: config.StationsConfig{DirectoryURL: "http://stations.internal"}})

	directory, err := a.stationDirectory()
	require.NoError(t, err)

	_, ok := directory.(*clients.HTTPDirectory)
	assert.True(t, ok)
}

func TestStationDirectory_Unconfigured(t *testing.T) {
	a := testApp(t, &config.Config{})

	_, err := a.stationDirectory()
	assert.Error(t, err)
}

func TestGateways(t *testing.T) {
	cfg := &config.Config{Payment: config.PaymentConfig{
		Sandbox: config.SandboxConfig{Enabled: true, WebhookSecret: "whsec", FeeRate: 0.015},
		Payable: config.PayableConfig{Environment: "sandbox"},
	}}

	registry := testApp(t, cfg).gateways()

	assert.Equal(t, []string{gateway.SandboxName}, registry.Names())
}

func TestUnavailablePeer(t *testing.T) {
	peer := unavailablePeer{peer: "booking"}

	_, err := peer.ConfirmBooking(context.Background(), uuid.New(), &models.ConfirmBookingRequest{})
	assert.True(t, errs.Is(err, errs.KindDependency))

	_, err = peer.RefundPayment(context.Background(), uuid.New(), models.ActorSystem, &models.RefundRequest{})
	assert.True(t, errs.Is(err, errs.KindDependency))
}
