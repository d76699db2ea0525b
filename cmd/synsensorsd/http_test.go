package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/collection"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/compile"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/manager"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/registry"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/logging"
)

const serverYAML = `
version: "1.0"
sensors:
  power_doubled:
    name: Power Doubled
    formula: "sensor.power_raw * 2"
`

func newTestServer(t *testing.T) (*server, *signalHub) {
	t.Helper()
	planner := plan.NewService()
	compiler, err := compile.NewCache(planner, 32)
	require.NoError(t, err)
	bus := newEntityBus()
	bus.set("sensor.power_raw", "10", nil)
	reg := registry.New()
	hub := newSignalHub(logging.NewFromEnv("test"))
	collections := collection.New(collection.Deps{States: bus, Areas: bus, Labels: bus})

	mgr := manager.New(manager.Deps{
		Planner: planner, Compiler: compiler, States: bus,
		Collections: collections, Registry: reg, Signals: hub,
	})

	set, err := config.ParseYAML("test-set", []byte(serverYAML))
	require.NoError(t, err)
	require.NoError(t, mgr.RegisterSensors(set))
	require.NoError(t, mgr.UpdateAll(context.Background()))

	return &server{mgr: mgr, reg: reg, bus: bus, log: logging.NewFromEnv("test")}, hub
}

func TestHandleListSensors(t *testing.T) {
	s, hub := newTestServer(t)
	router := newRouter(s, hub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "power_doubled")
}

func TestHandleGetSensorFound(t *testing.T) {
	s, hub := newTestServer(t)
	router := newRouter(s, hub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/power_doubled", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "20")
}

func TestHandleGetSensorNotFound(t *testing.T) {
	s, hub := newTestServer(t)
	router := newRouter(s, hub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensors/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSetStateTriggersReevaluation(t *testing.T) {
	s, hub := newTestServer(t)
	router := newRouter(s, hub)

	body := strings.NewReader(`{"state":"30"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/states/sensor.power_raw", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	entry, ok := s.reg.Get("power_doubled")
	require.True(t, ok)
	assert.Equal(t, 60.0, entry.Value)
}

func TestHandleSetStateNoopReturnsNoContent(t *testing.T) {
	s, hub := newTestServer(t)
	router := newRouter(s, hub)

	body := strings.NewReader(`{"state":"10"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/states/sensor.power_raw", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleSetStateInvalidBody(t *testing.T) {
	s, hub := newTestServer(t)
	router := newRouter(s, hub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/states/sensor.power_raw", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdateAll(t *testing.T) {
	s, hub := newTestServer(t)
	router := newRouter(s, hub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/update_all", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}
