// Command synsensorsd is a demonstration host process: it loads a
// sensor-set YAML document, wires the synthetic sensor engine to an
// in-memory entity bus, and exposes a small HTTP surface plus a
// websocket push stream so the engine's public operations can be
// driven and observed from outside a real Home Assistant instance.
// None of this is part of the engine core (§1 "the engine has no
// network protocol, user-facing service, or persistence of its own");
// it is glue demonstrating how a host would actually use it.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/collection"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/compile"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/manager"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/registry"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/hostkit/sqlstore"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/logging"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/metrics"
)

const requestTimeout = 10 * time.Second

var errRequireConfigOrDSN = errors.New("synsensorsd: either -config or -dsn (with an existing sensor set) must be provided")

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	configPath := flag.String("config", "", "path to a sensor-set YAML document")
	dsn := flag.String("dsn", "", "PostgreSQL DSN for the reference storage adapter (overrides $DATABASE_URL; persistence is skipped when empty)")
	sensorSetID := flag.String("sensor-set-id", "default", "sensor set identifier used by the storage adapter")
	runMigrations := flag.Bool("migrate", true, "apply embedded schema migrations on startup (ignored without a DSN)")
	compileCacheSize := flag.Int("compile-cache-size", compile.DefaultSize, "number of compiled formulas held in the compilation cache")
	flag.Parse()

	log := logging.NewFromEnv("synsensorsd")
	rootCtx := context.Background()

	dsnVal := resolveDSN(*dsn)
	set, err := loadSensorSet(rootCtx, *configPath, *sensorSetID, dsnVal, *runMigrations, log)
	if err != nil {
		log.WithError(err).Fatal("load sensor set")
	}

	planner := plan.NewService()
	compiler, err := compile.NewCache(planner, *compileCacheSize)
	if err != nil {
		log.WithError(err).Fatal("build compilation cache")
	}
	bus := newEntityBus()
	reg := registry.New()
	hub := newSignalHub(log)
	metricsCollector := metrics.New("synsensorsd")
	collections := collection.New(collection.Deps{States: bus, Areas: bus, Labels: bus})

	mgr := manager.New(manager.Deps{
		Planner:     planner,
		Compiler:    compiler,
		States:      bus,
		Records:     nil,
		Collections: collections,
		Registry:    reg,
		Signals:     hub,
		Metrics:     metricsCollector,
		Logger:      log,
	})

	if err := mgr.RegisterSensors(set); err != nil {
		log.WithError(err).Fatal("register sensors")
	}
	log.WithField("sensor_count", len(set.Sensors)).Info("sensors registered")

	svr := &server{mgr: mgr, reg: reg, bus: bus, log: log}
	router := newRouter(svr, hub)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", *addr).Info("synsensorsd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

func resolveDSN(flagDSN string) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

// loadSensorSet resolves the sensor set to register from, in order of
// preference: a storage-backed document (when dsn is set, importing
// configPath into storage first if one was given), or a bare YAML
// file read directly when no DSN is configured at all.
func loadSensorSet(ctx context.Context, configPath, sensorSetID, dsn string, runMigrations bool, log *logging.Logger) (*config.SensorSet, error) {
	if dsn == "" {
		if configPath == "" {
			return nil, errRequireConfigOrDSN
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		return config.ParseYAML(sensorSetID, data)
	}

	store, err := sqlstore.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if runMigrations {
		if err := store.Migrate(); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		result, err := store.ImportYAML(ctx, string(data), sensorSetID)
		if err != nil {
			return nil, err
		}
		if len(result.Errors) > 0 {
			log.WithField("errors", result.Errors).Fatal("imported sensor set had errors")
		}
		log.WithField("sensors_imported", result.SensorsImported).Info("imported sensor set into storage")
	}

	doc, err := store.ExportYAML(ctx, sensorSetID)
	if err != nil {
		return nil, err
	}
	return config.ParseYAML(sensorSetID, []byte(doc))
}
