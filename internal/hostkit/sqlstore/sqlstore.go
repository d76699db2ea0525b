// Package sqlstore is a reference implementation of the sensor-set
// storage collaborator (spec §6): list_sensors, get_sensor,
// save_sensor_set, export_yaml, and import_yaml, backed by Postgres.
// The engine core (package manager and everything under
// internal/engine) never imports this package — storage is external
// to the engine by design, and a host may swap in any implementation
// that satisfies the same operations.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ImportResult reports the outcome of an import_yaml call (spec §6):
// the sensors that were accepted plus any errors encountered while
// parsing or validating the document. A non-nil Go error return is
// reserved for storage-layer failures; a malformed document is
// reported through Errors with SensorsImported left at zero.
type ImportResult struct {
	SensorsImported int
	SensorUniqueIDs []string
	Errors          []string
}

// Store is a sqlx/Postgres-backed sensor-set store.
type Store struct {
	db *sqlx.DB
}

// Open establishes a PostgreSQL connection using dsn and verifies
// connectivity with a ping, the way the host platform's own
// database.Open does for its service repositories.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlstore: postgres DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every pending migration in migrations/ via
// golang-migrate's iofs source, bringing the schema up to the latest
// version. It is idempotent: a schema already at the latest version
// returns migrate.ErrNoChange, which Migrate treats as success.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlstore: load embedded migrations: %w", err)
	}
	driver, err := pgmigrate.WithInstance(s.db.DB, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("sqlstore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("sqlstore: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlstore: apply migrations: %w", err)
	}
	return nil
}

// sensorSetRow is the sensor_sets table row shape.
type sensorSetRow struct {
	ID        string    `db:"id"`
	Version   string    `db:"version"`
	Document  string    `db:"document"`
	UpdatedAt time.Time `db:"updated_at"`
}

// sensorRow is the sensor_set_sensors table row shape: a denormalized
// projection maintained alongside the canonical YAML document so
// GetSensor can find a sensor's owning set without scanning every
// stored document.
type sensorRow struct {
	SensorSetID string `db:"sensor_set_id"`
	UniqueID    string `db:"unique_id"`
	EntityID    string `db:"entity_id"`
	Name        string `db:"name"`
}

// ListSensors returns every sensor registered under sensorSetID, in
// declaration order, by loading and parsing that set's canonical
// document.
func (s *Store) ListSensors(ctx context.Context, sensorSetID string) ([]*config.Sensor, error) {
	set, err := s.loadSet(ctx, sensorSetID)
	if err != nil {
		return nil, err
	}
	return set.Sensors, nil
}

// GetSensor returns the single sensor identified by uniqueID,
// regardless of which sensor set owns it. The lookup goes through the
// denormalized sensor_set_sensors projection to find the owning set
// without scanning every document in the store.
func (s *Store) GetSensor(ctx context.Context, uniqueID string) (*config.Sensor, error) {
	var sensorSetID string
	err := s.db.GetContext(ctx, &sensorSetID,
		`SELECT sensor_set_id FROM sensor_set_sensors WHERE unique_id = $1`, uniqueID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlstore: sensor %q not found", uniqueID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: look up sensor %q: %w", uniqueID, err)
	}
	set, err := s.loadSet(ctx, sensorSetID)
	if err != nil {
		return nil, err
	}
	sensor, ok := set.BySensorKey()[uniqueID]
	if !ok {
		return nil, fmt.Errorf("sqlstore: sensor %q missing from its own sensor set document", uniqueID)
	}
	return sensor, nil
}

// SaveSensorSet persists set as sensorSetID's canonical document and
// refreshes the denormalized sensor projection, in a single
// transaction so readers never observe the two out of sync.
func (s *Store) SaveSensorSet(ctx context.Context, sensorSetID string, set *config.SensorSet) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("sqlstore: invalid sensor set: %w", err)
	}
	doc, err := config.ExportYAML(set)
	if err != nil {
		return fmt.Errorf("sqlstore: export sensor set: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sensor_sets (id, version, document, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, document = EXCLUDED.document, updated_at = now()
	`, sensorSetID, set.Version, string(doc))
	if err != nil {
		return fmt.Errorf("sqlstore: upsert sensor set: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sensor_set_sensors WHERE sensor_set_id = $1`, sensorSetID); err != nil {
		return fmt.Errorf("sqlstore: clear sensor projection: %w", err)
	}
	for _, sensor := range set.Sensors {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO sensor_set_sensors (sensor_set_id, unique_id, entity_id, name)
			VALUES (:sensor_set_id, :unique_id, :entity_id, :name)
		`, sensorRow{SensorSetID: sensorSetID, UniqueID: sensor.UniqueID, EntityID: sensor.EntityID, Name: sensor.Name})
		if err != nil {
			return fmt.Errorf("sqlstore: project sensor %q: %w", sensor.UniqueID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit sensor set: %w", err)
	}
	return nil
}

// ExportYAML returns sensorSetID's canonical document verbatim,
// without round-tripping it through config.ParseYAML/ExportYAML.
func (s *Store) ExportYAML(ctx context.Context, sensorSetID string) (string, error) {
	var row sensorSetRow
	err := s.db.GetContext(ctx, &row, `SELECT id, version, document, updated_at FROM sensor_sets WHERE id = $1`, sensorSetID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("sqlstore: sensor set %q not found", sensorSetID)
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: load sensor set %q: %w", sensorSetID, err)
	}
	return row.Document, nil
}

// ImportYAML parses yamlDoc, validates it, and on success saves it as
// sensorSetID's document (replacing whatever was there). A malformed
// or invalid document is reported via ImportResult.Errors rather than
// the returned error, which is reserved for storage failures.
func (s *Store) ImportYAML(ctx context.Context, yamlDoc, sensorSetID string) (ImportResult, error) {
	set, err := config.ParseYAML(sensorSetID, []byte(yamlDoc))
	if err != nil {
		return ImportResult{Errors: []string{err.Error()}}, nil
	}
	if err := set.Validate(); err != nil {
		return ImportResult{Errors: []string{err.Error()}}, nil
	}

	if err := s.SaveSensorSet(ctx, sensorSetID, set); err != nil {
		return ImportResult{}, err
	}

	ids := make([]string, len(set.Sensors))
	for i, sensor := range set.Sensors {
		ids[i] = sensor.UniqueID
	}
	return ImportResult{SensorsImported: len(set.Sensors), SensorUniqueIDs: ids}, nil
}

func (s *Store) loadSet(ctx context.Context, sensorSetID string) (*config.SensorSet, error) {
	var row sensorSetRow
	err := s.db.GetContext(ctx, &row, `SELECT id, version, document, updated_at FROM sensor_sets WHERE id = $1`, sensorSetID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlstore: sensor set %q not found", sensorSetID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load sensor set %q: %w", sensorSetID, err)
	}
	set, err := config.ParseYAML(sensorSetID, []byte(row.Document))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse stored document for %q: %w", sensorSetID, err)
	}
	return set, nil
}
