package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
)

const sampleDoc = `
version: "1.0"
sensors:
  power_total:
    name: Total Power
    entity_id: sensor.power_total
    formula: a + b
    variables:
      a: sensor.power_a
      b: sensor.power_b
`

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestStore_ExportYAML_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, version, document, updated_at FROM sensor_sets WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "document", "updated_at"}))

	_, err := store.ExportYAML(context.Background(), "missing")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExportYAML_ReturnsStoredDocument(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, version, document, updated_at FROM sensor_sets WHERE id = \$1`).
		WithArgs("kitchen").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "document", "updated_at"}).
			AddRow("kitchen", "1.0", sampleDoc, time.Now()))

	doc, err := store.ExportYAML(context.Background(), "kitchen")
	require.NoError(t, err)
	assert.Equal(t, sampleDoc, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveSensorSet_RejectsInvalidSet(t *testing.T) {
	store, _ := newMockStore(t)
	set, err := config.ParseYAML("kitchen", []byte(sampleDoc))
	require.NoError(t, err)
	set.Sensors[0].UniqueID = ""

	err = store.SaveSensorSet(context.Background(), "kitchen", set)
	assert.Error(t, err)
}

func TestStore_SaveSensorSet_UpsertsAndProjects(t *testing.T) {
	store, mock := newMockStore(t)
	set, err := config.ParseYAML("kitchen", []byte(sampleDoc))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sensor_sets`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM sensor_set_sensors WHERE sensor_set_id = \$1`).
		WithArgs("kitchen").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO sensor_set_sensors`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.SaveSensorSet(context.Background(), "kitchen", set)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ImportYAML_ReportsParseErrorsWithoutTouchingStorage(t *testing.T) {
	store, mock := newMockStore(t)

	result, err := store.ImportYAML(context.Background(), "not: [valid yaml", "kitchen")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Errors)
	assert.Zero(t, result.SensorsImported)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ImportYAML_SavesValidDocument(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO sensor_sets`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM sensor_set_sensors WHERE sensor_set_id = \$1`).
		WithArgs("kitchen").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO sensor_set_sensors`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.ImportYAML(context.Background(), sampleDoc, "kitchen")
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.SensorsImported)
	assert.Equal(t, []string{"power_total"}, result.SensorUniqueIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetSensor_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT sensor_set_id FROM sensor_set_sensors WHERE unique_id = \$1`).
		WithArgs("missing_sensor").
		WillReturnRows(sqlmock.NewRows([]string{"sensor_set_id"}))

	_, err := store.GetSensor(context.Background(), "missing_sensor")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetSensor_ResolvesThroughOwningSet(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT sensor_set_id FROM sensor_set_sensors WHERE unique_id = \$1`).
		WithArgs("power_total").
		WillReturnRows(sqlmock.NewRows([]string{"sensor_set_id"}).AddRow("kitchen"))
	mock.ExpectQuery(`SELECT id, version, document, updated_at FROM sensor_sets WHERE id = \$1`).
		WithArgs("kitchen").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "document", "updated_at"}).
			AddRow("kitchen", "1.0", sampleDoc, time.Now()))

	sensor, err := store.GetSensor(context.Background(), "power_total")
	require.NoError(t, err)
	assert.Equal(t, "sensor.power_total", sensor.EntityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
