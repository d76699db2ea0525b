// Package enginetest provides in-memory fakes for the host
// collaborator interfaces (package host) and the metadata record
// reader, for use by package-level tests throughout internal/engine.
// None of this package is imported by engine code itself — it exists
// purely as shared test fixture, the way the teacher's
// infrastructure/*/testutil packages serve its own service tests.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/host"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/metadata"
)

// StateBus is an in-memory host.StateReader fake. Tests seed it via
// Set and assert against it directly; it also implements
// host.EntityAreaResolver and host.EntityLabelResolver for the
// Collection Resolver's area:/label: clauses.
type StateBus struct {
	mu     sync.RWMutex
	states map[string]host.EntityState
	areas  map[string]string
	labels map[string][]string
}

// NewStateBus creates an empty StateBus.
func NewStateBus() *StateBus {
	return &StateBus{
		states: make(map[string]host.EntityState),
		areas:  make(map[string]string),
		labels: make(map[string][]string),
	}
}

// Set installs or replaces entityID's state and attributes.
func (b *StateBus) Set(entityID, state string, attributes map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[entityID] = host.EntityState{State: state, Attributes: attributes}
}

// Remove deletes entityID, so GetState reports it as nonexistent.
func (b *StateBus) Remove(entityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, entityID)
}

// SetArea assigns entityID's area, for EntityArea/area: clause tests.
func (b *StateBus) SetArea(entityID, areaID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.areas[entityID] = areaID
}

// SetLabels assigns entityID's labels, for EntityLabels/label: clause tests.
func (b *StateBus) SetLabels(entityID string, labels []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.labels[entityID] = labels
}

// GetState implements host.StateReader.
func (b *StateBus) GetState(_ context.Context, entityID string) (host.EntityState, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	es, ok := b.states[entityID]
	return es, ok, nil
}

// ListEntities implements host.StateReader.
func (b *StateBus) ListEntities(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.states))
	for id := range b.states {
		out = append(out, id)
	}
	return out, nil
}

// EntityArea implements host.EntityAreaResolver.
func (b *StateBus) EntityArea(_ context.Context, entityID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	areaID, ok := b.areas[entityID]
	return areaID, ok
}

// EntityLabels implements host.EntityLabelResolver.
func (b *StateBus) EntityLabels(_ context.Context, entityID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.labels[entityID], nil
}

// DataProvider is an in-memory host.DataProvider fake for an
// integration's virtual entities (spec §4.C strategy 4).
type DataProvider struct {
	mu     sync.RWMutex
	values map[string]host.DataProviderResult
}

// NewDataProvider creates an empty DataProvider fake.
func NewDataProvider() *DataProvider {
	return &DataProvider{values: make(map[string]host.DataProviderResult)}
}

// Set installs entityID's virtual value.
func (d *DataProvider) Set(entityID string, value any, attributes map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[entityID] = host.DataProviderResult{Value: value, Exists: true, Attributes: attributes}
}

// Func returns the host.DataProvider callback bound to this fake,
// suitable for Manager.RegisterDataProvider.
func (d *DataProvider) Func() host.DataProvider {
	return func(_ context.Context, entityID string) (host.DataProviderResult, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		res, ok := d.values[entityID]
		if !ok {
			return host.DataProviderResult{Exists: false}, nil
		}
		return res, nil
	}
}

// SignalSink records every signal the engine emits, for assertion.
type SignalSink struct {
	mu           sync.Mutex
	ValueUpdates []ValueUpdate
	StateChanges []StateChange
}

// ValueUpdate is one recorded SensorValueUpdated call.
type ValueUpdate struct {
	UniqueID   string
	EntityID   string
	Value      any
	Attributes map[string]any
}

// StateChange is one recorded SensorStateChanged call.
type StateChange struct {
	UniqueID string
	Tag      host.SensorStateTag
}

// NewSignalSink creates an empty SignalSink.
func NewSignalSink() *SignalSink {
	return &SignalSink{}
}

// SensorValueUpdated implements host.SignalSink.
func (s *SignalSink) SensorValueUpdated(uniqueID, entityID string, value any, attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ValueUpdates = append(s.ValueUpdates, ValueUpdate{UniqueID: uniqueID, EntityID: entityID, Value: value, Attributes: attributes})
}

// SensorStateChanged implements host.SignalSink.
func (s *SignalSink) SensorStateChanged(uniqueID string, tag host.SensorStateTag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StateChanges = append(s.StateChanges, StateChange{UniqueID: uniqueID, Tag: tag})
}

// Last returns the most recent recorded value update for uniqueID, if any.
func (s *SignalSink) Last(uniqueID string) (ValueUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found ValueUpdate
	ok := false
	for _, u := range s.ValueUpdates {
		if u.UniqueID == uniqueID {
			found = u
			ok = true
		}
	}
	return found, ok
}

// RecordReader is an in-memory metadata.RecordReader fake (spec §4.F).
type RecordReader struct {
	mu      sync.RWMutex
	records map[string]metadata.EntityRecord
}

// NewRecordReader creates an empty RecordReader fake.
func NewRecordReader() *RecordReader {
	return &RecordReader{records: make(map[string]metadata.EntityRecord)}
}

// Set installs entityID's metadata record.
func (r *RecordReader) Set(entityID string, state host.EntityState, lastChanged, lastUpdated, lastReported time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[entityID] = metadata.EntityRecord{
		EntityState:  state,
		LastChanged:  lastChanged,
		LastUpdated:  lastUpdated,
		LastReported: lastReported,
	}
}

// GetRecord implements metadata.RecordReader.
func (r *RecordReader) GetRecord(_ context.Context, entityID string) (metadata.EntityRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[entityID]
	return rec, ok, nil
}
