// Package registry implements the Sensor Registry (spec §4.J): a
// process-wide map from sensor unique_id to its entity_id and current
// value, consulted by the cross-sensor resolution strategy (package
// resolve) and written only by the update coordinator (package
// manager) at the end of a successful evaluation.
package registry

import "sync"

// Entry is one sensor's published state.
type Entry struct {
	EntityID string
	Value    any
	// Exists is false until the sensor has completed its first
	// successful evaluation.
	Exists bool
}

// Registry is a mutex-guarded sensor_key -> Entry map. Writes are
// serialized through the manager's update cycle; reads happen only
// during evaluation, which the manager also serializes for any chain
// touching a cross-sensor edge (spec §4.J "Thread-safety").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Get returns the sensor's current entry, if it has ever published a
// value.
func (r *Registry) Get(sensorKey string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sensorKey]
	return e, ok
}

// Value is a convenience accessor returning just the current value.
func (r *Registry) Value(sensorKey string) (any, bool) {
	e, ok := r.Get(sensorKey)
	if !ok || !e.Exists {
		return nil, false
	}
	return e.Value, true
}

// Publish records sensorKey's new value. Called only by the manager
// at the end of a successful evaluation (publish-at-commit, spec §5).
func (r *Registry) Publish(sensorKey, entityID string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sensorKey] = Entry{EntityID: entityID, Value: value, Exists: true}
}

// Remove drops a sensor's entry (e.g. on CRUD deletion).
func (r *Registry) Remove(sensorKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sensorKey)
}

// Keys returns every registered sensor key, for diagnostics.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// EntityIDFor returns the entity_id a sensor publishes under, if
// registered.
func (r *Registry) EntityIDFor(sensorKey string) (string, bool) {
	e, ok := r.Get(sensorKey)
	if !ok {
		return "", false
	}
	return e.EntityID, true
}
