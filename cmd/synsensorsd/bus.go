package main

import (
	"context"
	"sync"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/host"
)

// entityBus is an in-memory host.StateReader/EntityAreaResolver/
// EntityLabelResolver, the demo host's stand-in for a real entity
// inventory. It is deliberately the same shape as
// internal/engine/enginetest.StateBus, but lives here rather than
// importing that package: enginetest is test-only fixture, while this
// one backs an actually running process.
type entityBus struct {
	mu     sync.RWMutex
	states map[string]host.EntityState
	areas  map[string]string
	labels map[string][]string
}

func newEntityBus() *entityBus {
	return &entityBus{
		states: make(map[string]host.EntityState),
		areas:  make(map[string]string),
		labels: make(map[string][]string),
	}
}

// set installs entityID's state and returns true if the state string
// actually changed, so callers can decide whether to notify the
// manager of a backing-entity change.
func (b *entityBus) set(entityID, state string, attributes map[string]any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, existed := b.states[entityID]
	b.states[entityID] = host.EntityState{State: state, Attributes: attributes}
	return !existed || prev.State != state
}

func (b *entityBus) setArea(entityID, areaID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.areas[entityID] = areaID
}

func (b *entityBus) setLabels(entityID string, labels []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.labels[entityID] = labels
}

func (b *entityBus) GetState(_ context.Context, entityID string) (host.EntityState, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	es, ok := b.states[entityID]
	return es, ok, nil
}

func (b *entityBus) ListEntities(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.states))
	for id := range b.states {
		out = append(out, id)
	}
	return out, nil
}

func (b *entityBus) EntityArea(_ context.Context, entityID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	areaID, ok := b.areas[entityID]
	return areaID, ok
}

func (b *entityBus) EntityLabels(_ context.Context, entityID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.labels[entityID], nil
}
