// Package manager implements the Sensor Manager & Update Coordinator
// (spec §4.K): it holds the active sensor-set snapshot and dependency
// graph, drives update cycles in dependency order, applies the
// minimal re-work invariant, serializes concurrent triggers by merging
// their changed-entity sets, and publishes successful results to the
// Sensor Registry (J) and the host's signal sink (§6).
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/collection"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/compile"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/depgraph"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/evalcontext"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/evaluator"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/host"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/metadata"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/registry"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/resolve"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/value"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/logging"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/metrics"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/pkg/resilience"
)

// Deps bundles the collaborators the manager wires into a resolution
// chain and evaluator of its own construction. Unlike evaluator.Deps,
// the manager builds its own *resolve.Chain so that
// RegisterDataProvider can add providers after construction — the
// chain's strategy slice is otherwise fixed at NewChain time (spec
// §9 "no inheritance hierarchy", not a mutable registry).
type Deps struct {
	Planner     *plan.Service
	Compiler    *compile.Cache
	States      host.StateReader
	Records     metadata.RecordReader
	Collections *collection.Resolver
	Registry    *registry.Registry
	Signals     host.SignalSink
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
}

// providerEntry is one registered data-provider callback and the
// entity_ids it owns (spec §4.K "register_data_provider").
type providerEntry struct {
	entities map[string]bool
	fn       host.DataProvider
}

// Manager is the single update coordinator for one sensor set (spec
// §4.K). It is safe for concurrent use: on_backing_entities_changed
// may be invoked from the host's own goroutines, and concurrent
// triggers are serialized and merged rather than run as separate
// cycles (spec §5 "a second cycle waiting on the first is merged").
type Manager struct {
	deps Deps

	evaluator *evaluator.Evaluator

	mu            sync.Mutex
	set           *config.SensorSet
	graph         *depgraph.Graph
	backingMap    map[string]string // sensor unique_id -> backing entity_id override
	providers     []providerEntry
	cycleRunning  bool
	pendingChange map[string]bool
	breakers      map[string]*resilience.CircuitBreaker // entity_id -> breaker guarding its host-state reads
}

// New constructs a Manager. The returned Manager has no sensors
// registered; call RegisterSensors before driving any update cycle.
func New(d Deps) *Manager {
	m := &Manager{
		deps:          d,
		backingMap:    map[string]string{},
		pendingChange: map[string]bool{},
		breakers:      map[string]*resilience.CircuitBreaker{},
	}

	resolver := resolve.NewChain(resolve.Deps{
		States:       d.States,
		DataProvider: m.resolveDataProvider,
		Registry:     d.Registry,
	})
	metadataHandler := metadata.New(d.States, d.Records)

	m.evaluator = evaluator.New(evaluator.Deps{
		Resolver:    resolver,
		Metadata:    metadataHandler,
		Collections: d.Collections,
		Compiler:    d.Compiler,
	})

	return m
}

// RegisterSensors performs bulk registration (spec §4.K
// "register_sensors"): it builds the dependency graph over set and
// runs D's validation (cycle detection, cross-sensor reference
// resolvability) before the set becomes the active snapshot. On
// failure the manager's prior snapshot, if any, is left untouched.
func (m *Manager) RegisterSensors(set *config.SensorSet) error {
	graph, err := depgraph.Build(set, m.deps.Planner)
	if err != nil {
		return err
	}
	if err := graph.Validate(); err != nil {
		return err
	}
	if err := graph.ValidateCrossSensorReferences(); err != nil {
		return err
	}

	m.mu.Lock()
	m.set = set
	m.graph = graph
	m.mu.Unlock()

	if m.deps.Metrics != nil {
		m.deps.Metrics.SetSensorsRegistered(len(set.Sensors))
	}
	return nil
}

// RegisterDataProvider names the entity_ids an integration's data
// provider callback owns (spec §4.K "register_data_provider",
// resolution strategy C#4). Entities not covered by any registered
// provider fall through to the host's ordinary state bus.
func (m *Manager) RegisterDataProvider(entityIDs []string, provider host.DataProvider) {
	set := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		set[id] = true
	}
	m.mu.Lock()
	m.providers = append(m.providers, providerEntry{entities: set, fn: provider})
	m.mu.Unlock()
}

// RegisterSensorToBackingMapping installs the optional sensor
// unique_id -> backing entity_id overrides that fill the `state`
// token for a sensor's main formula (spec §4.K
// "register_sensor_to_backing_mapping"). A sensor with no override
// here falls back to its own entity_id as its backing entity.
func (m *Manager) RegisterSensorToBackingMapping(mapping map[string]string) {
	m.mu.Lock()
	for k, v := range mapping {
		m.backingMap[k] = v
	}
	m.mu.Unlock()
}

// resolveDataProvider is the single host.DataProvider the manager's
// resolve.Chain was built with. It routes to whichever registered
// provider owns entityID; entities owned by no provider are read
// through the ordinary host state bus instead, so that dataProvider
// and ha_state together cover every entity reference exactly once
// (spec §4.C strategies 4 and 5) even though the chain can only ever
// try the data-provider slot first once any provider exists.
func (m *Manager) resolveDataProvider(ctx context.Context, entityID string) (host.DataProviderResult, error) {
	m.mu.Lock()
	providers := m.providers
	m.mu.Unlock()

	for _, p := range providers {
		if p.entities[entityID] {
			return p.fn(ctx, entityID)
		}
	}

	if m.deps.States == nil {
		return host.DataProviderResult{Exists: false}, nil
	}

	var es host.EntityState
	var exists bool
	breaker := m.breakerFor(entityID)
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			var readErr error
			es, exists, readErr = m.deps.States.GetState(ctx, entityID)
			return readErr
		})
	})
	if err != nil {
		return host.DataProviderResult{}, err
	}
	if !exists {
		return host.DataProviderResult{Exists: false}, nil
	}
	v, err := value.ParseHostState(es.State)
	if err != nil {
		return host.DataProviderResult{}, err
	}
	return host.DataProviderResult{Value: v, Exists: true, Attributes: es.Attributes}, nil
}

// breakerFor returns entityID's circuit breaker, creating one with the
// default configuration (spec §5 "Timeouts") on first use.
func (m *Manager) breakerFor(entityID string) *resilience.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[entityID]
	if !ok {
		b = resilience.New(resilience.DefaultConfig())
		m.breakers[entityID] = b
	}
	return b
}

// OnBackingEntitiesChanged is the engine's re-evaluation entry point
// (spec §4.K "on_backing_entities_changed"). If an update cycle is
// already in flight, changed is merged into the pending set and this
// call returns immediately without waiting: the running cycle's own
// drain loop (below) picks the merged entities up as its next batch,
// satisfying "the union of changed entities is processed once" (spec
// §5) without a second concurrent cycle ever starting.
func (m *Manager) OnBackingEntitiesChanged(ctx context.Context, changed map[string]bool) error {
	m.mu.Lock()
	for e := range changed {
		m.pendingChange[e] = true
	}
	if m.cycleRunning {
		if m.deps.Metrics != nil {
			m.deps.Metrics.RecordCycleMerged()
		}
		m.mu.Unlock()
		return nil
	}
	m.cycleRunning = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cycleRunning = false
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		batch := m.pendingChange
		m.pendingChange = map[string]bool{}
		m.mu.Unlock()
		if len(batch) == 0 {
			return nil
		}
		if err := m.runCycle(ctx, batch, false); err != nil {
			return err
		}
	}
}

// UpdateAll evaluates every sensor in topological order of the full
// graph (spec §4.K "update_all").
func (m *Manager) UpdateAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cycleRunning {
		m.mu.Unlock()
		return errs.New(errs.KindSensorUpdate, "update cycle already in progress")
	}
	m.cycleRunning = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cycleRunning = false
		m.mu.Unlock()
	}()

	return m.runCycle(ctx, nil, true)
}

// runCycle evaluates one batch. When full is true every sensor is
// re-evaluated (update_all); otherwise only those sensors in the
// affected closure of changed that the minimal re-work invariant
// (spec §4.K, see needsEval) selects: one whose backing entity is in
// changed, or whose direct cross-sensor dependency was re-evaluated to
// a different value earlier in this same cycle.
func (m *Manager) runCycle(ctx context.Context, changed map[string]bool, full bool) error {
	m.mu.Lock()
	set := m.set
	graph := m.graph
	m.mu.Unlock()

	if set == nil || graph == nil {
		return errs.New(errs.KindSensorConfiguration, "no sensor set registered")
	}

	cycleID := uuid.NewString()
	started := time.Now()
	log := m.deps.Logger
	if log != nil {
		log.WithCycle(cycleID).Info("update cycle starting")
	}

	bySensor := set.BySensorKey()

	var subset map[string]bool
	if full {
		subset = make(map[string]bool, len(set.Sensors))
		for _, s := range set.Sensors {
			subset[s.UniqueID] = true
		}
	} else {
		subset = graph.AffectedClosure(changed)
	}

	order, err := graph.TopologicalOrder(subset)
	if err != nil {
		return err
	}

	cycleCtx := evalcontext.NewRoot().Push(evalcontext.LayerSensorSet)
	actuallyChanged := map[string]bool{}
	evaluated := 0

	for _, sensorKey := range order {
		sensor := bySensor[sensorKey]
		if sensor == nil {
			continue
		}

		if !full && !m.needsEval(graph, sensorKey, changed, actuallyChanged) {
			continue
		}

		prev, hadPrev := m.deps.Registry.Value(sensorKey)
		newVal, err := m.evaluateSensor(ctx, cycleCtx, sensor, set)
		evaluated++
		if err != nil {
			if log != nil {
				log.WithSensor(sensorKey).WithError(err).Warn("sensor update failed, preserving previous value")
			}
			if m.deps.Signals != nil {
				m.deps.Signals.SensorStateChanged(sensorKey, host.SensorStateError)
			}
			continue
		}

		m.deps.Registry.Publish(sensorKey, sensor.EntityID, newVal)
		if m.deps.Signals != nil {
			m.deps.Signals.SensorValueUpdated(sensorKey, sensor.EntityID, newVal, nil)
			m.deps.Signals.SensorStateChanged(sensorKey, stateTagFor(newVal))
		}

		if !hadPrev || !value.Equal(prev, newVal) {
			actuallyChanged[sensorKey] = true
		}
	}

	if m.deps.Metrics != nil {
		trigger := "backing_entities_changed"
		if full {
			trigger = "update_all"
		}
		m.deps.Metrics.RecordUpdateCycle("synthetic_sensors", trigger, evaluated, time.Since(started))
	}
	if log != nil {
		log.WithCycle(cycleID).WithField("evaluated", evaluated).Info("update cycle complete")
	}
	return nil
}

// needsEval applies the minimal re-work invariant (spec §4.K) to one
// sensor within a partial cycle: it is re-evaluated only if one of its
// backing entities is in changed, or one of its direct cross-sensor
// dependencies is in actuallyChanged (already re-evaluated earlier in
// this same cycle, with a different result).
func (m *Manager) needsEval(graph *depgraph.Graph, sensorKey string, changed, actuallyChanged map[string]bool) bool {
	for _, entityID := range graph.BackingEntitiesOf(sensorKey) {
		if changed[entityID] {
			return true
		}
	}
	for _, dep := range graph.DependenciesOf(sensorKey) {
		if actuallyChanged[dep] {
			return true
		}
	}
	return false
}

// evaluateSensor runs one sensor's main formula and every attribute
// formula through the evaluator, in the sensor's own context frame
// (spec §4.H, §3 "Hierarchical context").
func (m *Manager) evaluateSensor(ctx context.Context, cycleCtx *evalcontext.Context, sensor *config.Sensor, set *config.SensorSet) (any, error) {
	sensorCtx := cycleCtx.Push(evalcontext.LayerSensor)
	scopes := []*config.VariableMap{sensor.Variables, set.Global.Variables}

	backingEntityID := sensor.EntityID
	m.mu.Lock()
	if override, ok := m.backingMap[sensor.UniqueID]; ok {
		backingEntityID = override
	}
	m.mu.Unlock()

	mainRes, err := m.evaluator.Evaluate(ctx, evaluator.Request{
		Formula:         sensor.Main,
		Role:            evalcontext.RoleMain,
		SensorKey:       sensor.UniqueID,
		BackingEntityID: backingEntityID,
		Scopes:          scopes,
		ParentCtx:       sensorCtx,
	})
	if err != nil {
		return nil, errs.SensorUpdate(sensor.UniqueID, err)
	}

	for _, attr := range sensor.Attributes {
		_, err := m.evaluator.Evaluate(ctx, evaluator.Request{
			Formula:         attr.Formula,
			Role:            evalcontext.RoleAttribute,
			SensorKey:       sensor.UniqueID,
			BackingEntityID: backingEntityID,
			MainResult:      mainRes.Value,
			Scopes:          scopes,
			ParentCtx:       sensorCtx,
		})
		if err != nil {
			return nil, errs.SensorUpdate(sensor.UniqueID, err).WithDetail("attribute", attr.Name)
		}
	}

	return mainRes.Value, nil
}

func stateTagFor(v any) host.SensorStateTag {
	sentinel, ok := value.IsSentinel(v)
	if !ok {
		return host.SensorStateOK
	}
	switch sentinel {
	case value.Unavailable:
		return host.SensorStateUnavailable
	default:
		return host.SensorStateUnknown
	}
}
