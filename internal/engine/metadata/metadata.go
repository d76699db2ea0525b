// Package metadata implements the Metadata Handler (spec §4.F):
// resolving `metadata(entity, key)` calls to typed values pulled from
// the host's entity-state record. It is invoked by the evaluator (H)
// before AST evaluation, per spec §9 "metadata before AST evaluation" —
// the AST never calls into the host directly.
package metadata

import (
	"context"
	"strings"
	"time"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/host"
)

// datetimeKeys is the subset of recognized metadata keys that resolve
// to a timezone-aware datetime (spec §4.F).
var datetimeKeys = map[string]bool{
	"last_changed": true, "last_updated": true, "last_reported": true,
}

// stringKeys is the subset that always resolve to a string: entity_id,
// object_id and domain are derived from the entity_id itself; the rest
// are read from the attributes map ("" when absent or not a string).
var stringKeys = map[string]bool{
	"entity_id": true, "object_id": true, "domain": true, "friendly_name": true,
	"unit_of_measurement": true, "device_class": true, "state_class": true, "icon": true,
}

// EntityRecord is the superset of entity bookkeeping `metadata()` can
// read: the ordinary state/attributes the host exposes, plus the
// bus-level timestamps the core StateReader (package host) does not
// carry. A host integration that wants full metadata support
// implements this richer interface; one that only implements
// host.StateReader still works for attribute-key and friendly_name/
// domain/entity_id/object_id lookups (the timestamp keys will error).
type EntityRecord struct {
	host.EntityState
	LastChanged  time.Time
	LastUpdated  time.Time
	LastReported time.Time
}

// RecordReader is the optional, richer host collaborator Handler
// consults for the three timestamp keys only; every other key is read
// through host.StateReader, and without a RecordReader the timestamp
// keys fail.
type RecordReader interface {
	GetRecord(ctx context.Context, entityID string) (EntityRecord, bool, error)
}

// Handler resolves metadata() call sites against the host.
type Handler struct {
	states  host.StateReader
	records RecordReader
}

// New constructs a Handler. records may be nil if the host does not
// support the richer timestamp-carrying lookup.
func New(states host.StateReader, records RecordReader) *Handler {
	return &Handler{states: states, records: records}
}

// Resolve looks up key on entityID (spec §4.F). entityID must already
// have been resolved to an entity reference by the caller (package
// evaluator, via package resolve) — Resolve itself does not interpret
// formula expressions.
func (h *Handler) Resolve(ctx context.Context, entityID, key string) (any, error) {
	switch {
	case datetimeKeys[key]:
		return h.resolveDatetime(ctx, entityID, key)
	case stringKeys[key]:
		return h.resolveStringField(ctx, entityID, key)
	default:
		return h.resolveAttribute(ctx, entityID, key)
	}
}

func (h *Handler) resolveDatetime(ctx context.Context, entityID, key string) (any, error) {
	if h.records == nil {
		return nil, errs.New(errs.KindDataValidation, "host does not support metadata timestamp keys").
			WithDetail("key", key)
	}
	rec, ok, err := h.records.GetRecord(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.MissingDependency(entityID)
	}
	switch key {
	case "last_changed":
		return rec.LastChanged, nil
	case "last_updated":
		return rec.LastUpdated, nil
	default:
		return rec.LastReported, nil
	}
}

func (h *Handler) resolveStringField(ctx context.Context, entityID, key string) (any, error) {
	es, ok, err := h.states.GetState(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.MissingDependency(entityID)
	}
	switch key {
	case "entity_id":
		return entityID, nil
	case "object_id":
		if i := strings.IndexByte(entityID, '.'); i >= 0 {
			return entityID[i+1:], nil
		}
		return entityID, nil
	case "domain":
		if i := strings.IndexByte(entityID, '.'); i >= 0 {
			return entityID[:i], nil
		}
		return "", nil
	default:
		if v, ok := es.Attributes[key]; ok {
			if s, ok := v.(string); ok {
				return s, nil
			}
		}
		return "", nil
	}
}

func (h *Handler) resolveAttribute(ctx context.Context, entityID, key string) (any, error) {
	es, ok, err := h.states.GetState(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.MissingDependency(entityID)
	}
	v, ok := es.Attributes[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}
