package config

import (
	"fmt"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
)

// Validate runs the structural checks that must pass before a
// SensorSet is handed to the Dependency Management Phase (package
// depgraph): unique identifiers, non-empty formulas, and the
// local/global variable-shadowing ambiguity check (spec §3 Global
// settings invariant). Cycle detection and cross-sensor reference
// resolution are package depgraph's responsibility, not this one's.
func (s *SensorSet) Validate() error {
	seenUnique := map[string]bool{}
	seenEntity := map[string]bool{}

	for _, sensor := range s.Sensors {
		if sensor.UniqueID == "" {
			return sensorErr("", "unique_id must not be empty")
		}
		if seenUnique[sensor.UniqueID] {
			return sensorErr(sensor.UniqueID, "duplicate unique_id")
		}
		seenUnique[sensor.UniqueID] = true

		if sensor.EntityID == "" {
			return sensorErr(sensor.UniqueID, "entity_id must not be empty")
		}
		if seenEntity[sensor.EntityID] {
			return sensorErr(sensor.UniqueID, fmt.Sprintf("duplicate entity_id %q", sensor.EntityID))
		}
		seenEntity[sensor.EntityID] = true

		if sensor.Main == nil || sensor.Main.Expr == "" {
			return sensorErr(sensor.UniqueID, "main formula must not be empty")
		}

		for _, attr := range sensor.Attributes {
			if attr.Formula == nil || attr.Formula.Expr == "" {
				return sensorErr(sensor.UniqueID, fmt.Sprintf("attribute %q formula must not be empty", attr.Name))
			}
		}

		if err := checkShadowAmbiguity(sensor, &s.Global); err != nil {
			return err
		}
	}

	return nil
}

// checkShadowAmbiguity flags a local variable name that collides with
// a global variable binding of a structurally incompatible kind (an
// entity-reference literal shadowing a computed variable or vice
// versa; number, boolean and string literals are not checked) — plain
// same-kind shadowing is the documented, intended behavior (spec §3:
// "a local variable name shadows a global with the same name") and is
// not an error.
func checkShadowAmbiguity(sensor *Sensor, global *GlobalSettings) error {
	if sensor.Variables == nil || global.Variables == nil {
		return nil
	}
	for _, name := range sensor.Variables.Names() {
		localBinding, _ := sensor.Variables.Get(name)
		globalBinding, ok := global.Variables.Get(name)
		if !ok {
			continue
		}
		localIsEntity := localBinding.Literal != nil && localBinding.Literal.Kind == LiteralEntity
		globalIsEntity := globalBinding.Literal != nil && globalBinding.Literal.Kind == LiteralEntity
		localIsComputed := localBinding.Computed != nil
		globalIsComputed := globalBinding.Computed != nil
		if (localIsComputed && globalIsEntity) || (localIsEntity && globalIsComputed) {
			return sensorErr(sensor.UniqueID, fmt.Sprintf(
				"local variable %q shadows global %q with an incompatible binding kind", name, name))
		}
	}
	return nil
}

func sensorErr(sensorKey, reason string) error {
	return errs.SensorConfiguration(sensorKey, reason)
}
