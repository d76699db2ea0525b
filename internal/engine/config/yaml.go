package config

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
)

// recognizedDomains is the closed set of host entity domains a
// "<domain>.<object>" string may belong to (spec §6). A string that
// does not match one of these is treated as an ordinary string
// literal rather than an entity reference.
var recognizedDomains = map[string]bool{
	"sensor": true, "binary_sensor": true, "switch": true, "light": true,
	"climate": true, "cover": true, "fan": true, "lock": true,
	"media_player": true, "person": true, "device_tracker": true,
	"input_number": true, "input_boolean": true, "input_text": true,
	"input_select": true, "number": true, "text": true, "select": true,
	"weather": true, "sun": true, "zone": true, "automation": true,
	"script": true, "timer": true, "counter": true, "proximity": true,
	"air_quality": true, "water_heater": true, "vacuum": true, "camera": true,
	"alarm_control_panel": true, "update": true, "button": true,
	"calendar": true, "date": true, "datetime": true, "time": true,
	"event": true, "humidifier": true, "image": true, "lawn_mower": true,
	"notify": true, "remote": true, "siren": true, "valve": true, "todo": true,
}

var entityRefPattern = regexp.MustCompile(`^([a-z_][a-z0-9_]*)\.([a-z0-9_]+)$`)

// LooksLikeEntityRef reports whether s has the shape
// "<domain>.<object>" with a recognized domain.
func LooksLikeEntityRef(s string) bool {
	m := entityRefPattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	return recognizedDomains[m[1]]
}

// ParseYAML parses a sensor-set YAML document (spec §6 "Configuration
// surface") into a SensorSet. sensorSetID is attached to the result
// for storage-layer bookkeeping; it is not present in the document
// itself.
func ParseYAML(sensorSetID string, data []byte) (*SensorSet, error) {
	var doc struct {
		Version        string    `yaml:"version"`
		GlobalSettings yaml.Node `yaml:"global_settings"`
		Sensors        yaml.Node `yaml:"sensors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.KindSensorConfiguration, "malformed sensor-set YAML", err)
	}

	set := &SensorSet{ID: sensorSetID, Version: doc.Version}

	if doc.GlobalSettings.Kind == yaml.MappingNode {
		gs, err := parseGlobalSettings(&doc.GlobalSettings)
		if err != nil {
			return nil, err
		}
		set.Global = *gs
	} else {
		set.Global = GlobalSettings{Variables: NewVariableMap()}
	}

	if doc.Sensors.Kind == yaml.MappingNode {
		sensors, err := parseSensors(&doc.Sensors)
		if err != nil {
			return nil, err
		}
		set.Sensors = sensors
	}

	return set, nil
}

func parseGlobalSettings(node *yaml.Node) (*GlobalSettings, error) {
	gs := &GlobalSettings{Variables: NewVariableMap(), Metadata: map[string]string{}}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "device_identifier":
			gs.DeviceIdentifier = val.Value
		case "variables":
			vm, err := parseVariableMap(val)
			if err != nil {
				return nil, err
			}
			gs.Variables = vm
		case "metadata":
			m, err := parseStringMap(val)
			if err != nil {
				return nil, err
			}
			gs.Metadata = m
		}
	}
	return gs, nil
}

func parseSensors(node *yaml.Node) ([]*Sensor, error) {
	var sensors []*Sensor
	for i := 0; i+1 < len(node.Content); i += 2 {
		uniqueID := node.Content[i].Value
		val := node.Content[i+1]
		sensor, err := parseSensor(uniqueID, val)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, nil
}

func parseSensor(uniqueID string, node *yaml.Node) (*Sensor, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errs.SensorConfiguration(uniqueID, "sensor entry must be a mapping")
	}
	sensor := &Sensor{UniqueID: uniqueID, Variables: NewVariableMap(), Metadata: map[string]string{}}
	main := &FormulaSpec{ID: uniqueID}
	var mainFormulaSet bool
	alternates := map[AlternateKey]*AlternateBranch{}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "name":
			sensor.Name = val.Value
		case "entity_id":
			sensor.EntityID = val.Value
		case "formula":
			main.Expr = val.Value
			mainFormulaSet = true
		case "variables":
			vm, err := parseVariableMap(val)
			if err != nil {
				return nil, err
			}
			sensor.Variables = vm
		case "attributes":
			attrs, err := parseAttributes(uniqueID, val)
			if err != nil {
				return nil, err
			}
			sensor.Attributes = attrs
		case "metadata":
			m, err := parseStringMap(val)
			if err != nil {
				return nil, err
			}
			sensor.Metadata = m
		case "device_id":
			sensor.DeviceID = val.Value
		case string(AltUnavailable), string(AltUnknown), string(AltNone):
			branch, err := parseAlternateBranch(val)
			if err != nil {
				return nil, err
			}
			alternates[AlternateKey(key)] = branch
		}
	}

	if !mainFormulaSet {
		return nil, errs.SensorConfiguration(uniqueID, "sensor has no main formula")
	}
	if len(alternates) > 0 {
		main.Alternates = alternates
	}
	main.Variables = sensor.Variables
	sensor.Main = main

	if sensor.EntityID == "" {
		sensor.EntityID = "sensor." + uniqueID
	}
	return sensor, nil
}

func parseAttributes(sensorKey string, node *yaml.Node) ([]AttributeSpec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, errs.SensorConfiguration(sensorKey, "attributes must be a mapping")
	}
	var attrs []AttributeSpec
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		val := node.Content[i+1]
		if val.Kind != yaml.MappingNode {
			return nil, errs.SensorConfiguration(sensorKey, fmt.Sprintf("attribute %q must be a mapping with a formula", name))
		}
		spec := &FormulaSpec{ID: sensorKey + "." + name, Variables: NewVariableMap()}
		var metadata map[string]string
		alternates := map[AlternateKey]*AlternateBranch{}
		for j := 0; j+1 < len(val.Content); j += 2 {
			k := val.Content[j].Value
			v := val.Content[j+1]
			switch k {
			case "formula":
				spec.Expr = v.Value
			case "variables":
				vm, err := parseVariableMap(v)
				if err != nil {
					return nil, err
				}
				spec.Variables = vm
			case "metadata":
				m, err := parseStringMap(v)
				if err != nil {
					return nil, err
				}
				metadata = m
			case string(AltUnavailable), string(AltUnknown), string(AltNone):
				branch, err := parseAlternateBranch(v)
				if err != nil {
					return nil, err
				}
				alternates[AlternateKey(k)] = branch
			}
		}
		if len(alternates) > 0 {
			spec.Alternates = alternates
		}
		if spec.Expr == "" {
			return nil, errs.SensorConfiguration(sensorKey, fmt.Sprintf("attribute %q has no formula", name))
		}
		attrs = append(attrs, AttributeSpec{Name: name, Formula: spec, Metadata: metadata})
	}
	return attrs, nil
}

func parseVariableMap(node *yaml.Node) (*VariableMap, error) {
	vm := NewVariableMap()
	if node == nil || node.Kind != yaml.MappingNode {
		return vm, nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		val := node.Content[i+1]
		binding, err := parseVariableBinding(val)
		if err != nil {
			return nil, err
		}
		vm.Set(name, binding)
	}
	return vm, nil
}

func parseVariableBinding(val *yaml.Node) (*VariableBinding, error) {
	if val.Kind == yaml.MappingNode {
		spec, err := parseComputedFormula(val)
		if err != nil {
			return nil, err
		}
		return &VariableBinding{Computed: spec}, nil
	}
	lit, err := parseLiteral(val)
	if err != nil {
		return nil, err
	}
	return &VariableBinding{Literal: lit}, nil
}

func parseComputedFormula(node *yaml.Node) (*FormulaSpec, error) {
	spec := &FormulaSpec{Variables: NewVariableMap()}
	alternates := map[AlternateKey]*AlternateBranch{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "formula":
			spec.Expr = val.Value
		case "variables":
			vm, err := parseVariableMap(val)
			if err != nil {
				return nil, err
			}
			spec.Variables = vm
		case string(AltUnavailable), string(AltUnknown), string(AltNone):
			branch, err := parseAlternateBranch(val)
			if err != nil {
				return nil, err
			}
			alternates[AlternateKey(key)] = branch
		}
	}
	if len(alternates) > 0 {
		spec.Alternates = alternates
	}
	if spec.Expr == "" {
		return nil, errs.New(errs.KindSensorConfiguration, "computed variable has no formula")
	}
	return spec, nil
}

func parseAlternateBranch(val *yaml.Node) (*AlternateBranch, error) {
	switch val.Kind {
	case yaml.MappingNode:
		spec, err := parseComputedFormula(val)
		if err != nil {
			return nil, err
		}
		return &AlternateBranch{Formula: spec}, nil
	case yaml.ScalarNode:
		switch val.Tag {
		case "!!int", "!!float", "!!bool":
			lit, err := parseLiteral(val)
			if err != nil {
				return nil, err
			}
			return &AlternateBranch{Literal: lit}, nil
		default:
			// A bare string is formula text (spec §6): even a literal
			// like "0" parses validly as a NumberLit, so treating it
			// uniformly as a formula is semantically equivalent and
			// avoids a separate literal/formula ambiguity at this layer.
			return &AlternateBranch{Formula: &FormulaSpec{Expr: val.Value, Variables: NewVariableMap()}}, nil
		}
	}
	return nil, errs.New(errs.KindSensorConfiguration, "alternate branch must be a literal, string, or formula object")
}

func parseLiteral(val *yaml.Node) (*Literal, error) {
	switch val.Tag {
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(val.Value, 64)
		if err != nil {
			return nil, errs.New(errs.KindSensorConfiguration, "invalid numeric literal "+val.Value)
		}
		return &Literal{Kind: LiteralNumber, Raw: val.Value, Number: f}, nil
	case "!!bool":
		b, err := strconv.ParseBool(val.Value)
		if err != nil {
			return nil, errs.New(errs.KindSensorConfiguration, "invalid boolean literal "+val.Value)
		}
		return &Literal{Kind: LiteralBool, Raw: val.Value, Bool: b}, nil
	default:
		if LooksLikeEntityRef(val.Value) {
			return &Literal{Kind: LiteralEntity, Raw: val.Value}, nil
		}
		return &Literal{Kind: LiteralString, Raw: val.Value}, nil
	}
}

func parseStringMap(node *yaml.Node) (map[string]string, error) {
	out := map[string]string{}
	if node == nil || node.Kind != yaml.MappingNode {
		return out, nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		out[node.Content[i].Value] = node.Content[i+1].Value
	}
	return out, nil
}

// ExportYAML serializes a SensorSet back to the spec §6 schema. It is
// the inverse of ParseYAML closely enough to round-trip every field
// this package models (comments and formatting are not preserved).
func ExportYAML(set *SensorSet) ([]byte, error) {
	root := map[string]any{"version": set.Version}
	if set.Global.DeviceIdentifier != "" || set.Global.Variables.Len() > 0 || len(set.Global.Metadata) > 0 {
		gs := map[string]any{}
		if set.Global.DeviceIdentifier != "" {
			gs["device_identifier"] = set.Global.DeviceIdentifier
		}
		if set.Global.Variables.Len() > 0 {
			gs["variables"] = variableMapToYAML(set.Global.Variables)
		}
		if len(set.Global.Metadata) > 0 {
			gs["metadata"] = set.Global.Metadata
		}
		root["global_settings"] = gs
	}

	sensors := map[string]any{}
	for _, sensor := range set.Sensors {
		sensors[sensor.UniqueID] = sensorToYAML(sensor)
	}
	root["sensors"] = sensors

	return yaml.Marshal(root)
}

func sensorToYAML(sensor *Sensor) map[string]any {
	m := map[string]any{"formula": sensor.Main.Expr}
	if sensor.Name != "" {
		m["name"] = sensor.Name
	}
	if sensor.EntityID != "" {
		m["entity_id"] = sensor.EntityID
	}
	if sensor.DeviceID != "" {
		m["device_id"] = sensor.DeviceID
	}
	if sensor.Variables.Len() > 0 {
		m["variables"] = variableMapToYAML(sensor.Variables)
	}
	if len(sensor.Attributes) > 0 {
		attrs := map[string]any{}
		for _, a := range sensor.Attributes {
			am := map[string]any{"formula": a.Formula.Expr}
			if a.Formula.Variables.Len() > 0 {
				am["variables"] = variableMapToYAML(a.Formula.Variables)
			}
			if len(a.Metadata) > 0 {
				am["metadata"] = a.Metadata
			}
			addAlternatesToYAML(am, a.Formula.Alternates)
			attrs[a.Name] = am
		}
		m["attributes"] = attrs
	}
	if len(sensor.Metadata) > 0 {
		m["metadata"] = sensor.Metadata
	}
	addAlternatesToYAML(m, sensor.Main.Alternates)
	return m
}

func variableMapToYAML(vm *VariableMap) map[string]any {
	out := map[string]any{}
	for _, e := range vm.Entries() {
		out[e.Name] = bindingToYAML(e.Binding)
	}
	return out
}

func bindingToYAML(b *VariableBinding) any {
	if b.Literal != nil {
		return literalToYAML(b.Literal)
	}
	m := map[string]any{"formula": b.Computed.Expr}
	if b.Computed.Variables.Len() > 0 {
		m["variables"] = variableMapToYAML(b.Computed.Variables)
	}
	addAlternatesToYAML(m, b.Computed.Alternates)
	return m
}

func literalToYAML(l *Literal) any {
	switch l.Kind {
	case LiteralNumber:
		return l.Number
	case LiteralBool:
		return l.Bool
	default:
		return l.Raw
	}
}

func addAlternatesToYAML(m map[string]any, alternates map[AlternateKey]*AlternateBranch) {
	for _, key := range AllAlternateKeys {
		branch, ok := alternates[key]
		if !ok {
			continue
		}
		if branch.Literal != nil {
			m[string(key)] = literalToYAML(branch.Literal)
			continue
		}
		if branch.Formula.Variables.Len() == 0 && len(branch.Formula.Alternates) == 0 {
			m[string(key)] = branch.Formula.Expr
			continue
		}
		bm := map[string]any{"formula": branch.Formula.Expr}
		if branch.Formula.Variables.Len() > 0 {
			bm["variables"] = variableMapToYAML(branch.Formula.Variables)
		}
		addAlternatesToYAML(bm, branch.Formula.Alternates)
		m[string(key)] = bm
	}
}
