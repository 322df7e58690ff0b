package scenario

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldMode selects how Load treats fields the schema doesn't recognize,
// per spec.md §6.7.
type FieldMode int

const (
	// Lenient warns (via the returned warnings slice) but still loads.
	Lenient FieldMode = iota
	// Strict rejects the scenario outright.
	Strict
)

var scenarioFields = map[string]bool{
	"name": true, "description": true, "host_uri": true, "domain": true,
	"labels": true, "steps": true,
}

var stepFields = map[string]bool{
	"name": true, "action": true, "params": true, "verify": true, "timeout": true,
}

// LoadYAML parses a YAML scenario document. yaml.v3's Decoder has no
// built-in KnownFields equivalent (that's a v2-only API), so unknown-field
// detection is done with a raw yaml.Node pass over the document before the
// typed Unmarshal, the usual fallback when a library doesn't expose the
// exact knob needed.
func LoadYAML(raw []byte, mode FieldMode) (Scenario, []string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return Scenario{}, nil, fmt.Errorf("scenario: parse yaml: %w", err)
	}

	var warnings []string
	if len(node.Content) > 0 {
		warnings = checkUnknownFields(node.Content[0])
	}
	if mode == Strict && len(warnings) > 0 {
		return Scenario{}, warnings, fmt.Errorf("scenario: unknown fields rejected in strict mode: %s", strings.Join(warnings, "; "))
	}

	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Scenario{}, warnings, fmt.Errorf("scenario: decode yaml: %w", err)
	}
	return s, warnings, nil
}

// checkUnknownFields walks the top-level mapping node and each entry of its
// "steps" sequence, collecting human-readable warnings for keys absent
// from scenarioFields/stepFields.
func checkUnknownFields(doc *yaml.Node) []string {
	var warnings []string
	if doc.Kind != yaml.MappingNode {
		return warnings
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		if !scenarioFields[key] {
			warnings = append(warnings, fmt.Sprintf("unknown scenario field %q", key))
			continue
		}
		if key == "steps" {
			stepsNode := doc.Content[i+1]
			if stepsNode.Kind != yaml.SequenceNode {
				continue
			}
			for idx, stepNode := range stepsNode.Content {
				warnings = append(warnings, checkStepFields(idx, stepNode)...)
			}
		}
	}
	return warnings
}

func checkStepFields(idx int, stepNode *yaml.Node) []string {
	var warnings []string
	if stepNode.Kind != yaml.MappingNode {
		return warnings
	}
	for i := 0; i+1 < len(stepNode.Content); i += 2 {
		key := stepNode.Content[i].Value
		if !stepFields[key] {
			warnings = append(warnings, fmt.Sprintf("unknown field %q in step %d", key, idx))
		}
	}
	return warnings
}

// LoadJSON parses a JSON scenario document. json.Decoder.DisallowUnknownFields
// gives strict mode for free; lenient mode decodes twice (once strict to
// collect warnings, once permissively) so callers always get a result.
func LoadJSON(raw []byte, mode FieldMode) (Scenario, []string, error) {
	var s Scenario
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	strictErr := dec.Decode(&s)

	if strictErr == nil {
		return s, nil, nil
	}
	if mode == Strict {
		return Scenario{}, nil, fmt.Errorf("scenario: unknown fields rejected in strict mode: %w", strictErr)
	}

	if err := json.Unmarshal(raw, &s); err != nil {
		return Scenario{}, nil, fmt.Errorf("scenario: decode json: %w", err)
	}
	return s, []string{strictErr.Error()}, nil
}
