// internal/scenegraph/rules.go
package scenegraph

import "strings"

// Rule maps instruction keywords to a literal update inside one top-level
// scene section. AnyOf fires on any substring match, AllOf requires every
// substring; a rule with both requires both conditions.
type Rule struct {
	Name    string
	AnyOf   []string
	AllOf   []string
	Section string
	Set     map[string]any
}

// RuleGroup holds rules that are mutually exclusive: the first matching rule
// wins and the rest of the group is skipped. Groups evaluate independently
// of each other, in table order.
type RuleGroup struct {
	Name  string
	Rules []Rule
}

// RuleTranslation is the outcome of running the rule table over an
// instruction.
type RuleTranslation struct {
	UpdatedScene map[string]any // deep copy of the input with updates merged
	Sections     []string       // touched top-level sections, first-touch order
	Matched      []string       // names of the rules that fired
	Summary      string         // "Modified: camera, lighting" or "No changes"
	Confidence   float64        // 0.9 when any rule fired, 0.5 otherwise
}

// translationRules is the fixed rule table. Order is part of the contract:
// the zoom group sees "zoom out" before the wide group can, and "desaturate"
// contains "saturate", so those instructions resolve to the earlier rule.
var translationRules = []RuleGroup{
	{Name: "camera_framing", Rules: []Rule{
		{Name: "zoom_in", AnyOf: []string{"zoom", "closer", "tighter"}, Section: "camera", Set: map[string]any{"lens_mm": 100}},
		{Name: "zoom_out", AnyOf: []string{"wider", "pull back", "zoom out"}, Section: "camera", Set: map[string]any{"lens_mm": 35}},
		{Name: "tilt_down", AnyOf: []string{"angle", "tilt", "down"}, Section: "camera", Set: map[string]any{"tilt": -15}},
	}},
	{Name: "lighting_level", Rules: []Rule{
		{Name: "brighten", AnyOf: []string{"brighten", "increase light", "more light"}, Section: "lighting", Set: map[string]any{"key": map[string]any{"intensity": 0.95}}},
		{Name: "darken", AnyOf: []string{"darken", "decrease light", "less light"}, Section: "lighting", Set: map[string]any{"key": map[string]any{"intensity": 0.65}}},
	}},
	{Name: "color_temperature", Rules: []Rule{
		{Name: "warm", AnyOf: []string{"warm", "warmer"}, Section: "color", Set: map[string]any{"temperature": 75}},
		{Name: "cool", AnyOf: []string{"cool", "cooler", "cold"}, Section: "color", Set: map[string]any{"temperature": 30}},
	}},
	{Name: "saturation", Rules: []Rule{
		{Name: "saturate", AnyOf: []string{"saturate", "vivid", "vibrant", "saturated"}, Section: "color", Set: map[string]any{"saturation": 0.95}},
		{Name: "desaturate", AnyOf: []string{"desaturate", "muted", "less color"}, Section: "color", Set: map[string]any{"saturation": 0.4}},
	}},
	{Name: "contrast", Rules: []Rule{
		{Name: "contrast", AnyOf: []string{"contrast", "punchy", "crisp"}, Section: "color", Set: map[string]any{"contrast": 0.85}},
	}},
	{Name: "depth_of_field", Rules: []Rule{
		{Name: "shallow_focus", AnyOf: []string{"blur background", "shallow focus", "separation"}, Section: "camera", Set: map[string]any{"depth_of_field": 0.9}},
		{Name: "deep_focus", AnyOf: []string{"sharp", "deep focus"}, Section: "camera", Set: map[string]any{"depth_of_field": 0.2}},
	}},
	{Name: "lock_composition", Rules: []Rule{
		{Name: "lock_composition", AllOf: []string{"lock", "composition"}, Section: "constraints", Set: map[string]any{"lock_composition": true}},
	}},
	{Name: "lock_subject", Rules: []Rule{
		{Name: "lock_subject", AllOf: []string{"lock", "subject"}, Section: "constraints", Set: map[string]any{"lock_subject_identity": true}},
	}},
}

func (r Rule) matches(instruction string) bool {
	if len(r.AnyOf) > 0 {
		hit := false
		for _, kw := range r.AnyOf {
			if strings.Contains(instruction, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, kw := range r.AllOf {
		if !strings.Contains(instruction, kw) {
			return false
		}
	}
	return len(r.AnyOf) > 0 || len(r.AllOf) > 0
}

// TranslateWithRules runs the rule table over a natural-language instruction
// and merges the resulting updates into a deep copy of the scene. The merge
// is one level deep: section values merge key-wise, anything nested further
// (lighting.key for example) is replaced whole. The input scene is never
// mutated.
func TranslateWithRules(scene map[string]any, instruction string) RuleTranslation {
	instr := strings.ToLower(instruction)

	updates := make(map[string]map[string]any)
	var order []string
	var matched []string

	for _, group := range translationRules {
		for _, rule := range group.Rules {
			if !rule.matches(instr) {
				continue
			}
			section, ok := updates[rule.Section]
			if !ok {
				section = make(map[string]any)
				updates[rule.Section] = section
				order = append(order, rule.Section)
			}
			for k, v := range rule.Set {
				section[k] = CopyValue(v)
			}
			matched = append(matched, rule.Name)
			break
		}
	}

	result := CopyDocument(scene)
	for _, sectionName := range order {
		update := updates[sectionName]
		if existing, ok := result[sectionName].(map[string]any); ok {
			for k, v := range update {
				existing[k] = v
			}
		} else {
			result[sectionName] = update
		}
	}

	summary := "No changes"
	confidence := 0.5
	if len(order) > 0 {
		summary = "Modified: " + strings.Join(order, ", ")
		confidence = 0.9
	}

	return RuleTranslation{
		UpdatedScene: result,
		Sections:     order,
		Matched:      matched,
		Summary:      summary,
		Confidence:   confidence,
	}
}
