// internal/scenegraph/drift.go
package scenegraph

import (
	"sort"
	"strconv"
	"strings"
)

// ImpactSummary describes everything that changed between two scene
// documents, bucketed by the domains the studio cares about.
type ImpactSummary struct {
	DriftScore         float64               `json:"drift_score"`
	TotalChanges       int                   `json:"total_changes"`
	ModifiedKeys       []string              `json:"modified_keys"`
	NumericDifferences map[string][2]float64 `json:"numeric_differences"`
	ChangesByDomain    map[string][]string   `json:"changes_by_domain"`
	Summary            string                `json:"summary"`
}

// BoundedDriftResult reports drift together with numeric bound checks.
type BoundedDriftResult struct {
	DriftScore      float64  `json:"drift_score"`
	BoundViolations []string `json:"bound_violations"`
	IsValid         bool     `json:"is_valid"`
}

// Constraint lock messages. Locks are read from the original document's
// constraints section.
const (
	violationSubject     = "Subject identity was locked but was modified"
	violationComposition = "Composition was locked but camera settings changed"
	violationPalette     = "Palette was locked but was modified"
)

// ModifiedKeys returns the dotted paths of every changed key between two
// documents. Recursion only happens where both sides hold objects; a key
// present on one side only counts once at its own level. A missing key and
// an explicit null compare equal. Output is sorted.
func ModifiedKeys(original, modified map[string]any) []string {
	keys := collectModified(original, modified)
	sort.Strings(keys)
	return keys
}

func collectModified(original, modified map[string]any) []string {
	var out []string
	for _, key := range unionKeys(original, modified) {
		origVal := original[key]
		modVal := modified[key]
		if EqualValues(origVal, modVal) {
			continue
		}

		origMap, origIsMap := origVal.(map[string]any)
		modMap, modIsMap := modVal.(map[string]any)
		if origIsMap && modIsMap {
			for _, sub := range collectModified(origMap, modMap) {
				out = append(out, key+"."+sub)
			}
		} else {
			out = append(out, key)
		}
	}
	return out
}

// allKeyPaths returns every dotted key path in the document, nested objects
// included.
func allKeyPaths(doc map[string]any, prefix string) []string {
	var out []string
	for key, value := range doc {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		out = append(out, full)
		if nested, ok := value.(map[string]any); ok {
			out = append(out, allKeyPaths(nested, full)...)
		}
	}
	return out
}

// DriftScore scores how far modified has drifted from original: the number
// of modified key paths over the union of all key paths on both sides,
// clamped to [0, 1]. Identical documents score 0.
func DriftScore(original, modified map[string]any) float64 {
	if EqualValues(original, modified) {
		return 0.0
	}

	changed := collectModified(original, modified)
	if len(changed) == 0 {
		return 0.0
	}

	union := make(map[string]struct{})
	for _, k := range allKeyPaths(original, "") {
		union[k] = struct{}{}
	}
	for _, k := range allKeyPaths(modified, "") {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0.0
	}

	score := float64(len(changed)) / float64(len(union))
	if score > 1.0 {
		return 1.0
	}
	return score
}

// NumericDifferences collects every numeric value that changed, keyed by
// slash-joined path (no leading slash) and mapped to [old, new]. Recursion
// only descends where both sides are objects; int and float values of equal
// magnitude are not differences.
func NumericDifferences(original, modified map[string]any) map[string][2]float64 {
	diffs := make(map[string][2]float64)
	compareNumeric(original, modified, "", diffs)
	return diffs
}

func compareNumeric(orig, mod map[string]any, path string, diffs map[string][2]float64) {
	for _, key := range unionKeys(orig, mod) {
		childPath := key
		if path != "" {
			childPath = path + "/" + key
		}
		origVal := orig[key]
		modVal := mod[key]

		if on, ok := numberOf(origVal); ok {
			if mn, ok := numberOf(modVal); ok {
				if on != mn {
					diffs[childPath] = [2]float64{on, mn}
				}
				continue
			}
		}

		origMap, origIsMap := origVal.(map[string]any)
		modMap, modIsMap := modVal.(map[string]any)
		if origIsMap && modIsMap {
			compareNumeric(origMap, modMap, childPath, diffs)
		}
	}
}

// Impact builds the combined change report between two documents.
func Impact(original, modified map[string]any) ImpactSummary {
	changed := ModifiedKeys(original, modified)

	byDomain := map[string][]string{
		"camera":      {},
		"lighting":    {},
		"color":       {},
		"constraints": {},
		"other":       {},
	}
	for _, key := range changed {
		switch {
		case strings.HasPrefix(key, "camera"):
			byDomain["camera"] = append(byDomain["camera"], key)
		case strings.HasPrefix(key, "lighting"):
			byDomain["lighting"] = append(byDomain["lighting"], key)
		case strings.HasPrefix(key, "color"):
			byDomain["color"] = append(byDomain["color"], key)
		case strings.HasPrefix(key, "constraint"):
			byDomain["constraints"] = append(byDomain["constraints"], key)
		default:
			byDomain["other"] = append(byDomain["other"], key)
		}
	}

	summary := "No changes detected"
	if len(changed) > 0 {
		summary = "Modified " + strconv.Itoa(len(byDomain["camera"])) + " camera settings, " +
			strconv.Itoa(len(byDomain["lighting"])) + " lighting settings, " +
			strconv.Itoa(len(byDomain["color"])) + " color settings"
	}

	return ImpactSummary{
		DriftScore:         DriftScore(original, modified),
		TotalChanges:       len(changed),
		ModifiedKeys:       changed,
		NumericDifferences: NumericDifferences(original, modified),
		ChangesByDomain:    byDomain,
		Summary:            summary,
	}
}

// ConstraintViolations checks the lock flags in the original document's
// constraints section against what actually changed.
func ConstraintViolations(original, modified map[string]any) []string {
	violations := []string{}

	constraints, _ := original["constraints"].(map[string]any)
	locked := func(name string) bool {
		v, _ := constraints[name].(bool)
		return v
	}

	if locked("lock_subject_identity") {
		if !EqualValues(original["subject"], modified["subject"]) {
			violations = append(violations, violationSubject)
		}
	}

	if locked("lock_composition") {
		if !EqualValues(original["camera"], modified["camera"]) {
			violations = append(violations, violationComposition)
		}
	}

	if locked("lock_palette") {
		origColor, _ := original["color"].(map[string]any)
		modColor, _ := modified["color"].(map[string]any)
		if !EqualValues(origColor["palette"], modColor["palette"]) {
			violations = append(violations, violationPalette)
		}
	}

	return violations
}

// BoundedDrift scores drift and flags numeric values that moved outside
// their allowed [min, max] range. Bounds are keyed by the same slash paths
// NumericDifferences produces; values that did not change are not checked.
func BoundedDrift(original, modified map[string]any, bounds map[string][2]float64) BoundedDriftResult {
	violations := []string{}

	if len(bounds) > 0 {
		diffs := NumericDifferences(original, modified)
		paths := make([]string, 0, len(diffs))
		for p := range diffs {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		for _, p := range paths {
			limit, ok := bounds[p]
			if !ok {
				continue
			}
			newVal := diffs[p][1]
			if newVal < limit[0] || newVal > limit[1] {
				violations = append(violations,
					p+" value "+formatNumber(newVal)+" violates bounds ["+
						formatNumber(limit[0])+", "+formatNumber(limit[1])+"]")
			}
		}
	}

	return BoundedDriftResult{
		DriftScore:      DriftScore(original, modified),
		BoundViolations: violations,
		IsValid:         len(violations) == 0,
	}
}

// formatNumber renders a float without trailing zeros (400 rather than
// 400.000000).
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
