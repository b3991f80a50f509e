// internal/scenegraph/patch.go
package scenegraph

import (
	"fmt"
	"strings"
)

// Operation is a single RFC 6902 patch operation kept as a decoded JSON
// object. The map form preserves field presence, which Validate needs to
// distinguish a missing path from an empty one.
type Operation map[string]any

// Patch is an ordered sequence of operations.
type Patch []Operation

// The six RFC 6902 verbs.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
)

var validOps = map[string]bool{
	OpAdd:     true,
	OpRemove:  true,
	OpReplace: true,
	OpMove:    true,
	OpCopy:    true,
	OpTest:    true,
}

// Kind returns the operation verb, or "" when absent or not a string.
func (op Operation) Kind() string {
	s, _ := op["op"].(string)
	return s
}

// PatchFromMaps converts decoded JSON patch operations into a Patch.
func PatchFromMaps(ops []map[string]any) Patch {
	if len(ops) == 0 {
		return nil
	}
	patch := make(Patch, 0, len(ops))
	for _, op := range ops {
		patch = append(patch, Operation(op))
	}
	return patch
}

// Maps converts the patch back into plain JSON-shaped operations.
func (p Patch) Maps() []map[string]any {
	if len(p) == 0 {
		return nil
	}
	ops := make([]map[string]any, 0, len(p))
	for _, op := range p {
		ops = append(ops, map[string]any(op))
	}
	return ops
}

// ValidationError reports a structurally malformed patch operation. The
// index identifies the offending operation within the patch.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid patch operation %d: %s", e.Index, e.Reason)
}

// ApplyError reports a patch operation that could not be applied to the
// document. The whole application is abandoned when any operation fails.
type ApplyError struct {
	Index  int
	Op     string
	Path   string
	Reason string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("cannot apply operation %d (%s %s): %s", e.Index, e.Op, e.Path, e.Reason)
}

// Validate checks that every operation is structurally well-formed: an "op"
// field naming one of the six verbs and a string "path" field. Nothing is
// resolved against a document; a move without "from" passes here and fails
// at apply time.
func Validate(patch Patch) error {
	for i, op := range patch {
		if op == nil {
			return &ValidationError{Index: i, Reason: "operation is not an object"}
		}
		raw, ok := op["op"]
		if !ok {
			return &ValidationError{Index: i, Reason: "missing required field \"op\""}
		}
		kind, ok := raw.(string)
		if !ok || !validOps[kind] {
			return &ValidationError{Index: i, Reason: fmt.Sprintf("unknown op %v", raw)}
		}
		rawPath, ok := op["path"]
		if !ok {
			return &ValidationError{Index: i, Reason: "missing required field \"path\""}
		}
		if _, ok := rawPath.(string); !ok {
			return &ValidationError{Index: i, Reason: fmt.Sprintf("path must be a string, got %T", rawPath)}
		}
	}
	return nil
}

// Apply applies a patch to a deep copy of base and returns the result. The
// input document is never mutated. Operations apply strictly in order; the
// first failure aborts the whole patch. An empty patch returns a plain deep
// copy.
func Apply(base map[string]any, patch Patch) (map[string]any, error) {
	result := CopyDocument(base)
	if len(patch) == 0 {
		return result, nil
	}

	var root any = result
	for i, op := range patch {
		next, err := applyOne(root, i, op)
		if err != nil {
			return nil, err
		}
		root = next
	}

	doc, ok := root.(map[string]any)
	if !ok {
		return nil, &ApplyError{
			Index:  len(patch) - 1,
			Op:     patch[len(patch)-1].Kind(),
			Path:   "",
			Reason: fmt.Sprintf("document root must remain an object, got %T", root),
		}
	}
	return doc, nil
}

func applyOne(root any, index int, op Operation) (any, error) {
	kind := op.Kind()
	pathStr, ok := op["path"].(string)
	if !ok {
		return nil, &ApplyError{Index: index, Op: kind, Reason: "missing path"}
	}

	fail := func(reason string) (any, error) {
		return nil, &ApplyError{Index: index, Op: kind, Path: pathStr, Reason: reason}
	}

	ptr, err := parsePointer(pathStr)
	if err != nil {
		return fail(err.Error())
	}

	switch kind {
	case OpAdd:
		value, ok := op["value"]
		if !ok {
			return fail("missing value")
		}
		next, err := setAt(root, ptr, CopyValue(value), true)
		if err != nil {
			return fail(err.Error())
		}
		return next, nil

	case OpRemove:
		next, _, err := removeAt(root, ptr)
		if err != nil {
			return fail(err.Error())
		}
		return next, nil

	case OpReplace:
		value, ok := op["value"]
		if !ok {
			return fail("missing value")
		}
		next, err := setAt(root, ptr, CopyValue(value), false)
		if err != nil {
			return fail(err.Error())
		}
		return next, nil

	case OpMove:
		fromStr, ok := op["from"].(string)
		if !ok {
			return fail("missing from")
		}
		fromPtr, err := parsePointer(fromStr)
		if err != nil {
			return fail(err.Error())
		}
		if isProperPrefix(fromPtr, ptr) {
			return fail(fmt.Sprintf("cannot move %q into its own child %q", fromStr, pathStr))
		}
		next, moved, err := removeAt(root, fromPtr)
		if err != nil {
			return fail(err.Error())
		}
		next, err = setAt(next, ptr, moved, true)
		if err != nil {
			return fail(err.Error())
		}
		return next, nil

	case OpCopy:
		fromStr, ok := op["from"].(string)
		if !ok {
			return fail("missing from")
		}
		fromPtr, err := parsePointer(fromStr)
		if err != nil {
			return fail(err.Error())
		}
		value, err := getAt(root, fromPtr)
		if err != nil {
			return fail(err.Error())
		}
		next, err := setAt(root, ptr, CopyValue(value), true)
		if err != nil {
			return fail(err.Error())
		}
		return next, nil

	case OpTest:
		expected, ok := op["value"]
		if !ok {
			return fail("missing value")
		}
		actual, err := getAt(root, ptr)
		if err != nil {
			return fail(err.Error())
		}
		if !EqualValues(actual, expected) {
			return fail(fmt.Sprintf("test failed: %v != %v", actual, expected))
		}
		return root, nil

	default:
		return fail(fmt.Sprintf("unsupported op %q", kind))
	}
}

// Merge concatenates patches in order. No normalization or conflict
// resolution: application order is the contract.
func Merge(patches ...Patch) Patch {
	total := 0
	for _, p := range patches {
		total += len(p)
	}
	merged := make(Patch, 0, total)
	for _, p := range patches {
		merged = append(merged, p...)
	}
	return merged
}

// TopLevelKeys extracts the ordered, de-duplicated set of top-level document
// sections a patch touches ("/camera/lens_mm" yields "camera"). Paths
// without a leading slash are tolerated; empty segments are skipped.
func TopLevelKeys(patch Patch) []string {
	keys := make([]string, 0, len(patch))
	seen := make(map[string]bool, len(patch))
	for _, op := range patch {
		path, _ := op["path"].(string)
		if path == "" {
			continue
		}
		trimmed := strings.TrimPrefix(path, "/")
		key := trimmed
		if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
			key = trimmed[:idx]
		}
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
