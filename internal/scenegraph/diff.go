// internal/scenegraph/diff.go
package scenegraph

import "strconv"

// Generate produces an RFC 6902 patch transforming original into modified.
//
// Diff rules: recurse into keys present on both sides when both values are
// objects; keys only in original become remove, keys only in modified become
// add; scalar or type mismatches become replace. Arrays of equal length are
// diffed per index (recursively); a length change replaces the whole array.
// Traversal is key-sorted, so output is deterministic. Applying the result
// to original always reproduces modified.
func Generate(original, modified map[string]any) Patch {
	return diffObjects("", original, modified)
}

func diffObjects(prefix string, a, b map[string]any) Patch {
	var ops Patch
	for _, key := range unionKeys(a, b) {
		path := prefix + "/" + escapeToken(key)
		av, inA := a[key]
		bv, inB := b[key]

		switch {
		case inA && !inB:
			ops = append(ops, Operation{"op": OpRemove, "path": path})
		case !inA && inB:
			ops = append(ops, Operation{"op": OpAdd, "path": path, "value": CopyValue(bv)})
		case !EqualValues(av, bv):
			ops = append(ops, diffValues(path, av, bv)...)
		}
	}
	return ops
}

// diffValues handles a single path where the two sides are known to differ.
func diffValues(path string, a, b any) Patch {
	if am, ok := a.(map[string]any); ok {
		if bm, ok := b.(map[string]any); ok {
			return diffObjects(path, am, bm)
		}
	}

	if as, ok := a.([]any); ok {
		if bs, ok := b.([]any); ok && len(as) == len(bs) {
			var ops Patch
			for i := range as {
				if !EqualValues(as[i], bs[i]) {
					ops = append(ops, diffValues(path+"/"+strconv.Itoa(i), as[i], bs[i])...)
				}
			}
			return ops
		}
	}

	return Patch{Operation{"op": OpReplace, "path": path, "value": CopyValue(b)}}
}
