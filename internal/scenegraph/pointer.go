// internal/scenegraph/pointer.go
package scenegraph

import (
	"fmt"
	"strconv"
	"strings"
)

// pointer is a parsed RFC 6901 JSON Pointer: one decoded token per reference
// step. The empty pointer addresses the whole document.
type pointer []string

// parsePointer decodes an RFC 6901 pointer string. Escape order matters:
// "~1" becomes "/" before "~0" becomes "~".
func parsePointer(s string) (pointer, error) {
	if s == "" {
		return pointer{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("pointer %q must start with '/'", s)
	}
	parts := strings.Split(s[1:], "/")
	tokens := make(pointer, len(parts))
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		tokens[i] = part
	}
	return tokens, nil
}

// escapeToken encodes a single object key for use in a pointer string.
func escapeToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")
	return token
}

// isProperPrefix reports whether pointer a strictly contains pointer b's
// location, i.e. b addresses a descendant of a.
func isProperPrefix(a, b pointer) bool {
	if len(a) >= len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// arrayIndex parses an array reference token. allowEnd permits the index
// one past the last element (add semantics); "-" is handled by callers.
func arrayIndex(token string, length int, allowEnd bool) (int, error) {
	idx, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("%q is not an array index", token)
	}
	if idx < 0 {
		return 0, fmt.Errorf("array index %d is negative", idx)
	}
	limit := length
	if allowEnd {
		limit = length + 1
	}
	if idx >= limit {
		return 0, fmt.Errorf("array index %d out of range (length %d)", idx, length)
	}
	return idx, nil
}

// getAt resolves a pointer against a document tree and returns the value it
// addresses.
func getAt(node any, ptr pointer) (any, error) {
	for _, token := range ptr {
		switch t := node.(type) {
		case map[string]any:
			child, ok := t[token]
			if !ok {
				return nil, fmt.Errorf("key %q not found", token)
			}
			node = child
		case []any:
			idx, err := arrayIndex(token, len(t), false)
			if err != nil {
				return nil, err
			}
			node = t[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", node, token)
		}
	}
	return node, nil
}

// setAt writes value at the pointer location and returns the (possibly new)
// node. insert selects add semantics for arrays (shift right, "-" appends)
// versus replace semantics (target must exist). For objects add and replace
// differ only in whether the key must already exist.
func setAt(node any, ptr pointer, value any, insert bool) (any, error) {
	if len(ptr) == 0 {
		return value, nil
	}
	token := ptr[0]

	switch t := node.(type) {
	case map[string]any:
		if len(ptr) == 1 {
			if !insert {
				if _, ok := t[token]; !ok {
					return nil, fmt.Errorf("key %q not found", token)
				}
			}
			t[token] = value
			return t, nil
		}
		child, ok := t[token]
		if !ok {
			return nil, fmt.Errorf("key %q not found", token)
		}
		newChild, err := setAt(child, ptr[1:], value, insert)
		if err != nil {
			return nil, err
		}
		t[token] = newChild
		return t, nil

	case []any:
		if len(ptr) == 1 {
			if insert {
				if token == "-" {
					return append(t, value), nil
				}
				idx, err := arrayIndex(token, len(t), true)
				if err != nil {
					return nil, err
				}
				out := make([]any, 0, len(t)+1)
				out = append(out, t[:idx]...)
				out = append(out, value)
				out = append(out, t[idx:]...)
				return out, nil
			}
			idx, err := arrayIndex(token, len(t), false)
			if err != nil {
				return nil, err
			}
			t[idx] = value
			return t, nil
		}
		idx, err := arrayIndex(token, len(t), false)
		if err != nil {
			return nil, err
		}
		newChild, err := setAt(t[idx], ptr[1:], value, insert)
		if err != nil {
			return nil, err
		}
		t[idx] = newChild
		return t, nil

	default:
		return nil, fmt.Errorf("cannot descend into %T at %q", node, token)
	}
}

// removeAt deletes the value at the pointer location, returning the updated
// node and the removed value.
func removeAt(node any, ptr pointer) (any, any, error) {
	if len(ptr) == 0 {
		return nil, nil, fmt.Errorf("cannot remove the entire document")
	}
	token := ptr[0]

	switch t := node.(type) {
	case map[string]any:
		child, ok := t[token]
		if !ok {
			return nil, nil, fmt.Errorf("key %q not found", token)
		}
		if len(ptr) == 1 {
			delete(t, token)
			return t, child, nil
		}
		newChild, removed, err := removeAt(child, ptr[1:])
		if err != nil {
			return nil, nil, err
		}
		t[token] = newChild
		return t, removed, nil

	case []any:
		idx, err := arrayIndex(token, len(t), false)
		if err != nil {
			return nil, nil, err
		}
		if len(ptr) == 1 {
			removed := t[idx]
			out := make([]any, 0, len(t)-1)
			out = append(out, t[:idx]...)
			out = append(out, t[idx+1:]...)
			return out, removed, nil
		}
		newChild, removed, err := removeAt(t[idx], ptr[1:])
		if err != nil {
			return nil, nil, err
		}
		t[idx] = newChild
		return t, removed, nil

	default:
		return nil, nil, fmt.Errorf("cannot descend into %T at %q", node, token)
	}
}
