package condition

import (
	"strconv"
	"strings"
)

// Resolve navigates a parsed JSON document using a dot-separated path.
// A segment may carry one bracketed index, e.g. "items[0].name".
//
// The boolean reports whether the path was found. A JSON null is found
// (nil, true); anything unreachable is (nil, false) and never an error.
func Resolve(doc any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	current := doc
	for _, segment := range splitPath(path) {
		name, index, indexed, ok := parseSegment(segment)
		if !ok {
			return nil, false
		}

		obj, isObj := current.(map[string]any)
		if !isObj {
			return nil, false
		}
		next, found := obj[name]
		if !found {
			return nil, false
		}

		if indexed {
			arr, isArr := next.([]any)
			if !isArr || index >= len(arr) {
				return nil, false
			}
			next = arr[index]
		}
		current = next
	}

	return current, true
}

// splitPath splits on dots, dropping trailing empty segments ("a.b." == "a.b").
func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	for len(parts) > 1 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// parseSegment splits "name[3]" into its field name and index.
// ok is false when the bracket content is not a non-negative integer.
func parseSegment(segment string) (name string, index int, indexed bool, ok bool) {
	open := strings.IndexByte(segment, '[')
	if open < 0 {
		return segment, 0, false, true
	}
	closing := strings.IndexByte(segment, ']')
	if closing <= open {
		// No well-formed bracket pair; the segment is a literal key.
		return segment, 0, false, true
	}

	idx, err := strconv.Atoi(segment[open+1 : closing])
	if err != nil || idx < 0 {
		return "", 0, false, false
	}
	return segment[:open], idx, true, true
}
