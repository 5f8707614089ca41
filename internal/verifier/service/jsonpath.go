package service

import (
	"fmt"
	"strconv"
	"strings"

	dErrors "vcrelay/pkg/domain-errors"
)

// selectToken walks a decoded JSON document along a dotted path of the form
// "$.a.b[0].c". The descriptor map inside a presentation submission uses this
// notation to point at the presentation token, so only object keys and array
// indexes are supported; filters and wildcards are not.
func selectToken(root any, path string) (any, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(path), "$")
	trimmed = strings.TrimPrefix(trimmed, ".")
	if trimmed == "" {
		return root, nil
	}

	current := root
	for _, segment := range strings.Split(trimmed, ".") {
		key, indexes, err := splitSegment(segment)
		if err != nil {
			return nil, err
		}

		if key != "" {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("path %q: %q is not an object", path, segment))
			}
			current, ok = obj[key]
			if !ok {
				return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("path %q: key %q not found", path, key))
			}
		}

		for _, index := range indexes {
			arr, ok := current.([]any)
			if !ok {
				return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("path %q: %q is not an array", path, segment))
			}
			if index < 0 || index >= len(arr) {
				return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("path %q: index %d out of range", path, index))
			}
			current = arr[index]
		}
	}
	return current, nil
}

// selectString is selectToken for leaf values that must be strings.
func selectString(root any, path string) (string, error) {
	value, err := selectToken(root, path)
	if err != nil {
		return "", err
	}
	str, ok := value.(string)
	if !ok {
		return "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("path %q: value is not a string", path))
	}
	return str, nil
}

// splitSegment separates "key[1][2]" into the key and its indexes.
func splitSegment(segment string) (string, []int, error) {
	open := strings.Index(segment, "[")
	if open < 0 {
		return segment, nil, nil
	}

	key := segment[:open]
	var indexes []int
	rest := segment[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("malformed path segment %q", segment))
		}
		end := strings.Index(rest, "]")
		if end < 0 {
			return "", nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("malformed path segment %q", segment))
		}
		index, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("malformed path segment %q", segment))
		}
		indexes = append(indexes, index)
		rest = rest[end+1:]
	}
	return key, indexes, nil
}
