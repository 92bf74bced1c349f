// Package jsonpath navigates decoded JSON values (the
// null/bool/number/string/array/object sum type that
// encoding/json.Unmarshal produces into interface{}) using the dotted,
// bracket-indexed path syntax capability descriptors use for
// parameter_path ("mqtt.enable", "switch:0.in_mode",
// "valves[0].state"). No reflection is involved: callers already hold
// a decoded interface{} tree.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrMissing is returned (wrapped) when an intermediate or leaf
// segment of a path does not exist in the value being navigated.
type ErrMissing struct {
	Path    string
	Segment string
}

func (e *ErrMissing) Error() string {
	return fmt.Sprintf("path %q: segment %q not found", e.Path, e.Segment)
}

// segment is one parsed path element: a map key, optionally followed
// by one or more array indices ("valves[0]" -> key "valves", idx [0]).
type segment struct {
	key     string
	indices []int
}

func parse(path string) []segment {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	segments := make([]segment, 0, len(parts))
	for _, p := range parts {
		seg := segment{}
		key := p
		for {
			start := strings.IndexByte(key, '[')
			if start < 0 {
				break
			}
			end := strings.IndexByte(key[start:], ']')
			if end < 0 {
				break
			}
			end += start
			idx, err := strconv.Atoi(key[start+1 : end])
			if err == nil {
				seg.indices = append(seg.indices, idx)
			}
			key = key[:start] + key[end+1:]
		}
		seg.key = key
		segments = append(segments, seg)
	}
	return segments
}

// Get descends value along path and returns the leaf. A missing
// intermediate or leaf key yields *ErrMissing.
func Get(value interface{}, path string) (interface{}, error) {
	segments := parse(path)
	cur := value
	for _, seg := range segments {
		if seg.key != "" {
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil, &ErrMissing{Path: path, Segment: seg.key}
			}
			v, ok := m[seg.key]
			if !ok {
				return nil, &ErrMissing{Path: path, Segment: seg.key}
			}
			cur = v
		}
		for _, idx := range seg.indices {
			arr, ok := cur.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, &ErrMissing{Path: path, Segment: fmt.Sprintf("[%d]", idx)}
			}
			cur = arr[idx]
		}
	}
	return cur, nil
}

// Set descends value along path, creating intermediate maps as
// needed, and assigns leaf. value must be (or become) a
// map[string]interface{} tree; array segments require the array and
// the index to already exist (devices don't grow arrays from a
// config write).
func Set(value map[string]interface{}, path string, leaf interface{}) error {
	segments := parse(path)
	if len(segments) == 0 {
		return fmt.Errorf("jsonpath: empty path")
	}
	cur := value
	for i, seg := range segments {
		last := i == len(segments)-1
		if len(seg.indices) == 0 {
			if last {
				cur[seg.key] = leaf
				return nil
			}
			next, ok := cur[seg.key].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				cur[seg.key] = next
			}
			cur = next
			continue
		}
		// Segment addresses into an array; navigate to it first.
		rawArr, ok := cur[seg.key]
		if !ok {
			return &ErrMissing{Path: path, Segment: seg.key}
		}
		arr, ok := rawArr.([]interface{})
		if !ok {
			return &ErrMissing{Path: path, Segment: seg.key}
		}
		for j, idx := range seg.indices {
			if idx < 0 || idx >= len(arr) {
				return &ErrMissing{Path: path, Segment: fmt.Sprintf("[%d]", idx)}
			}
			lastIndex := last && j == len(seg.indices)-1
			if lastIndex {
				arr[idx] = leaf
				return nil
			}
			next, ok := arr[idx].(map[string]interface{})
			if !ok {
				return &ErrMissing{Path: path, Segment: fmt.Sprintf("[%d]", idx)}
			}
			cur = next
		}
	}
	return nil
}

// LastSegmentKey returns the final map-key component of path, used as
// the Gen1 query-string parameter name when a descriptor doesn't
// override it (e.g. "mqtt.enable" -> "enable").
func LastSegmentKey(path string) string {
	segments := parse(path)
	if len(segments) == 0 {
		return path
	}
	return segments[len(segments)-1].key
}
