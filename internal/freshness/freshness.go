// Package freshness reads measurement timestamps out of loosely structured API
// responses so that newer device data can be told apart from stale data.
package freshness

import (
	"strings"
	"time"
)

// Layouts tried in order. Zone-less layouts are interpreted in the caller's location.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	}
)

// Lookup walks nested maps along keys and returns the value at the end of the path
// when it has type V.
func Lookup[V any](m map[string]any, keys ...string) (V, bool) {
	var zero V
	if m == nil || len(keys) == 0 {
		return zero, false
	}

	var current any = m
	for _, key := range keys {
		currentMap, ok := current.(map[string]any)
		if !ok {
			return zero, false
		}
		current, ok = currentMap[key]
		if !ok {
			return zero, false
		}
	}

	value, ok := current.(V)
	return value, ok
}

// Extract returns the instant stored at the dotted path, e.g.
// "details.data_latest.measurement.timestamp". A missing path or a value that is not a
// well-formed timestamp string yields false.
func Extract(data map[string]any, path string, loc *time.Location) (time.Time, bool) {
	if path == "" {
		return time.Time{}, false
	}
	raw, ok := Lookup[string](data, strings.Split(path, ".")...)
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(raw, loc)
}

// ParseTimestamp parses the ISO 8601 variants the appliances report.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
