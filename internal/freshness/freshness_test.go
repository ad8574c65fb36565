package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timestampPath = "details.data_latest.measurement.timestamp"

func withTimestamp(ts any) map[string]any {
	return map[string]any{
		"details": map[string]any{
			"data_latest": map[string]any{
				"measurement": map[string]any{"timestamp": ts},
			},
		},
	}
}

func TestExtract(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	testCases := []struct {
		name     string
		data     map[string]any
		path     string
		expected time.Time
		found    bool
	}{
		{
			name:     "RFC3339 with offset",
			data:     withTimestamp("2024-03-01T10:15:00+01:00"),
			path:     timestampPath,
			expected: time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC),
			found:    true,
		},
		{
			name:     "Fractional seconds and compact offset",
			data:     withTimestamp("2024-03-01T10:15:00.123+0100"),
			path:     timestampPath,
			expected: time.Date(2024, 3, 1, 9, 15, 0, 123000000, time.UTC),
			found:    true,
		},
		{
			name:     "Zone-less timestamp uses location",
			data:     withTimestamp("2024-03-01 10:15:00"),
			path:     timestampPath,
			expected: time.Date(2024, 3, 1, 10, 15, 0, 0, berlin),
			found:    true,
		},
		{
			name:     "Shallow path",
			data:     map[string]any{"installation_date": "2021-06-05T00:00:00.000Z"},
			path:     "installation_date",
			expected: time.Date(2021, 6, 5, 0, 0, 0, 0, time.UTC),
			found:    true,
		},
		{name: "Missing leaf", data: withTimestamp(nil), path: timestampPath},
		{name: "Numeric leaf", data: withTimestamp(1709284500), path: timestampPath},
		{name: "Empty string", data: withTimestamp(""), path: timestampPath},
		{name: "Garbage string", data: withTimestamp("yesterday-ish"), path: timestampPath},
		{name: "Intermediate is not a map", data: map[string]any{"details": []any{1, 2}}, path: timestampPath},
		{name: "Nil data", data: nil, path: timestampPath},
		{name: "Empty path", data: withTimestamp("2024-03-01T10:15:00Z"), path: ""},
		{name: "Path ends on a map", data: withTimestamp("2024-03-01T10:15:00Z"), path: "details.data_latest"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				got time.Time
				ok  bool
			)
			assert.NotPanics(t, func() { got, ok = Extract(tc.data, tc.path, berlin) })
			assert.Equal(t, tc.found, ok)
			if tc.found {
				assert.True(t, tc.expected.Equal(got), "expected %s, got %s", tc.expected, got)
			} else {
				assert.True(t, got.IsZero())
			}
		})
	}
}

func TestLookup(t *testing.T) {
	data := map[string]any{
		"data_latest": map[string]any{"daily_consumption": 12.5},
	}

	v, ok := Lookup[float64](data, "data_latest", "daily_consumption")
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)

	_, ok = Lookup[string](data, "data_latest", "daily_consumption")
	assert.False(t, ok, "type mismatch is reported as absent")

	_, ok = Lookup[any](data)
	assert.False(t, ok)
}
