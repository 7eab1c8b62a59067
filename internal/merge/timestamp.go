package merge

import (
	"encoding/json"
	"time"
)

// timestampFields are the fields accepted as a recency signal, in
// preference order.
var timestampFields = []string{"updated_at", "created_at", "timestamp"}

// timestampLayouts are the string layouts a timestamp value may use.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// signalField returns the first preferred timestamp field that every one of
// the given mappings carries with a parseable value. The recency rule only
// applies when all competitors expose the same comparable signal.
func signalField(mappings []map[string]any) (string, bool) {
	for _, field := range timestampFields {
		ok := true
		for _, m := range mappings {
			v, present := m[field]
			if !present {
				ok = false
				break
			}
			if _, parsed := parseTimestamp(v); !parsed {
				ok = false
				break
			}
		}
		if ok && len(mappings) > 0 {
			return field, true
		}
	}
	return "", false
}

// parseTimestamp interprets a value as a point in time. Strings try the
// known layouts; numbers are Unix seconds (or milliseconds when the
// magnitude gives it away).
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	case float64:
		return epochTime(int64(t)), true
	case int64:
		return epochTime(t), true
	case int:
		return epochTime(int64(t)), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return epochTime(i), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// epochTime converts an epoch number to a time, treating values past the
// year 33658 in seconds as milliseconds.
func epochTime(n int64) time.Time {
	const millisThreshold = 1_000_000_000_000
	if n >= millisThreshold {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
