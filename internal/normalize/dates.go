package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order against string-valued dates. Feature
// services emit epoch millis, Socrata floating ISO timestamps, and flat
// files whatever the clerk's spreadsheet produced.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
}

// ParseTimestamp converts a raw field value to a UTC timestamp. Returns nil
// for empty, zero, or unparseable values.
func ParseTimestamp(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.IsZero() {
			return nil
		}
		u := t.UTC()
		return &u
	case float64:
		return fromEpoch(int64(t))
	case int64:
		return fromEpoch(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return fromEpoch(n)
		}
		return parseDateString(t.String())
	case string:
		return parseDateString(t)
	default:
		return nil
	}
}

// fromEpoch interprets an integer as epoch milliseconds when it is too large
// to be epoch seconds (feature services use millis).
func fromEpoch(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	var t time.Time
	if n > 1e12 {
		t = time.UnixMilli(n).UTC()
	} else {
		t = time.Unix(n, 0).UTC()
	}
	return &t
}

func parseDateString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
