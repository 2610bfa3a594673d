package qbo

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coercions never fail. Unparsable input yields zero or nil so one bad field
// cannot abort a batch.

func Decimal(raw json.RawMessage) float64 {
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	if s == "" || s == "null" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func Int(raw json.RawMessage) int {
	f := Decimal(raw)
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0
	}
	return int(f)
}

// DecimalValue renders an amount for outbound payloads.
func DecimalValue(f float64) json.RawMessage {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		f = 0
	}
	return json.RawMessage(strconv.FormatFloat(f, 'f', -1, 64))
}

var dateLayouts = []string{"2006-01-02", time.RFC3339Nano, "2006-01-02T15:04:05"}

// Date parses a calendar date, tolerating full timestamps.
func Date(s string) *time.Time {
	return parseFirst(s, dateLayouts)
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05", "2006-01-02"}

func Timestamp(s string) *time.Time {
	return parseFirst(s, timestampLayouts)
}

func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func parseFirst(s string, layouts []string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// OptionalString returns nil for blank input.
func OptionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
