package qbo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecimal(t *testing.T) {
	cases := map[string]float64{
		`125.50`:   125.5,
		`"99.99"`:  99.99,
		`-3`:       -3,
		`""`:       0,
		`null`:     0,
		`"abc"`:    0,
		`{"x":1}`:  0,
		`"NaN"`:    0,
		`" 12.5 "`: 12.5,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Decimal(json.RawMessage(raw)), raw)
	}
	assert.Equal(t, float64(0), Decimal(nil))
}

func TestInt(t *testing.T) {
	assert.Equal(t, 3, Int(json.RawMessage(`3`)))
	assert.Equal(t, 2, Int(json.RawMessage(`"2.0"`)))
	assert.Equal(t, 0, Int(json.RawMessage(`"two"`)))
	assert.Equal(t, 0, Int(json.RawMessage(`1e20`)))
}

func TestDate(t *testing.T) {
	d := Date("2024-02-29")
	if assert.NotNil(t, d) {
		assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), *d)
	}
	assert.NotNil(t, Date("2024-02-29T10:00:00-08:00"))
	assert.Nil(t, Date("29/02/2024"))
	assert.Nil(t, Date(""))
}

func TestTimestamp(t *testing.T) {
	ts := Timestamp("2024-03-01T10:00:00-08:00")
	if assert.NotNil(t, ts) {
		assert.True(t, ts.Equal(time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)))
	}
	assert.NotNil(t, Timestamp("2024-03-01T10:00:00.123Z"))
	assert.Nil(t, Timestamp("yesterday"))
}

func TestDecimalValue(t *testing.T) {
	assert.Equal(t, json.RawMessage("12.5"), DecimalValue(12.5))
	assert.Equal(t, json.RawMessage("0"), DecimalValue(0))
}

func TestOptionalString(t *testing.T) {
	assert.Nil(t, OptionalString("  "))
	if s := OptionalString(" x "); assert.NotNil(t, s) {
		assert.Equal(t, "x", *s)
	}
}
