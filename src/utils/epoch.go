package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EpochUnit is the resolution of an upstream integer timestamp.
type EpochUnit int

const (
	Seconds EpochUnit = iota
	Milliseconds
	Nanoseconds
)

// -----------------------------------------------------------------------------

// EpochToTime converts an integer epoch in unit to a UTC time.
func EpochToTime(v int64, unit EpochUnit) time.Time {
	switch unit {
	case Milliseconds:
		return time.UnixMilli(v).UTC()
	case Nanoseconds:
		return time.Unix(0, v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}

// -----------------------------------------------------------------------------

// TimeToEpoch is the inverse of EpochToTime.
func TimeToEpoch(t time.Time, unit EpochUnit) int64 {
	switch unit {
	case Milliseconds:
		return t.UnixMilli()
	case Nanoseconds:
		return t.UnixNano()
	default:
		return t.Unix()
	}
}

// -----------------------------------------------------------------------------

// ParseFractionalEpoch parses "1609459200.1234" style seconds without losing
// sub-microsecond digits to float rounding.
func ParseFractionalEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ".") {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return EpochToTime(sec, Seconds), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}, err
	}
	ns := d.Shift(9).Round(0).IntPart()
	return EpochToTime(ns, Nanoseconds), nil
}

// -----------------------------------------------------------------------------

// ParseDecimal parses an exchange decimal string into a float64.
func ParseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}
