package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Instant is the single temporal type used once data enters the core. The
// zero value is the "unknown date" sentinel; unknown instants order before
// every known instant.
type Instant struct {
	t     time.Time
	valid bool
}

// InstantOf wraps t. A zero time yields an unknown instant.
func InstantOf(t time.Time) Instant {
	if t.IsZero() {
		return Instant{}
	}
	return Instant{t: t.UTC(), valid: true}
}

// Time returns the instant in UTC and whether it is known.
func (i Instant) Time() (time.Time, bool) { return i.t, i.valid }

// Valid reports whether the instant is known.
func (i Instant) Valid() bool { return i.valid }

// IsZero reports whether the instant is unknown.
func (i Instant) IsZero() bool { return !i.valid }

// Before orders unknown instants first.
func (i Instant) Before(o Instant) bool {
	switch {
	case !i.valid && !o.valid:
		return false
	case !i.valid:
		return true
	case !o.valid:
		return false
	default:
		return i.t.Before(o.t)
	}
}

// Equal reports whether both instants are unknown or name the same moment.
func (i Instant) Equal(o Instant) bool {
	if i.valid != o.valid {
		return false
	}
	return !i.valid || i.t.Equal(o.t)
}

// String returns RFC 3339 with nanoseconds, or "" when unknown.
func (i Instant) String() string {
	if !i.valid {
		return ""
	}
	return i.t.Format(time.RFC3339Nano)
}

// MarshalJSON writes an RFC 3339 string, or null when unknown.
func (i Instant) MarshalJSON() ([]byte, error) {
	if !i.valid {
		return []byte("null"), nil
	}
	return json.Marshal(i.t.Format(time.RFC3339Nano))
}

// UnmarshalJSON runs the decoded value through NormalizeTimestamp. Malformed
// values become unknown instead of failing the enclosing document.
func (i *Instant) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		*i = Instant{}
		return nil
	}
	*i = NormalizeTimestamp(raw)
	return nil
}

// TimestampPair is the seconds+nanoseconds form emitted by document stores.
type TimestampPair struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp converts any supported date representation into an
// Instant: a seconds/nanoseconds pair (as struct or map, with or without
// leading underscores), a time.Time, an ISO-8601 string, or a number of
// epoch milliseconds. Anything else yields the unknown instant.
func NormalizeTimestamp(v any) Instant {
	switch val := v.(type) {
	case nil:
		return Instant{}
	case Instant:
		return val
	case *Instant:
		if val == nil {
			return Instant{}
		}
		return *val
	case time.Time:
		return InstantOf(val)
	case *time.Time:
		if val == nil {
			return Instant{}
		}
		return InstantOf(*val)
	case TimestampPair:
		return InstantOf(time.Unix(val.Seconds, val.Nanoseconds))
	case *TimestampPair:
		if val == nil {
			return Instant{}
		}
		return InstantOf(time.Unix(val.Seconds, val.Nanoseconds))
	case map[string]any:
		return fromPairMap(val)
	case string:
		return parseTimestampString(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Instant{}
		}
		return fromEpochMillis(f)
	case float64:
		return fromEpochMillis(val)
	case float32:
		return fromEpochMillis(float64(val))
	case int:
		return fromEpochMillis(float64(val))
	case int64:
		return fromEpochMillis(float64(val))
	case int32:
		return fromEpochMillis(float64(val))
	default:
		return Instant{}
	}
}

func fromPairMap(m map[string]any) Instant {
	secs, ok := pairField(m, "seconds", "_seconds")
	if !ok {
		return Instant{}
	}
	nanos, _ := pairField(m, "nanoseconds", "_nanoseconds")
	whole, frac := math.Modf(secs)
	return InstantOf(time.Unix(int64(whole), int64(frac*1e9)+int64(nanos)))
}

func pairField(m map[string]any, names ...string) (float64, bool) {
	for _, name := range names {
		raw, ok := m[name]
		if !ok {
			continue
		}
		switch n := raw.(type) {
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return 0, false
			}
			return f, true
		case float64:
			return n, true
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return 0, false
			}
			return f, true
		}
	}
	return 0, false
}

func parseTimestampString(s string) Instant {
	s = strings.TrimSpace(s)
	if s == "" {
		return Instant{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return InstantOf(t)
		}
	}
	return Instant{}
}

func fromEpochMillis(ms float64) Instant {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return Instant{}
	}
	return InstantOf(time.UnixMilli(int64(ms)))
}
