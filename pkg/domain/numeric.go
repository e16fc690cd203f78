package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Numeric holds a number as the user typed it. Form inputs arrive as text and
// older documents store plain JSON numbers; both decode to the same value.
type Numeric string

// Num formats a float as Numeric without trailing zeros.
func Num(f float64) Numeric {
	return Numeric(strconv.FormatFloat(f, 'f', -1, 64))
}

// UnmarshalJSON accepts a string, a number, or null.
func (n *Numeric) UnmarshalJSON(b []byte) error {
	s, err := flexString(b)
	if err != nil {
		return err
	}
	*n = Numeric(s)
	return nil
}

// Int parses a leading base-10 integer (missing or invalid yields 0).
func (n Numeric) Int() int {
	return ParseCount(string(n))
}

// Float parses a leading decimal number (missing or invalid yields 0).
func (n Numeric) Float() float64 {
	return ParseAmount(string(n))
}

// FlexID is an identifier that may have been stored as a number.
type FlexID string

// UnmarshalJSON accepts a string, a number, or null.
func (id *FlexID) UnmarshalJSON(b []byte) error {
	s, err := flexString(b)
	if err != nil {
		return err
	}
	*id = FlexID(s)
	return nil
}

func flexString(b []byte) (string, error) {
	trimmed := bytes.TrimSpace(b)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return "", nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case bytes.Equal(trimmed, []byte("true")), bytes.Equal(trimmed, []byte("false")):
		return "", nil
	default:
		var num json.Number
		if err := json.Unmarshal(trimmed, &num); err != nil {
			return "", fmt.Errorf("numeric: %w", err)
		}
		return num.String(), nil
	}
}

// ParseCount mirrors parseInt(s, 10): leading whitespace, an optional sign and
// the longest run of digits. Anything unparsable is 0; values beyond the int
// range clamp to its bounds.
func ParseCount(s string) int {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0
	}
	// ParseInt saturates on ErrRange; the digits are already validated.
	v, _ := strconv.ParseInt(s[:end], 10, 0)
	return int(v)
}

// ParseAmount mirrors parseFloat(s): the longest decimal prefix after leading
// whitespace. Anything unparsable, NaN or infinite is 0.
func ParseAmount(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	intStart := end
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	digits := end - intStart
	if end < len(s) && s[end] == '.' {
		fracStart := end + 1
		fracEnd := fracStart
		for fracEnd < len(s) && isDigit(s[fracEnd]) {
			fracEnd++
		}
		if digits > 0 || fracEnd > fracStart {
			digits += fracEnd - fracStart
			end = fracEnd
		}
	}
	if digits == 0 {
		return 0
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		expEnd := end + 1
		if expEnd < len(s) && (s[expEnd] == '+' || s[expEnd] == '-') {
			expEnd++
		}
		expDigits := expEnd
		for expEnd < len(s) && isDigit(s[expEnd]) {
			expEnd++
		}
		if expEnd > expDigits {
			end = expEnd
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// FormatAmount renders a weight or value with two decimals.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
