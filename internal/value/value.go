// Package value decodes the literal formats found in StarRocks profile dumps:
// composite durations ("7s854ms"), byte sizes ("2.174K (2174)", "12.768 GB"),
// grouped numbers, percentages and booleans.
package value

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrParseDuration = errors.New("invalid duration")
	ErrParseBytes    = errors.New("invalid byte size")
	ErrParseNumber   = errors.New("invalid number")
	ErrParseBool     = errors.New("invalid boolean")
)

var (
	// ms/us/ns must precede m/s: RE2 alternation is leftmost-first.
	durationRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ms|us|μs|µs|ns|h|m|s)`)
	bytesRe    = regexp.MustCompile(`^([\d,.]+)\s*(TB|GB|MB|KB|K|M|G|T|B)$`)
	parenRe    = regexp.MustCompile(`^[\d,.]+\s*(?:[KMGT]?B|[KMGT])?\s*\((\d+)\)`)
	numberRe   = regexp.MustCompile(`^([\d,.]+)`)
)

var unitNanos = map[string]float64{
	"h":  float64(time.Hour),
	"m":  float64(time.Minute),
	"s":  float64(time.Second),
	"ms": float64(time.Millisecond),
	"us": float64(time.Microsecond),
	"μs": float64(time.Microsecond),
	"µs": float64(time.Microsecond),
	"ns": 1,
}

var byteMultipliers = map[string]float64{
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
	"T":  1 << 40,
	"TB": 1 << 40,
}

// ParseDuration sums every <number><unit> component of s. The bare literal
// "0" is zero; text without any component is an error.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}
	matches := durationRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrParseDuration, s)
	}
	var total time.Duration
	for _, m := range matches {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrParseDuration, s, err)
		}
		// Components round to whole nanoseconds so "a"+"b" parses to a+b.
		ns := math.Round(n * unitNanos[m[2]])
		if ns >= float64(math.MaxInt64-total) {
			return 0, fmt.Errorf("%w: %q overflows", ErrParseDuration, s)
		}
		total += time.Duration(ns)
	}
	return total, nil
}

// ParseTimeMs is ParseDuration expressed in fractional milliseconds.
func ParseTimeMs(s string) (float64, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

// ParseBytes decodes a byte size. A parenthetical raw value always wins over
// the rounded display value.
func ParseBytes(s string) (uint64, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if m := parenRe.FindStringSubmatch(upper); m != nil {
		v, err := strconv.ParseUint(m[1], 10, 64)
		if err == nil {
			return v, nil
		}
	}
	if m := bytesRe.FindStringSubmatch(upper); m != nil {
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrParseBytes, s, err)
		}
		return uint64(math.Floor(n * byteMultipliers[m[2]])), nil
	}
	fields := strings.Fields(strings.ReplaceAll(upper, ",", ""))
	if len(fields) > 0 {
		if v, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrParseBytes, s)
}

// Number is the set of types ParseNumber can produce.
type Number interface {
	int | int8 | int16 | int32 | int64 | uint | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// ParseNumber decodes a grouped number such as "1,234" or "1.234M (1234567)".
func ParseNumber[T Number](s string) (T, error) {
	s = strings.TrimSpace(s)
	raw := ""
	if m := parenRe.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		raw = m[1]
	} else if m := numberRe.FindStringSubmatch(s); m != nil {
		raw = strings.ReplaceAll(m[1], ",", "")
	} else {
		return 0, fmt.Errorf("%w: %q", ErrParseNumber, s)
	}

	var zero T
	switch any(zero).(type) {
	case float32:
		return parseFloat[T](s, raw, 32)
	case float64:
		return parseFloat[T](s, raw, 64)
	case uint8:
		return parseUint[T](s, raw, 8)
	case uint16:
		return parseUint[T](s, raw, 16)
	case uint32:
		return parseUint[T](s, raw, 32)
	case uint, uint64:
		return parseUint[T](s, raw, 64)
	case int8:
		return parseInt[T](s, raw, 8)
	case int16:
		return parseInt[T](s, raw, 16)
	case int32:
		return parseInt[T](s, raw, 32)
	default:
		return parseInt[T](s, raw, 64)
	}
}

func parseFloat[T Number](s, raw string, bitSize int) (T, error) {
	f, err := strconv.ParseFloat(raw, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrParseNumber, s, err)
	}
	return T(f), nil
}

func parseUint[T Number](s, raw string, bitSize int) (T, error) {
	u, err := strconv.ParseUint(raw, 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrParseNumber, s, err)
	}
	return T(u), nil
}

func parseInt[T Number](s, raw string, bitSize int) (T, error) {
	i, err := strconv.ParseInt(raw, 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrParseNumber, s, err)
	}
	return T(i), nil
}

// ParsePercentage decodes "12.5%" or "12.5".
func ParsePercentage(s string) (float64, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrParseNumber, s)
	}
	return v, nil
}

func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrParseBool, s)
}

// FormatBytes renders b with a binary unit and two decimals, e.g. "1.50 GB".
func FormatBytes(b uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", size, units[i])
}

// FormatDuration renders d in the largest unit that keeps it readable.
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	case d >= time.Minute:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
	}
}
