// Package timeparsing turns the time expressions accepted by CLI flags into
// instants and ages. Expressions are tried in layers:
//  1. Compact duration (+6h, -1d, 2w)
//  2. Go duration (36h, 90m)
//  3. Natural language (yesterday, 3 days ago)
//  4. Absolute date or RFC3339 timestamp
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactDurationRe matches [+-]?(\d+)([hdwmy]).
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

var nlp = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseCompactDuration applies a compact duration to now. Units are h, d,
// w, m (months) and y. No sign means positive.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	m := compactDurationRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", m[2])
	}
	if m[1] == "-" {
		n = -n
	}
	switch m[3] {
	case "h":
		return now.Add(time.Duration(n) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, n), nil
	case "w":
		return now.AddDate(0, 0, 7*n), nil
	case "m":
		return now.AddDate(0, n, 0), nil
	default:
		return now.AddDate(n, 0, 0), nil
	}
}

// IsCompactDuration reports whether s uses compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

// ParseNaturalLanguage resolves expressions like "yesterday" or
// "3 days ago" relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := nlp.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time expression: %q", s)
	}
	return r.Time, nil
}

// ParseRelativeTime resolves s to an instant, trying compact durations,
// natural language, then absolute dates.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	return ParseNaturalLanguage(s, now)
}

// ParseAge parses an --older-than value into a positive age. Durations
// ("7d", "36h") are magnitudes regardless of sign; anything else names a
// point in the past and the age is the time elapsed since it.
func ParseAge(s string, now time.Time) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if IsCompactDuration(s) {
		t, err := ParseCompactDuration(strings.TrimLeft(s, "+-"), now)
		if err != nil {
			return 0, err
		}
		return t.Sub(now), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			d = -d
		}
		return d, nil
	}
	t, err := ParseRelativeTime(s, now)
	if err != nil {
		return 0, err
	}
	if t.After(now) {
		return 0, fmt.Errorf("%q is in the future", s)
	}
	return now.Sub(t), nil
}
