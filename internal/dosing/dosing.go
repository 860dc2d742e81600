// Package dosing classifies dosing records as active or historical from their
// start time and lasting-time expression. It is pure: every call site that
// asks "is this course still running" goes through Classify so the answer is
// the same for the current-medication view, usage lookups and deletion gates.
package dosing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LongTerm is the lasting-time token for an indefinite course.
const LongTerm = "长期"

const daySuffix = "天"

// Duration is the decoded form of a lasting-time expression: either an
// indefinite course or a fixed number of days.
type Duration struct {
	Indefinite bool
	Days       int
}

// ParseLasting decodes a lasting-time expression. Valid forms are the literal
// "长期" and "<N>天" with positive integer N.
func ParseLasting(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == LongTerm {
		return Duration{Indefinite: true}, nil
	}
	if !strings.HasSuffix(s, daySuffix) {
		return Duration{}, fmt.Errorf("lasting time %q is not %q or a day count", s, LongTerm)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, daySuffix))
	if err != nil {
		return Duration{}, fmt.Errorf("lasting time %q has a non-numeric day count", s)
	}
	if n <= 0 {
		return Duration{}, fmt.Errorf("lasting time %q must cover at least one day", s)
	}
	return Duration{Days: n}, nil
}

// Status is the outcome of classifying a dosing record at a reference instant.
type Status int

const (
	// StatusUnknown means the record could not be classified: missing start
	// time or an unparsable lasting time. Call sites decide the policy.
	StatusUnknown Status = iota
	StatusActive
	StatusHistorical
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusHistorical:
		return "historical"
	default:
		return "unknown"
	}
}

// Classify reports whether a course that started at start with the given
// lasting time is still running at now. A long-term course is active
// unconditionally, even without a start time.
func Classify(start time.Time, lasting string, now time.Time) Status {
	d, err := ParseLasting(lasting)
	if err == nil && d.Indefinite {
		return StatusActive
	}
	if err != nil || start.IsZero() {
		return StatusUnknown
	}
	if start.AddDate(0, 0, d.Days).Before(now) {
		return StatusHistorical
	}
	return StatusActive
}

// ActiveFailOpen treats unclassifiable records as active. Used for the
// current-medication view and every safety gate, so a malformed record is
// never silently hidden from an active-medication check.
func ActiveFailOpen(start time.Time, lasting string, now time.Time) bool {
	return Classify(start, lasting, now) != StatusHistorical
}

// HistoricalFailClosed treats unclassifiable records as not historical, so the
// history view never shows a course it cannot prove has ended.
func HistoricalFailClosed(start time.Time, lasting string, now time.Time) bool {
	return Classify(start, lasting, now) == StatusHistorical
}

// EndTime materializes the course end. It is only defined for a parsable day
// count with a known start; long-term and unclassifiable courses have no end.
func EndTime(start time.Time, lasting string) (time.Time, bool) {
	d, err := ParseLasting(lasting)
	if err != nil || d.Indefinite || start.IsZero() {
		return time.Time{}, false
	}
	return start.AddDate(0, 0, d.Days), true
}
