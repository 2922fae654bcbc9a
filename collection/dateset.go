package collection

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// IsCalendarDate reports whether s is a valid YYYY-MM-DD calendar date.
func IsCalendarDate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// DateFromKey extracts a calendar date from the trailing path segment of a
// remote key. Keys whose final segment carries no valid YYYY-MM-DD substring
// contribute nothing to a rebuild and return ok=false.
func DateFromKey(key string) (string, bool) {
	segment := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		segment = key[i+1:]
	}
	match := datePattern.FindString(segment)
	if match == "" || !IsCalendarDate(match) {
		return "", false
	}
	return match, true
}

// DateSet is an in-memory, strictly ascending, duplicate-free sequence of
// calendar date strings. It is pure data plus merge logic: no I/O, and no
// internal locking; the owning Manifest serializes access.
type DateSet struct {
	dates []string
}

// Len returns the number of dates in the set.
func (s *DateSet) Len() int {
	return len(s.dates)
}

// Dates returns a copy of the sorted date sequence.
func (s *DateSet) Dates() []string {
	out := make([]string, len(s.dates))
	copy(out, s.dates)
	return out
}

// Contains reports whether date is present in the set.
func (s *DateSet) Contains(date string) bool {
	i := sort.SearchStrings(s.dates, date)
	return i < len(s.dates) && s.dates[i] == date
}

// RangeBefore returns up to limit dates strictly preceding date, in ascending
// order, clamping at the start of the sequence.
func (s *DateSet) RangeBefore(date string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}
	end := sort.SearchStrings(s.dates, date)
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]string, end-start)
	copy(out, s.dates[start:end])
	return out
}

// Merge folds newDates into the set: concatenate, sort, deduplicate, and
// replace the state only when the result differs. It is the single
// integration point for both snapshot loads and listing rebuilds, which makes
// it idempotent and order-independent. Returns whether the set changed.
func (s *DateSet) Merge(newDates []string) bool {
	if len(newDates) == 0 {
		return false
	}

	merged := make([]string, 0, len(s.dates)+len(newDates))
	merged = append(merged, s.dates...)
	merged = append(merged, newDates...)
	sort.Strings(merged)
	merged = dedupeSorted(merged)

	if equalStrings(s.dates, merged) {
		return false
	}
	s.dates = merged
	return true
}

// InsertSorted inserts date at its sort position. Returns false without
// modifying the set when the date is already present.
func (s *DateSet) InsertSorted(date string) bool {
	i := sort.SearchStrings(s.dates, date)
	if i < len(s.dates) && s.dates[i] == date {
		return false
	}
	s.dates = append(s.dates, "")
	copy(s.dates[i+1:], s.dates[i:])
	s.dates[i] = date
	return true
}

func dedupeSorted(in []string) []string {
	out := in[:0]
	for i, v := range in {
		if i > 0 && in[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
