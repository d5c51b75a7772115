package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	bucketLayout = "2006-01-02 15:04:05.000"
	monthLayout  = "2006-01"
)

// FormatBucket renders a bucket start as an ISO-8601 instant in UTC with the
// zone designator dropped and a space between date and time,
// e.g. "2020-01-01 00:00:00.000".
func FormatBucket(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

// FormatMonth renders the calendar month of t (UTC) as YYYY-MM.
func FormatMonth(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts the date formats used by query parameters and import
// files. Inputs without a zone are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var parseErr error
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		parseErr = err
	}
	return time.Time{}, fmt.Errorf("invalid date %q: %w", s, parseErr)
}
