// Package timeparse converts compact date tokens into points in time.
//
// A token is a 2-digit-year year-month-day-hour-minute string, e.g.
// "2508221800" for 2025-08-22 18:00. Separators such as whitespace, colons
// or dashes are tolerated and stripped before parsing, so "25-08-22 18:00"
// is equivalent. Values are naive local times; there is no timezone
// handling.
package timeparse

import (
	"errors"
	"fmt"
	"time"
	"unicode"
)

// ErrInvalidFormat is returned (wrapped) for any token that does not reduce
// to a valid yymmddHHMM string. No other error class escapes Parse.
var ErrInvalidFormat = errors.New("invalid time format, expected yymmddHHMM")

// layout is the Go reference-time equivalent of yymmddHHMM.
const layout = "0601021504"

// Parse strips every non-alphanumeric rune from token and interprets the
// remainder as a 2-digit-year yymmddHHMM timestamp in local time.
func Parse(token string) (time.Time, error) {
	stripped := make([]rune, 0, len(token))
	for _, r := range token {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			stripped = append(stripped, r)
		}
	}

	if len(stripped) != len(layout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, token)
	}

	t, err := time.ParseInLocation(layout, string(stripped), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, token)
	}
	return t, nil
}
