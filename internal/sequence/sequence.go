package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Prefix    = "G"
	numberPad = 3
	dayLayout = "2006-01-02"
)

// ServiceDay is the calendar date of t in the clinic's time zone, formatted YYYY-MM-DD.
// Ticket numbers restart every service day.
func ServiceDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

func ParseServiceDay(value string) (time.Time, error) {
	return time.Parse(dayLayout, value)
}

// Next returns the sequence value for the next ticket given how many were issued today.
func Next(issuedToday int64) int64 {
	if issuedToday < 0 {
		issuedToday = 0
	}
	return issuedToday + 1
}

// Format renders G001..G999; larger values keep their natural width.
func Format(seq int64) string {
	return fmt.Sprintf("%s%0*d", Prefix, numberPad, seq)
}

// Parse extracts the sequence value from a formatted number.
func Parse(number string) (int64, bool) {
	digits, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(number)), Prefix)
	if !ok || digits == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

// Normalize canonicalizes user input such as "g7" or " G0007 " to "G007".
func Normalize(number string) (string, bool) {
	seq, ok := Parse(number)
	if !ok {
		return "", false
	}
	return Format(seq), true
}
