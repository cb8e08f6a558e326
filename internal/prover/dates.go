// Package prover holds the patient knowledge base and the logic checker that
// verifies extracted first-order statements against it.
//
// Dates are represented as "epochal days": the whole number of days since the
// Unix epoch, anchored at noon UTC so the value is stable across DST and
// timezone quirks.
package prover

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// EpochalFromDate converts a calendar date such as "2005-02-01" to an
// epochal day number.
func EpochalFromDate(date string) (int, error) {
	t, err := time.ParseInLocation("2006-1-2", date, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return int((t.Unix() + secondsPerDay/2) / secondsPerDay), nil
}

// mustEpochal is for compile-time-known dates.
func mustEpochal(date string) int {
	day, err := EpochalFromDate(date)
	if err != nil {
		panic(err)
	}
	return day
}

// EpochalToDate renders an epochal day number as "2005-02-01".
func EpochalToDate(day int) string {
	return time.Unix(int64(day)*secondsPerDay, 0).UTC().Format("2006-01-02")
}

// Today returns the current epochal day.
func Today() int {
	return int(time.Now().Unix() / secondsPerDay)
}
