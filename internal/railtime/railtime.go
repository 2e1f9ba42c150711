// Package railtime converts the date and time encodings used across the CIF,
// VSTP and TRUST feeds into Go values, and back again at the store boundary.
//
// CIF dates are six-digit yymmdd strings with "999999" as the "never deleted"
// sentinel. CIF/VSTP times are "hhmm" with an optional trailing "H" (or VSTP's
// "3") meaning plus one half-minute. The store keeps sort_time quantised to
// quarter-minutes, per spec.md §3/§8 property 6.
package railtime

import (
	"fmt"
	"strconv"
	"time"
)

// NeverDeleted is the CIF sentinel end-date meaning "schedule does not expire".
const NeverDeleted = "999999"

// DeletedSentinel is the store's "still live" marker for the deleted timestamp
// column (spec.md §3: "deleted = 0xFFFFFFFF means live").
const DeletedSentinel int64 = 0xFFFFFFFF

// ParseCIFDate parses a six-digit "yymmdd" CIF date into a time.Time at
// midnight UTC. Years 60-99 are assumed 1960-1999, years 00-59 are 2000-2059,
// matching the CIF epoch convention.
func ParseCIFDate(yymmdd string) (time.Time, error) {
	if len(yymmdd) != 6 {
		return time.Time{}, fmt.Errorf("railtime: bad CIF date %q: want 6 digits", yymmdd)
	}
	yy, err := strconv.Atoi(yymmdd[0:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("railtime: bad CIF date %q: %w", yymmdd, err)
	}
	mm, err := strconv.Atoi(yymmdd[2:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("railtime: bad CIF date %q: %w", yymmdd, err)
	}
	dd, err := strconv.Atoi(yymmdd[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("railtime: bad CIF date %q: %w", yymmdd, err)
	}
	year := 1900 + yy
	if yy < 60 {
		year = 2000 + yy
	}
	return time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, time.UTC), nil
}

// IsNeverDeleted reports whether a raw CIF end-date field is the "999999"
// sentinel.
func IsNeverDeleted(yymmdd string) bool {
	return yymmdd == NeverDeleted
}

// QuarterMinutesPerDay is the number of quarter-minute ticks in 24 hours,
// used to detect next_day wraparound.
const QuarterMinutesPerDay = 24 * 60 * 4

// CIFTime is a parsed "hhmm[H]" field: minute-of-day plus a half-minute flag.
type CIFTime struct {
	Valid       bool
	Hour        int
	Minute      int
	HalfMinFlag bool // the trailing "H" (CIF) / "3" (VSTP) half-minute marker
}

// ParseCIFTime parses a 4 or 5 character CIF time field. A blank field (all
// spaces, or empty) yields a zero-value CIFTime with Valid=false, matching
// "suppressed" public times and absent working times.
func ParseCIFTime(raw string) (CIFTime, error) {
	trimmed := trimBlank(raw)
	if trimmed == "" {
		return CIFTime{}, nil
	}
	half := false
	digits := trimmed
	if len(trimmed) == 5 {
		switch trimmed[4] {
		case 'H', 'h':
			half = true
		case ' ':
		default:
			return CIFTime{}, fmt.Errorf("railtime: bad CIF time suffix %q", raw)
		}
		digits = trimmed[0:4]
	}
	if len(digits) != 4 {
		return CIFTime{}, fmt.Errorf("railtime: bad CIF time %q", raw)
	}
	hh, err := strconv.Atoi(digits[0:2])
	if err != nil {
		return CIFTime{}, fmt.Errorf("railtime: bad CIF time %q: %w", raw, err)
	}
	mm, err := strconv.Atoi(digits[2:4])
	if err != nil {
		return CIFTime{}, fmt.Errorf("railtime: bad CIF time %q: %w", raw, err)
	}
	return CIFTime{Valid: true, Hour: hh, Minute: mm, HalfMinFlag: half}, nil
}

// ParseVSTPTime parses a VSTP JSON time field. VSTP encodes the half-minute
// flag as a trailing "H" or the digit "3" (spec.md §4.D), both mapped onto
// the same canonical CIFTime the CIF loader produces.
func ParseVSTPTime(raw string) (CIFTime, error) {
	if raw == "" {
		return CIFTime{}, nil
	}
	if len(raw) == 5 && (raw[4] == '3' || raw[4] == 'H' || raw[4] == 'h') {
		return ParseCIFTime(raw[0:4] + "H")
	}
	return ParseCIFTime(raw)
}

// SortTime returns the quarter-minute-quantised minute-of-day used for
// ordering a schedule's stops: (hh*60+mm)*4, plus 2 if the half-minute flag
// is set. This is spec.md §8 property 6's round trip.
func (t CIFTime) SortTime() int {
	if !t.Valid {
		return -1
	}
	base := (t.Hour*60 + t.Minute) * 4
	if t.HalfMinFlag {
		base += 2
	}
	return base
}

// String renders the canonical "hhmmH" / "hhmm" form written to the store.
func (t CIFTime) String() string {
	if !t.Valid {
		return ""
	}
	suffix := ""
	if t.HalfMinFlag {
		suffix = "H"
	}
	return fmt.Sprintf("%02d%02d%s", t.Hour, t.Minute, suffix)
}

func trimBlank(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
