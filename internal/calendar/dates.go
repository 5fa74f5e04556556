package calendar

import "time"

// Wire formats used across the service. Requests carry DateLayout and
// TimeLayout; the weather API takes APIDateLayout.
const (
	DateLayout    = "02/01/2006"
	TimeLayout    = "15:04"
	APIDateLayout = "2006-01-02"
)

// referenceYear anchors future dates to a year with recorded weather history.
const referenceYear = 2021

// IsWeekday reports whether the date is Monday through Friday.
func IsWeekday(date time.Time) bool {
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// MinuteOfDay returns the minute of the day (0-1439) for a clock time.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ReferenceDate maps a date to the same calendar day in the most recent year
// whose weather history is already available. Dates that have passed map to
// the reference year; if the mapped day has not passed yet relative to now it
// falls back one further year. A 29 February that does not exist in the
// target year becomes 28 February.
func ReferenceDate(date, now time.Time) time.Time {
	yesterday := now.AddDate(0, 0, -1)
	if date.Year() == referenceYear && !date.Before(truncateDay(yesterday)) {
		return withYear(date, referenceYear-1)
	}
	ref := withYear(date, referenceYear)
	if !ref.Before(truncateDay(yesterday)) {
		return withYear(date, referenceYear-1)
	}
	return ref
}

// PrecedingDates returns the date and the same calendar day in the two
// preceding years. Solar savings for future dates average over these.
func PrecedingDates(date time.Time) []time.Time {
	return []time.Time{
		date,
		withYear(date, date.Year()-1),
		withYear(date, date.Year()-2),
	}
}

// withYear rebuilds the date in the given year, clamping 29 February to
// 28 February when the target year is not a leap year.
func withYear(date time.Time, year int) time.Time {
	day := date.Day()
	if date.Month() == time.February && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, date.Month(), day, 0, 0, 0, 0, date.Location())
}

func isLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
