package estimator

import (
	"fmt"
	"strings"
)

// FormatDuration renders a duration in minutes as a sentence, e.g.
// "2 hours and 5 minutes and 30 seconds." Fractional minutes become seconds.
func FormatDuration(minutes float64) string {
	whole := int(minutes)
	seconds := int((minutes - float64(whole)) * 60)

	days := whole / minutesPerDay
	remaining := whole % minutesPerDay
	hours := remaining / 60
	mins := remaining % 60

	var b strings.Builder
	switch {
	case days == 0 && hours == 0 && mins == 0:
		fmt.Fprintf(&b, "%d seconds.", seconds)
	case days == 0 && hours == 0:
		fmt.Fprintf(&b, "%d minutes and %d seconds.", mins, seconds)
	case days == 0:
		fmt.Fprintf(&b, "%d hours and %d minutes and %d seconds.", hours, mins, seconds)
	case days == 1:
		fmt.Fprintf(&b, "1 day, %d hours and %d minutes and %d seconds.", hours, mins, seconds)
	default:
		fmt.Fprintf(&b, "%d days, %d hours and %d minutes and %d seconds.", days, hours, mins, seconds)
	}
	return b.String()
}
