package estimator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evcharge/estimator-service/internal/calendar"
	"github.com/evcharge/estimator-service/internal/models"
	"github.com/evcharge/estimator-service/internal/tariff"
)

// solarArrayFactor scales insolation into generated kWh: a 50 m² rooftop
// array at 20% efficiency.
const solarArrayFactor = 50 * 0.2

// solarSavings values the energy generated by rooftop solar during the
// charging session at the prevailing grid rate. Past dates use that day's
// recorded weather; future dates average over the three reference dates,
// since their weather is not yet known.
func (e *Estimator) solarSavings(ctx context.Context, charger tariff.Charger, state, locationID string, startDate time.Time, startMinute int, minutes float64) (float64, error) {
	requiredMinutes := int(minutes)
	if requiredMinutes <= 0 {
		return 0, nil
	}

	now := e.now()
	yesterday := now.AddDate(0, 0, -1)
	var dates []time.Time
	if startDate.Before(time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, startDate.Location())) {
		dates = []time.Time{startDate}
	} else {
		dates = calendar.PrecedingDates(calendar.ReferenceDate(startDate, now))
	}

	var total float64
	for _, d := range dates {
		savings, err := e.savingsForDate(ctx, charger, state, locationID, d, startMinute, requiredMinutes)
		if err != nil {
			return 0, err
		}
		total += savings
	}
	return total / float64(len(dates)), nil
}

// daylightWindow holds the parsed solar geometry for one day.
type daylightWindow struct {
	sunriseMinute int
	sunsetMinute  int
	hours         float64
	sunHours      float64
	cloudCover    [24]int
}

func newDaylightWindow(day models.SolarDay) (daylightWindow, error) {
	sunrise, err := parseClockMinutes(day.Sunrise)
	if err != nil {
		return daylightWindow{}, fmt.Errorf("parse sunrise %q: %w", day.Sunrise, err)
	}
	sunset, err := parseClockMinutes(day.Sunset)
	if err != nil {
		return daylightWindow{}, fmt.Errorf("parse sunset %q: %w", day.Sunset, err)
	}
	if sunset <= sunrise {
		return daylightWindow{}, fmt.Errorf("sunset %q not after sunrise %q", day.Sunset, day.Sunrise)
	}
	return daylightWindow{
		sunriseMinute: sunrise,
		sunsetMinute:  sunset,
		hours:         float64(sunset-sunrise) / 60,
		sunHours:      day.SunHours,
		cloudCover:    day.CloudCoverByHour(),
	}, nil
}

func (w daylightWindow) contains(minute int) bool {
	return minute >= w.sunriseMinute && minute <= w.sunsetMinute
}

// savingsForDate simulates one charging session starting on the given date
// and accumulates the value of solar generation per daylight hour slice.
func (e *Estimator) savingsForDate(ctx context.Context, charger tariff.Charger, state, locationID string, startDate time.Time, startMinute, requiredMinutes int) (float64, error) {
	date := startDate
	surcharge, err := e.surchargeFactor(ctx, date, state)
	if err != nil {
		return 0, err
	}
	day, err := e.solarDay(ctx, locationID, date)
	if err != nil {
		return 0, err
	}
	window, err := newDaylightWindow(day)
	if err != nil {
		return 0, err
	}

	currentMinute := startMinute
	daylightMinutes := 0
	savings := 0.0
	for count := 0; count < requiredMinutes; count++ {
		if currentMinute == minutesPerDay {
			date = date.AddDate(0, 0, 1)
			surcharge, err = e.surchargeFactor(ctx, date, state)
			if err != nil {
				return 0, err
			}
			day, err = e.solarDay(ctx, locationID, date)
			if err != nil {
				return 0, err
			}
			window, err = newDaylightWindow(day)
			if err != nil {
				return 0, err
			}
			currentMinute = 0
			daylightMinutes = 0
		}

		inDaylight := window.contains(currentMinute)
		if inDaylight {
			daylightMinutes++
		}

		// Settle a slice at the end of each clock hour, at sunset, and at
		// the end of the session, so partial hours are valued too.
		endOfHour := (currentMinute+1)%60 == 0
		lastMinute := count == requiredMinutes-1
		if inDaylight && (endOfHour || currentMinute == window.sunsetMinute || lastMinute) && daylightMinutes > 0 {
			hour := currentMinute / 60
			sliceHours := float64(daylightMinutes) / 60
			generated := window.sunHours * sliceHours / window.hours *
				(1 - float64(window.cloudCover[hour])/100) * solarArrayFactor

			rate := charger.BasePriceCents / 100 // dollars per kWh
			if !tariff.IsPeakMinute(currentMinute) {
				rate /= 2
			}
			savings += generated * rate * surcharge
			daylightMinutes = 0
		}

		currentMinute++
	}

	return savings, nil
}

// parseClockMinutes converts "HH:MM:SS" (or "HH:MM") to minutes of the day.
func parseClockMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("malformed clock time")
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed hour: %w", err)
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed minute: %w", err)
	}
	if hours < 0 || hours > 23 || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("clock time out of range")
	}
	return hours*60 + mins, nil
}
