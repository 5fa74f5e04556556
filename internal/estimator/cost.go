package estimator

import (
	"context"
	"math"
	"time"

	"github.com/evcharge/estimator-service/internal/models"
	"github.com/evcharge/estimator-service/internal/tariff"
)

const minutesPerDay = 24 * 60

// durationMinutes returns the charging time in minutes, rounded to two
// decimals: energy to deliver (kWh) divided by charger power (kW).
func durationMinutes(initialPct, finalPct, capacityKWh int, powerKW float64) float64 {
	hours := float64(finalPct-initialPct) / 100 * float64(capacityKWh) / powerKW
	return roundTo(hours*60, 2)
}

// gridCost accumulates the grid price of the session minute by minute.
// The per-minute rate is the base price spread across the whole session,
// halved off-peak and multiplied by the day's surcharge. Sessions crossing
// midnight recompute the surcharge for each new day.
func (e *Estimator) gridCost(ctx context.Context, req models.ChargeRequest, charger tariff.Charger, state string, startDate time.Time, startMinute int, minutes float64) (float64, error) {
	requiredMinutes := int(minutes)
	perMinuteRate := charger.BasePriceCents / float64(requiredMinutes+1) / 100

	date := startDate
	currentMinute := startMinute
	surcharge, err := e.surchargeFactor(ctx, date, state)
	if err != nil {
		return 0, err
	}

	energyShare := float64(req.FinalChargePct-req.InitialChargePct) / 100 * float64(req.BatteryCapacityKWh)

	total := 0.0
	for count := 0; count <= requiredMinutes; count++ {
		if currentMinute == minutesPerDay {
			date = date.AddDate(0, 0, 1)
			currentMinute = 0
			surcharge, err = e.surchargeFactor(ctx, date, state)
			if err != nil {
				return 0, err
			}
		}

		rate := perMinuteRate
		if !tariff.IsPeakMinute(currentMinute) {
			rate = perMinuteRate / 2
		}

		total += energyShare * rate * surcharge
		currentMinute++
	}

	return roundTo(total, 2), nil
}

// roundTo rounds x to the given number of decimal places, half away from zero.
func roundTo(x float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(x*shift) / shift
}
