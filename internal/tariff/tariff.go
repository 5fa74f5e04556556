// Package tariff holds the pricing primitives for charge cost estimation:
// the charger configuration table, the peak window, the holiday/weekday
// surcharge factor, and the postcode to state mapping.
package tariff

import (
	"errors"
	"fmt"
)

// Charger describes one of the eight supported charger configurations.
// BasePriceCents is the grid price in cents per kWh before peak discounts
// and surcharges are applied.
type Charger struct {
	Configuration  int
	PowerKW        float64
	BasePriceCents float64
}

// ErrUnknownConfiguration is returned for configurations outside 1-8.
var ErrUnknownConfiguration = errors.New("unknown charger configuration")

// ErrUnknownPostcode is returned when a postcode falls outside every
// Australian state and territory range.
var ErrUnknownPostcode = errors.New("postcode does not exist")

var chargers = map[int]Charger{
	1: {1, 2, 5},
	2: {2, 3.6, 7.5},
	3: {3, 7.2, 10},
	4: {4, 11, 12.5},
	5: {5, 22, 15},
	6: {6, 36, 20},
	7: {7, 90, 30},
	8: {8, 350, 50},
}

// ChargerByConfiguration returns the charger for a configuration number 1-8.
func ChargerByConfiguration(configuration int) (Charger, error) {
	c, ok := chargers[configuration]
	if !ok {
		return Charger{}, fmt.Errorf("%w: %d", ErrUnknownConfiguration, configuration)
	}
	return c, nil
}

// Peak window in minutes of the day: 06:00 inclusive to 18:00 exclusive.
const (
	peakStartMinute = 6 * 60
	peakEndMinute   = 18 * 60
)

// SurchargeFactor applies on weekdays, school holidays, and public holidays.
const SurchargeFactor = 1.1

// IsPeakMinute reports whether the given minute of the day (0-1439) falls
// in the peak window. Off-peak minutes are billed at half the base rate.
func IsPeakMinute(minute int) bool {
	return minute >= peakStartMinute && minute < peakEndMinute
}

// StateForPostcode maps an Australian postcode to its state or territory.
// The ranges deliberately have gaps; postcodes in a gap do not exist.
func StateForPostcode(postcode int) (string, error) {
	switch {
	case (postcode >= 2000 && postcode <= 2599) ||
		(postcode >= 2619 && postcode <= 2899) ||
		(postcode >= 2921 && postcode <= 2999):
		return "nsw", nil
	case (postcode >= 2600 && postcode <= 2618) ||
		(postcode >= 2900 && postcode <= 2920):
		return "act", nil
	case postcode >= 3000 && postcode <= 3999:
		return "vic", nil
	case postcode >= 4000 && postcode <= 4999:
		return "qld", nil
	case postcode >= 5000 && postcode <= 5799:
		return "sa", nil
	case postcode >= 6000 && postcode <= 6797:
		return "wa", nil
	case postcode >= 7000 && postcode <= 7799:
		return "tas", nil
	case postcode >= 800 && postcode <= 899:
		return "nt", nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownPostcode, postcode)
}
