package models

import "time"

// ChargeRequest is a validated charging scenario. Dates and times use the
// service wire formats: StartDate "02/01/2006", StartTime "15:04".
type ChargeRequest struct {
	BatteryCapacityKWh   int    `json:"batteryCapacityKWh"`
	InitialChargePct     int    `json:"initialChargePct"`
	FinalChargePct       int    `json:"finalChargePct"`
	ChargerConfiguration int    `json:"chargerConfiguration"`
	StartDate            string `json:"startDate"`
	StartTime            string `json:"startTime"`
	Postcode             string `json:"postcode"`
	Suburb               string `json:"suburb"`
}

// Estimate is the result of a full cost estimation.
type Estimate struct {
	CostDollars         float64   `json:"costDollars"`
	CostDisplay         string    `json:"costDisplay"`
	SolarSavingsDollars float64   `json:"solarSavingsDollars"`
	DurationMinutes     float64   `json:"durationMinutes"`
	DurationDisplay     string    `json:"durationDisplay"`
	State               string    `json:"state"`
	Note                string    `json:"note,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// Duration is the result of a duration-only calculation.
type Duration struct {
	Minutes float64 `json:"minutes"`
	Display string  `json:"display"`
}
