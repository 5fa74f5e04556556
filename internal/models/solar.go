package models

import "time"

// Suburb is one record from the location API. A postcode can map to several
// suburbs, each with its own location id used by the weather API.
type Suburb struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Postcode string `json:"postcode"`
}

// HourlyWeather is one hour of weather history for a SolarDay.
type HourlyWeather struct {
	Hour          int `json:"hour"`
	CloudCoverPct int `json:"cloudCoverPct"`
}

// SolarDay holds the solar conditions for one location and date.
// Sunrise and Sunset are "HH:MM:SS" local clock times; SunHours is the
// insolation figure reported by the weather API for the whole day.
type SolarDay struct {
	LocationID string          `json:"locationId"`
	Date       string          `json:"date"` // YYYY-MM-DD
	Sunrise    string          `json:"sunrise"`
	Sunset     string          `json:"sunset"`
	SunHours   float64         `json:"sunHours"`
	Hourly     []HourlyWeather `json:"hourlyWeatherHistory"`
	Timestamp  time.Time       `json:"timestamp"`
	Stale      bool            `json:"stale,omitempty"` // served from stale cache
}

// CloudCoverByHour returns the 24 cloud cover percentages indexed by hour.
// Missing hours default to 0 (clear).
func (d SolarDay) CloudCoverByHour() [24]int {
	var cc [24]int
	for _, h := range d.Hourly {
		if h.Hour >= 0 && h.Hour < 24 {
			cc[h.Hour] = h.CloudCoverPct
		}
	}
	return cc
}
