// Package validation enforces the charge request field rules before any
// upstream call is made. Suburb existence within the postcode needs the
// location API and is checked by the estimator, not here.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evcharge/estimator-service/internal/calendar"
	"github.com/evcharge/estimator-service/internal/models"
	"github.com/evcharge/estimator-service/internal/tariff"
)

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Date bounds: estimates are supported from 01/07/2008 through 31/12/2999.
var (
	earliestStartDate = time.Date(2008, time.July, 1, 0, 0, 0, 0, time.UTC)
	latestStartDate   = time.Date(2999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// ValidateChargeRequest checks every field of the request and returns one
// FieldError per violation. An empty slice means the request is valid.
func ValidateChargeRequest(req models.ChargeRequest) []FieldError {
	var errs []FieldError

	if req.BatteryCapacityKWh <= 0 {
		errs = append(errs, FieldError{"batteryCapacityKWh", "battery capacity must be greater than 0"})
	}

	if req.InitialChargePct < 0 {
		errs = append(errs, FieldError{"initialChargePct", "initial charge must be greater than or equal to 0"})
	} else if req.InitialChargePct >= 100 {
		errs = append(errs, FieldError{"initialChargePct", "initial charge must be less than 100"})
	}

	switch {
	case req.FinalChargePct <= 0:
		errs = append(errs, FieldError{"finalChargePct", "final charge must be greater than 0"})
	case req.FinalChargePct > 100:
		errs = append(errs, FieldError{"finalChargePct", "final charge cannot be more than 100"})
	case req.InitialChargePct >= 0 && req.InitialChargePct < 100 && req.FinalChargePct <= req.InitialChargePct:
		errs = append(errs, FieldError{"finalChargePct", "final charge must be greater than initial charge"})
	}

	if req.ChargerConfiguration < 1 || req.ChargerConfiguration > 8 {
		errs = append(errs, FieldError{"chargerConfiguration", "charger configuration must be a number from 1-8"})
	}

	if _, err := ParseStartDate(req.StartDate); err != nil {
		errs = append(errs, FieldError{"startDate", err.Error()})
	}

	if _, err := ParseStartTime(req.StartTime); err != nil {
		errs = append(errs, FieldError{"startTime", err.Error()})
	}

	if err := ValidatePostcode(req.Postcode); err != nil {
		errs = append(errs, FieldError{"postcode", err.Error()})
	}

	if err := ValidateSuburb(req.Suburb); err != nil {
		errs = append(errs, FieldError{"suburb", err.Error()})
	}

	return errs
}

// ParseStartDate parses a DD/MM/YYYY date and enforces the supported range.
func ParseStartDate(s string) (time.Time, error) {
	d, err := time.Parse(calendar.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("start date must be in DD/MM/YYYY format")
	}
	if d.Before(earliestStartDate) {
		return time.Time{}, fmt.Errorf("start date must be a date after 30/06/2008")
	}
	if d.After(latestStartDate) {
		return time.Time{}, fmt.Errorf("start date must be a date before 01/01/3000")
	}
	return d, nil
}

// ParseStartTime parses an HH:MM clock time.
func ParseStartTime(s string) (time.Time, error) {
	t, err := time.Parse(calendar.TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("start time must be in HH:MM format")
	}
	return t, nil
}

// ValidatePostcode checks the postcode is numeric and inside an Australian
// state or territory range.
func ValidatePostcode(s string) error {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("postcode must be an integer")
	}
	if _, err := tariff.StateForPostcode(code); err != nil {
		return fmt.Errorf("postcode does not exist")
	}
	return nil
}

// ValidateSuburb checks the suburb is present and not purely numeric.
func ValidateSuburb(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("suburb is required")
	}
	if _, err := strconv.Atoi(s); err == nil {
		return fmt.Errorf("suburb cannot be a number")
	}
	return nil
}
