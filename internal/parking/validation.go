package parking

import (
	"math"
	"strings"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// Validation constants.
const (
	maxSensorIDLength    = 100
	maxNameLength        = 100
	maxDescriptionLength = 500
	maxAddressLength     = 500

	defaultPageSize = 10
	maxPageSize     = 100
)

// ValidateInput checks a create request and trims its string fields.
// Returns a validation error describing the first failure found.
func ValidateInput(in *SpaceInput) error {
	in.SensorID = strings.TrimSpace(in.SensorID)
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)

	if err := validateSensorID(in.SensorID); err != nil {
		return err
	}
	if len(in.Name) > maxNameLength {
		return result.New(result.CodeValidation, "name is too long")
	}
	if in.Description != nil && len(*in.Description) > maxDescriptionLength {
		return result.New(result.CodeValidation, "description is too long")
	}
	if err := validateAddress(in.Address); err != nil {
		return err
	}
	if err := validateCoordinates(in.Latitude, in.Longitude); err != nil {
		return err
	}
	return ValidatePrice(in.CurrentPrice)
}

// ValidatePatch checks a partial update. At least one field must be set.
func ValidatePatch(p *SpacePatch) error {
	if p.empty() {
		return result.New(result.CodeValidation, "at least one field must be provided for update")
	}
	if p.SensorID != nil {
		trimmed := strings.TrimSpace(*p.SensorID)
		p.SensorID = &trimmed
		if err := validateSensorID(trimmed); err != nil {
			return err
		}
	}
	if p.Name != nil && len(*p.Name) > maxNameLength {
		return result.New(result.CodeValidation, "name is too long")
	}
	if p.Description != nil && len(*p.Description) > maxDescriptionLength {
		return result.New(result.CodeValidation, "description is too long")
	}
	if p.Address != nil {
		trimmed := strings.TrimSpace(*p.Address)
		p.Address = &trimmed
		if err := validateAddress(trimmed); err != nil {
			return err
		}
	}
	if err := validateCoordinates(p.Latitude, p.Longitude); err != nil {
		return err
	}
	if p.CurrentPrice != nil {
		return ValidatePrice(*p.CurrentPrice)
	}
	return nil
}

// ValidatePrice rejects negative and non-finite prices.
func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return result.New(result.CodeValidation, "currentPrice must be a finite number")
	}
	if price < 0 {
		return result.New(result.CodeValidation, "price must be non-negative")
	}
	return nil
}

// NormaliseQuery applies paging defaults and checks filter bounds.
func NormaliseQuery(q *Query) error {
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = defaultPageSize
	case q.PageSize > maxPageSize:
		return result.Newf(result.CodeValidation, "pageSize must be at most %d", maxPageSize)
	}

	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return result.New(result.CodeValidation, "minPrice must not exceed maxPrice")
	}

	geo := 0
	for _, v := range []*float64{q.Latitude, q.Longitude, q.RadiusKm} {
		if v != nil {
			geo++
		}
	}
	if geo != 0 && geo != 3 { //nolint:mnd // latitude, longitude, radius
		return result.New(result.CodeValidation, "latitude, longitude and radius must be given together")
	}
	if geo == 3 { //nolint:mnd // latitude, longitude, radius
		if err := validateCoordinates(q.Latitude, q.Longitude); err != nil {
			return err
		}
		if *q.RadiusKm <= 0 || math.IsNaN(*q.RadiusKm) {
			return result.New(result.CodeValidation, "radius must be positive")
		}
	}
	return nil
}

func validateSensorID(id string) error {
	if id == "" {
		return result.New(result.CodeValidation, "sensor ID is required")
	}
	if len(id) > maxSensorIDLength {
		return result.New(result.CodeValidation, "sensor ID is too long")
	}
	return nil
}

func validateAddress(addr string) error {
	if addr == "" {
		return result.New(result.CodeValidation, "address is required")
	}
	if len(addr) > maxAddressLength {
		return result.New(result.CodeValidation, "address is too long")
	}
	return nil
}

func validateCoordinates(lat, lon *float64) error {
	if lat != nil && (math.IsNaN(*lat) || *lat < -90 || *lat > 90) {
		return result.New(result.CodeValidation, "invalid latitude")
	}
	if lon != nil && (math.IsNaN(*lon) || *lon < -180 || *lon > 180) {
		return result.New(result.CodeValidation, "invalid longitude")
	}
	return nil
}
