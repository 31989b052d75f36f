package parking

import (
	"context"
	"fmt"
	"log/slog"
)

func ptr[T any](v T) *T { return &v }

// demoSpaces are created on an empty database when seeding is enabled.
var demoSpaces = []SpaceInput{
	{
		SensorID: "SENSOR_A01", Name: "Royal Palace Parking",
		Description: ptr("Near Royal Palace entrance"),
		Address:     "Slottsbacken 1, Gamla Stan, Stockholm",
		Latitude:    ptr(59.3268), Longitude: ptr(18.0717), CurrentPrice: 45,
	},
	{
		SensorID: "SENSOR_A02", Name: "Stortorget Square Parking",
		Description: ptr("Stortorget square area"),
		Address:     "Stortorget 3, Gamla Stan, Stockholm",
		Latitude:    ptr(59.3258), Longitude: ptr(18.0711), IsOccupied: true, CurrentPrice: 45,
	},
	{
		SensorID: "SENSOR_A03", Name: "Nobel Museum Parking",
		Description: ptr("Near Nobel Museum"),
		Address:     "Stortorget 7, Gamla Stan, Stockholm",
		Latitude:    ptr(59.3255), Longitude: ptr(18.0708), CurrentPrice: 45,
	},
	{
		SensorID: "SENSOR_A04", Name: "Västerlånggatan Parking",
		Description: ptr("Västerlånggatan shopping street"),
		Address:     "Västerlånggatan 42, Gamla Stan, Stockholm",
		Latitude:    ptr(59.3248), Longitude: ptr(18.0698), CurrentPrice: 40,
	},
	{
		SensorID: "SENSOR_B01", Name: "Sergels Torg Parking",
		Description: ptr("City centre, next to Kulturhuset"),
		Address:     "Sergels torg 1, Norrmalm, Stockholm",
		Latitude:    ptr(59.3326), Longitude: ptr(18.0649), CurrentPrice: 60,
	},
}

// SeedSpaces creates the demo parking spaces if the table is empty.
// It returns the number of spaces created.
func SeedSpaces(ctx context.Context, repo Repository, logger *slog.Logger) (int, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("checking parking space count: %w", err)
	}
	if count > 0 {
		logger.Info("parking spaces exist, skipping space seed", "count", count)
		return 0, nil
	}

	for _, in := range demoSpaces {
		if _, err := repo.Create(ctx, in); err != nil {
			return 0, fmt.Errorf("creating seed space %s: %w", in.SensorID, err)
		}
	}
	logger.Info("seeded demo parking spaces", "count", len(demoSpaces))
	return len(demoSpaces), nil
}
