package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementOccupancy is the measurement every sensor report is recorded under.
const MeasurementOccupancy = "parking_occupancy"

// OccupancySample is one applied sensor report.
type OccupancySample struct {
	SpaceID      string
	SensorID     string
	IsOccupied   bool
	CurrentPrice float64
	At           time.Time
}

// WriteOccupancy queues one point and returns at once. It is a no-op
// after Close.
//
// Tags: space_id, sensor_id. Fields: occupied (0/1), price.
func (r *Recorder) WriteOccupancy(s OccupancySample) {
	if r.closed.Load() {
		return
	}
	r.writes.WritePoint(occupancyPoint(s))
}

func occupancyPoint(s OccupancySample) *write.Point {
	occupied := 0
	if s.IsOccupied {
		occupied = 1
	}
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementOccupancy,
		map[string]string{
			"space_id":  s.SpaceID,
			"sensor_id": s.SensorID,
		},
		map[string]interface{}{
			"occupied": occupied,
			"price":    s.CurrentPrice,
		},
		at,
	)
}
