// Package influxdb records parking occupancy history in InfluxDB.
//
// A Recorder wraps the influxdb-client-go v2 library: one ping at Open,
// batched non-blocking writes after that, and a ping per health check.
//
// Every applied sensor report becomes one point:
//
//	parking_occupancy,space_id=ps-...,sensor_id=SENSOR-001 occupied=1i,price=2.5
//
// # Usage
//
//	rec, err := influxdb.Open(cfg.InfluxDB, func(err error) { log.Error("history write", "error", err) })
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
//	defer rec.Close()
//
//	rec.WriteOccupancy(influxdb.OccupancySample{SpaceID: id, SensorID: sid, IsOccupied: true})
package influxdb
