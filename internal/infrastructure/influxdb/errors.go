package influxdb

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned by Open when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrUnreachable is returned by Open when the server does not answer ping.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: recorder closed")
)

// WriteError is passed to the write error callback when the server
// rejects a batch of occupancy points.
type WriteError struct {
	Bucket string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("influxdb: writing to bucket %s: %v", e.Bucket, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
