package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/config"
)

const (
	openTimeout = 10 * time.Second
	pingTimeout = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

var errUnhealthy = errors.New("server reports unhealthy")

// Recorder keeps the occupancy history of every parking space.
//
// Points are buffered and written in batches by the client library, so
// recording never blocks ingestion. Rejected batches reach the callback
// given to Open.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Recorder struct {
	server influxdb2.Client
	writes api.WriteAPI
	bucket string
	closed atomic.Bool
}

// Open pings the server and starts the batched write pipeline.
//
// Parameters:
//   - cfg: Server URL, token, org, bucket and batching
//   - onWriteError: Called with a *WriteError for each rejected batch; may be nil
//
// Returns:
//   - *Recorder: Ready to record
//   - error: ErrDisabled, or ErrUnreachable when the ping fails
func Open(cfg config.InfluxDBConfig, onWriteError func(err error)) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, batching(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if healthy, err := server.Ping(ctx); err != nil || !healthy {
		server.Close()
		if err == nil {
			err = errUnhealthy
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, cfg.URL, err)
	}

	r := &Recorder{
		server: server,
		writes: server.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
	}
	go r.forwardWriteErrors(onWriteError)
	return r, nil
}

// batching maps config onto client options. Non-positive values fall back
// to the library's usual batch of 100 points every 10 seconds.
func batching(cfg config.InfluxDBConfig) *influxdb2.Options {
	size := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		size = uint(cfg.BatchSize)
	}
	interval := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		interval = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(size).
		SetFlushInterval(uint(interval.Milliseconds()))
}

// forwardWriteErrors drains the library's error channel until Close.
func (r *Recorder) forwardWriteErrors(onWriteError func(err error)) {
	for err := range r.writes.Errors() {
		if onWriteError != nil {
			onWriteError(&WriteError{Bucket: r.bucket, Err: err})
		}
	}
}

// Flush writes every buffered point before returning. No-op after Close.
func (r *Recorder) Flush() {
	if r.closed.Load() {
		return
	}
	r.writes.Flush()
}

// Close flushes buffered points and releases the server connection.
// Later calls are no-ops.
func (r *Recorder) Close() error {
	if r.server == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.writes.Flush()
	r.server.Close()
	return nil
}

// HealthCheck pings the server.
//
// Parameters:
//   - ctx: Bounds the ping together with a 5 second cap
//
// Returns:
//   - error: ErrClosed after Close, otherwise the ping failure if any
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if r.server == nil || r.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := r.server.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("influxdb health check: %w", err)
	case !healthy:
		return fmt.Errorf("influxdb health check: %w", errUnhealthy)
	}
	return nil
}
