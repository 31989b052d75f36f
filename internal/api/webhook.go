package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/metrics"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/ingest"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// sensorKeyHeader carries the shared webhook key.
const sensorKeyHeader = "X-Sensor-Key"

// handleSensorWebhook applies a sensor report posted over HTTP.
// When security.webhook.sensor_key is set the request must carry it.
func (s *Server) handleSensorWebhook(w http.ResponseWriter, r *http.Request) {
	if key := s.secCfg.Webhook.SensorKey; key != "" {
		got := r.Header.Get(sensorKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			s.countAuthFailure(result.CodeUnauthorized)
			writeFailure(w, result.CodeUnauthorized, "invalid sensor key")
			return
		}
	}

	var report ingest.SensorReport
	if err := decodeJSON(r, &report); err != nil {
		s.writeError(w, r, err)
		return
	}
	report.Source = metrics.SourceWebhook

	space, err := s.ingest.Report(r.Context(), report)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusOK, space, "Parking space status updated successfully")
}
