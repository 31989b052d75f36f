// Package ingest applies sensor occupancy reports to parking spaces and fans
// the resulting state out to realtime subscribers.
//
// Reports arrive from two sources, both ending in Handler.Report:
//
//	POST /api/v1/webhook/sensor ──┐
//	                              ├──► Handler.Report ──► parking.Repository.UpdateStatus
//	MQTT smartparking/sensors/+/status ─┘          │
//	                                               ├──► realtime.Notifier.Publish (topic = space id)
//	                                               └──► InfluxDB point, AMQP event, metrics (best effort)
//
// Validation happens before any write; an unknown sensor never creates a
// space. The write and the fan-out are sequential, so a subscriber may see
// the event only after the row is committed, never before.
package ingest
