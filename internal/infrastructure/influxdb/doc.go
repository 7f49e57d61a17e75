// Package influxdb records scan activity as time series.
//
// Every dispatched scan becomes one "scan" point tagged with its outcome,
// source and mode; reader state changes become "reader_state" points.
// Writes are non-blocking and batched by the InfluxDB client, so a slow
// or absent server never holds up the scan pipeline.
//
// The integration is optional. Connect returns ErrDisabled when
// influxdb.enabled is false.
package influxdb
