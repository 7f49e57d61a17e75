package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementScan        = "scan"
	MeasurementReaderState = "reader_state"
)

// ScanPoint is one dispatched scan.
type ScanPoint struct {
	Outcome  string
	Source   string
	Mode     string
	Site     string
	PersonID string
	Duration time.Duration
	At       time.Time
}

// WriteScan queues a scan point. It is a no-op when disconnected.
func (c *Client) WriteScan(p ScanPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(scanPoint(p))
}

// WriteReaderState queues a reader state change.
func (c *Client) WriteReaderState(site, state, device string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readerStatePoint(site, state, device, at))
}

// scanPoint keeps person_id as a field: it is high cardinality and must
// not become a series key.
func scanPoint(p ScanPoint) *write.Point {
	tags := map[string]string{
		"outcome": p.Outcome,
		"source":  p.Source,
		"mode":    p.Mode,
	}
	if p.Site != "" {
		tags["site"] = p.Site
	}

	fields := map[string]any{
		"count":       1,
		"duration_ms": float64(p.Duration) / float64(time.Millisecond),
	}
	if p.PersonID != "" {
		fields["person_id"] = p.PersonID
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(MeasurementScan, tags, fields, at)
}

func readerStatePoint(site, state, device string, at time.Time) *write.Point {
	tags := map[string]string{"state": state}
	if site != "" {
		tags["site"] = site
	}
	fields := map[string]any{"device": device, "count": 1}
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(MeasurementReaderState, tags, fields, at)
}
