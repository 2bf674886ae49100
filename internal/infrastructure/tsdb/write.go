package tsdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCalibrationSample records a calibration progress sample for an
// instrument. Calibration runs whole-instrument, so there is no channel
// tag here.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Tags carry the serial and stage so history queries can group by either
// without scanning fields.
func (c *Client) WriteCalibrationSample(serial string, stage string, progress float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"calibration",
		map[string]string{
			"serial": serial,
			"stage":  stage,
		},
		map[string]interface{}{
			"progress": progress,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStatusSample records an operational status sample (flushing or
// reading) for an instrument channel.
func (c *Client) WriteStatusSample(serial string, channel int, state string, progress float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"operation",
		map[string]string{
			"serial":  serial,
			"channel": strconv.Itoa(channel),
			"state":   state,
		},
		map[string]interface{}{
			"progress": progress,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteInstrumentEvent records a free-form instrument message event.
//
// Message events are low volume (stage announcements, completion markers)
// so the text is stored as a field, not a tag.
func (c *Client) WriteInstrumentEvent(serial string, event string, text string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"instrument_events",
		map[string]string{
			"serial": serial,
			"event":  event,
		},
		map[string]interface{}{
			"text": text,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., reconciled data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
