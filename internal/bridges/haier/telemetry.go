package haier

import "time"

// AttributeWriter records attribute history. *influxdb.Client implements it.
type AttributeWriter interface {
	WriteAttributeSnapshot(deviceID string, attributes map[string]any, ts time.Time)
}

// TelemetryRecorder writes every pushed snapshot to an AttributeWriter.
type TelemetryRecorder struct {
	writer AttributeWriter
	now    func() time.Time
}

// NewTelemetryRecorder creates a recorder over writer.
func NewTelemetryRecorder(writer AttributeWriter) *TelemetryRecorder {
	return &TelemetryRecorder{writer: writer, now: time.Now}
}

// OnDataChanged records ev. Empty snapshots are skipped.
func (r *TelemetryRecorder) OnDataChanged(ev DataChangedEvent) {
	if len(ev.Attributes) == 0 {
		return
	}
	r.writer.WriteAttributeSnapshot(ev.DeviceID, ev.Attributes, r.now())
}
