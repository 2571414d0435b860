package influxdb

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// attributesMeasurement is the measurement every snapshot is written to.
const attributesMeasurement = "haier_attributes"

// WriteAttributeSnapshot records one device snapshot as a single point
// tagged with the device id. The write is non-blocking.
//
// Values that parse as finite numbers become float fields; everything else
// is stored as a string field (see AttributeFields).
//
// Example:
//
//	client.WriteAttributeSnapshot("D1", map[string]any{"targetTemp": "42"}, time.Now())
func (c *Client) WriteAttributeSnapshot(deviceID string, attributes map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := AttributeFields(attributes)
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		attributesMeasurement,
		map[string]string{"device_id": deviceID},
		fields,
		ts,
	)
	c.writeAPI.WritePoint(point)
}

// stringFieldSuffix marks the string field of an attribute. Keeping
// numeric and string values under separate field keys means an attribute
// whose value flips between "" and "42" never conflicts on field type.
const stringFieldSuffix = "_str"

// AttributeFields converts snapshot values into InfluxDB field values.
// Finite numbers are written as float fields under the attribute name.
// Everything else, including NaN and infinities, is written as a string
// field under name + "_str". Nil values are dropped.
func AttributeFields(attributes map[string]any) map[string]any {
	fields := make(map[string]any, len(attributes))
	for name, value := range attributes {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			if f, ok := finiteFloat(v); ok {
				fields[name] = f
			} else {
				fields[name+stringFieldSuffix] = v
			}
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			fields[name] = v
		case int:
			fields[name] = float64(v)
		case bool:
			fields[name+stringFieldSuffix] = strconv.FormatBool(v)
		default:
			fields[name+stringFieldSuffix] = fmt.Sprint(v)
		}
	}
	return fields
}

// finiteFloat parses s as a float, rejecting NaN and infinities, which
// line protocol cannot carry.
func finiteFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
