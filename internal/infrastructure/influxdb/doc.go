// Package influxdb records appliance attribute history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. History is optional:
// when influxdb.enabled is false Connect returns ErrDisabled and the bridge
// runs without it.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history off
//	}
//	defer client.Close()
//
//	client.WriteAttributeSnapshot("D1", snapshot, time.Now())
//
// Points land in the haier_attributes measurement tagged with device_id.
package influxdb
