// Package influxdb records aircon telemetry in InfluxDB.
//
// It wraps influxdb-client-go v2 with connection management, a non-blocking
// batched write API and health checks. Every successful controller poll is
// flattened into two measurements:
//
//	aircon  tags: device_id, aircon_id           fields: set_temp, on, my_zone
//	zone    tags: device_id, aircon_id, zone_id  fields: measured_temp, set_temp,
//	                                             value, rssi, error, open
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteSnapshot("living", snapshot)
//
// Write errors arrive asynchronously through SetOnError.
package influxdb
