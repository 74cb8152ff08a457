package influxdb

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementAircon = "aircon"
	measurementZone   = "zone"
)

// WriteSnapshot records every aircon and zone in a controller snapshot.
//
// The snapshot is the normalised controller document:
//
//	{"aircons": {"ac1": {"info": {...}, "zones": {"z01": {...}}}}}
//
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteSnapshot(deviceID string, snapshot map[string]any) {
	if !c.IsConnected() {
		return
	}
	points := snapshotPoints(deviceID, snapshot, time.Now())
	for _, p := range points {
		c.writeAPI.WritePoint(p)
	}
	c.points.Add(uint64(len(points)))
}

// snapshotPoints flattens a snapshot into points, aircons and zones in key order.
func snapshotPoints(deviceID string, snapshot map[string]any, ts time.Time) []*write.Point {
	aircons, _ := snapshot["aircons"].(map[string]any)

	var points []*write.Point
	for _, airconID := range sortedKeys(aircons) {
		aircon, ok := aircons[airconID].(map[string]any)
		if !ok {
			continue
		}
		if info, ok := aircon["info"].(map[string]any); ok {
			if p := airconPoint(deviceID, airconID, info, ts); p != nil {
				points = append(points, p)
			}
		}
		zones, _ := aircon["zones"].(map[string]any)
		for _, zoneID := range sortedKeys(zones) {
			zone, ok := zones[zoneID].(map[string]any)
			if !ok {
				continue
			}
			if p := zonePoint(deviceID, airconID, zoneID, zone, ts); p != nil {
				points = append(points, p)
			}
		}
	}
	return points
}

func airconPoint(deviceID, airconID string, info map[string]any, ts time.Time) *write.Point {
	fields := make(map[string]any)
	copyNumber(fields, "set_temp", info["setTemp"])
	copyNumber(fields, "my_zone", info["myZone"])
	if state, ok := info["state"].(string); ok {
		fields["on"] = boolInt(state == "on")
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(measurementAircon,
		map[string]string{"device_id": deviceID, "aircon_id": airconID},
		fields, ts)
}

func zonePoint(deviceID, airconID, zoneID string, zone map[string]any, ts time.Time) *write.Point {
	fields := make(map[string]any)
	copyNumber(fields, "measured_temp", zone["measuredTemp"])
	copyNumber(fields, "set_temp", zone["setTemp"])
	copyNumber(fields, "value", zone["value"])
	copyNumber(fields, "rssi", zone["rssi"])
	copyNumber(fields, "error", zone["error"])
	if state, ok := zone["state"].(string); ok {
		fields["open"] = boolInt(state == "open")
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(measurementZone,
		map[string]string{"device_id": deviceID, "aircon_id": airconID, "zone_id": zoneID},
		fields, ts)
}

// copyNumber sets fields[key] when v is numeric. Other values are skipped.
func copyNumber(fields map[string]any, key string, v any) {
	switch n := v.(type) {
	case float64:
		fields[key] = n
	case int:
		fields[key] = float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			fields[key] = f
		}
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
