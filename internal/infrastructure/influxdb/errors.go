package influxdb

import "errors"

var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means telemetry is off; the bridge runs without it.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
