package telemetry

import "errors"

// Sentinel errors for telemetry operations.
var (
	// ErrDisabled indicates InfluxDB telemetry is turned off in configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping to InfluxDB failed.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)
