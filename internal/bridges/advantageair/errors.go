package advantageair

import (
	"errors"
	"fmt"
)

// Domain errors for the Advantage Air package.
var (
	// ErrTransport is returned when the controller cannot be reached or the
	// connection breaks mid-request.
	ErrTransport = errors.New("advantageair: transport error")

	// ErrTimeout is returned when a request exceeds the per-request timeout.
	ErrTimeout = errors.New("advantageair: request timed out")

	// ErrProtocol is returned for non-200 responses, bodies that cannot be
	// parsed and failed legacy authentication.
	ErrProtocol = errors.New("advantageair: protocol error")

	// ErrDeviceRejected is returned when the controller answers a write
	// with a negative acknowledgement.
	ErrDeviceRejected = errors.New("advantageair: device rejected change")

	// ErrNoValidResponse is returned when every read attempt failed.
	ErrNoValidResponse = errors.New("advantageair: no valid response")

	// ErrInvalidChange is returned when a change cannot be translated into
	// legacy field writes.
	ErrInvalidChange = errors.New("advantageair: invalid change")

	// ErrUnknownEndpoint is returned for an endpoint class other than
	// aircon, light or thing.
	ErrUnknownEndpoint = errors.New("advantageair: unknown endpoint")

	// ErrUnknownDevice is returned by the bridge for a device id that is
	// not configured.
	ErrUnknownDevice = errors.New("advantageair: unknown device")
)

// NoValidResponseError reports an exhausted read retry budget.
// It matches ErrNoValidResponse with errors.Is and unwraps to the error
// of the last attempt.
type NoValidResponseError struct {
	Attempts int
	Last     error
}

func (e *NoValidResponseError) Error() string {
	plural := "s"
	if e.Attempts == 1 {
		plural = ""
	}
	return fmt.Sprintf("advantageair: no valid response after %d failed attempt%s: %v", e.Attempts, plural, e.Last)
}

// Is reports whether target is ErrNoValidResponse.
func (e *NoValidResponseError) Is(target error) bool {
	return target == ErrNoValidResponse
}

func (e *NoValidResponseError) Unwrap() error {
	return e.Last
}

// DeviceRejectedError carries the reason string a controller returned with
// a negative acknowledgement.
type DeviceRejectedError struct {
	Endpoint string
	Reason   string
}

func (e *DeviceRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("advantageair: %s rejected change", e.Endpoint)
	}
	return fmt.Sprintf("advantageair: %s rejected change: %s", e.Endpoint, e.Reason)
}

// Is reports whether target is ErrDeviceRejected.
func (e *DeviceRejectedError) Is(target error) bool {
	return target == ErrDeviceRejected
}
