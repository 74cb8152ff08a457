package advantageair

import (
	"fmt"
	"strings"
	"time"
)

// Controller defaults.
const (
	// DefaultPort is the controller's HTTP port.
	DefaultPort = 2025

	// DefaultRetry is the read attempt budget when none is given.
	DefaultRetry = 5

	// DefaultRequestTimeout bounds every HTTP request to the controller.
	DefaultRequestTimeout = 4 * time.Second

	// DefaultRetryDelay is the fixed pause between read attempts and
	// between write retries after a dropped connection.
	DefaultRetryDelay = 1 * time.Second

	// DefaultCoalesceWindow is how long a flush waits before taking the
	// pending batch, so that changes submitted in the same burst travel
	// together.
	DefaultCoalesceWindow = 20 * time.Millisecond

	// legacyAirconID is the only aircon a legacy controller exposes.
	legacyAirconID = "ac1"

	// legacySystemType is the sysType reported for legacy controllers.
	legacySystemType = "e-zone"
)

// ProtocolMode is the wire protocol spoken by a controller.
type ProtocolMode int

const (
	// ModeUnknown means no successful probe has been made yet.
	ModeUnknown ProtocolMode = iota

	// ModeLegacy is the authenticated XML protocol. Once detected it never
	// changes for the lifetime of a Connection.
	ModeLegacy

	// ModeModern is the JSON protocol.
	ModeModern
)

func (m ProtocolMode) String() string {
	switch m {
	case ModeLegacy:
		return "legacy"
	case ModeModern:
		return "modern"
	default:
		return "unknown"
	}
}

// EndpointClass names a write target on a controller.
type EndpointClass string

const (
	EndpointAircon EndpointClass = "aircon"
	EndpointLight  EndpointClass = "light"
	EndpointThing  EndpointClass = "thing"
)

// EndpointClasses lists every endpoint class in a stable order.
var EndpointClasses = []EndpointClass{EndpointAircon, EndpointLight, EndpointThing}

// ParseEndpointClass converts a string such as "aircon" or "lights" into an
// EndpointClass.
func ParseEndpointClass(s string) (EndpointClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aircon", "aircons":
		return EndpointAircon, nil
	case "light", "lights":
		return EndpointLight, nil
	case "thing", "things":
		return EndpointThing, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEndpoint, s)
	}
}

// path returns the modern write path for the class.
func (c EndpointClass) path() string {
	switch c {
	case EndpointLight:
		return "setLight"
	case EndpointThing:
		return "setThing"
	default:
		return "setAircon"
	}
}

// Snapshot is the normalised controller state. Numbers are float64 for
// both protocols, as produced by encoding/json.
type Snapshot map[string]any

// Aircons returns the aircons mapping, or nil when absent.
func (s Snapshot) Aircons() map[string]any {
	m, _ := asMap(s["aircons"])
	return m
}

// System returns the system mapping, or nil when absent.
func (s Snapshot) System() map[string]any {
	m, _ := asMap(s["system"])
	return m
}

// Clone returns a deep copy of the snapshot's nested mappings.
func (s Snapshot) Clone() Snapshot {
	return Snapshot(Clone(Tree(s)))
}
