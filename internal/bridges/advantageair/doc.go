// Package advantageair implements the Advantage Air (MyAir / e-zone) bridge
// for Gray Logic.
//
// Two generations of controller firmware are supported, and which one is in
// use is only known after the first request:
//
//   - Modern controllers speak unauthenticated JSON. State is read from
//     /getSystemData and changes are sent as one JSON document per batch to
//     /setAircon, /setLight or /setThing.
//   - Legacy controllers speak XML (root element iZS10.3), require a login
//     before returning data and accept one field per request through
//     /setSystemData and /setZoneData.
//
// # Architecture
//
//	┌─────────────────┐          ┌──────────────────┐   HTTP    ┌────────────┐
//	│   Gray Logic    │   MQTT   │  Aircon Bridge   │◄─────────►│ Controller │
//	│      Core       │◄────────►│   (this pkg)     │  :2025    │  (MyAir)   │
//	└─────────────────┘          └──────────────────┘           └────────────┘
//
// A Connection owns the HTTP client for one controller. FetchSnapshot
// detects the protocol, authenticates when needed and, for legacy
// controllers, normalises the two XML documents into the same snapshot
// shape a modern controller returns:
//
//	{
//	  "aircons": {"ac1": {"info": {...}, "zones": {"z01": {...}}}},
//	  "system":  {"name": "...", "rid": "...", "hasAircons": true, ...}
//	}
//
// Writes go through one Endpoint per class (aircon, light, thing). Each
// endpoint merges incoming partial changes into a pending tree and lets at
// most one flush run at a time; changes submitted while a flush is active
// are folded into the next batch.
//
// # Thread Safety
//
// Connection, Endpoint and Bridge are safe for concurrent use.
package advantageair
