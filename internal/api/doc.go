// Package api provides the HTTP REST API and WebSocket server for the
// Advantage Air bridge.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Routes
//
//	GET  /api/v1/health                     bridge status and version
//	GET  /api/v1/metrics                    runtime and controller statistics
//	GET  /api/v1/devices                    configured controllers
//	GET  /api/v1/devices/{id}               one controller's status
//	GET  /api/v1/devices/{id}/snapshot      cached state, ?refresh=true polls
//	POST /api/v1/devices/{id}/{endpoint}    merge a change into aircon, light or thing
//	GET  /api/v1/commands                   command log, newest first
//	GET  /api/v1/ws                         WebSocket
//
// Errors use a single envelope:
//
//	{"status": 404, "code": "not_found", "message": "device not found"}
//
// Controller failures are reported as 502 with the bridge's error code in
// lower case (device_rejected, device_unreachable, timeout, protocol_error).
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"channels":["device.snapshot"]}}
// and then receive an event each time a controller's polled state changes:
//
//	{"type":"event","event_type":"device.snapshot","device_id":"home","payload":{"device_id":"home","snapshot":{...}}}
//
// The device.command channel reports every change submitted over HTTP,
// with its ack status. Appending ":<device id>" to a channel narrows it
// to one controller.
package api
