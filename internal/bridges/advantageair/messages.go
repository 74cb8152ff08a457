package advantageair

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the aircon bridge.

// Protocol is the protocol segment of every bridge topic.
const Protocol = "advantageair"

// CommandMessage asks the bridge to merge a change into one endpoint of a
// controller.
// Topic: graylogic/command/advantageair/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID defaults to the last topic segment when empty.
	DeviceID string `json:"device_id"`

	// Endpoint is "aircon", "light" or "thing" (plural forms accepted).
	Endpoint string `json:"endpoint"`

	// Change is a partial tree in the controller's own shape, e.g.
	//   {"ac1": {"info": {"setTemp": 22}}}
	Change map[string]any `json:"change"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means this command's flush sent the change to the controller.
	AckAccepted AckStatus = "accepted"

	// AckQueued means the change was merged into a flush already running
	// for the same endpoint and will go out with it.
	AckQueued AckStatus = "queued"

	// AckFailed means the change was not applied.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/advantageair/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceRejected    = "DEVICE_REJECTED"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps an error from this package to a wire error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrInvalidChange), errors.Is(err, ErrUnknownEndpoint):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrDeviceRejected):
		return ErrCodeDeviceRejected
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, ErrTransport):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, ErrNoValidResponse):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// StateMessage carries a controller's latest snapshot.
// Topic: graylogic/state/advantageair/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	State     Snapshot  `json:"state"`
	Protocol  string    `json:"protocol"`

	// Mode is "modern" or "legacy".
	Mode string `json:"mode"`

	// Address is the controller's host:port.
	Address string `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is only ever published by the broker, as the LWT.
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/advantageair
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string         `json:"bridge"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         HealthStatus   `json:"status"`
	Version        string         `json:"version,omitempty"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	DevicesManaged int            `json:"devices_managed"`
	Devices        []DeviceStatus `json:"devices,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// DeviceStatus describes one configured controller.
type DeviceStatus struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Address  string     `json:"address"`
	Mode     string     `json:"mode"`
	Healthy  bool       `json:"healthy"`
	LastPoll *time.Time `json:"last_poll,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Request actions.
const (
	ActionReadState   = "read_state"
	ActionListDevices = "list_devices"
)

// RequestMessage asks the bridge for data.
// Topic: graylogic/request/advantageair/{request_id}
type RequestMessage struct {
	// RequestID defaults to the last topic segment when empty.
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`

	// DeviceID is required for read_state.
	DeviceID string `json:"device_id,omitempty"`
}

// ResponseMessage answers a request.
// Topic: graylogic/response/advantageair/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// NewAckMessage creates a successful acknowledgement.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Endpoint:  cmd.Endpoint,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement from err.
func NewAckError(cmd CommandMessage, err error) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: ErrorCode(err), Message: err.Error()}
	return ack
}

// NewStateMessage creates a state message for a controller.
func NewStateMessage(deviceID string, mode ProtocolMode, address string, state Snapshot) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Mode:      mode.String(),
		Address:   address,
	}
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns graylogic/command/advantageair/{device_id}.
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// AckTopic returns graylogic/ack/advantageair/{device_id}.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// StateTopic returns graylogic/state/advantageair/{device_id}.
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, deviceID)
}

// HealthTopic returns graylogic/health/advantageair.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns graylogic/request/advantageair/{request_id}.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns graylogic/response/advantageair/{request_id}.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// CommandSubscribeTopic returns the pattern matching every command.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the pattern matching every request.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, Protocol)
}
