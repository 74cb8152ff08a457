package mqtt

import "errors"

// Sentinel errors. Wrapped errors carry the underlying paho failure, so
// check them with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrPayloadTooLarge is returned before anything reaches the broker.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrInvalidQoS rejects anything outside 0..2.
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
