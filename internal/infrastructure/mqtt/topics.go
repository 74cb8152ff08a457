package mqtt

import "fmt"

// TopicPrefix is the root of every Gray Logic bridge topic.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id}.
const TopicPrefix = "graylogic"

// Topics provides builders for Gray Logic bridge topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("advantageair", "living")
//	// Returns: "graylogic/state/advantageair/living"
type Topics struct{}

// BridgeState returns the retained state topic for one device.
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeCommand returns the command topic for one device.
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeAck returns the command acknowledgement topic for one device.
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeRequest returns the topic for a request to a bridge.
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, protocol, requestID)
}

// BridgeResponse returns the topic for a bridge's reply to a request.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, protocol, requestID)
}

// BridgeHealth returns the retained health topic of a bridge.
//
// Example: graylogic/health/advantageair
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeCommands returns the subscription pattern for every command to a bridge.
//
// Pattern: graylogic/command/{protocol}/#
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, protocol)
}

// BridgeRequests returns the subscription pattern for every request to a bridge.
//
// Pattern: graylogic/request/{protocol}/#
func (Topics) BridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, protocol)
}
