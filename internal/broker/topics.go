package broker

import "strings"

// Topics returns the topic tree scoped to a wall id (spec 4.1/6). All topics
// live under watchdog/{wallId}/...
type Topics struct {
	wallID string
}

// NewTopics builds the topic helper for a given wall id.
func NewTopics(wallID string) Topics {
	return Topics{wallID: wallID}
}

func (t Topics) base() string { return "watchdog/" + t.wallID }

func (t Topics) Telemetry() string { return t.base() + "/telemetry" }
func (t Topics) Health() string    { return t.base() + "/health" }
func (t Topics) Status() string    { return t.base() + "/status" }
func (t Topics) Config() string    { return t.base() + "/config" }
func (t Topics) Event() string     { return t.base() + "/event" }
func (t Topics) Commands() string  { return t.base() + "/commands" }
func (t Topics) Control() string   { return t.base() + "/control" }
func (t Topics) Lease() string     { return t.base() + "/lease" }

// CommandFilter is the subscription wildcard for inbound per-client commands.
func (t Topics) CommandFilter() string { return t.base() + "/command/+" }

// Command is the topic a specific client's commands arrive on.
func (t Topics) Command(clientID string) string {
	return t.base() + "/command/" + clientID
}

// Ack is the topic a specific client's acks are published to.
func (t Topics) Ack(clientID string) string {
	return t.base() + "/ack/" + clientID
}

func (t Topics) StreamStatus() string { return t.base() + "/stream/status" }

func (t Topics) WebRTCReady() string  { return t.base() + "/webrtc/ready" }
func (t Topics) WebRTCOffer() string  { return t.base() + "/webrtc/offer" }
func (t Topics) WebRTCAnswer() string { return t.base() + "/webrtc/answer" }
func (t Topics) WebRTCIce() string    { return t.base() + "/webrtc/ice" }
func (t Topics) WebRTCJoin() string   { return t.base() + "/webrtc/join" }
func (t Topics) WebRTCLeave() string  { return t.base() + "/webrtc/leave" }

// ClientIDFromCommandTopic extracts the trailing client id segment from a
// `command/{clientId}` topic, as delivered by the broker on CommandFilter.
func (t Topics) ClientIDFromCommandTopic(topic string) (string, bool) {
	prefix := t.base() + "/command/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	clientID := topic[len(prefix):]
	if clientID == "" || strings.Contains(clientID, "/") {
		return "", false
	}
	return clientID, true
}

// QoS constants per the topic contract in spec 4.1.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
)
