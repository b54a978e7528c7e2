package api

import "strings"

type (
	// Event is a runtime notification published on the comms stream
	Event struct {
		Data  any    `json:"data"`
		Topic string `json:"topic"`
	}

	// DebugEvent is published by debug nodes. Msg carries the whole
	// message, or Value the single property a node was configured to show
	DebugEvent struct {
		Msg      Message `json:"msg,omitempty"`
		Value    any     `json:"value,omitempty"`
		ID       NodeID  `json:"id"`
		Name     string  `json:"name,omitempty"`
		Property string  `json:"property,omitempty"`
		Topic    string  `json:"topic,omitempty"`
	}

	// NodeErrorEvent is published when a node fails to process a message
	NodeErrorEvent struct {
		ID    NodeID `json:"id"`
		Type  string `json:"type"`
		MsgID string `json:"msgid,omitempty"`
		Error string `json:"error"`
	}

	// StatusEvent is published whenever a node reports its status
	StatusEvent struct {
		Status *NodeStatus `json:"status"`
		ID     NodeID      `json:"id"`
	}
)

const (
	TopicDebug        = "debug"
	TopicStatusPrefix = "status/"
	TopicDeploy       = "notification/deploy"
	TopicRuntimeState = "notification/runtime-state"
	TopicNodeError    = "notification/node-error"
)

// StatusTopic returns the comms topic used for a node's status updates
func StatusTopic(id NodeID) string {
	return TopicStatusPrefix + string(id)
}

// MatchTopic reports whether a topic matches a subscription pattern. A
// trailing "#" segment matches any suffix
func MatchTopic(pattern, topic string) bool {
	if pattern == "#" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "#"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return pattern == topic
}
