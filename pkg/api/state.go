package api

import "time"

type (
	// FlowStatus is the lifecycle state of a running wire graph
	FlowStatus string

	// RuntimeState is the overall started/stopped state of the flows
	RuntimeState string

	// NodeStatus is the indicator a node publishes about itself
	NodeStatus struct {
		Fill  string `json:"fill,omitempty"`
		Shape string `json:"shape,omitempty"`
		Text  string `json:"text,omitempty"`
	}

	// FlowState describes one flow for status inspection
	FlowState struct {
		Nodes    map[NodeID]*NodeState `json:"nodes"`
		ID       FlowID                `json:"id"`
		Label    string                `json:"label,omitempty"`
		Status   FlowStatus            `json:"status"`
		Error    string                `json:"error,omitempty"`
		Disabled bool                  `json:"disabled,omitempty"`
	}

	// NodeState describes one running node for status inspection
	NodeState struct {
		Status  *NodeStatus `json:"status,omitempty"`
		ID      NodeID      `json:"id"`
		Type    string      `json:"type"`
		Name    string      `json:"name,omitempty"`
		Kind    NodeKind    `json:"kind"`
		Pending int         `json:"pending"`
	}

	// EngineState is the inspectable state of the whole runtime
	EngineState struct {
		StartedAt time.Time             `json:"started_at,omitzero"`
		Flows     map[FlowID]*FlowState `json:"flows"`
		State     RuntimeState          `json:"state"`
		Rev       string                `json:"rev"`
		InFlight  int64                 `json:"in_flight"`
	}
)

const (
	FlowStopped  FlowStatus = "stopped"
	FlowStarting FlowStatus = "starting"
	FlowRunning  FlowStatus = "running"
	FlowStopping FlowStatus = "stopping"
	FlowErrored  FlowStatus = "errored"
)

const (
	RuntimeStarted RuntimeState = "start"
	RuntimeStopped RuntimeState = "stop"
)
