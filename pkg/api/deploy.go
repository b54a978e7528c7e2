package api

import (
	"errors"
	"fmt"
)

type (
	// DeployMode selects how much of the running topology a deploy restarts
	DeployMode string

	// DeployDiff summarizes the node-level differences between the running
	// definition and a newly submitted one
	DeployDiff struct {
		Added        []NodeID `json:"added,omitempty"`
		Removed      []NodeID `json:"removed,omitempty"`
		Changed      []NodeID `json:"changed,omitempty"`
		Rewired      []NodeID `json:"rewired,omitempty"`
		ChangedFlows []FlowID `json:"changed_flows,omitempty"`
		RemovedFlows []FlowID `json:"removed_flows,omitempty"`
	}

	// DeployResult reports the outcome of a successful deploy
	DeployResult struct {
		Diff *DeployDiff `json:"diff"`
		Rev  string      `json:"rev"`
		Mode DeployMode  `json:"mode"`
	}
)

// DeploymentTypeHeader carries the DeployMode of a deploy request
const DeploymentTypeHeader = "Deployment-Type"

const (
	DeployFull  DeployMode = "full"
	DeployNodes DeployMode = "nodes"
	DeployFlows DeployMode = "flows"
)

var ErrInvalidDeployMode = errors.New("invalid deploy mode")

// ParseDeployMode validates a mode name, defaulting to full
func ParseDeployMode(s string) (DeployMode, error) {
	switch m := DeployMode(s); m {
	case "":
		return DeployFull, nil
	case DeployFull, DeployNodes, DeployFlows:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidDeployMode, s)
	}
}

// IsEmpty reports whether the diff contains no changes at all
func (d *DeployDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 &&
		len(d.Changed) == 0 && len(d.Rewired) == 0 &&
		len(d.ChangedFlows) == 0 && len(d.RemovedFlows) == 0
}
