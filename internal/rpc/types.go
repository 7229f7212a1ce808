// Package rpc carries the wire contract shared by the scheduler, the node
// agents, and the API controller. Message shapes are stable across processes;
// changing a field here is a protocol change.
package rpc

// WorkloadStatus is the lifecycle state shared by instances and nodes.
type WorkloadStatus int32

const (
	StatusScheduling WorkloadStatus = iota
	StatusScheduled
	StatusCreating
	StatusRunning
	StatusStopped
	StatusFailed
	StatusDestroying
)

func (s WorkloadStatus) String() string {
	switch s {
	case StatusScheduling:
		return "Scheduling"
	case StatusScheduled:
		return "Scheduled"
	case StatusCreating:
		return "Creating"
	case StatusRunning:
		return "Running"
	case StatusStopped:
		return "Stopped"
	case StatusFailed:
		return "Failed"
	case StatusDestroying:
		return "Destroying"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further lifecycle transitions are expected.
func (s WorkloadStatus) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// WorkloadType discriminates how a node agent executes an instance.
type WorkloadType int32

const (
	TypeContainer WorkloadType = iota
)

// ResourceSummary is a cpu/memory/disk triple. CPU is logical cores, memory
// and disk are MiB.
type ResourceSummary struct {
	CPU    uint64 `json:"cpu"`
	Memory uint64 `json:"memory"`
	Disk   uint64 `json:"disk"`
}

// Resource pairs declared capacity with the most recently reported
// consumption. Either side may be absent.
type Resource struct {
	Limit *ResourceSummary `json:"limit,omitempty"`
	Usage *ResourceSummary `json:"usage,omitempty"`
}

type Port struct {
	Source      int32 `json:"source"`
	Destination int32 `json:"destination"`
}

// Instance is one placed materialization of a workload.
type Instance struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        WorkloadType   `json:"type"`
	Status      WorkloadStatus `json:"status"`
	Environment []string       `json:"environment"`
	IP          string         `json:"ip"`
	Ports       []Port         `json:"ports"`
	Resource    *Resource      `json:"resource,omitempty"`
	URI         string         `json:"uri"`
}

// InstanceStatus is one lifecycle update for an instance, reported by the
// node agent that runs it.
type InstanceStatus struct {
	ID                string         `json:"id"`
	Status            WorkloadStatus `json:"status"`
	StatusDescription string         `json:"status_description"`
	Resource          *Resource      `json:"resource,omitempty"`
}

// NodeStatus is one periodic resource report from a node agent.
type NodeStatus struct {
	ID                string         `json:"id"`
	Status            WorkloadStatus `json:"status"`
	StatusDescription string         `json:"status_description"`
	Resource          *Resource      `json:"resource,omitempty"`
}

type NodeRegisterRequest struct {
	Certificate string `json:"certificate"`
}

type NodeRegisterResponse struct {
	ID string `json:"id"`
	IP string `json:"ip"`
}

type NodeUnregisterRequest struct {
	ID string `json:"id"`
}

type NodeUnregisterResponse struct{}

// Signal is a control instruction delivered to a running instance.
type Signal int32

const (
	SignalStop Signal = iota
	SignalKill
)

type SignalInstruction struct {
	Signal   Signal    `json:"signal"`
	Instance *Instance `json:"instance"`
}

// InstanceLookup addresses an instance by id for unary instance operations.
type InstanceLookup struct {
	ID string `json:"id"`
}

// Empty is the ack payload of operations with no result body.
type Empty struct{}
