// Package event defines the typed events through which every
// externally-triggered state change enters the orchestrator, and the
// dispatcher that routes them.
//
// Each event pairs a request with the reply channel of its original caller,
// so RPC handlers stay decoupled from orchestration logic. Single-request
// events carry a one-shot channel consumed exactly once; InstanceCreate
// carries a bounded streaming channel that stays live for the instance's
// lifetime.
package event

import (
	"context"

	"github.com/skiffworks/skiff/internal/rpc"
)

// CreateStreamBuffer is the capacity callers should give an InstanceCreate
// reply channel.
const CreateStreamBuffer = 64

type Event interface {
	name() string
}

// RegisterReply is the one-shot result of a NodeRegister event.
type RegisterReply struct {
	Response *rpc.NodeRegisterResponse
	Err      error
}

// CreateReply is one element of an InstanceCreate event's reply stream:
// either a status update or a terminal error. The dispatcher closes the
// channel when the stream ends.
type CreateReply struct {
	Status *rpc.InstanceStatus
	Err    error
}

// InstanceCreate asks for placement and execution of a new instance. Ctx is
// the originating call's context; the reply stream stops when it is done.
type InstanceCreate struct {
	Ctx      context.Context
	Instance *rpc.Instance
	Reply    chan CreateReply
}

// InstanceStop asks the instance's node to stop it.
type InstanceStop struct {
	ID    string
	Reply chan error
}

// InstanceDestroy asks the instance's node to remove it, then evicts it.
type InstanceDestroy struct {
	ID    string
	Reply chan error
}

// NodeRegister carries a registration request and its transport-observed
// source address.
type NodeRegister struct {
	Request    *rpc.NodeRegisterRequest
	SourceAddr string
	Reply      chan RegisterReply
}

// NodeUnregister removes a node from the cluster.
type NodeUnregister struct {
	Request *rpc.NodeUnregisterRequest
	Reply   chan error
}

// NodeStatusUpdate carries one periodic resource report.
type NodeStatusUpdate struct {
	Status *rpc.NodeStatus
	Reply  chan error
}

func (InstanceCreate) name() string   { return "instance_create" }
func (InstanceStop) name() string     { return "instance_stop" }
func (InstanceDestroy) name() string  { return "instance_destroy" }
func (NodeRegister) name() string     { return "node_register" }
func (NodeUnregister) name() string   { return "node_unregister" }
func (NodeStatusUpdate) name() string { return "node_status" }
