package orchestrator

import "errors"

var (
	// ErrInstanceNotFound means the instance id is not in the registry.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrNodeNotFound means the node id is not in the registry.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNoCapacity means no registered node can satisfy the requested
	// resource limit.
	ErrNoCapacity = errors.New("no node with sufficient capacity")
	// ErrUnknownNode rejects status reports from unregistered nodes.
	ErrUnknownNode = errors.New("status report from unknown node")
	// ErrInvalidCredential rejects registrations with a bad credential.
	ErrInvalidCredential = errors.New("invalid node credential")
)
