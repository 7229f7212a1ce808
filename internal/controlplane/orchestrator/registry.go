package orchestrator

import (
	"time"

	"github.com/skiffworks/skiff/internal/rpc"
)

// Node is the registry record for one registered node agent. Mutated only
// under the orchestrator's lock.
type Node struct {
	ID                string
	Address           string // agent instance-service address
	Status            rpc.WorkloadStatus
	StatusDescription string
	Resource          *rpc.Resource // declared limit + latest reported usage
	LastSeen          time.Time
}

// instanceRecord is the registry record for one placed instance. The wire
// shape in Spec carries the instance's lifecycle state; description and
// restart count are registry-side only.
type instanceRecord struct {
	Spec              *rpc.Instance
	NodeID            string
	StatusDescription string
	NumRestarts       int32
}

func cloneSummary(s *rpc.ResourceSummary) *rpc.ResourceSummary {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func cloneResource(r *rpc.Resource) *rpc.Resource {
	if r == nil {
		return nil
	}
	return &rpc.Resource{Limit: cloneSummary(r.Limit), Usage: cloneSummary(r.Usage)}
}

func cloneInstance(in *rpc.Instance) *rpc.Instance {
	cp := *in
	cp.Environment = append([]string(nil), in.Environment...)
	cp.Ports = append([]rpc.Port(nil), in.Ports...)
	cp.Resource = cloneResource(in.Resource)
	return &cp
}
