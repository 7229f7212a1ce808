// Package orchestrator owns the authoritative node and instance registries
// and the placement and lifecycle logic over them.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/rpc"
	"github.com/skiffworks/skiff/internal/security/enroll"
)

// createStreamBuffer bounds the per-create status queue so a stalled
// consumer cannot grow memory without bound.
const createStreamBuffer = 64

// AgentCaller abstracts the outbound RPCs the orchestrator makes to a node
// agent's instance service.
type AgentCaller interface {
	CreateInstance(ctx context.Context, nodeAddr string, inst *rpc.Instance) (InstanceStatusStream, error)
	SignalInstance(ctx context.Context, nodeAddr string, sig *rpc.SignalInstruction) error
}

// InstanceStatusStream yields lifecycle updates for one created instance
// until the agent closes the stream.
type InstanceStatusStream interface {
	Recv() (*rpc.InstanceStatus, error)
}

// Options tune an Orchestrator.
type Options struct {
	// AgentPort is the port agents listen on; combined with the
	// registration source address to form the node's dial address.
	AgentPort int
	// EnrollSecret enables JWT credential validation when non-empty.
	EnrollSecret []byte
	// HeartbeatTimeout evicts nodes whose last report is older than
	// this. Zero disables eviction.
	HeartbeatTimeout time.Duration
}

// Orchestrator is the lifecycle manager for nodes and instances. All
// registry access is serialized under one lock; outbound agent calls are
// made with the lock released.
type Orchestrator struct {
	logger *logrus.Entry
	caller AgentCaller
	opts   Options
	now    func() time.Time

	mu        sync.Mutex
	nodes     map[string]*Node
	instances map[string]*instanceRecord
}

func New(logger *logrus.Entry, caller AgentCaller, opts Options, reg prometheus.Registerer) *Orchestrator {
	o := &Orchestrator{
		logger:    logger,
		caller:    caller,
		opts:      opts,
		now:       time.Now,
		nodes:     make(map[string]*Node),
		instances: make(map[string]*instanceRecord),
	}
	if reg != nil {
		o.registerMetrics(reg)
	}
	return o
}

// RegisterNode validates the presented credential, records the node with
// zeroed usage, and returns its assigned identity. Re-registration of a
// known node replaces its record.
func (o *Orchestrator) RegisterNode(ctx context.Context, req *rpc.NodeRegisterRequest, sourceAddr string) (*rpc.NodeRegisterResponse, error) {
	nodeID, err := o.nodeIDFromCredential(req.Certificate)
	if err != nil {
		return nil, err
	}
	host := sourceAddr
	if h, _, err := net.SplitHostPort(sourceAddr); err == nil {
		host = h
	}
	node := &Node{
		ID:       nodeID,
		Address:  net.JoinHostPort(host, strconv.Itoa(o.opts.AgentPort)),
		Status:   rpc.StatusScheduling,
		LastSeen: o.now(),
	}

	o.mu.Lock()
	o.nodes[nodeID] = node
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{"node": nodeID, "address": node.Address}).Info("node registered")
	return &rpc.NodeRegisterResponse{ID: nodeID, IP: host}, nil
}

func (o *Orchestrator) nodeIDFromCredential(cert string) (string, error) {
	if cert == "" {
		return "", fmt.Errorf("%w: empty certificate", ErrInvalidCredential)
	}
	if len(o.opts.EnrollSecret) == 0 {
		// Opaque-credential mode: the certificate doubles as the node id.
		return cert, nil
	}
	claims, err := enroll.VerifyToken(o.opts.EnrollSecret, cert)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidCredential)
	}
	return claims.Subject, nil
}

// UnregisterNode removes the node. Instances still recorded on it are
// transitioned to Failed so their loss stays observable.
func (o *Orchestrator) UnregisterNode(ctx context.Context, req *rpc.NodeUnregisterRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.nodes[req.ID]; !ok {
		return ErrNodeNotFound
	}
	delete(o.nodes, req.ID)
	o.failNodeInstancesLocked(req.ID, "node unregistered")
	o.logger.WithField("node", req.ID).Info("node unregistered")
	return nil
}

// failNodeInstancesLocked marks every non-terminal instance on the node as
// Failed. Caller holds o.mu.
func (o *Orchestrator) failNodeInstancesLocked(nodeID, reason string) {
	for id, rec := range o.instances {
		if rec.NodeID != nodeID || rec.Spec.Status.Terminal() {
			continue
		}
		rec.Spec.Status = rpc.StatusFailed
		rec.StatusDescription = reason
		o.logger.WithFields(logrus.Fields{"instance": id, "node": nodeID}).Warn("instance failed: " + reason)
	}
}

// CreateInstance places the instance on a qualifying node, forwards the
// create to that node's agent, and returns a bounded channel relaying the
// agent's status stream. The channel is closed when the stream ends.
//
// Placement fails with ErrNoCapacity without recording anything if no node
// qualifies.
func (o *Orchestrator) CreateInstance(ctx context.Context, in *rpc.Instance) (<-chan *rpc.InstanceStatus, error) {
	inst := cloneInstance(in)
	var want rpc.ResourceSummary
	if inst.Resource != nil && inst.Resource.Limit != nil {
		want = *inst.Resource.Limit
	}

	o.mu.Lock()
	node := o.placeLocked(want)
	if node == nil {
		o.mu.Unlock()
		return nil, ErrNoCapacity
	}
	inst.Status = rpc.StatusScheduled
	o.instances[inst.ID] = &instanceRecord{Spec: inst, NodeID: node.ID}
	addr := node.Address
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{"instance": inst.ID, "node": node.ID}).Info("instance placed")

	stream, err := o.caller.CreateInstance(ctx, addr, cloneInstance(inst))
	if err != nil {
		o.setInstanceFailed(inst.ID, "agent create call failed")
		return nil, fmt.Errorf("create on node %s: %w", node.ID, err)
	}

	out := make(chan *rpc.InstanceStatus, createStreamBuffer)
	go o.relayStatuses(ctx, inst.ID, stream, out)
	return out, nil
}

// relayStatuses ingests the agent's status stream into the registry and
// forwards each update to the caller's channel.
func (o *Orchestrator) relayStatuses(ctx context.Context, id string, stream InstanceStatusStream, out chan<- *rpc.InstanceStatus) {
	defer close(out)
	for {
		st, err := stream.Recv()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				o.logger.WithField("instance", id).WithError(err).Warn("instance status stream interrupted")
				o.setInstanceFailed(id, "status stream interrupted")
			}
			return
		}
		if err := o.UpdateInstanceStatus(ctx, st); err != nil {
			// Instance may have been destroyed while the stream was live.
			o.logger.WithField("instance", st.ID).WithError(err).Debug("dropping status update")
		}
		select {
		case out <- st:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) setInstanceFailed(id, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rec, ok := o.instances[id]; ok && !rec.Spec.Status.Terminal() {
		rec.Spec.Status = rpc.StatusFailed
		rec.StatusDescription = reason
	}
}

// placeLocked returns any node whose declared capacity, minus the declared
// limits of instances already placed on it, fits the request. Nodes that
// have not yet reported their capacity are skipped. Caller holds o.mu.
func (o *Orchestrator) placeLocked(want rpc.ResourceSummary) *Node {
	ids := make([]string, 0, len(o.nodes))
	for id := range o.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := o.nodes[id]
		if node.Resource == nil || node.Resource.Limit == nil {
			continue
		}
		free := *node.Resource.Limit
		for _, rec := range o.instances {
			if rec.NodeID != id || rec.Spec.Status.Terminal() {
				continue
			}
			if rec.Spec.Resource == nil || rec.Spec.Resource.Limit == nil {
				continue
			}
			lim := rec.Spec.Resource.Limit
			if lim.CPU > free.CPU || lim.Memory > free.Memory || lim.Disk > free.Disk {
				free = rpc.ResourceSummary{}
				break
			}
			free.CPU -= lim.CPU
			free.Memory -= lim.Memory
			free.Disk -= lim.Disk
		}
		if want.CPU <= free.CPU && want.Memory <= free.Memory && want.Disk <= free.Disk {
			return node
		}
	}
	return nil
}

// StopInstance forwards a stop signal to the instance's node and records the
// Stopped state on success.
func (o *Orchestrator) StopInstance(ctx context.Context, id string) error {
	addr, spec, err := o.lookupForSignal(id)
	if err != nil {
		return err
	}
	sig := &rpc.SignalInstruction{Signal: rpc.SignalStop, Instance: spec}
	if err := o.caller.SignalInstance(ctx, addr, sig); err != nil {
		return fmt.Errorf("signal stop %s: %w", id, err)
	}
	o.mu.Lock()
	if rec, ok := o.instances[id]; ok {
		rec.Spec.Status = rpc.StatusStopped
		rec.StatusDescription = "stopped by operator"
	}
	o.mu.Unlock()
	o.logger.WithField("instance", id).Info("instance stopped")
	return nil
}

// DestroyInstance forwards a kill signal and evicts the instance from the
// registry once the node acknowledges. Instances whose node is already gone
// are evicted directly.
func (o *Orchestrator) DestroyInstance(ctx context.Context, id string) error {
	addr, spec, err := o.lookupForSignal(id)
	if err == ErrNodeNotFound {
		o.mu.Lock()
		delete(o.instances, id)
		o.mu.Unlock()
		o.logger.WithField("instance", id).Warn("instance evicted without node acknowledgment")
		return nil
	}
	if err != nil {
		return err
	}
	sig := &rpc.SignalInstruction{Signal: rpc.SignalKill, Instance: spec}
	if err := o.caller.SignalInstance(ctx, addr, sig); err != nil {
		return fmt.Errorf("signal kill %s: %w", id, err)
	}
	o.mu.Lock()
	delete(o.instances, id)
	o.mu.Unlock()
	o.logger.WithField("instance", id).Info("instance destroyed")
	return nil
}

// lookupForSignal resolves the instance and its node address without holding
// the lock across the subsequent network call.
func (o *Orchestrator) lookupForSignal(id string) (addr string, spec *rpc.Instance, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.instances[id]
	if !ok {
		return "", nil, ErrInstanceNotFound
	}
	node, ok := o.nodes[rec.NodeID]
	if !ok {
		return "", nil, ErrNodeNotFound
	}
	return node.Address, cloneInstance(rec.Spec), nil
}

// UpdateNodeStatus overwrites the node's resource view from its latest
// report. Reports for unknown nodes are rejected, never recorded.
func (o *Orchestrator) UpdateNodeStatus(ctx context.Context, st *rpc.NodeStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	node, ok := o.nodes[st.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, st.ID)
	}
	node.Status = st.Status
	node.StatusDescription = st.StatusDescription
	node.Resource = cloneResource(st.Resource)
	node.LastSeen = o.now()
	return nil
}

// UpdateInstanceStatus overwrites the instance's state, description, and
// observed usage from a node-originated report. This is the only path
// through which observed lifecycle changes reach the registry.
func (o *Orchestrator) UpdateInstanceStatus(ctx context.Context, st *rpc.InstanceStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.instances[st.ID]
	if !ok {
		return ErrInstanceNotFound
	}
	rec.Spec.Status = st.Status
	rec.StatusDescription = st.StatusDescription
	if st.Resource != nil {
		if rec.Spec.Resource == nil {
			rec.Spec.Resource = &rpc.Resource{}
		}
		// The limit is fixed at creation; only usage follows reports.
		rec.Spec.Resource.Usage = cloneSummary(st.Resource.Usage)
	}
	return nil
}

// GetInstance returns a copy of the registry's view of the instance.
func (o *Orchestrator) GetInstance(id string) (*rpc.Instance, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return cloneInstance(rec.Spec), nil
}

// GetNode returns a copy of the registry's view of the node.
func (o *Orchestrator) GetNode(id string) (*Node, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	node, ok := o.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	cp := *node
	cp.Resource = cloneResource(node.Resource)
	return &cp, nil
}

// MonitorNodes periodically evicts nodes whose last status report is older
// than the configured heartbeat timeout, failing their instances the same
// way explicit unregistration does. Runs until ctx is done; no-op when the
// timeout is zero.
func (o *Orchestrator) MonitorNodes(ctx context.Context, interval time.Duration) {
	if o.opts.HeartbeatTimeout == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.evictStale()
		}
	}
}

func (o *Orchestrator) evictStale() {
	cutoff := o.now().Add(-o.opts.HeartbeatTimeout)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, node := range o.nodes {
		if node.LastSeen.After(cutoff) {
			continue
		}
		delete(o.nodes, id)
		o.failNodeInstancesLocked(id, "node heartbeat timed out")
		o.logger.WithField("node", id).Warn("node evicted after heartbeat timeout")
	}
}
