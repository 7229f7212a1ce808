package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/rpc"
	"github.com/skiffworks/skiff/internal/security/enroll"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	return logrus.NewEntry(logger)
}

type fakeStream struct {
	statuses []*rpc.InstanceStatus
}

func (s *fakeStream) Recv() (*rpc.InstanceStatus, error) {
	if len(s.statuses) == 0 {
		return nil, io.EOF
	}
	st := s.statuses[0]
	s.statuses = s.statuses[1:]
	return st, nil
}

type fakeCaller struct {
	mu        sync.Mutex
	createErr error
	signalErr error
	statuses  []*rpc.InstanceStatus

	creates []string
	signals []*rpc.SignalInstruction
}

func (c *fakeCaller) CreateInstance(ctx context.Context, nodeAddr string, inst *rpc.Instance) (InstanceStatusStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.creates = append(c.creates, nodeAddr)
	return &fakeStream{statuses: c.statuses}, nil
}

func (c *fakeCaller) SignalInstance(ctx context.Context, nodeAddr string, sig *rpc.SignalInstruction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signalErr != nil {
		return c.signalErr
	}
	c.signals = append(c.signals, sig)
	return nil
}

func newTestOrch(t *testing.T, caller AgentCaller, opts Options) *Orchestrator {
	t.Helper()
	if opts.AgentPort == 0 {
		opts.AgentPort = 50053
	}
	return New(testLogger(), caller, opts, nil)
}

// registerWithCapacity registers node id with the given capacity reported.
func registerWithCapacity(t *testing.T, o *Orchestrator, id string, limit rpc.ResourceSummary) {
	t.Helper()
	ctx := context.Background()
	if _, err := o.RegisterNode(ctx, &rpc.NodeRegisterRequest{Certificate: id}, "10.0.0.9:41234"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	err := o.UpdateNodeStatus(ctx, &rpc.NodeStatus{
		ID:       id,
		Status:   rpc.StatusRunning,
		Resource: &rpc.Resource{Limit: &limit},
	})
	if err != nil {
		t.Fatalf("UpdateNodeStatus: %v", err)
	}
}

func instanceWithLimit(id string, cpu, memory, disk uint64) *rpc.Instance {
	return &rpc.Instance{
		ID:     id,
		Name:   id,
		Type:   rpc.TypeContainer,
		Status: rpc.StatusScheduling,
		URI:    "docker.io/library/nginx:latest",
		Resource: &rpc.Resource{
			Limit: &rpc.ResourceSummary{CPU: cpu, Memory: memory, Disk: disk},
		},
	}
}

func drain(ch <-chan *rpc.InstanceStatus) []*rpc.InstanceStatus {
	var out []*rpc.InstanceStatus
	for st := range ch {
		out = append(out, st)
	}
	return out
}

func TestRegisterNodeOpaqueCredential(t *testing.T) {
	o := newTestOrch(t, &fakeCaller{}, Options{AgentPort: 50053})
	resp, err := o.RegisterNode(context.Background(), &rpc.NodeRegisterRequest{Certificate: "node-a"}, "192.0.2.10:50700")
	if err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if resp.ID != "node-a" {
		t.Fatalf("expected node id node-a, got %q", resp.ID)
	}
	if resp.IP != "192.0.2.10" {
		t.Fatalf("expected ip 192.0.2.10, got %q", resp.IP)
	}
	node, err := o.GetNode("node-a")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Address != "192.0.2.10:50053" {
		t.Fatalf("expected agent address 192.0.2.10:50053, got %q", node.Address)
	}
}

func TestRegisterNodeEmptyCredential(t *testing.T) {
	o := newTestOrch(t, &fakeCaller{}, Options{})
	_, err := o.RegisterNode(context.Background(), &rpc.NodeRegisterRequest{}, "192.0.2.10:50700")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestRegisterNodeEnrollToken(t *testing.T) {
	secret := []byte("enroll-secret")
	o := newTestOrch(t, &fakeCaller{}, Options{EnrollSecret: secret})

	tok, err := enroll.IssueToken(secret, "node-7", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	resp, err := o.RegisterNode(context.Background(), &rpc.NodeRegisterRequest{Certificate: tok}, "192.0.2.7:33000")
	if err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if resp.ID != "node-7" {
		t.Fatalf("expected token subject as node id, got %q", resp.ID)
	}

	_, err = o.RegisterNode(context.Background(), &rpc.NodeRegisterRequest{Certificate: "not-a-jwt"}, "192.0.2.7:33000")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential for garbage token, got %v", err)
	}
}

func TestCreateBeforeCapacityReported(t *testing.T) {
	o := newTestOrch(t, &fakeCaller{}, Options{})
	if _, err := o.RegisterNode(context.Background(), &rpc.NodeRegisterRequest{Certificate: "node-a"}, "192.0.2.10:50700"); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	// The node has registered but never reported capacity, it must not
	// receive placements.
	_, err := o.CreateInstance(context.Background(), instanceWithLimit("i-1", 1, 256, 1024))
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity, got %v", err)
	}
	if _, err := o.GetInstance("i-1"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("rejected create must leave no record, got %v", err)
	}
}

func TestCreateInstanceLifecycle(t *testing.T) {
	caller := &fakeCaller{statuses: []*rpc.InstanceStatus{
		{ID: "i-1", Status: rpc.StatusCreating},
		{ID: "i-1", Status: rpc.StatusRunning, Resource: &rpc.Resource{Usage: &rpc.ResourceSummary{CPU: 1, Memory: 100}}},
	}}
	o := newTestOrch(t, caller, Options{})
	registerWithCapacity(t, o, "node-a", rpc.ResourceSummary{CPU: 4, Memory: 8192, Disk: 100000})

	ch, err := o.CreateInstance(context.Background(), instanceWithLimit("i-1", 1, 256, 1024))
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	statuses := drain(ch)
	if len(statuses) != 2 {
		t.Fatalf("expected 2 status updates, got %d", len(statuses))
	}
	if statuses[0].Status != rpc.StatusCreating || statuses[1].Status != rpc.StatusRunning {
		t.Fatalf("unexpected status sequence: %v, %v", statuses[0].Status, statuses[1].Status)
	}

	inst, err := o.GetInstance("i-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != rpc.StatusRunning {
		t.Fatalf("expected registry status Running, got %v", inst.Status)
	}
	if inst.Resource.Limit.CPU != 1 {
		t.Fatalf("declared limit must survive status updates, got %+v", inst.Resource.Limit)
	}
	if inst.Resource.Usage == nil || inst.Resource.Usage.Memory != 100 {
		t.Fatalf("expected observed usage from report, got %+v", inst.Resource.Usage)
	}

	if len(caller.creates) != 1 || caller.creates[0] != "10.0.0.9:50053" {
		t.Fatalf("expected create forwarded to node address, got %v", caller.creates)
	}
}

func TestCreateAgentCallFailure(t *testing.T) {
	caller := &fakeCaller{createErr: errors.New("connection refused")}
	o := newTestOrch(t, caller, Options{})
	registerWithCapacity(t, o, "node-a", rpc.ResourceSummary{CPU: 4, Memory: 8192, Disk: 100000})

	if _, err := o.CreateInstance(context.Background(), instanceWithLimit("i-1", 1, 256, 1024)); err == nil {
		t.Fatalf("expected error from agent call failure")
	}
	inst, err := o.GetInstance("i-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != rpc.StatusFailed {
		t.Fatalf("expected Failed after agent call failure, got %v", inst.Status)
	}
}

func TestPlacementReleasesTerminalCapacity(t *testing.T) {
	caller := &fakeCaller{}
	o := newTestOrch(t, caller, Options{})
	registerWithCapacity(t, o, "node-a", rpc.ResourceSummary{CPU: 2, Memory: 1024, Disk: 10240})

	ch, err := o.CreateInstance(context.Background(), instanceWithLimit("i-1", 2, 512, 1024))
	if err != nil {
		t.Fatalf("CreateInstance i-1: %v", err)
	}
	drain(ch)

	// Node is fully committed.
	if _, err := o.CreateInstance(context.Background(), instanceWithLimit("i-2", 1, 256, 1024)); !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity while i-1 holds the node, got %v", err)
	}

	// A terminal instance stops counting against the node.
	err = o.UpdateInstanceStatus(context.Background(), &rpc.InstanceStatus{ID: "i-1", Status: rpc.StatusStopped})
	if err != nil {
		t.Fatalf("UpdateInstanceStatus: %v", err)
	}
	ch, err = o.CreateInstance(context.Background(), instanceWithLimit("i-2", 1, 256, 1024))
	if err != nil {
		t.Fatalf("expected capacity released after i-1 stopped: %v", err)
	}
	drain(ch)
}

func TestConcurrentCreatesNeverOversubscribe(t *testing.T) {
	caller := &fakeCaller{}
	o := newTestOrch(t, caller, Options{})
	registerWithCapacity(t, o, "node-a", rpc.ResourceSummary{CPU: 4, Memory: 4096, Disk: 40960})

	const attempts = 16
	var wg sync.WaitGroup
	placed := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("i-%d", i)
			ch, err := o.CreateInstance(context.Background(), instanceWithLimit(id, 1, 1024, 10240))
			if err != nil {
				return
			}
			drain(ch)
			placed <- id
		}(i)
	}
	wg.Wait()
	close(placed)

	var n int
	for range placed {
		n++
	}
	if n != 4 {
		t.Fatalf("expected exactly 4 placements on a 4-cpu node, got %d", n)
	}
}

func TestStopThenDestroy(t *testing.T) {
	caller := &fakeCaller{}
	o := newTestOrch(t, caller, Options{})
	registerWithCapacity(t, o, "node-a", rpc.ResourceSummary{CPU: 4, Memory: 4096, Disk: 40960})

	ch, err := o.CreateInstance(context.Background(), instanceWithLimit("i-1", 1, 256, 1024))
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	drain(ch)

	if err := o.StopInstance(context.Background(), "i-1"); err != nil {
		t.Fatalf("StopInstance: %v", err)
	}
	inst, err := o.GetInstance("i-1")
	if err != nil {
		t.Fatalf("stopped instance must remain queryable: %v", err)
	}
	if inst.Status != rpc.StatusStopped {
		t.Fatalf("expected Stopped, got %v", inst.Status)
	}

	if err := o.DestroyInstance(context.Background(), "i-1"); err != nil {
		t.Fatalf("DestroyInstance: %v", err)
	}
	if _, err := o.GetInstance("i-1"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("destroyed instance must be evicted, got %v", err)
	}

	if len(caller.signals) != 2 {
		t.Fatalf("expected stop and kill signals, got %d", len(caller.signals))
	}
	if caller.signals[0].Signal != rpc.SignalStop || caller.signals[1].Signal != rpc.SignalKill {
		t.Fatalf("unexpected signal order: %v, %v", caller.signals[0].Signal, caller.signals[1].Signal)
	}
}

func TestDestroyWithNodeGone(t *testing.T) {
	caller := &fakeCaller{}
	o := newTestOrch(t, caller, Options{})
	registerWithCapacity(t, o, "node-a", rpc.ResourceSummary{CPU: 4, Memory: 4096, Disk: 40960})

	ch, err := o.CreateInstance(context.Background(), instanceWithLimit("i-1", 1, 256, 1024))
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	drain(ch)

	if err := o.UnregisterNode(context.Background(), &rpc.NodeUnregisterRequest{ID: "node-a"}); err != nil {
		t.Fatalf("UnregisterNode: %v", err)
	}
	// Losing the node fails its instances.
	inst, err := o.GetInstance("i-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != rpc.StatusFailed {
		t.Fatalf("expected Failed after node unregistered, got %v", inst.Status)
	}

	// Destroy still evicts even though no agent can acknowledge.
	if err := o.DestroyInstance(context.Background(), "i-1"); err != nil {
		t.Fatalf("DestroyInstance: %v", err)
	}
	if _, err := o.GetInstance("i-1"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected eviction, got %v", err)
	}
	if len(caller.signals) != 0 {
		t.Fatalf("no signal should reach a gone node, got %d", len(caller.signals))
	}
}

func TestUpdateNodeStatusUnknownNode(t *testing.T) {
	o := newTestOrch(t, &fakeCaller{}, Options{})
	err := o.UpdateNodeStatus(context.Background(), &rpc.NodeStatus{ID: "ghost"})
	if !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
	if _, err := o.GetNode("ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("report must not create a node record, got %v", err)
	}
}

func TestHeartbeatTimeoutEviction(t *testing.T) {
	caller := &fakeCaller{}
	o := newTestOrch(t, caller, Options{HeartbeatTimeout: 10 * time.Second})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return base }
	registerWithCapacity(t, o, "node-a", rpc.ResourceSummary{CPU: 4, Memory: 4096, Disk: 40960})

	ch, err := o.CreateInstance(context.Background(), instanceWithLimit("i-1", 1, 256, 1024))
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	drain(ch)

	// Within the timeout nothing happens.
	o.now = func() time.Time { return base.Add(5 * time.Second) }
	o.evictStale()
	if _, err := o.GetNode("node-a"); err != nil {
		t.Fatalf("node evicted before timeout: %v", err)
	}

	o.now = func() time.Time { return base.Add(30 * time.Second) }
	o.evictStale()
	if _, err := o.GetNode("node-a"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected eviction after timeout, got %v", err)
	}
	inst, err := o.GetInstance("i-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != rpc.StatusFailed {
		t.Fatalf("expected Failed after node eviction, got %v", inst.Status)
	}
}
