package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/rpc"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	return logrus.NewEntry(logger)
}

// fakeRuntime blocks in Wait until released by Stop or release().
type fakeRuntime struct {
	startErr error
	waitErr  error

	mu      sync.Mutex
	done    chan struct{}
	stops   int
	removes int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{done: make(chan struct{})}
}

func (r *fakeRuntime) Start(ctx context.Context, inst *rpc.Instance) (string, error) {
	if r.startErr != nil {
		return "", r.startErr
	}
	return "handle-" + inst.ID, nil
}

func (r *fakeRuntime) Wait(ctx context.Context, handle string) error {
	select {
	case <-r.done:
	case <-ctx.Done():
	}
	return r.waitErr
}

func (r *fakeRuntime) Stop(ctx context.Context, handle string) error {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	r.release()
	return nil
}

func (r *fakeRuntime) Remove(ctx context.Context, handle string) error {
	r.mu.Lock()
	r.removes++
	r.mu.Unlock()
	return nil
}

func (r *fakeRuntime) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func recvStatus(t *testing.T, sink <-chan *rpc.InstanceStatus) *rpc.InstanceStatus {
	t.Helper()
	select {
	case st := <-sink:
		return st
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for status report")
		return nil
	}
}

func TestCreateRunsToExit(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(testLogger(), rt)
	sink := make(chan *rpc.InstanceStatus, 16)

	inst := &rpc.Instance{ID: "i-1", Resource: &rpc.Resource{Limit: &rpc.ResourceSummary{CPU: 1}}}
	if err := m.Create(context.Background(), inst, sink); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if st := recvStatus(t, sink); st.Status != rpc.StatusCreating {
		t.Fatalf("expected Creating first, got %v", st.Status)
	}
	st := recvStatus(t, sink)
	if st.Status != rpc.StatusRunning {
		t.Fatalf("expected Running, got %v", st.Status)
	}
	if st.Resource == nil || st.Resource.Limit == nil || st.Resource.Limit.CPU != 1 {
		t.Fatalf("reports must carry the declared limit, got %+v", st.Resource)
	}
	if !m.Running("i-1") {
		t.Fatalf("instance should be supervised while running")
	}

	rt.release() // workload exits on its own
	st = recvStatus(t, sink)
	if st.Status != rpc.StatusStopped || st.StatusDescription != "workload exited" {
		t.Fatalf("expected clean exit report, got %v %q", st.Status, st.StatusDescription)
	}
	if m.Running("i-1") {
		t.Fatalf("exited instance should be forgotten")
	}
}

func TestCreateStartFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr = errors.New("image not found")
	m := NewManager(testLogger(), rt)
	sink := make(chan *rpc.InstanceStatus, 16)

	if err := m.Create(context.Background(), &rpc.Instance{ID: "i-1"}, sink); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if st := recvStatus(t, sink); st.Status != rpc.StatusCreating {
		t.Fatalf("expected Creating, got %v", st.Status)
	}
	st := recvStatus(t, sink)
	if st.Status != rpc.StatusFailed {
		t.Fatalf("expected Failed after start error, got %v", st.Status)
	}
	if m.Running("i-1") {
		t.Fatalf("failed instance should be forgotten")
	}
}

func TestCreateDuplicate(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(testLogger(), rt)
	sink := make(chan *rpc.InstanceStatus, 16)

	inst := &rpc.Instance{ID: "i-1"}
	if err := m.Create(context.Background(), inst, sink); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Create(context.Background(), inst, sink); err == nil {
		t.Fatalf("expected duplicate create to be rejected")
	}
	rt.release()
}

func TestSignalStopsWorkload(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(testLogger(), rt)
	sink := make(chan *rpc.InstanceStatus, 16)

	inst := &rpc.Instance{ID: "i-1"}
	if err := m.Create(context.Background(), inst, sink); err != nil {
		t.Fatalf("Create: %v", err)
	}
	recvStatus(t, sink) // Creating
	recvStatus(t, sink) // Running

	sig := &rpc.SignalInstruction{Signal: rpc.SignalStop, Instance: inst}
	if err := m.Signal(context.Background(), sig); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	st := recvStatus(t, sink)
	if st.Status != rpc.StatusStopped || st.StatusDescription != "stopped on signal" {
		t.Fatalf("expected signal-stop report, got %v %q", st.Status, st.StatusDescription)
	}
	rt.mu.Lock()
	stops, removes := rt.stops, rt.removes
	rt.mu.Unlock()
	if stops != 1 {
		t.Fatalf("expected one runtime stop, got %d", stops)
	}
	if removes != 1 {
		t.Fatalf("expected workload cleanup, got %d removes", removes)
	}
}

func TestSignalUnknownInstance(t *testing.T) {
	m := NewManager(testLogger(), newFakeRuntime())
	sig := &rpc.SignalInstruction{Signal: rpc.SignalKill, Instance: &rpc.Instance{ID: "ghost"}}
	if err := m.Signal(context.Background(), sig); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
}
