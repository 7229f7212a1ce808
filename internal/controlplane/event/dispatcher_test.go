package event

import (
	"context"
	"errors"
	"io"
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

type fakeOrch struct {
	registerErr error
	statuses    []*rpc.InstanceStatus
	createErr   error
	stopErr     error

	stopped   []string
	destroyed []string
}

func (f *fakeOrch) RegisterNode(ctx context.Context, req *rpc.NodeRegisterRequest, sourceAddr string) (*rpc.NodeRegisterResponse, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &rpc.NodeRegisterResponse{ID: req.Certificate, IP: sourceAddr}, nil
}

func (f *fakeOrch) UnregisterNode(ctx context.Context, req *rpc.NodeUnregisterRequest) error {
	return nil
}

func (f *fakeOrch) CreateInstance(ctx context.Context, in *rpc.Instance) (<-chan *rpc.InstanceStatus, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	ch := make(chan *rpc.InstanceStatus, len(f.statuses))
	for _, st := range f.statuses {
		ch <- st
	}
	close(ch)
	return ch, nil
}

func (f *fakeOrch) StopInstance(ctx context.Context, id string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeOrch) DestroyInstance(ctx context.Context, id string) error {
	f.destroyed = append(f.destroyed, id)
	return nil
}

func (f *fakeOrch) UpdateNodeStatus(ctx context.Context, st *rpc.NodeStatus) error {
	return nil
}

func runDispatcher(t *testing.T, orch Orchestrator) (chan<- Event, func()) {
	t.Helper()
	events := make(chan Event)
	d := NewDispatcher(testLogger(), orch, events, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	return events, func() {
		cancel()
		<-done
	}
}

func TestDispatchRegister(t *testing.T) {
	events, stop := runDispatcher(t, &fakeOrch{})
	defer stop()

	reply := make(chan RegisterReply, 1)
	events <- NodeRegister{
		Request:    &rpc.NodeRegisterRequest{Certificate: "node-a"},
		SourceAddr: "192.0.2.1:4000",
		Reply:      reply,
	}
	res := <-reply
	if res.Err != nil {
		t.Fatalf("register reply error: %v", res.Err)
	}
	if res.Response.ID != "node-a" {
		t.Fatalf("expected node-a, got %q", res.Response.ID)
	}
}

func TestDispatchCreateStreamsStatuses(t *testing.T) {
	orch := &fakeOrch{statuses: []*rpc.InstanceStatus{
		{ID: "i-1", Status: rpc.StatusCreating},
		{ID: "i-1", Status: rpc.StatusRunning},
	}}
	events, stop := runDispatcher(t, orch)
	defer stop()

	reply := make(chan CreateReply, CreateStreamBuffer)
	events <- InstanceCreate{Ctx: context.Background(), Instance: &rpc.Instance{ID: "i-1"}, Reply: reply}

	var got []rpc.WorkloadStatus
	for r := range reply {
		if r.Err != nil {
			t.Fatalf("unexpected stream error: %v", r.Err)
		}
		got = append(got, r.Status.Status)
	}
	if len(got) != 2 || got[0] != rpc.StatusCreating || got[1] != rpc.StatusRunning {
		t.Fatalf("unexpected status sequence: %v", got)
	}
}

func TestDispatchCreateError(t *testing.T) {
	orch := &fakeOrch{createErr: errors.New("no capacity")}
	events, stop := runDispatcher(t, orch)
	defer stop()

	reply := make(chan CreateReply, CreateStreamBuffer)
	events <- InstanceCreate{Ctx: context.Background(), Instance: &rpc.Instance{ID: "i-1"}, Reply: reply}

	r, ok := <-reply
	if !ok {
		t.Fatalf("expected an error element before close")
	}
	if r.Err == nil {
		t.Fatalf("expected error reply")
	}
	if _, ok := <-reply; ok {
		t.Fatalf("expected channel closed after error")
	}
}

func TestDispatchSurvivesClosedReplyChannel(t *testing.T) {
	orch := &fakeOrch{}
	events, stop := runDispatcher(t, orch)
	defer stop()

	// A caller that gave up and closed its reply channel must not take
	// the dispatcher down.
	dead := make(chan error)
	close(dead)
	events <- InstanceStop{ID: "i-1", Reply: dead}

	// The loop is still alive and serving.
	reply := make(chan error, 1)
	events <- InstanceDestroy{ID: "i-2", Reply: reply}
	select {
	case err := <-reply:
		if err != nil {
			t.Fatalf("destroy reply error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher stopped responding after dead reply channel")
	}
}

func TestDispatchStop(t *testing.T) {
	orch := &fakeOrch{stopErr: errors.New("unreachable")}
	events, stop := runDispatcher(t, orch)
	defer stop()

	reply := make(chan error, 1)
	events <- InstanceStop{ID: "i-1", Reply: reply}
	if err := <-reply; err == nil {
		t.Fatalf("expected stop error to be forwarded")
	}
}
