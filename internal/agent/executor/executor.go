// Package executor runs workload instances on the local node and surfaces
// their lifecycle as a stream of status reports.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/rpc"
)

// ErrUnknownInstance is returned when a signal names an instance that is not
// running locally.
var ErrUnknownInstance = errors.New("no such instance on this node")

// sinkTimeout bounds how long a status report may wait on a stalled sink
// before being dropped.
const sinkTimeout = 5 * time.Second

// Runtime executes one workload instance. Implementations: DockerRuntime.
type Runtime interface {
	// Start creates and starts the workload, returning an opaque handle.
	Start(ctx context.Context, inst *rpc.Instance) (string, error)
	// Wait blocks until the workload exits; a non-nil error means it
	// exited unsuccessfully.
	Wait(ctx context.Context, handle string) error
	// Stop requests a graceful stop.
	Stop(ctx context.Context, handle string) error
	// Remove cleans up the workload's remains.
	Remove(ctx context.Context, handle string) error
}

type proc struct {
	handle  string
	cancel  context.CancelFunc
	stopped bool // a stop/kill signal was delivered
}

// Manager supervises the instances assigned to this node. Each instance runs
// in its own goroutine; a stall in one never blocks another.
type Manager struct {
	logger  *logrus.Entry
	runtime Runtime

	mu    sync.Mutex
	procs map[string]*proc
}

func NewManager(logger *logrus.Entry, runtime Runtime) *Manager {
	return &Manager{
		logger:  logger,
		runtime: runtime,
		procs:   make(map[string]*proc),
	}
}

// Create starts execution of the instance and pushes status reports into
// sink as the workload transitions. Reports keep flowing for the instance's
// lifetime; execution is detached from the caller's context.
func (m *Manager) Create(ctx context.Context, inst *rpc.Instance, sink chan<- *rpc.InstanceStatus) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Lock()
	if _, exists := m.procs[inst.ID]; exists {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("instance %s already running on this node", inst.ID)
	}
	p := &proc{cancel: cancel}
	m.procs[inst.ID] = p
	m.mu.Unlock()

	go m.run(runCtx, inst, p, sink)
	return nil
}

// Signal delivers a control signal to a locally running instance.
func (m *Manager) Signal(ctx context.Context, sig *rpc.SignalInstruction) error {
	if sig.Instance == nil {
		return fmt.Errorf("signal without target instance")
	}
	m.mu.Lock()
	p, ok := m.procs[sig.Instance.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInstance, sig.Instance.ID)
	}
	p.stopped = true
	handle := p.handle
	m.mu.Unlock()

	if handle != "" {
		if err := m.runtime.Stop(ctx, handle); err != nil {
			return fmt.Errorf("stop %s: %w", sig.Instance.ID, err)
		}
	}
	p.cancel()
	return nil
}

// Running reports whether the instance is currently supervised here.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.procs[id]
	return ok
}

func (m *Manager) run(ctx context.Context, inst *rpc.Instance, p *proc, sink chan<- *rpc.InstanceStatus) {
	logger := m.logger.WithField("instance", inst.ID)
	m.report(sink, inst, rpc.StatusCreating, "")

	handle, err := m.runtime.Start(ctx, inst)
	if err != nil {
		logger.WithError(err).Error("workload start failed")
		m.forget(inst.ID)
		m.report(sink, inst, rpc.StatusFailed, "workload start failed: "+err.Error())
		return
	}
	m.mu.Lock()
	p.handle = handle
	m.mu.Unlock()

	logger.WithField("handle", handle).Info("workload running")
	m.report(sink, inst, rpc.StatusRunning, "")

	waitErr := m.runtime.Wait(ctx, handle)
	if err := m.runtime.Remove(context.WithoutCancel(ctx), handle); err != nil {
		logger.WithError(err).Warn("workload cleanup failed")
	}

	m.mu.Lock()
	stopped := p.stopped
	delete(m.procs, inst.ID)
	m.mu.Unlock()

	switch {
	case stopped:
		logger.Info("workload stopped")
		m.report(sink, inst, rpc.StatusStopped, "stopped on signal")
	case waitErr != nil:
		logger.WithError(waitErr).Error("workload failed")
		m.report(sink, inst, rpc.StatusFailed, waitErr.Error())
	default:
		logger.Info("workload exited")
		m.report(sink, inst, rpc.StatusStopped, "workload exited")
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.procs, id)
	m.mu.Unlock()
}

// report pushes one status into the shared sink. The sink is bounded; a
// consumer stalled past sinkTimeout loses the report rather than wedging the
// instance's task.
func (m *Manager) report(sink chan<- *rpc.InstanceStatus, inst *rpc.Instance, status rpc.WorkloadStatus, desc string) {
	st := &rpc.InstanceStatus{
		ID:                inst.ID,
		Status:            status,
		StatusDescription: desc,
	}
	if inst.Resource != nil && inst.Resource.Limit != nil {
		lim := *inst.Resource.Limit
		st.Resource = &rpc.Resource{Limit: &lim}
	}
	t := time.NewTimer(sinkTimeout)
	defer t.Stop()
	select {
	case sink <- st:
	case <-t.C:
		m.logger.WithField("instance", inst.ID).Warn("status sink stalled, dropping report")
	}
}
