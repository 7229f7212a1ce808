package event

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/skiffworks/skiff/internal/rpc"
)

// Orchestrator is the set of operations the dispatcher routes events to.
// Implemented by *orchestrator.Orchestrator.
type Orchestrator interface {
	RegisterNode(ctx context.Context, req *rpc.NodeRegisterRequest, sourceAddr string) (*rpc.NodeRegisterResponse, error)
	UnregisterNode(ctx context.Context, req *rpc.NodeUnregisterRequest) error
	CreateInstance(ctx context.Context, in *rpc.Instance) (<-chan *rpc.InstanceStatus, error)
	StopInstance(ctx context.Context, id string) error
	DestroyInstance(ctx context.Context, id string) error
	UpdateNodeStatus(ctx context.Context, st *rpc.NodeStatus) error
}

// Dispatcher is the scheduler's single entry point: it consumes events from
// all network-facing services and routes each to the orchestrator, sending
// the result back through the event's reply channel. It holds no business
// state.
type Dispatcher struct {
	logger *logrus.Entry
	orch   Orchestrator
	events <-chan Event

	eventsHandled *prometheus.CounterVec
}

func NewDispatcher(logger *logrus.Entry, orch Orchestrator, events <-chan Event, reg prometheus.Registerer) *Dispatcher {
	d := &Dispatcher{
		logger: logger,
		orch:   orch,
		events: events,
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skiff",
			Name:      "dispatcher_events_total",
			Help:      "Events handled by the dispatcher, by type.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(d.eventsHandled)
	}
	return d
}

// Run consumes events until ctx is done or the event channel closes. A
// failing event never takes the loop down.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	d.eventsHandled.WithLabelValues(ev.name()).Inc()
	switch ev := ev.(type) {
	case NodeRegister:
		resp, err := d.orch.RegisterNode(ctx, ev.Request, ev.SourceAddr)
		d.send(ev, func() { ev.Reply <- RegisterReply{Response: resp, Err: err} })
	case NodeUnregister:
		err := d.orch.UnregisterNode(ctx, ev.Request)
		d.send(ev, func() { ev.Reply <- err })
	case NodeStatusUpdate:
		err := d.orch.UpdateNodeStatus(ctx, ev.Status)
		if err != nil {
			d.logger.WithField("node", ev.Status.ID).WithError(err).Warn("rejected node status report")
		}
		d.send(ev, func() { ev.Reply <- err })
	case InstanceCreate:
		// Long-lived: relays the instance's status stream. Runs in its
		// own task so one instance cannot stall the dispatch loop.
		go d.handleCreate(ctx, ev)
	case InstanceStop:
		go func() {
			err := d.orch.StopInstance(ctx, ev.ID)
			d.send(ev, func() { ev.Reply <- err })
		}()
	case InstanceDestroy:
		go func() {
			err := d.orch.DestroyInstance(ctx, ev.ID)
			d.send(ev, func() { ev.Reply <- err })
		}()
	default:
		d.logger.Warnf("dropping event of unknown type %T", ev)
	}
}

func (d *Dispatcher) handleCreate(ctx context.Context, ev InstanceCreate) {
	defer close(ev.Reply)
	if ev.Ctx != nil {
		ctx = ev.Ctx
	}
	statuses, err := d.orch.CreateInstance(ctx, ev.Instance)
	if err != nil {
		d.send(ev, func() { ev.Reply <- CreateReply{Err: err} })
		return
	}
	for st := range statuses {
		delivered := false
		d.send(ev, func() {
			select {
			case ev.Reply <- CreateReply{Status: st}:
				delivered = true
			case <-ctx.Done():
			}
		})
		if !delivered {
			return
		}
	}
}

// send runs a reply-channel operation, logging instead of crashing if the
// caller already dropped its end.
func (d *Dispatcher) send(ev Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("event", ev.name()).Warnf("reply channel gone: %v", r)
		}
	}()
	fn()
}
