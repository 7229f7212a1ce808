package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skiffworks/skiff/internal/rpc"
)

func (o *Orchestrator) registerMetrics(reg prometheus.Registerer) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "skiff",
		Name:      "nodes_registered",
		Help:      "Number of nodes currently registered with the scheduler.",
	}, func() float64 {
		o.mu.Lock()
		defer o.mu.Unlock()
		return float64(len(o.nodes))
	}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "skiff",
		Name:      "instances_total",
		Help:      "Number of instances currently in the registry.",
	}, func() float64 {
		o.mu.Lock()
		defer o.mu.Unlock()
		return float64(len(o.instances))
	}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "skiff",
		Name:      "instances_running",
		Help:      "Number of instances currently reported Running.",
	}, func() float64 {
		o.mu.Lock()
		defer o.mu.Unlock()
		var n int
		for _, rec := range o.instances {
			if rec.Spec.Status == rpc.StatusRunning {
				n++
			}
		}
		return float64(n)
	}))
}
