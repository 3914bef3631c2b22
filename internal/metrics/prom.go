// Package metrics exports conductor activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/azargarov/conductor"
)

// Prom implements conductor.MetricsPolicy with Prometheus counters.
type Prom struct {
	Submitted   prometheus.Counter
	Assigned    *prometheus.CounterVec
	Completions *prometheus.CounterVec
}

var _ conductor.MetricsPolicy = (*Prom)(nil)

// NewProm creates the counters. They still have to be registered, see
// Collectors.
func NewProm() *Prom {
	return &Prom{
		Submitted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "conductor_tasks_submitted_total", Help: "Tasks accepted into the inbound queue"},
		),
		Assigned: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "conductor_tasks_assigned_total", Help: "Tasks handed to a worker"},
			[]string{"task_kind", "worker_kind", "branch"},
		),
		Completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "conductor_completions_total", Help: "Completed tasks by delivery outcome"},
			[]string{"outcome"},
		),
	}
}

func (p *Prom) IncSubmitted() { p.Submitted.Inc() }

func (p *Prom) IncAssigned(task, worker conductor.Kind, b conductor.Branch) {
	p.Assigned.WithLabelValues(task.String(), worker.String(), b.String()).Inc()
}

func (p *Prom) IncCompleted() { p.Completions.WithLabelValues("delivered").Inc() }

func (p *Prom) IncDropped() { p.Completions.WithLabelValues("dropped").Inc() }

// Collectors returns the counters for registration.
func (p *Prom) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.Submitted, p.Assigned, p.Completions}
}

// StatsFunc returns a fresh snapshot of the conductor state.
type StatsFunc func() conductor.Stats

// Gauges exposes queue, client and pool sizes, sampled at scrape time.
func Gauges(stats StatsFunc) []prometheus.Collector {
	gauge := func(name, help string, labels prometheus.Labels, f func(conductor.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels},
			func() float64 { return float64(f(stats())) },
		)
	}

	out := []prometheus.Collector{
		gauge("conductor_inbound_queue_length", "Tasks waiting for a worker", nil,
			func(s conductor.Stats) int { return s.Inbound }),
		gauge("conductor_outbound_queue_length", "Completions waiting for delivery", nil,
			func(s conductor.Stats) int { return s.Outbound }),
		gauge("conductor_clients", "Connected clients", nil,
			func(s conductor.Stats) int { return s.Clients }),
		gauge("conductor_crossover_factor", "Current crossover backlog multiplier", nil,
			func(s conductor.Stats) int { return s.CrossoverFactor }),
	}
	for _, k := range conductor.Kinds {
		labels := prometheus.Labels{"kind": k.String()}
		out = append(out,
			gauge("conductor_workers_registered", "Workers ever registered", labels,
				func(s conductor.Stats) int { return s.Pools[k].Registered }),
			gauge("conductor_workers_available", "Idle workers", labels,
				func(s conductor.Stats) int { return s.Pools[k].Available }),
			gauge("conductor_workers_assigned", "Workers holding a task", labels,
				func(s conductor.Stats) int { return s.Pools[k].Assigned }),
			gauge("conductor_workers_dead", "Workers that disconnected", labels,
				func(s conductor.Stats) int { return s.Pools[k].Dead }),
		)
	}
	return out
}

// NewRegistry returns a registry holding p's counters and the gauges
// over stats.
func NewRegistry(p *Prom, stats StatsFunc) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p.Collectors()...)
	reg.MustRegister(Gauges(stats)...)
	return reg
}
