// Package metrics holds the prometheus collectors exported by warden.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "warden"

// Reclaimer instruments the epoch reclaimer.
type Reclaimer struct {
	Rotations   prometheus.Counter
	Epoch       prometheus.Gauge
	FreedBlocks prometheus.Counter
	FreedBytes  prometheus.Counter
	Tracked     prometheus.Gauge
	Manual      prometheus.Gauge
}

// Mask instruments dynamic masks.
type Mask struct {
	Grows    prometheus.Counter
	Capacity prometheus.Gauge
}

// Set bundles every collector.
type Set struct {
	Reclaimer *Reclaimer
	Mask      *Mask
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		Reclaimer: &Reclaimer{
			Rotations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "reclaim", Name: "rotations_total",
				Help: "Epoch rotations performed.",
			}),
			Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "reclaim", Name: "epoch",
				Help: "Current reclamation epoch.",
			}),
			FreedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "reclaim", Name: "freed_blocks_total",
				Help: "Blocks freed by sweeps.",
			}),
			FreedBytes: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "reclaim", Name: "freed_bytes_total",
				Help: "Bytes freed by sweeps.",
			}),
			Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "reclaim", Name: "tracked_blocks",
				Help: "Blocks currently tracked by the lifetime tree.",
			}),
			Manual: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "reclaim", Name: "manual_mode",
				Help: "1 while rotation is manual-only.",
			}),
		},
		Mask: &Mask{
			Grows: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "mask", Name: "grows_total",
				Help: "Backing array replacements.",
			}),
			Capacity: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "mask", Name: "capacity_bits",
				Help: "Capacity of the most recently grown mask.",
			}),
		},
	}
	if reg != nil {
		reg.MustRegister(
			s.Reclaimer.Rotations, s.Reclaimer.Epoch, s.Reclaimer.FreedBlocks,
			s.Reclaimer.FreedBytes, s.Reclaimer.Tracked, s.Reclaimer.Manual,
			s.Mask.Grows, s.Mask.Capacity,
		)
	}
	return s
}
