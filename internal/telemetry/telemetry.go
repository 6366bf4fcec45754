// Package telemetry exposes engine/store-level counters and gauges as a
// prometheus.Registerer the host can serve on its own /metrics endpoint
// (SPEC_FULL.md §3 "DOMAIN STACK"). Grounded on open-policy-agent-opa's
// storage/disk/metrics.go: package-level metric vars, a single
// Register(prometheus.Registerer) entry point, and plain float64
// observations with no per-call label cardinality explosion.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the core emits. The zero value is
// unusable; construct with New.
type Metrics struct {
	FuelConsumedTotal   prometheus.Counter
	TrapsByCode         *prometheus.CounterVec
	SuspensionsTotal    prometheus.Counter
	ActiveInstances     prometheus.Gauge
	ResourceTableSize   prometheus.Gauge
	IntegrityFailures   prometheus.Counter
	ReentryDepthCurrent prometheus.Gauge
}

// New constructs a Metrics bundle under the given namespace (typically the
// embedding host's own service name) without registering it anywhere.
func New(namespace string) *Metrics {
	return &Metrics{
		FuelConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "wasm_engine", Name: "fuel_consumed_total",
			Help: "Total fuel deducted across every Engine.Invoke/Resume call.",
		}),
		TrapsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "wasm_engine", Name: "traps_total",
			Help: "Traps raised, partitioned by trap code.",
		}, []string{"code"}),
		SuspensionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "wasm_engine", Name: "suspensions_total",
			Help: "Fuel-exhaustion suspensions returned by Engine.Invoke/Resume.",
		}),
		ActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "wasm_store", Name: "active_instances",
			Help: "Instances currently registered in the Store.",
		}),
		ResourceTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "wasm_component", Name: "resource_table_size",
			Help: "Live entries across every instance's ResourceTable.",
		}),
		IntegrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "wasm_memory", Name: "integrity_failures_total",
			Help: "Checksum mismatches detected on Read at Full+ verification levels.",
		}),
		ReentryDepthCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "wasm_hostbridge", Name: "reentry_depth_current",
			Help: "Current host<->Wasm reentrancy depth.",
		}),
	}
}

// Register adds every metric in the bundle to reg, matching the
// register-each-in-a-loop idiom the teacher pack uses at plugin init time.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.FuelConsumedTotal,
		m.TrapsByCode,
		m.SuspensionsTotal,
		m.ActiveInstances,
		m.ResourceTableSize,
		m.IntegrityFailures,
		m.ReentryDepthCurrent,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
