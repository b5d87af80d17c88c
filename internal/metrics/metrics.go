// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Scheduler instruments the lifecycle trigger loop.
type Scheduler struct {
	QueueSize        prometheus.Gauge
	Running          prometheus.Gauge
	TriggersFired    *prometheus.CounterVec
	PersistFailures  prometheus.Counter
	Escalations      prometheus.Counter
	Recoveries       prometheus.Counter
	SupervisorStarts prometheus.Counter
}

// NewScheduler registers the scheduler collectors on reg.
func NewScheduler(reg prometheus.Registerer) *Scheduler {
	m := &Scheduler{
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifecycle_trigger_queue_size",
			Help: "Pending lifecycle triggers held in memory.",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifecycle_scheduler_running",
			Help: "1 while the trigger loop is running.",
		}),
		TriggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifecycle_triggers_fired_total",
			Help: "Triggers applied, by kind.",
		}, []string{"kind"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifecycle_persist_failures_total",
			Help: "Status writes that failed and were rescheduled.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifecycle_trigger_escalations_total",
			Help: "Triggers whose retries exceeded the alert threshold.",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifecycle_recoveries_total",
			Help: "Times the trigger queue was rebuilt from storage.",
		}),
		SupervisorStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifecycle_supervisor_restarts_total",
			Help: "Times the supervisor restarted a stopped loop.",
		}),
	}
	reg.MustRegister(m.QueueSize, m.Running, m.TriggersFired, m.PersistFailures, m.Escalations, m.Recoveries, m.SupervisorStarts)
	return m
}

// Attendance instruments the tracker.
type Attendance struct {
	Marks         *prometheus.CounterVec
	Initialized   *prometheus.CounterVec
	ClassifyScore prometheus.Histogram
}

// NewAttendance registers the attendance collectors on reg.
func NewAttendance(reg prometheus.Registerer) *Attendance {
	m := &Attendance{
		Marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_marks_total",
			Help: "Mark attempts, by outcome.",
		}, []string{"outcome"}),
		Initialized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_configs_initialized_total",
			Help: "Attendance configs generated, by strategy.",
		}, []string{"strategy"}),
		ClassifyScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_classifier_confidence",
			Help:    "Confidence of generated strategy decisions.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 0.95},
		}),
	}
	reg.MustRegister(m.Marks, m.Initialized, m.ClassifyScore)
	return m
}
