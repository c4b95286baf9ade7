// Package metrics holds the prometheus collectors of the automation engine.
// Every collector is registered on a private registry that the API exposes on
// /metrics.
package metrics

import (
	"time"

	"github/chapool/go-autoyield/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autoyield"

const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeConfirmed   = "confirmed"
	OutcomeFailed      = "failed"
	OutcomeUnconfirmed = "unconfirmed"
	OutcomeSkipped     = "skipped"
)

type Service struct {
	registry *prometheus.Registry

	stages            *prometheus.CounterVec
	operations        *prometheus.CounterVec
	operationDuration prometheus.Histogram
	ticks             *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	tasks             *prometheus.GaugeVec
}

func New(cfg config.Server) (*Service, error) {
	registry := prometheus.NewRegistry()
	if cfg.Echo.Debug {
		registry.MustRegister(collectors.NewGoCollector())
	}

	return &Service{
		registry: registry,
		stages: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "stage_total",
			Help:      "Builder stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		operations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "operations_total",
			Help:      "Submitted operations by final outcome.",
		}, []string{"outcome"}),
		operationDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "builder",
			Name:      "operation_duration_seconds",
			Help:      "Time from nonce fetch to the final builder state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		ticks: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Task runs by action and outcome.",
		}, []string{"action", "outcome"}),
		decisions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Decision engine results by kind.",
		}, []string{"kind"}),
		tasks: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks",
			Help:      "Registered tasks by state.",
		}, []string{"state"}),
	}, nil
}

// Registry is both the registerer and the gatherer of all collectors.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Service) ObserveStage(stage string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	s.stages.WithLabelValues(stage, outcome).Inc()
}

func (s *Service) ObserveOperation(outcome string, d time.Duration) {
	s.operations.WithLabelValues(outcome).Inc()
	s.operationDuration.Observe(d.Seconds())
}

func (s *Service) ObserveTick(action, outcome string) {
	s.ticks.WithLabelValues(action, outcome).Inc()
}

func (s *Service) ObserveDecision(kind string) {
	s.decisions.WithLabelValues(kind).Inc()
}

func (s *Service) SetTasks(enabled, disabled int) {
	s.tasks.WithLabelValues("enabled").Set(float64(enabled))
	s.tasks.WithLabelValues("disabled").Set(float64(disabled))
}
