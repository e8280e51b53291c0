// Package metrics is a pipeline plugin exporting Prometheus counters and
// latency histograms per object type and operation. Enable it with the
// "metrics" feature flag.
package metrics

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
)

// Name is the plugin name used in configuration.
const Name = "metrics"

const namespace = "rdss_repository"

func init() {
	pipeline.Register(Name, content.TypeCommunity, pipeline.StageFactory[*content.Community](New[*content.Community]))
	pipeline.Register(Name, content.TypeCollection, pipeline.StageFactory[*content.Collection](New[*content.Collection]))
	pipeline.Register(Name, content.TypeItem, pipeline.StageFactory[*content.Item](New[*content.Item]))
	pipeline.Register(Name, content.TypeBundle, pipeline.StageFactory[*content.Bundle](New[*content.Bundle]))
	pipeline.Register(Name, content.TypeBitstream, pipeline.StageFactory[*content.Bitstream](New[*content.Bitstream]))
}

type collectors struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// register adds c to reg, or returns the collector registered before by
// another pipeline.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func newCollectors(reg prometheus.Registerer) (*collectors, error) {
	labels := []string{"type", "op"}
	operations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_operations_total",
		Help:      "The total number of pipeline operations.",
	}, labels))
	if err != nil {
		return nil, err
	}
	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_failures_total",
		Help:      "The total number of pipeline operations that returned an error.",
	}, labels))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_operation_duration_seconds",
		Help:      "Time spent below the metrics stage.",
		Buckets:   prometheus.DefBuckets,
	}, labels))
	if err != nil {
		return nil, err
	}
	return &collectors{operations: operations, failures: failures, duration: duration}, nil
}

// Stage measures the operations passing through it.
type Stage[T pipeline.Object] struct {
	pipeline.Forward[T]
	typ string
	c   *collectors
}

// New is the StageFactory of the plugin. Collectors go to env.Registerer,
// or the default registerer when it is nil.
func New[T pipeline.Object](env pipeline.Env, next pipeline.Stage[T]) (pipeline.Stage[T], error) {
	reg := env.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c, err := newCollectors(reg)
	if err != nil {
		return nil, err
	}
	return &Stage[T]{Forward: pipeline.Forward[T]{Next: next}, typ: env.Type.String(), c: c}, nil
}

func (m *Stage[T]) observe(op string, start time.Time, err error) {
	m.c.operations.WithLabelValues(m.typ, op).Inc()
	m.c.duration.WithLabelValues(m.typ, op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.c.failures.WithLabelValues(m.typ, op).Inc()
	}
}

func (m *Stage[T]) Create(s *session.Session) (T, error) {
	start := time.Now()
	o, err := m.Next.Create(s)
	m.observe("create", start, err)
	return o, err
}

func (m *Stage[T]) Retrieve(s *session.Session, id uuid.UUID) (T, error) {
	start := time.Now()
	o, err := m.Next.Retrieve(s, id)
	m.observe("retrieve", start, err)
	return o, err
}

func (m *Stage[T]) Update(s *session.Session, o T) error {
	start := time.Now()
	err := m.Next.Update(s, o)
	m.observe("update", start, err)
	return err
}

func (m *Stage[T]) Delete(s *session.Session, id uuid.UUID) error {
	start := time.Now()
	err := m.Next.Delete(s, id)
	m.observe("delete", start, err)
	return err
}

func (m *Stage[T]) Link(s *session.Session, parent T, child content.Object) error {
	start := time.Now()
	err := m.Next.Link(s, parent, child)
	m.observe("link", start, err)
	return err
}

func (m *Stage[T]) Unlink(s *session.Session, parent T, child content.Object) error {
	start := time.Now()
	err := m.Next.Unlink(s, parent, child)
	m.observe("unlink", start, err)
	return err
}

func (m *Stage[T]) Linked(s *session.Session, parent T, child content.Object) (bool, error) {
	start := time.Now()
	ok, err := m.Next.Linked(s, parent, child)
	m.observe("linked", start, err)
	return ok, err
}
