package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zhouzirui/storyline/internal/model/profile"
)

// Metrics holds the Prometheus collectors for gateway calls.
type Metrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

// NewMetrics registers the gateway collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyline_gateway_calls_total",
				Help: "Total number of backend gateway calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyline_gateway_call_duration_seconds",
				Help:    "Duration of backend gateway calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) observe(op Op, start time.Time, err error) {
	m.callsTotal.WithLabelValues(string(op), outcome(err)).Inc()
	m.callDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}

// outcome maps an error to a low-cardinality label.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return string(gwErr.Kind)
	}
	return "error"
}

type instrumented struct {
	next    Gateway
	metrics *Metrics
}

// Instrument wraps next so every call is counted and timed.
func Instrument(next Gateway, m *Metrics) Gateway {
	if m == nil {
		return next
	}
	return &instrumented{next: next, metrics: m}
}

func (g *instrumented) RegisterProfile(ctx context.Context, p profile.Profile) error {
	start := time.Now()
	err := g.next.RegisterProfile(ctx, p)
	g.metrics.observe(OpRegisterProfile, start, err)
	return err
}

func (g *instrumented) SubmitAnswer(ctx context.Context, text string, p profile.Profile) error {
	start := time.Now()
	err := g.next.SubmitAnswer(ctx, text, p)
	g.metrics.observe(OpSubmitAnswer, start, err)
	return err
}

func (g *instrumented) FetchStory(ctx context.Context, p profile.Profile) (string, error) {
	start := time.Now()
	story, err := g.next.FetchStory(ctx, p)
	g.metrics.observe(OpFetchStory, start, err)
	return story, err
}
