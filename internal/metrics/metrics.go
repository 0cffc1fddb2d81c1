// Package metrics exposes session counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"caddie.ai/internal/sim/agent"
	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/session"
)

// Sink records session notifications into its own registry.
type Sink struct {
	session.NopSink

	reg *prometheus.Registry

	sessions   *prometheus.CounterVec
	points     prometheus.Counter
	deliveries *prometheus.CounterVec
	decisions  *prometheus.CounterVec
	phases     *prometheus.CounterVec
	health     prometheus.Gauge
	score      prometheus.Gauge
	active     prometheus.Gauge
	duration   prometheus.Histogram
}

func New() *Sink {
	s := &Sink{
		reg: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caddie_sessions_total",
			Help: "Finished sessions by outcome.",
		}, []string{"outcome"}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caddie_points_total",
			Help: "Points awarded across all sessions.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caddie_deliveries_total",
			Help: "Items dropped off at the delivery point by tier.",
		}, []string{"tier"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caddie_decisions_total",
			Help: "Target selections by result (chosen or none).",
		}, []string{"result"}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caddie_phase_transitions_total",
			Help: "Agent phase entries by phase.",
		}, []string{"phase"}),
		health: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caddie_health",
			Help: "Health of the running session.",
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caddie_score",
			Help: "Score of the running session.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caddie_items_active",
			Help: "Items placed for the running session.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caddie_session_sim_seconds",
			Help:    "Simulated length of finished sessions.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		}),
	}
	s.reg.MustRegister(s.sessions, s.points, s.deliveries, s.decisions, s.phases, s.health, s.score, s.active, s.duration)
	return s
}

func (s *Sink) Registry() *prometheus.Registry { return s.reg }

// GaugeFunc registers a gauge sampled from fn at scrape time.
func (s *Sink) GaugeFunc(name, help string, fn func() float64) {
	s.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}

func (s *Sink) SessionStarted(m session.Meta, st session.Start) {
	s.health.Set(st.Config.MaxHealth)
	s.score.Set(0)
}

func (s *Sink) ItemsReady(m session.Meta, active []items.View) {
	s.active.Set(float64(len(active)))
}

func (s *Sink) PhaseChanged(m session.Meta, from, to agent.Status) {
	s.phases.WithLabelValues(to.String()).Inc()
}

func (s *Sink) Decision(m session.Meta, d session.DecisionView) {
	if d.Chosen != nil {
		s.decisions.WithLabelValues("chosen").Inc()
		return
	}
	s.decisions.WithLabelValues("none").Inc()
}

func (s *Sink) ItemPickedUp(m session.Meta, it items.View) {
	s.active.Dec()
}

func (s *Sink) ItemDroppedOff(m session.Meta, it items.View) {
	s.deliveries.WithLabelValues(it.Tier).Inc()
}

func (s *Sink) PointsEarned(m session.Meta, amount, score int) {
	s.points.Add(float64(amount))
	s.score.Set(float64(score))
}

func (s *Sink) HealthChanged(m session.Meta, health float64) {
	s.health.Set(health)
}

func (s *Sink) SessionEnded(m session.Meta, r session.Result) {
	s.sessions.WithLabelValues(r.Outcome.String()).Inc()
	s.duration.Observe(r.SimDuration.Seconds())
}

var (
	_ session.Sink             = (*Sink)(nil)
	_ session.PresentationSink = (*Sink)(nil)
)
