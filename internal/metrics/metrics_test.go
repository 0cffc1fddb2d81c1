package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caddie.ai/internal/sim/agent"
	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/session"
)

func scrape(t *testing.T, s *Sink) string {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(body)
}

func TestSink_RecordsSession(t *testing.T) {
	s := New()
	m := session.Meta{SessionID: "s1"}
	s.SessionStarted(m, session.Start{ID: "s1", Config: session.DefaultConfig()})
	s.ItemsReady(m, make([]items.View, 3))
	ball := items.View{ID: "b", Tier: "SILVER", Value: 20}
	s.Decision(m, session.DecisionView{Chosen: &ball})
	s.Decision(m, session.DecisionView{})
	s.PhaseChanged(m, agent.StatusStopped, agent.StatusDeciding)
	s.ItemPickedUp(m, ball)
	s.ItemDroppedOff(m, ball)
	s.PointsEarned(m, 20, 20)
	s.HealthChanged(m, 42.5)
	s.SessionEnded(m, session.Result{ID: "s1", Outcome: agent.OutcomeSuccess, Score: 20, SimDuration: 30 * time.Second})

	body := scrape(t, s)
	for _, want := range []string{
		"caddie_points_total 20",
		`caddie_sessions_total{outcome="SUCCESS"} 1`,
		`caddie_decisions_total{result="chosen"} 1`,
		`caddie_decisions_total{result="none"} 1`,
		`caddie_deliveries_total{tier="SILVER"} 1`,
		"caddie_items_active 2",
		"caddie_health 42.5",
		"caddie_score 20",
		"caddie_session_sim_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestSink_GaugeFunc(t *testing.T) {
	s := New()
	s.GaugeFunc("caddie_index_queue_depth", "Pending index writes.", func() float64 { return 3 })
	if body := scrape(t, s); !strings.Contains(body, "caddie_index_queue_depth 3") {
		t.Fatalf("gauge func not exported:\n%s", body)
	}
}
