package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"caddie.ai/internal/sim/agent"
	"caddie.ai/internal/sim/geom"
	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/nav"
)

const quantum = 100 * time.Millisecond

type recordingSink struct {
	started []Start
	ready   []int
	phases  []agent.Status
	points  []int
	scores  []int
	healths []float64
	ended   []Result
	picks   int
	drops   int
	lastSeq uint64
	seqOK   bool
}

func newRecordingSink() *recordingSink { return &recordingSink{seqOK: true} }

func (r *recordingSink) seen(m Meta) {
	if m.Seq <= r.lastSeq && m.Seq != 1 {
		r.seqOK = false
	}
	r.lastSeq = m.Seq
}

func (r *recordingSink) SessionEnded(m Meta, res Result) { r.seen(m); r.ended = append(r.ended, res) }
func (r *recordingSink) PointsEarned(m Meta, amount, score int) {
	r.seen(m)
	r.points = append(r.points, amount)
	r.scores = append(r.scores, score)
}
func (r *recordingSink) HealthChanged(m Meta, h float64) { r.seen(m); r.healths = append(r.healths, h) }
func (r *recordingSink) SessionStarted(m Meta, s Start) { r.seen(m); r.started = append(r.started, s) }
func (r *recordingSink) ItemsReady(m Meta, v []items.View) { r.seen(m); r.ready = append(r.ready, len(v)) }
func (r *recordingSink) PhaseChanged(m Meta, _, to agent.Status) {
	r.seen(m)
	r.phases = append(r.phases, to)
}
func (r *recordingSink) Decision(m Meta, _ DecisionView) { r.seen(m) }
func (r *recordingSink) ItemPickedUp(m Meta, _ items.View) { r.seen(m); r.picks++ }
func (r *recordingSink) ItemDroppedOff(m Meta, _ items.View) { r.seen(m); r.drops++ }

// fixedPlacer ignores the sampled candidate and hands out positions in order.
func fixedPlacer(ps ...geom.Vec3) items.Validator {
	i := 0
	return func(geom.Vec3) (geom.Vec3, bool) {
		p := ps[i%len(ps)]
		i++
		return p, true
	}
}

func newTestCoordinator(t *testing.T, cfg Config, place items.Validator) (*Coordinator, *nav.Field) {
	t.Helper()
	ncfg := nav.DefaultConfig()
	ncfg.Bounds = geom.Rect{MinX: -50, MinZ: -50, MaxX: 50, MaxZ: 50}
	ncfg.Speed = 1
	ncfg.StoppingDistance = 0
	field := nav.NewField(ncfg)
	pool := items.NewPool(items.Options{Seed: 7})
	c := New(cfg, Deps{Pool: pool, Nav: field, Validate: place})
	return c, field
}

func scenarioConfig(health float64, count int) Config {
	cfg := DefaultConfig()
	cfg.MaxHealth = health
	cfg.DepletionRate = 1
	cfg.ItemCount = count
	cfg.AreaBounds = geom.Rect{MinX: -50, MinZ: -50, MaxX: 50, MaxZ: 50}
	return cfg
}

func runSession(t *testing.T, c *Coordinator, maxSteps int) int {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if !c.Active() {
			return i
		}
		c.Step(quantum)
	}
	if c.Active() {
		t.Fatalf("session still active after %d steps (snapshot %+v)", maxSteps, c.Snapshot())
	}
	return maxSteps
}

func TestCoordinator_ScenarioA(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 1), fixedPlacer(geom.Vec3{X: 10}))
	rec := newRecordingSink()
	c.Subscribe(rec)

	id, err := c.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == "" || c.SessionID() != id {
		t.Fatalf("session id: %q vs %q", id, c.SessionID())
	}
	runSession(t, c, 1000)

	if len(rec.ended) != 1 {
		t.Fatalf("SessionEnded count: got %d want 1", len(rec.ended))
	}
	res := rec.ended[0]
	if res.ID != id || res.Outcome != agent.OutcomeSuccess || res.Label != "Congratulations" {
		t.Fatalf("result: %+v", res)
	}
	if res.Score != 10 || res.Delivered != 1 {
		t.Fatalf("score/delivered: %+v", res)
	}
	sum := 0
	for _, p := range rec.points {
		sum += p
	}
	if sum != res.Score {
		t.Fatalf("points sum %d != score %d", sum, res.Score)
	}
	if res.SimDuration < 20*time.Second {
		t.Fatalf("sim duration too short: %s", res.SimDuration)
	}
	for i := 1; i < len(rec.healths); i++ {
		if rec.healths[i] > rec.healths[i-1] {
			t.Fatalf("health increased at %d", i)
		}
	}
	if rec.picks != 1 || rec.drops != 1 {
		t.Fatalf("picks=%d drops=%d", rec.picks, rec.drops)
	}
	if len(rec.started) != 1 || len(rec.ready) != 1 || rec.ready[0] != 1 {
		t.Fatalf("start/ready: %v %v", rec.started, rec.ready)
	}
	if !rec.seqOK {
		t.Fatalf("sequence numbers not increasing")
	}
	if last := c.LastResult(); last == nil || last.ID != id {
		t.Fatalf("last result: %+v", last)
	}
}

func TestCoordinator_ScenarioB(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(5, 1), fixedPlacer(geom.Vec3{X: 25}))
	rec := newRecordingSink()
	c.Subscribe(rec)
	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	runSession(t, c, 200)

	if len(rec.ended) != 1 {
		t.Fatalf("SessionEnded count: %d", len(rec.ended))
	}
	res := rec.ended[0]
	if res.Outcome != agent.OutcomeFailure || res.Label != "Game Over" || res.Score != 0 {
		t.Fatalf("result: %+v", res)
	}
	if rec.healths[len(rec.healths)-1] != 0 {
		t.Fatalf("final health: %v", rec.healths[len(rec.healths)-1])
	}
}

func TestCoordinator_ScenarioD(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 0), fixedPlacer(geom.Vec3{}))
	rec := newRecordingSink()
	c.Subscribe(rec)
	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	steps := runSession(t, c, 10)
	if steps != 1 {
		t.Fatalf("expected to finish on the first quantum, took %d", steps)
	}
	if len(rec.ended) != 1 || rec.ended[0].Outcome != agent.OutcomeSuccess || rec.ended[0].Score != 0 {
		t.Fatalf("result: %+v", rec.ended)
	}
}

func TestCoordinator_ConfigErrorsLeaveStateUntouched(t *testing.T) {
	pool := items.NewPool(items.Options{Seed: 1})
	place := fixedPlacer(geom.Vec3{X: 1})
	if err := pool.Populate(context.Background(), 3, geom.Rect{MaxX: 10, MaxZ: 10}, place, geom.Vec3{}); err != nil {
		t.Fatalf("seed populate: %v", err)
	}
	rec := newRecordingSink()

	c := New(scenarioConfig(100, 5), Deps{Pool: pool, Validate: place})
	c.Subscribe(rec)
	if _, err := c.StartSession(context.Background()); !errors.Is(err, ErrMissingNavigator) {
		t.Fatalf("missing nav: got %v", err)
	}

	field := nav.NewField(nav.DefaultConfig())
	c = New(scenarioConfig(100, 5), Deps{Pool: pool, Nav: field})
	if _, err := c.StartSession(context.Background()); !errors.Is(err, ErrMissingValidator) {
		t.Fatalf("missing validator: got %v", err)
	}

	c = New(scenarioConfig(0, 5), Deps{Pool: pool, Nav: field, Validate: place})
	c.Subscribe(rec)
	if _, err := c.StartSession(context.Background()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("invalid config: got %v", err)
	}

	if pool.ActiveCount() != 3 {
		t.Fatalf("pool mutated by failed start: active=%d", pool.ActiveCount())
	}
	if len(rec.started) != 0 || c.Active() {
		t.Fatalf("failed start must not begin a session")
	}
}

func TestCoordinator_RestartStopsPreviousWithoutOutcome(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 2), fixedPlacer(geom.Vec3{X: 10}, geom.Vec3{X: -5}))
	rec := newRecordingSink()
	c.Subscribe(rec)

	first, err := c.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 200; i++ {
		c.Step(quantum)
	}
	if c.Score() == 0 {
		t.Fatalf("expected a delivery before restart")
	}
	second, err := c.StartSession(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if first == second {
		t.Fatalf("restart must mint a new session id")
	}
	if len(rec.ended) != 0 {
		t.Fatalf("replaced session must not report an outcome: %+v", rec.ended)
	}
	snap := c.Snapshot()
	if snap.Score != 0 || snap.Health != 100 || !snap.Pos.Equal(geom.Vec3{}) || snap.ItemsActive != 2 {
		t.Fatalf("reset state: %+v", snap)
	}
}

func TestCoordinator_StopSessionReportsNothing(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 1), fixedPlacer(geom.Vec3{X: 10}))
	rec := newRecordingSink()
	c.Subscribe(rec)
	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Step(quantum)
	if !c.StopSession() {
		t.Fatalf("stop should report an active session")
	}
	if c.StopSession() {
		t.Fatalf("second stop should be a no-op")
	}
	for i := 0; i < 50; i++ {
		c.Step(quantum)
	}
	if len(rec.ended) != 0 || c.Snapshot().Status != agent.StatusStopped {
		t.Fatalf("stopped session: ended=%v snap=%+v", rec.ended, c.Snapshot())
	}
}

func TestCoordinator_ContextCancelEndsWithoutOutcome(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 1), fixedPlacer(geom.Vec3{X: 10}))
	rec := newRecordingSink()
	c.Subscribe(rec)
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.StartSession(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Step(quantum)
	cancel()
	c.Step(quantum)
	if c.Active() {
		t.Fatalf("cancelled session still active")
	}
	if len(rec.ended) != 0 {
		t.Fatalf("cancellation must not report an outcome")
	}
}

func TestCoordinator_FailedPopulateEmitsNothing(t *testing.T) {
	reject := func(geom.Vec3) (geom.Vec3, bool) { return geom.Vec3{}, false }
	c, field := newTestCoordinator(t, scenarioConfig(100, 3), reject)
	rec := newRecordingSink()
	c.Subscribe(rec)

	field.Warp(geom.Vec3{X: 7})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.StartSession(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("start err=%v want context.Canceled", err)
	}
	if c.Active() || c.SessionID() != "" {
		t.Fatalf("failed start left a session: active=%v id=%q", c.Active(), c.SessionID())
	}
	if len(rec.started) != 0 || len(rec.ready) != 0 || len(rec.ended) != 0 {
		t.Fatalf("failed start emitted events: started=%d ready=%d ended=%d", len(rec.started), len(rec.ready), len(rec.ended))
	}
	if !field.Position().Equal(geom.Vec3{X: 7}) {
		t.Fatalf("failed start moved the agent to %+v", field.Position())
	}
}

func TestCoordinator_StartEmitsStartThenReady(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 2), fixedPlacer(geom.Vec3{X: 10}, geom.Vec3{X: -5}))
	rec := newRecordingSink()
	c.Subscribe(rec)
	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(rec.started) != 1 || len(rec.ready) != 1 || rec.ready[0] != 2 {
		t.Fatalf("started=%d ready=%v", len(rec.started), rec.ready)
	}
	if rec.lastSeq != 2 || !rec.seqOK {
		t.Fatalf("expected SESSION_START then ITEMS_READY as seq 1 and 2, last=%d", rec.lastSeq)
	}
}

func TestCoordinator_SeedReplaysEachSession(t *testing.T) {
	accept := func(p geom.Vec3) (geom.Vec3, bool) { return p, true }
	cfg := scenarioConfig(100, 5)
	cfg.Seed = 42
	positions := func(p *items.Pool) []geom.Vec3 {
		var out []geom.Vec3
		for _, v := range p.Views() {
			out = append(out, v.Pos)
		}
		return out
	}
	start := func(c *Coordinator) {
		t.Helper()
		if _, err := c.StartSession(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	poolA := items.NewPool(items.Options{Seed: 1})
	a := New(cfg, Deps{Pool: poolA, Nav: nav.NewField(nav.DefaultConfig()), Validate: accept})
	start(a)
	firstA := positions(poolA)
	start(a)
	secondA := positions(poolA)

	poolB := items.NewPool(items.Options{Seed: 99})
	b := New(cfg, Deps{Pool: poolB, Nav: nav.NewField(nav.DefaultConfig()), Validate: accept})
	start(b)
	firstB := positions(poolB)
	start(b)
	secondB := positions(poolB)

	same := func(x, y []geom.Vec3) bool {
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Equal(y[i]) {
				return false
			}
		}
		return true
	}
	if !same(firstA, firstB) || !same(secondA, secondB) {
		t.Fatalf("same seed must replay the same placements per session")
	}
	if same(firstA, secondA) {
		t.Fatalf("consecutive sessions reused one placement")
	}
}

func TestCoordinator_SubscribeAndClose(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 0), fixedPlacer(geom.Vec3{}))
	a, b := newRecordingSink(), newRecordingSink()
	unsubA := c.Subscribe(a)
	c.Subscribe(b)
	unsubA()
	unsubA()

	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	runSession(t, c, 10)
	if len(a.ended) != 0 || len(b.ended) != 1 {
		t.Fatalf("a=%d b=%d", len(a.ended), len(b.ended))
	}

	c.Close()
	if _, err := c.StartSession(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close: %v", err)
	}
	if len(c.sinks()) != 0 {
		t.Fatalf("close must detach every sink")
	}
}

func TestCoordinator_SetConfigAppliesOnNextStart(t *testing.T) {
	c, _ := newTestCoordinator(t, scenarioConfig(100, 1), fixedPlacer(geom.Vec3{X: 10}))
	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	bad := scenarioConfig(100, -1)
	if err := c.SetConfig(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("invalid settings accepted: %v", err)
	}
	next := scenarioConfig(250, 3)
	if err := c.SetConfig(next); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if got := c.Snapshot().MaxHealth; got != 100 {
		t.Fatalf("running session max health changed: %v", got)
	}
	if _, err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap := c.Snapshot()
	if snap.MaxHealth != 250 || snap.ItemsActive != 3 {
		t.Fatalf("new settings not applied: %+v", snap)
	}
}
