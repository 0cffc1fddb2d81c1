// Package session wires one collector run at a time: it resets the agent,
// repopulates the pool, starts the scheduler and turns scheduler signals into
// a single end-of-session report for its subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"caddie.ai/internal/sim/agent"
	"caddie.ai/internal/sim/geom"
	"caddie.ai/internal/sim/items"
)

var (
	ErrMissingNavigator = errors.New("session: navigator is required")
	ErrMissingValidator = errors.New("session: placement validator is required")
	ErrMissingPool      = errors.New("session: item pool is required")
	ErrInvalidConfig    = errors.New("session: invalid config")
	ErrClosed           = errors.New("session: coordinator closed")
)

// Navigator is the scheduler's navigator plus the controls a session needs to
// reset and drive it.
type Navigator interface {
	agent.Navigator
	Warp(p geom.Vec3)
	Advance(dt time.Duration)
}

type Delays struct {
	Retry   time.Duration `json:"retry"`
	Pickup  time.Duration `json:"pickup"`
	DropOff time.Duration `json:"drop_off"`
	Settle  time.Duration `json:"settle"`
}

type Config struct {
	MaxHealth     float64   `json:"max_health"`
	DepletionRate float64   `json:"depletion_rate"`
	ItemCount     int       `json:"item_count"`
	AreaBounds    geom.Rect `json:"area_bounds"`
	StartPos      geom.Vec3 `json:"start_pos"`
	DeliveryPos   geom.Vec3 `json:"delivery_pos"`
	Delays        Delays    `json:"delays"`
	// Seed, when non-zero, reseeds placement at every start: the n-th start
	// of a coordinator uses Seed+n-1, so each session replays on its own.
	Seed int64 `json:"seed,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		MaxHealth:     100,
		DepletionRate: 1,
		ItemCount:     50,
		AreaBounds:    geom.Rect{MinX: 0, MinZ: 0, MaxX: 100, MaxZ: 100},
		Delays: Delays{
			Retry:   agent.DefaultRetryDelay,
			Pickup:  agent.DefaultPickupDelay,
			DropOff: agent.DefaultDropOffDelay,
			Settle:  agent.DefaultSettleDelay,
		},
	}
}

func (c Config) Validate() error {
	if c.ItemCount < 0 {
		return fmt.Errorf("item count must be >= 0 (got %d)", c.ItemCount)
	}
	if c.ItemCount > 0 && c.AreaBounds.Empty() {
		return errors.New("area bounds must have positive width and depth")
	}
	if !c.StartPos.IsFinite() {
		return errors.New("start position must be finite")
	}
	return c.agentConfig().Validate()
}

func (c Config) agentConfig() agent.Config {
	return agent.Config{
		MaxHealth:     c.MaxHealth,
		DepletionRate: c.DepletionRate,
		DeliveryPos:   c.DeliveryPos,
		RetryDelay:    c.Delays.Retry,
		PickupDelay:   c.Delays.Pickup,
		DropOffDelay:  c.Delays.DropOff,
		SettleDelay:   c.Delays.Settle,
	}
}

type Deps struct {
	Pool     *items.Pool
	Nav      Navigator
	Validate items.Validator
	Logger   *log.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result is reported exactly once for every session that reaches an outcome.
type Result struct {
	ID          string        `json:"session_id"`
	Score       int           `json:"score"`
	Outcome     agent.Outcome `json:"outcome"`
	Label       string        `json:"label"`
	Delivered   int           `json:"delivered"`
	SimDuration time.Duration `json:"sim_duration"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
}

// Snapshot is a copy of the coordinator's current state.
type Snapshot struct {
	ID          string
	Active      bool
	Score       int
	Health      float64
	MaxHealth   float64
	Status      agent.Status
	Pos         geom.Vec3
	Held        string
	Delivered   int
	ItemsActive int
	SimTime     time.Duration
	Last        *Result
}

type subscription struct {
	id   int
	sink Sink
}

// Coordinator is not safe for concurrent use except for Subscribe and the
// returned unsubscribe funcs; one goroutine drives StartSession, Step and
// StopSession.
type Coordinator struct {
	cfg   Config
	deps  Deps
	sched *agent.Scheduler
	log   *log.Logger

	subMu   sync.Mutex
	subs    []subscription
	nextSub int

	id        string
	active    bool
	score     int
	seq       uint64
	startedAt time.Time
	last      *Result
	closed    bool
	starts    int64

	// populating is set while StartSession fills the pool; ready holds the
	// placed items until SESSION_START has gone out.
	populating bool
	ready      []items.View
}

func New(cfg Config, deps Deps) *Coordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Coordinator{cfg: cfg, deps: deps, log: deps.Logger}
	hooks := agent.Hooks{
		PhaseChanged: func(from, to agent.Status) {
			c.present(func(p PresentationSink, m Meta) { p.PhaseChanged(m, from, to) })
		},
		Decision: func(d agent.Decision) {
			v := viewDecision(d)
			c.present(func(p PresentationSink, m Meta) { p.Decision(m, v) })
		},
		PickedUp: func(it *items.Item) {
			v := it.View()
			c.present(func(p PresentationSink, m Meta) { p.ItemPickedUp(m, v) })
		},
		DroppedOff: func(it *items.Item) {
			v := it.View()
			c.present(func(p PresentationSink, m Meta) { p.ItemDroppedOff(m, v) })
		},
		PointsEarned:  c.onPoints,
		HealthChanged: c.onHealth,
		Finished:      c.onFinished,
	}
	var nav agent.Navigator
	if deps.Nav != nil {
		nav = deps.Nav
	}
	c.sched = agent.NewScheduler(cfg.agentConfig(), deps.Pool, nav, hooks, deps.Logger)
	if deps.Pool != nil {
		deps.Pool.OnReady(func(int) {
			if c.populating {
				c.ready = deps.Pool.Views()
			}
		})
	}
	return c
}

func (c *Coordinator) Config() Config { return c.cfg }

// SetConfig replaces the settings used by the next StartSession. A running
// session keeps the settings it started with.
func (c *Coordinator) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.cfg = cfg
	return nil
}

func (c *Coordinator) check(cfg Config) error {
	if c.deps.Nav == nil {
		return ErrMissingNavigator
	}
	if c.deps.Validate == nil {
		return ErrMissingValidator
	}
	if c.deps.Pool == nil {
		return ErrMissingPool
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// StartSession stops any live session, then begins a new one. ctx bounds the
// session: cancelling it stops the run without an outcome. Configuration
// problems are reported before anything is touched.
func (c *Coordinator) StartSession(ctx context.Context) (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	if err := c.check(c.cfg); err != nil {
		return "", err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.StopSession()

	if err := c.sched.Reconfigure(c.cfg.agentConfig()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.starts++
	if c.cfg.Seed != 0 {
		c.deps.Pool.Reseed(c.cfg.Seed + c.starts - 1)
	}
	c.populating = true
	err := c.deps.Pool.Populate(ctx, c.cfg.ItemCount, c.cfg.AreaBounds, c.deps.Validate, c.cfg.StartPos)
	c.populating = false
	if err != nil {
		c.ready = nil
		return "", fmt.Errorf("session: populate: %w", err)
	}
	c.deps.Nav.Warp(c.cfg.StartPos)
	if err := c.sched.Start(ctx); err != nil {
		c.ready = nil
		return "", fmt.Errorf("session: start scheduler: %w", err)
	}

	id := uuid.New().String()
	c.id = id
	c.score = 0
	c.seq = 0
	c.startedAt = c.deps.Now()
	start := Start{ID: id, Config: c.cfg, StartPos: c.cfg.StartPos, StartedAt: c.startedAt}
	c.present(func(p PresentationSink, m Meta) { p.SessionStarted(m, start) })
	views := c.ready
	c.ready = nil
	c.present(func(p PresentationSink, m Meta) { p.ItemsReady(m, views) })
	c.active = true
	c.logf("session %s started: items=%d health=%.1f rate=%.2f", id, c.deps.Pool.ActiveCount(), c.cfg.MaxHealth, c.cfg.DepletionRate)
	return id, nil
}

// StopSession aborts the live session without reporting an outcome.
func (c *Coordinator) StopSession() bool {
	if !c.active {
		return false
	}
	c.sched.Cancel()
	c.active = false
	c.logf("session %s stopped", c.id)
	return true
}

func (c *Coordinator) Active() bool { return c.active }

func (c *Coordinator) SessionID() string { return c.id }

func (c *Coordinator) Score() int { return c.score }

// LastResult is the most recent completed session, or nil.
func (c *Coordinator) LastResult() *Result {
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}

// Step advances the navigator and then the scheduler by one quantum.
func (c *Coordinator) Step(dt time.Duration) {
	if !c.active {
		return
	}
	c.deps.Nav.Advance(dt)
	c.sched.Step(dt)
	if c.active && !c.sched.Running() {
		// The bounding context was cancelled.
		c.active = false
		c.logf("session %s cancelled", c.id)
	}
}

func (c *Coordinator) Snapshot() Snapshot {
	st := c.sched.State()
	s := Snapshot{
		ID:        c.id,
		Active:    c.active,
		Score:     c.score,
		Health:    st.Health,
		MaxHealth: st.MaxHealth,
		Status:    st.Status,
		Pos:       st.Pos,
		Delivered: st.Delivered,
		SimTime:   st.SimTime,
		Last:      c.LastResult(),
	}
	if st.Held != nil {
		s.Held = st.Held.ID
	}
	if c.deps.Pool != nil {
		s.ItemsActive = c.deps.Pool.ActiveCount()
	}
	return s
}

// Subscribe registers a sink and returns its unsubscribe func.
func (c *Coordinator) Subscribe(s Sink) func() {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscription{id: id, sink: s})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

func (c *Coordinator) unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for i, sub := range c.subs {
		if sub.id == id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) sinks() []Sink {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]Sink, len(c.subs))
	for i, sub := range c.subs {
		out[i] = sub.sink
	}
	return out
}

// Close stops the live session and detaches subscribers newest first.
func (c *Coordinator) Close() {
	if c.closed {
		return
	}
	c.StopSession()
	c.closed = true
	c.subMu.Lock()
	for len(c.subs) > 0 {
		c.subs = c.subs[:len(c.subs)-1]
	}
	c.subMu.Unlock()
}

func (c *Coordinator) meta() Meta {
	c.seq++
	return Meta{SessionID: c.id, Seq: c.seq, SimTime: c.sched.State().SimTime}
}

func (c *Coordinator) present(fn func(PresentationSink, Meta)) {
	sinks := c.sinks()
	if len(sinks) == 0 {
		return
	}
	m := c.meta()
	for _, s := range sinks {
		if p, ok := s.(PresentationSink); ok {
			fn(p, m)
		}
	}
}

func (c *Coordinator) onPoints(amount int) {
	c.score += amount
	m := c.meta()
	for _, s := range c.sinks() {
		s.PointsEarned(m, amount, c.score)
	}
}

func (c *Coordinator) onHealth(h float64) {
	sinks := c.sinks()
	if len(sinks) == 0 {
		return
	}
	m := c.meta()
	for _, s := range sinks {
		s.HealthChanged(m, h)
	}
}

func (c *Coordinator) onFinished(outcome agent.Outcome) {
	if !c.active {
		return
	}
	c.active = false
	st := c.sched.State()
	r := Result{
		ID:          c.id,
		Score:       c.score,
		Outcome:     outcome,
		Label:       outcome.Label(),
		Delivered:   st.Delivered,
		SimDuration: st.SimTime,
		StartedAt:   c.startedAt,
		EndedAt:     c.deps.Now(),
	}
	c.last = &r
	c.logf("session %s ended: %s score=%d delivered=%d sim=%s", r.ID, outcome, r.Score, r.Delivered, r.SimDuration)
	m := c.meta()
	for _, s := range c.sinks() {
		s.SessionEnded(m, r)
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
