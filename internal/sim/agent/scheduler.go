// Package agent drives the collector: a resource ticker and a decision loop
// multiplexed onto one goroutine.
//
// Each call to Step is one scheduling quantum. The ticker runs first and may
// end the run; the decision loop then resumes from its last suspension point
// (a delay, an arrival poll, or a fresh decision) and runs until it suspends
// again. Cancellation is observed at the start of every quantum, so a phase
// that is suspended never completes its transfer after Cancel.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"caddie.ai/internal/sim/geom"
	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/scoring"
)

var (
	ErrNoNavigator = errors.New("agent: navigator is required")
	ErrNoPool      = errors.New("agent: item pool is required")
)

// Fixed phase delays recovered from the grasp/release animations.
const (
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultPickupDelay  = 500 * time.Millisecond
	DefaultDropOffDelay = 500 * time.Millisecond
	DefaultSettleDelay  = 500 * time.Millisecond
)

type Config struct {
	MaxHealth     float64
	DepletionRate float64 // health per second
	DeliveryPos   geom.Vec3

	RetryDelay   time.Duration
	PickupDelay  time.Duration
	DropOffDelay time.Duration
	SettleDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxHealth:     100,
		DepletionRate: 1,
		RetryDelay:    DefaultRetryDelay,
		PickupDelay:   DefaultPickupDelay,
		DropOffDelay:  DefaultDropOffDelay,
		SettleDelay:   DefaultSettleDelay,
	}
}

func (c Config) Validate() error {
	if !(c.MaxHealth > 0) {
		return fmt.Errorf("agent: max health must be > 0 (got %v)", c.MaxHealth)
	}
	if !(c.DepletionRate > 0) {
		return fmt.Errorf("agent: depletion rate must be > 0 (got %v)", c.DepletionRate)
	}
	if c.RetryDelay < 0 || c.PickupDelay < 0 || c.DropOffDelay < 0 || c.SettleDelay < 0 {
		return errors.New("agent: delays must be >= 0")
	}
	if !c.DeliveryPos.IsFinite() {
		return errors.New("agent: delivery position must be finite")
	}
	return nil
}

// Decision summarizes one decision pass.
type Decision struct {
	Candidates int
	Feasible   int
	Budget     float64
	Chosen     *items.Item
	Score      float64
	TotalTime  float64
}

// Hooks receive scheduler notifications. All fields are optional.
type Hooks struct {
	PhaseChanged  func(from, to Status)
	Decision      func(d Decision)
	PickedUp      func(it *items.Item)
	DroppedOff    func(it *items.Item)
	PointsEarned  func(amount int)
	HealthChanged func(health float64)
	Finished      func(outcome Outcome)
}

// State is a copy of the collector's runtime state.
type State struct {
	Pos       geom.Vec3
	StartPos  geom.Vec3
	Health    float64
	MaxHealth float64
	Status    Status
	Held      *items.Item
	Delivered int
	Running   bool
	SimTime   time.Duration
}

type waitKind int

const (
	waitNone waitKind = iota
	waitDelay
	waitArrival
)

type resumePoint int

const (
	resumeDecide resumePoint = iota
	resumePickup
	resumePickupDone
	resumeDropOff
	resumeDropOffDone
)

type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	wait      waitKind
	delayLeft time.Duration
	resume    resumePoint
	target    *items.Item
}

type Scheduler struct {
	cfg   Config
	pool  *items.Pool
	nav   Navigator
	hooks Hooks
	log   *log.Logger

	status    Status
	health    float64
	held      *items.Item
	delivered int
	startPos  geom.Vec3
	simTime   time.Duration

	run *run
}

func NewScheduler(cfg Config, pool *items.Pool, nav Navigator, hooks Hooks, logger *log.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		pool:   pool,
		nav:    nav,
		hooks:  hooks,
		log:    logger,
		health: cfg.MaxHealth,
	}
}

// Reconfigure replaces the config; it is rejected while a run is live.
func (s *Scheduler) Reconfigure(cfg Config) error {
	if s.run != nil {
		return errors.New("agent: cannot reconfigure a running scheduler")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

func (s *Scheduler) Config() Config { return s.cfg }

// Start begins a new life cycle at full health. Any previous run is cancelled first.
func (s *Scheduler) Start(parent context.Context) error {
	if s.nav == nil {
		return ErrNoNavigator
	}
	if s.pool == nil {
		return ErrNoPool
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.Cancel()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s.health = s.cfg.MaxHealth
	s.held = nil
	s.delivered = 0
	s.simTime = 0
	s.status = StatusStopped
	s.startPos = s.nav.Position()
	s.run = &run{ctx: ctx, cancel: cancel, resume: resumeDecide}
	return nil
}

// Cancel halts both tasks. A suspended phase is dropped without its transfer.
func (s *Scheduler) Cancel() {
	r := s.run
	if r == nil {
		return
	}
	r.cancel()
	s.abort(r)
}

func (s *Scheduler) abort(r *run) {
	if s.run != r {
		return
	}
	s.run = nil
	s.nav.Stop()
	if r.target != nil && s.held == nil {
		s.logf("run cancelled before pickup of %s", r.target.ID)
	}
	s.status = StatusStopped
}

func (s *Scheduler) Running() bool { return s.run != nil }

func (s *Scheduler) Status() Status { return s.status }

func (s *Scheduler) Health() float64 { return s.health }

func (s *Scheduler) State() State {
	st := State{
		StartPos:  s.startPos,
		Health:    s.health,
		MaxHealth: s.cfg.MaxHealth,
		Status:    s.status,
		Held:      s.held,
		Delivered: s.delivered,
		Running:   s.run != nil,
		SimTime:   s.simTime,
	}
	if s.nav != nil {
		st.Pos = s.nav.Position()
	}
	return st
}

// Step advances one scheduling quantum of dt simulated time.
func (s *Scheduler) Step(dt time.Duration) {
	r := s.run
	if r == nil {
		return
	}
	if r.ctx.Err() != nil {
		s.abort(r)
		return
	}
	if dt < 0 {
		dt = 0
	}
	s.simTime += dt

	s.tickHealth(r, dt)
	if s.run != r {
		return
	}
	if s.held != nil {
		s.pool.Follow(s.held, s.nav.Position())
	}
	s.stepLoop(r, dt)
}

func (s *Scheduler) tickHealth(r *run, dt time.Duration) {
	s.health -= s.cfg.DepletionRate * dt.Seconds()
	if s.health <= 0 {
		s.health = 0
		s.emitHealth(0)
		s.finish(r, OutcomeFailure)
		return
	}
	s.emitHealth(s.health)
}

func (s *Scheduler) stepLoop(r *run, dt time.Duration) {
	switch r.wait {
	case waitDelay:
		r.delayLeft -= dt
		if r.delayLeft > 0 {
			return
		}
	case waitArrival:
		if !s.nav.AtTarget() {
			return
		}
	}
	r.wait = waitNone
	for r.wait == waitNone && s.run == r && r.ctx.Err() == nil {
		s.resume(r)
	}
}

func (s *Scheduler) suspendFor(r *run, d time.Duration, then resumePoint) {
	r.wait = waitDelay
	r.delayLeft = d
	r.resume = then
}

func (s *Scheduler) moveTo(r *run, p geom.Vec3, then resumePoint) {
	s.nav.SetMoveTarget(p)
	r.wait = waitArrival
	r.resume = then
}

func (s *Scheduler) resume(r *run) {
	switch r.resume {
	case resumeDecide:
		s.setStatus(StatusDeciding)
		cands := s.pool.ActiveItems()
		rows := scoring.Evaluate(s.scoringContext(), cands, s.nav.PathDistance)
		best, ok := scoring.Best(rows)
		s.emitDecision(rows, best, ok)
		if s.run != r {
			return
		}
		if !ok {
			if len(cands) == 0 {
				s.finish(r, OutcomeSuccess)
				return
			}
			s.setStatus(StatusStopped)
			s.suspendFor(r, s.cfg.RetryDelay, resumeDecide)
			return
		}
		r.target = best.Item
		s.setStatus(StatusMovingToItem)
		s.moveTo(r, best.Item.Pos, resumePickup)

	case resumePickup:
		s.setStatus(StatusPickingUp)
		s.suspendFor(r, s.cfg.PickupDelay, resumePickupDone)

	case resumePickupDone:
		it := r.target
		if !s.pool.PickUp(it) {
			// Recycled out from under us (pool repopulated mid-trip).
			s.logf("pickup target %s no longer active", it.ID)
			r.target = nil
			s.setStatus(StatusStopped)
			r.resume = resumeDecide
			return
		}
		s.held = it
		if s.hooks.PickedUp != nil {
			s.hooks.PickedUp(it)
		}
		if s.run != r {
			return
		}
		s.setStatus(StatusMovingToDelivery)
		s.moveTo(r, s.cfg.DeliveryPos, resumeDropOff)

	case resumeDropOff:
		s.setStatus(StatusDroppingOff)
		s.suspendFor(r, s.cfg.DropOffDelay, resumeDropOffDone)

	case resumeDropOffDone:
		it := r.target
		s.pool.DropOff(it, s.nav.Position())
		s.held = nil
		r.target = nil
		if s.hooks.DroppedOff != nil {
			s.hooks.DroppedOff(it)
		}
		value := it.Value
		s.pool.Recycle(it)
		s.delivered++
		if s.hooks.PointsEarned != nil {
			s.hooks.PointsEarned(value)
		}
		if s.run != r {
			return
		}
		s.setStatus(StatusStopped)
		s.suspendFor(r, s.cfg.SettleDelay, resumeDecide)
	}
}

func (s *Scheduler) scoringContext() scoring.Context {
	return scoring.Context{
		AgentPos:      s.nav.Position(),
		Health:        s.health,
		MaxHealth:     s.cfg.MaxHealth,
		DepletionRate: s.cfg.DepletionRate,
		Speed:         s.nav.Speed(),
		DeliveryPos:   s.cfg.DeliveryPos,
	}
}

func (s *Scheduler) finish(r *run, outcome Outcome) {
	if s.run != r {
		return
	}
	s.run = nil
	r.cancel()
	s.nav.Stop()
	s.setStatus(StatusFinished)
	if s.hooks.Finished != nil {
		s.hooks.Finished(outcome)
	}
}

func (s *Scheduler) setStatus(to Status) {
	from := s.status
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		s.logf("unexpected transition %s -> %s", from, to)
	}
	s.status = to
	if s.hooks.PhaseChanged != nil {
		s.hooks.PhaseChanged(from, to)
	}
}

func (s *Scheduler) emitHealth(h float64) {
	if s.hooks.HealthChanged != nil {
		s.hooks.HealthChanged(h)
	}
}

func (s *Scheduler) emitDecision(rows []scoring.Candidate, best scoring.Candidate, ok bool) {
	if s.hooks.Decision == nil {
		return
	}
	d := Decision{Candidates: len(rows), Budget: s.scoringContext().RemainingBudget()}
	for _, c := range rows {
		if c.Feasible {
			d.Feasible++
		}
	}
	if ok {
		d.Chosen = best.Item
		d.Score = best.Score
		d.TotalTime = best.TotalTime
	}
	s.hooks.Decision(d)
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
