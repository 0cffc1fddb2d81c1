// Package runner owns the simulation goroutine: it builds the course, the
// item pool and the session coordinator from tuning, steps them in real
// time and serializes control requests onto the loop.
package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"caddie.ai/internal/protocol"
	"caddie.ai/internal/sim/feed"
	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/nav"
	"caddie.ai/internal/sim/session"
	"caddie.ai/internal/sim/tuning"
)

var (
	ErrNotRunning = errors.New("runner: loop not running")
	ErrNoSession  = errors.New("runner: no active session")
)

type Options struct {
	Tuning tuning.Tuning
	Logger *log.Logger
	// Sinks are subscribed to the coordinator in order.
	Sinks []session.Sink
	// RestartDelay is the simulated pause before an automatic restart.
	RestartDelay time.Duration
}

type Runner struct {
	log   *log.Logger
	field *nav.Field
	pool  *items.Pool
	coord *session.Coordinator

	autoRestart  bool
	restartDelay time.Duration
	// idle accumulates simulated time since the last outcome.
	idle time.Duration
	// held suppresses auto-restart after an operator stop until the next
	// explicit start.
	held bool

	reqs chan request
	stop chan struct{}
	once sync.Once

	mu   sync.RWMutex
	tune tuning.Tuning
	snap session.Snapshot
}

type reqKind int

const (
	reqStart reqKind = iota + 1
	reqStop
	reqSettings
)

type request struct {
	kind     reqKind
	settings tuning.Settings
	resp     chan response
}

type response struct {
	sessionID string
	stopped   bool
	settings  tuning.Settings
	err       error
}

func New(opts Options) (*Runner, error) {
	t := opts.Tuning
	if err := t.Validate(); err != nil {
		return nil, err
	}
	field := nav.NewField(t.NavConfig())
	pool := items.NewPool(items.Options{
		Capacity: t.Session.PoolCapacity,
		Seed:     t.Seed,
		Logger:   opts.Logger,
	})
	coord := session.New(t.SessionConfig(), session.Deps{
		Pool:     pool,
		Nav:      field,
		Validate: field.Validate,
		Logger:   opts.Logger,
	})
	for _, s := range opts.Sinks {
		coord.Subscribe(s)
	}
	delay := opts.RestartDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	r := &Runner{
		log:          opts.Logger,
		field:        field,
		pool:         pool,
		coord:        coord,
		autoRestart:  t.AutoRestart,
		restartDelay: delay,
		reqs:         make(chan request, 16),
		stop:         make(chan struct{}),
		tune:         t,
	}
	r.publish()
	return r, nil
}

// Subscribe attaches a sink after construction.
func (r *Runner) Subscribe(s session.Sink) func() { return r.coord.Subscribe(s) }

// Run steps the simulation once per tick until ctx is done or Stop is called.
// Control requests are handled between ticks on the same goroutine.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Tuning().TickDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer r.coord.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.reqs:
			req.resp <- r.handle(ctx, req)
		case <-ticker.C:
			r.StepOnce(ctx, interval)
		}
	}
}

func (r *Runner) Stop() { r.once.Do(func() { close(r.stop) }) }

// StepOnce advances the session by dt and publishes the new snapshot. It is
// the body of one Run tick, exposed for deterministic drivers.
func (r *Runner) StepOnce(ctx context.Context, dt time.Duration) {
	if r.coord.Active() {
		r.coord.Step(dt)
		if !r.coord.Active() {
			r.idle = 0
		}
	} else if r.autoRestart && !r.held && r.coord.LastResult() != nil {
		r.idle += dt
		if r.idle >= r.restartDelay {
			r.idle = 0
			if _, err := r.coord.StartSession(ctx); err != nil {
				r.logf("auto-restart: %v", err)
			}
		}
	}
	r.publish()
}

func (r *Runner) handle(ctx context.Context, req request) response {
	var resp response
	switch req.kind {
	case reqStart:
		resp.sessionID, resp.err = r.coord.StartSession(ctx)
		if resp.err == nil {
			r.held = false
		}
	case reqStop:
		resp.stopped = r.coord.StopSession()
		if resp.stopped {
			r.held = true
			r.idle = 0
		}
	case reqSettings:
		resp.settings, resp.err = r.applySettings(req.settings)
	}
	r.publish()
	return resp
}

func (r *Runner) applySettings(s tuning.Settings) (tuning.Settings, error) {
	r.mu.RLock()
	t := r.tune.WithSettings(s)
	r.mu.RUnlock()
	if err := r.coord.SetConfig(t.SessionConfig()); err != nil {
		return tuning.Settings{}, err
	}
	r.pool.SetCapacity(t.Session.PoolCapacity)
	r.mu.Lock()
	r.tune = t
	r.mu.Unlock()
	r.logf("settings applied for next session: health=%.1f rate=%.2f items=%d capacity=%d", t.Session.MaxHealth, t.Session.DepletionRate, t.Session.ItemCount, t.Session.PoolCapacity)
	return t.Settings(), nil
}

// StartSession runs on the caller's goroutine and must not race with Run.
func (r *Runner) StartSession(ctx context.Context) (string, error) {
	resp := r.handle(ctx, request{kind: reqStart})
	return resp.sessionID, resp.err
}

func (r *Runner) do(ctx context.Context, req request) (response, error) {
	req.resp = make(chan response, 1)
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return response{}, ErrNotRunning
	}
	select {
	case resp := <-req.resp:
		return resp, nil
	case <-ctx.Done():
		return response{}, ErrNotRunning
	}
}

// RequestStart asks the loop to start a fresh session.
func (r *Runner) RequestStart(ctx context.Context) (string, error) {
	resp, err := r.do(ctx, request{kind: reqStart})
	if err != nil {
		return "", err
	}
	return resp.sessionID, resp.err
}

// RequestStop aborts the live session; it reports ErrNoSession when idle.
func (r *Runner) RequestStop(ctx context.Context) error {
	resp, err := r.do(ctx, request{kind: reqStop})
	if err != nil {
		return err
	}
	if !resp.stopped {
		return ErrNoSession
	}
	return nil
}

// RequestSettings clamps s and applies it to the next session.
func (r *Runner) RequestSettings(ctx context.Context, s tuning.Settings) (tuning.Settings, error) {
	resp, err := r.do(ctx, request{kind: reqSettings, settings: s})
	if err != nil {
		return tuning.Settings{}, err
	}
	return resp.settings, resp.err
}

// RunHeadless plays one session to its outcome as fast as possible.
func (r *Runner) RunHeadless(ctx context.Context) (*session.Result, error) {
	dt := r.Tuning().TickDuration()
	id, err := r.coord.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	for r.coord.Active() {
		if err := ctx.Err(); err != nil {
			r.coord.StopSession()
			return nil, err
		}
		r.coord.Step(dt)
	}
	r.publish()
	last := r.coord.LastResult()
	if last == nil || last.ID != id {
		return nil, context.Canceled
	}
	return last, nil
}

func (r *Runner) publish() {
	s := r.coord.Snapshot()
	r.mu.Lock()
	r.snap = s
	r.mu.Unlock()
}

func (r *Runner) Snapshot() session.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func (r *Runner) Tuning() tuning.Tuning {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tune
}

// SessionState renders the published snapshot for the wire.
func (r *Runner) SessionState() protocol.SessionState {
	s := r.Snapshot()
	st := protocol.SessionState{
		SessionID:   s.ID,
		Active:      s.Active,
		Score:       s.Score,
		Health:      s.Health,
		MaxHealth:   s.MaxHealth,
		Status:      s.Status.String(),
		Pos:         feed.Vec(s.Pos),
		Held:        s.Held,
		Delivered:   s.Delivered,
		ItemsActive: s.ItemsActive,
		SimTimeMs:   s.SimTime.Milliseconds(),
	}
	if s.Last != nil {
		st.Last = feed.EndPayload(*s.Last)
	}
	return st
}

// Welcome implements observer.StateSource.
func (r *Runner) Welcome() protocol.WelcomeMsg {
	t := r.Tuning()
	b := t.Course.Bounds
	wp := protocol.WorldParams{
		TickRateHz:  t.TickRateHz,
		Bounds:      [4]float64{b.MinX, b.MinZ, b.MaxX, b.MaxZ},
		StartPos:    t.Course.StartPos,
		DeliveryPos: t.Course.DeliveryPos,
		Speed:       t.Course.Speed,
		Settings:    wireSettings(t.Settings()),
		Seed:        t.Seed,
	}
	for _, h := range t.Course.Hazards {
		wp.Hazards = append(wp.Hazards, protocol.HazardRef{Center: h.Center, Radius: h.Radius})
	}
	st := r.SessionState()
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		WorldParams:     wp,
		Session:         &st,
	}
}

func wireSettings(s tuning.Settings) protocol.Settings {
	return protocol.Settings{MaxHealth: s.MaxHealth, DepletionRate: s.DepletionRate, ItemCount: s.ItemCount, PoolCapacity: s.PoolCapacity}
}

func (r *Runner) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf(format, args...)
	}
}
