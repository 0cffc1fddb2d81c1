package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"caddie.ai/internal/metrics"
	"caddie.ai/internal/persistence/indexdb"
	persistlog "caddie.ai/internal/persistence/log"
	"caddie.ai/internal/protocol"
	"caddie.ai/internal/sim/feed"
	"caddie.ai/internal/sim/runner"
	"caddie.ai/internal/sim/session"
	"caddie.ai/internal/sim/tuning"
	"caddie.ai/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite session index")
		disableLog  = flag.Bool("disable_event_log", false, "disable the compressed event log")
		seed        = flag.Int64("seed", 0, "override tuning seed (0 keeps the file value)")
		autoRestart = flag.Bool("auto_restart", false, "start a new session after each outcome (overrides tuning when set)")
		autoStart   = flag.Bool("auto_start", true, "start a session as soon as the server is up")
		allowRemote = flag.Bool("allow_remote", false, "accept control and observer requests from non-loopback addresses")
		headless    = flag.Bool("headless", false, "play one session as fast as possible, print the result and exit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[caddie] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	if *autoRestart {
		tune.AutoRestart = true
	}

	ctx, cancel := signalContext()
	defer cancel()

	st := openSinks(tune, *dataDir, *disableDB, *disableLog, *headless, logger)
	defer st.close()
	met := st.met

	r, err := runner.New(runner.Options{Tuning: tune, Logger: logger, Sinks: st.sinks})
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}

	if *headless {
		res, err := r.RunHeadless(ctx)
		if err != nil {
			logger.Fatalf("headless: %v", err)
		}
		out, _ := json.MarshalIndent(res, "", "  ")
		os.Stdout.Write(append(out, '\n'))
		return
	}

	hub := observer.NewHub()
	st.feed.Add(hub)
	if met != nil {
		met.GaugeFunc("caddie_observers", "Connected observers.", func() float64 { return float64(hub.Clients()) })
		met.GaugeFunc("caddie_observer_dropped_frames", "Frames dropped for slow observers.", func() float64 { return float64(hub.Dropped()) })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	if met != nil {
		mux.Handle("/metrics", met.Handler())
	}

	var history runner.History
	if st.idx != nil {
		history = st.idx
	}
	var auditor runner.Auditor
	if st.audit != nil {
		auditor = st.audit
	}
	api := runner.NewAPI(r, auditor, history, logger)
	api.AllowRemote = *allowRemote
	api.Register(mux)

	obs := observer.NewServer(hub, r, logger)
	obs.AllowRemote = *allowRemote
	mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observe", obs.WSHandler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	if *autoStart {
		ctx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
		id, err := r.RequestStart(ctx2)
		cancel2()
		if err != nil {
			logger.Printf("auto start: %v", err)
		} else {
			logger.Printf("auto started session %s", id)
		}
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (tick %dHz, seed %d, observers at /v1/observe)", *addr, tune.TickRateHz, tune.Seed)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-runDone
	if st.evLog != nil && st.evLog.Errors() > 0 {
		logger.Printf("event log: %d write errors", st.evLog.Errors())
	}
}

// sinkStack is every outcome consumer the server wires to the coordinator.
type sinkStack struct {
	sinks   []session.Sink
	closers []func()

	feed  *feed.Feed
	idx   *indexdb.SQLiteIndex
	evLog *persistlog.EventLogger
	audit *persistlog.AuditLogger
	met   *metrics.Sink
}

// close runs closers in reverse order of opening.
func (st *sinkStack) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
}

// openSinks builds the consumers in subscription order: metrics, index, then
// the protocol feed that fans out to the event log and observers.
func openSinks(tune tuning.Tuning, dataDir string, disableDB, disableLog, headless bool, logger *log.Logger) *sinkStack {
	st := &sinkStack{feed: feed.New()}

	if !headless {
		st.met = metrics.New()
		st.sinks = append(st.sinks, st.met)
	}

	if !disableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "caddie.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		if digest, err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index tuning: %v", err)
		} else {
			logger.Printf("tuning digest %s", digest[:12])
		}
		st.idx = idx
		st.closers = append(st.closers, func() { _ = idx.Close() })
		st.sinks = append(st.sinks, idx)
		if st.met != nil {
			st.met.GaugeFunc("caddie_index_queue_depth", "Pending index writes.", func() float64 { return float64(idx.Stats().QueueDepth) })
			st.met.GaugeFunc("caddie_index_dropped_total", "Index writes dropped under load.", func() float64 {
				s := idx.Stats()
				return float64(s.DropStartTotal + s.DropEndTotal + s.DropDeliveryTotal + s.DropDecisionTotal)
			})
		}
	}

	if !disableLog {
		evLog := persistlog.NewEventLogger(dataDir)
		evLog.OnError = func(err error) { logger.Printf("event log: %v", err) }
		st.evLog = evLog
		st.closers = append(st.closers, func() { _ = evLog.Close() })
		st.feed.Add(evLog)
		if !headless {
			audit := persistlog.NewAuditLogger(dataDir)
			st.audit = audit
			st.closers = append(st.closers, func() { _ = audit.Close() })
			_ = audit.WriteAudit(persistlog.AuditEntry{Action: "server.start", Detail: map[string]any{
				"protocol_version": protocol.Version,
				"seed":             tune.Seed,
			}})
		}
	}
	st.sinks = append(st.sinks, st.feed)
	return st
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
