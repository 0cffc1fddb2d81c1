package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"caddie.ai/internal/protocol"
)

func main() {
	var (
		url        = flag.String("url", "ws://127.0.0.1:8080/v1/observe", "observer ws url")
		events     = flag.String("events", "", "comma-separated event kinds to receive (default: all)")
		skipHealth = flag.Bool("skip_health", true, "do not stream HEALTH events")
		raw        = flag.Bool("raw", false, "print frames as received")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		SkipHealth:      *skipHealth,
	}
	for _, k := range strings.Split(*events, ",") {
		if k = strings.TrimSpace(strings.ToUpper(k)); k != "" {
			sub.Events = append(sub.Events, k)
		}
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if *raw {
			logger.Printf("%s", msg)
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME tick_rate=%d seed=%d hazards=%d settings=%+v", w.WorldParams.TickRateHz, w.WorldParams.Seed, len(w.WorldParams.Hazards), w.WorldParams.Settings)
			if w.Session != nil && w.Session.SessionID != "" {
				logger.Printf("session %s active=%v status=%s score=%d health=%.1f", w.Session.SessionID, w.Session.Active, w.Session.Status, w.Session.Score, w.Session.Health)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			logger.Fatalf("ERROR %s: %s", e.Code, e.Message)

		case protocol.TypeEvent:
			var ev protocol.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			printEvent(logger, ev)
		}
	}
}

func printEvent(logger *log.Logger, ev protocol.Event) {
	head := ev.SessionID
	if len(head) > 8 {
		head = head[:8]
	}
	switch {
	case ev.Phase != nil:
		logger.Printf("%s #%d t=%dms %s -> %s", head, ev.Seq, ev.SimTimeMs, ev.Phase.From, ev.Phase.To)
	case ev.Decision != nil:
		d := ev.Decision
		target := "none"
		if d.Chosen != nil {
			target = d.Chosen.ID + " (" + d.Chosen.Tier + ")"
		}
		logger.Printf("%s #%d t=%dms decision candidates=%d feasible=%d budget=%.1fs -> %s", head, ev.Seq, ev.SimTimeMs, d.Candidates, d.Feasible, d.Budget, target)
	case ev.Item != nil:
		logger.Printf("%s #%d t=%dms %s %s %s +%d", head, ev.Seq, ev.SimTimeMs, ev.Kind, ev.Item.ID, ev.Item.Tier, ev.Item.Value)
	case ev.Points != nil:
		logger.Printf("%s #%d t=%dms points +%d score=%d", head, ev.Seq, ev.SimTimeMs, ev.Points.Amount, ev.Points.Score)
	case ev.Health != nil:
		logger.Printf("%s #%d t=%dms health %.1f", head, ev.Seq, ev.SimTimeMs, ev.Health.Health)
	case ev.End != nil:
		logger.Printf("%s #%d t=%dms %s %q score=%d delivered=%d", head, ev.Seq, ev.SimTimeMs, ev.End.Outcome, ev.End.Label, ev.End.Score, ev.End.Delivered)
	default:
		logger.Printf("%s #%d t=%dms %s", head, ev.Seq, ev.SimTimeMs, ev.Kind)
	}
}
