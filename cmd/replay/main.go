package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	persistlog "caddie.ai/internal/persistence/log"
	"caddie.ai/internal/protocol"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst (default: <data>/events)")
		sessionID  = flag.String("session", "", "only report this session id (optional)")
		schemaPath = flag.String("schema", "", "validate every event against this JSON schema (optional)")
		asJSON     = flag.Bool("json", false, "print summaries as JSON lines")
	)
	flag.Parse()

	dir := *eventsDir
	if dir == "" {
		dir = filepath.Join(*dataDir, "events")
	}
	files, err := persistlog.ListFiles(dir, "events")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", dir)
		os.Exit(1)
	}

	var sch *jsonschema.Schema
	if *schemaPath != "" {
		c := jsonschema.NewCompiler()
		sch, err = c.Compile(*schemaPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "compile schema:", err)
			os.Exit(1)
		}
	}

	z := persistlog.NewSummarizer()
	var lines uint64
	for _, path := range files {
		err := persistlog.ReadEvents(path, func(ev protocol.Event) error {
			if *sessionID != "" && ev.SessionID != *sessionID {
				return nil
			}
			lines++
			if sch != nil {
				if err := validate(sch, ev); err != nil {
					return fmt.Errorf("%s seq=%d: %w", ev.SessionID, ev.Seq, err)
				}
			}
			return z.Add(ev)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}

	bad := 0
	for _, s := range z.Sessions() {
		checkErr := s.Check()
		if checkErr != nil {
			bad++
		}
		if *asJSON {
			out := struct {
				persistlog.SessionSummary
				Error string `json:"error,omitempty"`
			}{SessionSummary: s}
			if checkErr != nil {
				out.Error = checkErr.Error()
			}
			b, _ := json.Marshal(out)
			fmt.Println(string(b))
			continue
		}
		state := "open"
		if s.Ended {
			state = s.Outcome
		}
		fmt.Printf("session %s %s score=%d points=%d delivered=%d pickups=%d events=%d sim=%dms %q\n",
			s.SessionID, state, s.Score, s.Points, s.Delivered, s.Pickups, s.Events, s.SimMs, s.Label)
		if checkErr != nil {
			fmt.Fprintln(os.Stderr, "  mismatch:", checkErr)
		}
	}
	if bad > 0 {
		fmt.Fprintf(os.Stderr, "replay failed: %d inconsistent sessions\n", bad)
		os.Exit(1)
	}
	if !*asJSON {
		fmt.Printf("replay ok: sessions=%d events=%d files=%d\n", len(z.Sessions()), lines, len(files))
	}
}

func validate(sch *jsonschema.Schema, ev protocol.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return sch.Validate(v)
}
