package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"caddie.ai/internal/protocol"
)

// ListFiles returns <prefix>-*.jsonl.zst files in dir in chronological order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadLines calls fn with every raw JSON line of a compressed log file.
func ReadLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadEvents decodes every event line in a compressed event file, in order.
func ReadEvents(path string, fn func(ev protocol.Event) error) error {
	line := 0
	return ReadLines(path, func(b []byte) error {
		line++
		var ev protocol.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return fmt.Errorf("%s:%d: unmarshal: %w", filepath.Base(path), line, err)
		}
		return fn(ev)
	})
}

// ReadAudit decodes every entry of a compressed audit file.
func ReadAudit(path string, fn func(e AuditEntry) error) error {
	return ReadLines(path, func(b []byte) error {
		var e AuditEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		return fn(e)
	})
}
