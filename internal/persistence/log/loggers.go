package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"caddie.ai/internal/protocol"
)

// JSONLZstdWriter appends JSON lines to hourly rotated zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst. Reopening an hour appends a new frame.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// WithClock overrides the rotation clock.
func (w *JSONLZstdWriter) WithClock(now func() time.Time) *JSONLZstdWriter {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
	return w
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines through the encoder so a tailing reader sees them.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger writes one JSONL entry per protocol event (compressed).
// It implements the feed's Publisher; write errors are counted, not returned.
type EventLogger struct {
	w *JSONLZstdWriter

	errs    atomic.Uint64
	lastErr atomic.Value // string
	// OnError, when set, is called for every failed write.
	OnError func(err error)
}

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *EventLogger) Writer() *JSONLZstdWriter { return l.w }

func (l *EventLogger) Publish(ev protocol.Event) {
	err := l.w.Write(ev)
	if err == nil && ev.Kind == protocol.EventSessionEnd {
		err = l.w.Flush()
	}
	if err != nil {
		l.errs.Add(1)
		l.lastErr.Store(err.Error())
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}

func (l *EventLogger) Errors() uint64 { return l.errs.Load() }

func (l *EventLogger) Flush() error { return l.w.Flush() }
func (l *EventLogger) Close() error { return l.w.Close() }

// AuditEntry records one operator action on the admin API.
type AuditEntry struct {
	Time       string `json:"time"`
	Action     string `json:"action"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Code       string `json:"code,omitempty"`
	Detail     any    `json:"detail,omitempty"`
}

// AuditLogger writes audit JSONL entries (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error {
	if v.Time == "" {
		v.Time = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := l.w.Write(v); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *AuditLogger) Close() error { return l.w.Close() }
