package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"caddie.ai/internal/protocol"
)

// StateSource supplies the WELCOME frame and the bootstrap document.
type StateSource interface {
	Welcome() protocol.WelcomeMsg
}

type Server struct {
	hub   *Hub
	state StateSource
	log   *log.Logger

	// AllowRemote lifts the loopback-only restriction.
	AllowRemote bool
	// QueueSize bounds each observer's outgoing frames.
	QueueSize int
	// PingInterval is how often the server pings an observer. ReadTimeout is
	// how long it waits for any frame or pong before dropping the observer.
	PingInterval time.Duration
	ReadTimeout  time.Duration

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(hub *Hub, state StateSource, logger *log.Logger) *Server {
	return &Server{
		hub:          hub,
		state:        state,
		log:          logger,
		QueueSize:    1024,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.state.Welcome())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, code, reason := parseSubscribe(msg)
		if code != "" {
			_ = writeJSON(conn, protocol.NewError(code, reason))
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
			return
		}

		// WELCOME goes out before the observer joins the hub so it is always
		// the first frame.
		if err := writeJSON(conn, s.state.Welcome()); err != nil {
			return
		}

		qs := s.QueueSize
		if qs <= 0 {
			qs = 1024
		}
		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, qs)
		c := s.hub.join(sid, out, sub)
		defer s.hub.leave(sid)
		s.logf("observer %s joined from %s", sid, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		readTimeout, pingEvery := s.timeouts()
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		// Writer goroutine; it also owns pings so a passive observer stays alive.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				var (
					kind = websocket.TextMessage
					b    []byte
				)
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b = <-out:
				case <-ping.C:
					kind = websocket.PingMessage
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(kind, b); err != nil {
					writeErr <- err
					cancel()
					return
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, code, _ := parseSubscribe(msg)
			if code != "" {
				continue
			}
			c.apply(next)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.logf("observer %s left", sid)
	}
}

// timeouts returns the read timeout and a ping interval that fits inside it.
func (s *Server) timeouts() (time.Duration, time.Duration) {
	rt := s.ReadTimeout
	if rt <= 0 {
		rt = 60 * time.Second
	}
	pi := s.PingInterval
	if pi <= 0 || pi >= rt {
		pi = rt / 2
	}
	return rt, pi
}

func parseSubscribe(msg []byte) (protocol.SubscribeMsg, string, string) {
	var sub protocol.SubscribeMsg
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeSubscribe {
		return sub, protocol.ErrProtoBadRequest, "expected SUBSCRIBE"
	}
	if base.ProtocolVersion != protocol.Version {
		return sub, protocol.ErrProtoBadRequest, "bad protocol_version"
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, protocol.ErrProtoBadRequest, "bad subscribe"
	}
	for _, k := range sub.Events {
		if !protocol.IsKnownEvent(k) {
			return sub, protocol.ErrProtoBadRequest, "unknown event kind " + k
		}
	}
	return sub, "", ""
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
