package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
	"github.com/sherwinwater/speech-to-text-service/pkg/protocol"
	"github.com/sherwinwater/speech-to-text-service/pkg/transports"
)

type Config struct {
	Path           string   `mapstructure:"path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/v1/stream"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport is the primary streaming ingress: one websocket per session,
// JSON handshake first, then binary audio in and delta/final JSON out.
type Transport struct {
	cfg      Config
	core     transports.Core
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	draining atomic.Bool
}

var _ transports.Handler = (*Transport)(nil)

func New(cfg Config, core transports.Core) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:    cfg,
		core:   core,
		logger: logging.NewComponentLogger(core.Logger, "ws_transport"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Register(mux *http.ServeMux) {
	mux.HandleFunc(t.cfg.Path, t.handleStream)
}

// Drain refuses new upgrades and severs every live connection.
func (t *Transport) Drain() {
	t.draining.Store(true)
	t.mu.Lock()
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()
}

func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	t.track(conn)
	defer t.untrack(conn)

	t.serve(conn, r)
}

func (t *Transport) serve(conn *websocket.Conn, r *http.Request) {
	mt, payload, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if mt != websocket.TextMessage {
		closeWith(conn, websocket.ClosePolicyViolation, "Invalid handshake")
		return
	}
	start, err := protocol.ParseHandshake(payload, r.URL.Query().Get("model_size"))
	if err != nil {
		t.logger.Warn("handshake_rejected",
			"reason_code", string(errorsx.Reason(err)),
			"error", err)
		closeWith(conn, websocket.ClosePolicyViolation, "Invalid handshake")
		return
	}

	sess, err := t.core.NewStream(start.Format, start.ModelSize, t.Name())
	if err != nil {
		t.logger.Error("session_start_failed",
			"reason_code", string(errorsx.Reason(err)),
			"error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "Internal error")
		return
	}
	defer sess.Teardown()

	out := newSender(conn)
	defer out.close()

	ctx := r.Context()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			// Disconnects end the session without a forced last window.
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			sess.Ingest(data)
			delta, err := sess.Process(ctx, false)
			if err != nil {
				t.failSession(conn, sess.ID, err)
				return
			}
			if delta != nil {
				out.send(delta)
			}
		case websocket.TextMessage:
			if !protocol.IsStopCommand(string(data)) {
				continue
			}
			delta, err := sess.Finalize(ctx)
			if err != nil {
				t.failSession(conn, sess.ID, err)
				return
			}
			if delta != nil {
				out.send(delta)
			}
			out.send(protocol.NewFinal())
			sess.PublishFinal()
			// Flush queued frames before the close handshake.
			out.close()
			closeWith(conn, websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (t *Transport) failSession(conn *websocket.Conn, sessionID string, err error) {
	t.logger.Error("session_failed",
		"session_id", sessionID,
		"reason_code", string(errorsx.Reason(err)),
		"error", err)
	closeWith(conn, websocket.CloseInternalServerErr, "Internal error")
}

func (t *Transport) track(conn *websocket.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) untrack(conn *websocket.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// sender serializes outbound frames through one writer goroutine so slow
// clients never block the protocol loop.
type sender struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func newSender(conn *websocket.Conn) *sender {
	s := &sender{
		conn:   conn,
		sendCh: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *sender) loop() {
	defer close(s.done)
	for msg := range s.sendCh {
		_ = s.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

// send marshals and queues one frame. Only the protocol loop calls it, so
// queueing never races close.
func (s *sender) send(v any) {
	if s.closed.Load() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.sendCh <- b
}

// close flushes queued frames and stops the writer. Idempotent.
func (s *sender) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.sendCh)
	<-s.done
}
