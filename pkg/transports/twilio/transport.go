package twilio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
	"github.com/sherwinwater/speech-to-text-service/pkg/transports"
)

// mediaSampleRate is what Twilio media streams deliver: 8 kHz G.711 u-law.
const mediaSampleRate = 8000

type Config struct {
	PublicURL      string   `mapstructure:"public_url"`
	AuthToken      string   `mapstructure:"auth_token"`
	VoicePath      string   `mapstructure:"voice_path"`
	StreamPath     string   `mapstructure:"stream_path"`
	VoiceGreeting  string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.VoicePath == "" {
		c.VoicePath = "/twilio/voice"
	}
	if c.StreamPath == "" {
		c.StreamPath = "/twilio/stream"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport transcribes phone calls: the voice webhook answers with
// <Connect><Stream> TwiML and the media websocket feeds the caller's u-law
// audio through the decode pipeline into a regular session. Transcripts
// leave through the event sinks since the caller has no JSON channel.
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
		logger: logging.NewComponentLogger(core.Logger, "twilio_transport"),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Register(mux *http.ServeMux) {
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.HandleFunc(t.cfg.StreamPath, t.handleMedia)
}

func (t *Transport) Drain() {
	t.draining.Store(true)
	t.mu.Lock()
	for conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateRequest(r) {
		t.logger.Warn("invalid_signature",
			"reason_code", string(errorsx.ReasonTransportInvalidSignature),
			"path", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	wsURL := t.streamURL(r)
	greeting := strings.TrimSpace(t.cfg.VoiceGreeting)
	var twiml string
	if greeting != "" {
		twiml = `<Response><Say>` + xmlEscape(greeting) + `</Say><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	} else {
		twiml = `<Response><Connect><Stream url="` + wsURL + `"/></Connect></Response>`
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (t *Transport) handleMedia(w http.ResponseWriter, r *http.Request) {
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

	t.serveMedia(conn, r)
}

func (t *Transport) serveMedia(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()

	var sess *transports.Stream
	defer func() {
		if sess != nil {
			sess.Teardown()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt MediaEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil || sess != nil {
				continue
			}
			sess, err = t.core.NewStream(audio.NewFormat("mulaw", mediaSampleRate), "", t.Name())
			if err != nil {
				t.logger.Error("call_session_failed",
					"reason_code", string(errorsx.Reason(err)),
					"error", err)
				return
			}
			t.logger.Info("call_started",
				"session_id", sess.ID,
				"call_sid", evt.Start.CallSID,
				"stream_sid", evt.Start.StreamSID)
		case "media":
			if evt.Media == nil || sess == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			sess.Ingest(payload)
			if _, err := sess.Process(ctx, false); err != nil {
				t.logger.Error("call_recognition_failed",
					"session_id", sess.ID,
					"reason_code", string(errorsx.Reason(err)),
					"error", err)
				return
			}
		case "stop":
			if sess == nil {
				return
			}
			if _, err := sess.Finalize(ctx); err != nil {
				t.logger.Error("call_recognition_failed",
					"session_id", sess.ID,
					"reason_code", string(errorsx.Reason(err)),
					"error", err)
				return
			}
			sess.PublishFinal()
			t.logger.Info("call_ended", "session_id", sess.ID)
			return
		}
	}
}

func (t *Transport) streamURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.StreamPath
	}
	return "wss://" + r.Host + t.cfg.StreamPath
}

func (t *Transport) validateRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	// Twilio signs the URL plus the sorted form parameters.
	params := map[string]string{}
	if values, err := url.ParseQuery(string(body)); err == nil {
		for key := range values {
			params[key] = values.Get(key)
		}
	}
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.Validate(t.requestURL(r), params, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
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

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

// Media stream frames as Twilio sends them.

type MediaStart struct {
	CallSID   string `json:"callSid"`
	StreamSID string `json:"streamSid"`
	From      string `json:"from"`
}

type MediaPayload struct {
	Payload string `json:"payload"`
}

type MediaStop struct {
	Reason string `json:"reason"`
}

type MediaEvent struct {
	Event string        `json:"event"`
	Start *MediaStart   `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Stop  *MediaStop    `json:"stop,omitempty"`
}
