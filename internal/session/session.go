// Package session serves the browser assistant over a websocket: one
// conversation controller and one authorization flow per connection, with
// the browser acting as microphone, speaker and popup host.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/conversation"
	"github.com/chadiek/jarvis/internal/metrics"
	"github.com/chadiek/jarvis/internal/oauth"
	"github.com/chadiek/jarvis/internal/responder"
	"github.com/chadiek/jarvis/internal/speech"
	"github.com/chadiek/jarvis/internal/spotify"
	"github.com/chadiek/jarvis/internal/tts"
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config wires the shared services every session uses.
type Config struct {
	URLs     oauth.URLProvider
	Store    *oauth.TokenStore
	Playback *spotify.Playback
	Metrics  *metrics.Metrics
	Log      zerolog.Logger

	// NewResponder builds the reply generator for one conversation. The
	// keyword responder is used when nil.
	NewResponder func() conversation.Responder
	// NewRecognizer returns a server-side recognizer, or nil to use the
	// browser's speech recognition.
	NewRecognizer func() StreamRecognizer
	// Voice renders replies server-side when set.
	Voice tts.Streamer

	Greeting      string
	ResponseDelay time.Duration
	PollInterval  time.Duration
}

// Handler upgrades GET /session.
type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

func (h *Handler) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.cfg.Log.Warn().Err(err).Msg("websocket upgrade")
		return nil
	}
	hello, err := readHello(conn)
	if err != nil {
		_ = conn.WriteJSON(resultFrame{Type: outError, Error: err.Error()})
		_ = conn.Close()
		return nil
	}
	s := newSession(h.cfg, conn, hello)
	s.run(c.Request().Context())
	return nil
}

func readHello(conn *websocket.Conn) (inbound, error) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer conn.SetReadDeadline(time.Time{})
	var m inbound
	if err := conn.ReadJSON(&m); err != nil {
		return m, errors.New("expected hello frame")
	}
	if m.Type != inHello {
		return m, errors.New("expected hello frame")
	}
	return m, nil
}

// Session is one connected browser.
type Session struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	log  zerolog.Logger
	met  *metrics.Metrics

	ctrl     *conversation.Controller
	flow     *oauth.Flow
	playback *spotify.Playback

	stream    StreamRecognizer
	streaming atomic.Bool
	captures  *replies
	speeches  *replies
	popup     atomic.Pointer[remotePopup]
	pacer     *pacer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSession(cfg Config, conn *websocket.Conn, hello inbound) *Session {
	s := &Session{
		conn:     conn,
		log:      cfg.Log.With().Str("component", "session").Logger(),
		met:      cfg.Metrics,
		playback: cfg.Playback,
		captures: newReplies(),
		speeches: newReplies(),
	}
	s.pacer = newPacer(func(f []byte) error { return s.sendBinary(f) })

	var rec speech.Recognizer
	if cfg.NewRecognizer != nil {
		if sr := cfg.NewRecognizer(); sr != nil && deviceAvailable(sr) {
			s.stream = sr
			rec = &streamingRecognizer{s: s, rec: sr}
		}
	}
	if rec == nil && hello.Capture {
		rec = &browserRecognizer{s: s}
	}
	var synth speech.Synthesizer
	if cfg.Voice != nil || hello.Synthesis {
		synth = &remoteSynth{s: s, voice: cfg.Voice}
	}

	var gen conversation.Responder = responder.New()
	if cfg.NewResponder != nil {
		gen = cfg.NewResponder()
	}
	opts := []conversation.Option{
		conversation.WithResponseDelay(cfg.ResponseDelay),
		conversation.WithLogger(s.log),
	}
	if cfg.Greeting != "" {
		opts = append(opts, conversation.WithGreeting(cfg.Greeting))
	}
	s.ctrl = conversation.New(rec, synth, gen, opts...)
	s.flow = oauth.NewFlow(cfg.URLs, popupOpener{s: s}, cfg.Store,
		oauth.WithPollInterval(cfg.PollInterval),
		oauth.WithFlowLogger(s.log),
	)
	return s
}

func deviceAvailable(dev any) bool {
	if p, ok := dev.(speech.Prober); ok {
		return p.Available()
	}
	return true
}

func (s *Session) run(parent context.Context) {
	s.ctx, s.cancel = context.WithCancel(parent)
	s.met.SessionOpened()
	defer s.met.SessionClosed()

	last := s.ctrl.Snapshot().Mode
	s.ctrl.Subscribe(func(snap conversation.Snapshot) {
		s.met.RecordMode(string(last), string(snap.Mode))
		last = snap.Mode
		_ = s.send(stateFrame{Type: outState, Snapshot: snap})
	})
	s.flow.Subscribe(func(st oauth.State) {
		_ = s.send(authStateFrame{Type: outAuthState, State: string(st)})
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.flow.Run(s.ctx)
	}()

	_ = s.send(stateFrame{Type: outState, Snapshot: s.ctrl.Snapshot()})
	_ = s.send(authStateFrame{Type: outAuthState, State: string(s.flow.State())})
	s.log.Info().Msg("session opened")

	s.readLoop()
	s.close()
	s.log.Info().Msg("session closed")
}

func (s *Session) readLoop() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("read")
			}
			return
		}
		if mt == websocket.BinaryMessage {
			if s.stream != nil && s.streaming.Load() {
				s.stream.Feed(data)
			}
			continue
		}
		var m inbound
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Debug().Err(err).Msg("undecodable frame")
			continue
		}
		s.handle(m)
	}
}

func (s *Session) handle(m inbound) {
	switch m.Type {
	case inSubmit:
		s.ctrl.SubmitText(m.Text)
	case inInput:
		s.ctrl.SetPendingInput(m.Text)
	case inListenStart:
		s.ctrl.BeginListening()
	case inListenStop:
		s.ctrl.EndListening()
	case inCaptureResult:
		s.captures.resolve(m.ID, reply{text: m.Text})
	case inCaptureError:
		s.captures.resolve(m.ID, reply{err: captureError(m.Error)})
	case inSpeechStart:
		s.log.Debug().Uint64("utterance", m.ID).Msg("browser started speaking")
	case inSpeechEnd:
		s.speeches.resolve(m.ID, reply{})
	case inSpeechError:
		msg := m.Error
		if msg == "" {
			msg = "speech failed"
		}
		s.speeches.resolve(m.ID, reply{err: errors.New("session: " + msg)})
	case inPlayback:
		s.goPlayback(spotify.Action(strings.ToLower(m.Action)), m.Query)
	case inAuthBegin:
		s.beginAuth()
	case inAuthMessage:
		s.flow.Post(m.Payload)
	case inPopupClosed:
		if p := s.popup.Load(); p != nil {
			p.closed.Store(true)
		}
	default:
		s.log.Debug().Str("type", m.Type).Msg("unknown frame")
	}
}

func (s *Session) beginAuth() {
	results, err := s.flow.Begin(s.ctx)
	if err != nil {
		_ = s.send(resultFrame{Type: outAuthResult, Error: err.Error()})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := <-results
		if res.Err != nil {
			s.met.RecordAuth(authOutcome(res.Err))
			_ = s.send(resultFrame{Type: outAuthResult, Error: res.Err.Error()})
			return
		}
		s.met.RecordAuth("success")
		_ = s.send(resultFrame{Type: outAuthResult, OK: true, Message: "Spotify connected"})
	}()
}

func authOutcome(err error) string {
	switch {
	case errors.Is(err, oauth.ErrCancelled):
		return "cancelled"
	case errors.Is(err, oauth.ErrURLProvider):
		return "url_error"
	case errors.Is(err, oauth.ErrPopup):
		return "popup_error"
	case errors.Is(err, oauth.ErrStore):
		return "store_error"
	}
	return "error"
}

func (s *Session) goPlayback(action spotify.Action, query string) {
	if s.playback == nil {
		_ = s.send(resultFrame{Type: outPlaybackResult, Error: "playback unavailable"})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		msg, err := s.playback.Control(s.ctx, action, query)
		if err != nil {
			kind := spotify.ErrorKindOf(err)
			result := string(kind)
			if kind == "" {
				result = "error"
			}
			s.met.RecordPlayback(string(action), result)
			s.log.Info().Err(err).Str("action", string(action)).Msg("playback failed")
			_ = s.send(resultFrame{Type: outPlaybackResult, Error: playbackMessage(err), Code: string(kind)})
			return
		}
		s.met.RecordPlayback(string(action), "ok")
		_ = s.send(resultFrame{Type: outPlaybackResult, OK: true, Message: msg})
	}()
}

func playbackMessage(err error) string {
	var pe *spotify.PlaybackError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}

func (s *Session) send(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Session) sendBinary(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *Session) close() {
	s.cancel()
	s.captures.close()
	s.speeches.close()
	s.pacer.Close()
	s.ctrl.Close()
	s.flow.Close()
	s.wg.Wait()
	_ = s.conn.Close()
}
