package telephony

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/jarvis/internal/conversation"
	"github.com/chadiek/jarvis/internal/metrics"
	"github.com/chadiek/jarvis/internal/middleware"
	"github.com/chadiek/jarvis/internal/responder"
)

const (
	repromptMessage = "I didn't catch that. Could you say it again?"
	goodbyeMessage  = "This call has ended. Goodbye!"
	replyTimeout    = 10 * time.Second
)

// Service runs one conversation controller per phone call, keyed by CallSid.
type Service struct {
	NewResponder  func() conversation.Responder
	ResponseDelay time.Duration
	Metrics       *metrics.Metrics
	Log           zerolog.Logger

	// Wait bounds how long a webhook blocks on the controller.
	Wait time.Duration

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	sid    string
	ctrl   *conversation.Controller
	gather *gatherDevice
	say    *sayDevice

	mu      sync.Mutex
	last    conversation.Snapshot
	changed chan struct{}
}

// observe records s and returns the mode it replaces.
func (c *call) observe(s conversation.Snapshot) conversation.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.last.Mode
	c.last = s
	close(c.changed)
	c.changed = make(chan struct{})
	return prev
}

// wait blocks until pred holds for the controller state. Published
// snapshots only wake it; the state itself is read from the controller.
func (c *call) wait(ctx context.Context, pred func(conversation.Snapshot) bool) (conversation.Snapshot, error) {
	for {
		c.mu.Lock()
		ch := c.changed
		c.mu.Unlock()
		s := c.ctrl.Snapshot()
		if pred(s) {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

func (s *Service) Register(g *echo.Group) {
	g.POST("/voice", s.voice)
	g.POST("/gather", s.gatherResult)
	g.POST("/said", s.said)
	g.POST("/status", s.status)
}

func (s *Service) open(sid string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]*call)
	}
	if existing, ok := s.calls[sid]; ok {
		return existing
	}

	var gen conversation.Responder = responder.New()
	if s.NewResponder != nil {
		gen = s.NewResponder()
	}
	cl := &call{sid: sid, gather: newGatherDevice(), say: newSayDevice(), changed: make(chan struct{})}
	cl.ctrl = conversation.New(cl.gather, cl.say, gen,
		conversation.WithGreeting(responder.Greeting),
		conversation.WithResponseDelay(s.ResponseDelay),
		conversation.WithLogger(s.Log.With().Str("call", sid).Logger()),
	)
	cl.last = cl.ctrl.Snapshot()
	cl.ctrl.Subscribe(func(snap conversation.Snapshot) {
		if prev := cl.observe(snap); prev != snap.Mode {
			s.Metrics.RecordMode(string(prev), string(snap.Mode))
		}
	})
	s.calls[sid] = cl
	s.Metrics.CallStarted()
	return cl
}

func (s *Service) lookup(sid string) (*call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.calls[sid]
	return cl, ok
}

func (s *Service) end(sid string) bool {
	s.mu.Lock()
	cl, ok := s.calls[sid]
	delete(s.calls, sid)
	s.mu.Unlock()
	if !ok {
		return false
	}
	cl.ctrl.Close()
	s.Metrics.CallEnded()
	return true
}

// Close ends every call in progress.
func (s *Service) Close() {
	s.mu.Lock()
	sids := make([]string, 0, len(s.calls))
	for sid := range s.calls {
		sids = append(sids, sid)
	}
	s.mu.Unlock()
	for _, sid := range sids {
		s.end(sid)
	}
}

func (s *Service) waitCtx(c echo.Context) (context.Context, context.CancelFunc) {
	d := s.Wait
	if d <= 0 {
		d = replyTimeout
	}
	return context.WithTimeout(c.Request().Context(), d)
}

func (s *Service) voice(c echo.Context) error {
	params := middleware.TwilioParams(c)
	sid := params["CallSid"]
	if sid == "" {
		return c.String(http.StatusBadRequest, "CallSid is required")
	}
	s.Log.Info().Str("call", sid).Str("from", params["From"]).Msg("incoming call")

	cl := s.open(sid)
	cl.ctrl.BeginListening()
	return s.listen(c, &twiml.VoiceSay{Message: responder.Greeting})
}

func (s *Service) gatherResult(c echo.Context) error {
	params := middleware.TwilioParams(c)
	cl, ok := s.lookup(params["CallSid"])
	if !ok {
		return hangup(c)
	}
	ctx, cancel := s.waitCtx(c)
	defer cancel()

	if cl.ctrl.Mode() == conversation.ModeListening {
		cl.gather.deliver(params["SpeechResult"])
	}
	snap, err := cl.wait(ctx, func(snap conversation.Snapshot) bool { return snap.Mode != conversation.ModeListening })
	if err != nil {
		s.Log.Warn().Err(err).Str("call", cl.sid).Msg("capture did not settle")
		return s.reprompt(c, cl)
	}

	switch snap.Mode {
	case conversation.ModeIdle:
		if snap.PendingInput == "" || !cl.ctrl.SubmitText(snap.PendingInput) {
			return s.reprompt(c, cl)
		}
		s.Log.Info().Str("call", cl.sid).Str("text", snap.PendingInput).Msg("caller said")
	case conversation.ModeSpeaking:
		select {
		case u := <-cl.say.spoken:
			return sayReply(c, u.ID, u.Text)
		default:
		}
		// The reply was rendered but its said webhook never arrived.
		cl.say.finishCurrent()
		if _, err := cl.wait(ctx, func(snap conversation.Snapshot) bool { return snap.Mode == conversation.ModeIdle }); err != nil {
			s.Log.Warn().Err(err).Str("call", cl.sid).Msg("playback did not settle")
		}
		cl.ctrl.BeginListening()
		return s.listen(c)
	}
	return s.awaitReply(ctx, c, cl)
}

// awaitReply renders the next reply. When it is not ready in time the call
// is held and the gather webhook is requested again, which picks it up.
func (s *Service) awaitReply(ctx context.Context, c echo.Context, cl *call) error {
	select {
	case u := <-cl.say.spoken:
		return sayReply(c, u.ID, u.Text)
	case <-ctx.Done():
		s.Log.Warn().Str("call", cl.sid).Msg("reply not ready, holding")
		return respond(c,
			&twiml.VoicePause{Length: "1"},
			&twiml.VoiceRedirect{Url: "/twilio/gather", Method: "POST"},
		)
	}
}

func sayReply(c echo.Context, id uint64, text string) error {
	next := "/twilio/said?utterance=" + strconv.FormatUint(id, 10)
	return respond(c,
		&twiml.VoiceSay{Message: text},
		&twiml.VoiceRedirect{Url: next, Method: "POST"},
	)
}

func (s *Service) said(c echo.Context) error {
	params := middleware.TwilioParams(c)
	cl, ok := s.lookup(params["CallSid"])
	if !ok {
		return hangup(c)
	}
	id, err := strconv.ParseUint(c.QueryParam("utterance"), 10, 64)
	if err == nil {
		cl.say.finish(id)
	}

	ctx, cancel := s.waitCtx(c)
	defer cancel()
	if _, err := cl.wait(ctx, func(snap conversation.Snapshot) bool { return snap.Mode == conversation.ModeIdle }); err != nil {
		s.Log.Warn().Err(err).Str("call", cl.sid).Msg("playback did not settle")
	}
	cl.ctrl.BeginListening()
	return s.listen(c)
}

func (s *Service) status(c echo.Context) error {
	params := middleware.TwilioParams(c)
	sid := params["CallSid"]
	switch params["CallStatus"] {
	case "completed", "busy", "failed", "no-answer", "canceled":
		if s.end(sid) {
			s.Log.Info().Str("call", sid).Str("status", params["CallStatus"]).Msg("call ended")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) reprompt(c echo.Context, cl *call) error {
	cl.ctrl.BeginListening()
	return s.listen(c, &twiml.VoiceSay{Message: repromptMessage})
}

// listen renders the given verbs followed by a speech Gather. The trailing
// Redirect posts an empty result when the caller stays silent.
func (s *Service) listen(c echo.Context, before ...twiml.Element) error {
	gather := &twiml.VoiceGather{Input: "speech", Action: "/twilio/gather", Method: "POST", SpeechTimeout: "auto"}
	redirect := &twiml.VoiceRedirect{Url: "/twilio/gather", Method: "POST"}
	return respond(c, append(before, gather, redirect)...)
}

func hangup(c echo.Context) error {
	return respond(c, &twiml.VoiceSay{Message: goodbyeMessage}, &twiml.VoiceHangup{})
}

func respond(c echo.Context, verbs ...twiml.Element) error {
	response, err := twiml.Voice(verbs)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}
