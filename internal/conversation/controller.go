package conversation

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/notify"
	"github.com/chadiek/jarvis/internal/speech"
)

const (
	noticeCaptureFailed  = "Voice recognition failed. Please try again."
	noticePlaybackFailed = "I couldn't play that reply out loud."
)

// Controller arbitrates the interaction modes of one conversation. Operations
// that are not legal in the current mode are ignored.
type Controller struct {
	mu        sync.Mutex
	mode      Mode
	messages  []Message
	pending   string
	notice    string
	episode   uint64
	utterance uint64
	turn      uint64
	seq       uint64
	closed    bool
	done      chan struct{}

	input     *speech.Input
	output    *speech.Output
	responder Responder

	delay    time.Duration
	voice    speech.Voice
	greeting string
	now      func() time.Time
	newID    func() string
	log      zerolog.Logger
	changes  *notify.Queue[Snapshot]
}

type Option func(*Controller)

// WithResponseDelay sets the latency applied before each reply is generated.
func WithResponseDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithGreeting seeds the conversation with an assistant message.
func WithGreeting(text string) Option {
	return func(c *Controller) { c.greeting = strings.TrimSpace(text) }
}

func WithVoice(v speech.Voice) Option {
	return func(c *Controller) { c.voice = v }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New builds a controller over the given devices. A nil recognizer or
// synthesizer, or one reporting itself unavailable, disables that direction.
func New(rec speech.Recognizer, synth speech.Synthesizer, r Responder, opts ...Option) *Controller {
	c := &Controller{
		mode:      ModeIdle,
		done:      make(chan struct{}),
		responder: r,
		delay:     time.Second,
		voice:     speech.DefaultVoice,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
		log:       zerolog.Nop(),
		changes:   notify.NewQueue[Snapshot](),
	}
	for _, o := range opts {
		o(c)
	}
	c.input = speech.NewInput(rec, c.onCapture)
	c.output = speech.NewOutput(synth, c.onUtterance, speech.WithVoice(c.voice))
	if c.greeting != "" {
		c.messages = append(c.messages, c.message(c.greeting, SenderAssistant))
	}
	if !c.input.Available() {
		c.log.Info().Msg("voice capture unavailable")
	}
	if !c.output.Available() {
		c.log.Info().Msg("voice playback unavailable")
	}
	return c
}

func (c *Controller) message(text string, from Sender) Message {
	return Message{ID: c.newID(), Text: text, Sender: from, Timestamp: c.now()}
}

// Subscribe registers fn to receive a Snapshot after every change, in order.
func (c *Controller) Subscribe(fn func(Snapshot)) {
	c.changes.Subscribe(fn)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		Seq:             c.seq,
		Mode:            c.mode,
		Messages:        msgs,
		PendingInput:    c.pending,
		Notice:          c.notice,
		InputAvailable:  c.input.Available(),
		OutputAvailable: c.output.Available(),
	}
}

func (c *Controller) publishLocked() {
	c.seq++
	c.changes.Publish(c.snapshotLocked())
	c.notice = ""
}

func (c *Controller) setModeLocked(m Mode) {
	if c.mode == m {
		return
	}
	c.log.Debug().Str("from", string(c.mode)).Str("to", string(m)).Msg("mode")
	c.mode = m
}

// SubmitText starts a turn with text. It is ignored unless the controller is
// idle and text is not blank.
func (c *Controller) SubmitText(text string) bool {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	if c.closed || c.mode != ModeIdle || text == "" {
		c.mu.Unlock()
		return false
	}
	c.messages = append(c.messages, c.message(text, SenderUser))
	c.pending = ""
	c.turn++
	turn := c.turn
	c.setModeLocked(ModeProcessing)
	c.publishLocked()
	c.mu.Unlock()

	go c.generate(turn, text)
	return true
}

func (c *Controller) generate(turn uint64, text string) {
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		select {
		case <-timer.C:
		case <-c.done:
			timer.Stop()
			return
		}
	}
	reply := c.responder.Respond(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.mode != ModeProcessing || c.turn != turn {
		return
	}
	c.messages = append(c.messages, c.message(reply, SenderAssistant))
	if id, ok := c.output.Speak(reply); ok {
		c.utterance = id
		c.setModeLocked(ModeSpeaking)
	} else {
		c.setModeLocked(ModeIdle)
	}
	c.publishLocked()
}

func (c *Controller) onUtterance(ev speech.UtteranceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || ev.Kind == speech.UtteranceStarted {
		return
	}
	if ev.ID != c.utterance || c.mode != ModeSpeaking {
		return
	}
	c.utterance = 0
	if ev.Kind == speech.UtteranceFailed {
		c.log.Warn().Err(ev.Err).Uint64("utterance", ev.ID).Msg("speech playback failed")
		c.notice = noticePlaybackFailed
	}
	c.setModeLocked(ModeIdle)
	c.publishLocked()
}

// BeginListening starts a capture episode. It is ignored unless the
// controller is idle and capture is available and not already running.
func (c *Controller) BeginListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.mode != ModeIdle || !c.input.Available() {
		return false
	}
	id, ok := c.input.Start()
	if !ok {
		return false
	}
	c.episode = id
	c.setModeLocked(ModeListening)
	c.publishLocked()
	return true
}

// EndListening stops the running capture episode and returns to idle.
func (c *Controller) EndListening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.mode != ModeListening {
		return false
	}
	c.input.Stop()
	c.setModeLocked(ModeIdle)
	c.publishLocked()
	return true
}

func (c *Controller) onCapture(ev speech.CaptureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || ev.Episode != c.episode {
		return
	}
	changed := false
	switch {
	case ev.Err == nil:
		c.pending = ev.Transcript
		changed = true
	case errors.Is(ev.Err, speech.ErrAborted):
	default:
		c.log.Warn().Err(ev.Err).Uint64("episode", ev.Episode).Msg("voice capture failed")
		c.notice = noticeCaptureFailed
		changed = true
	}
	if c.mode == ModeListening {
		c.setModeLocked(ModeIdle)
		changed = true
	}
	if changed {
		c.publishLocked()
	}
}

// SetPendingInput replaces the transcript awaiting review.
func (c *Controller) SetPendingInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pending == text {
		return
	}
	c.pending = text
	c.publishLocked()
}

// Close aborts capture, cancels playback and any pending reply. No
// subscriber is called after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.input.Close()
	c.output.Close()
	c.changes.Close()
}
