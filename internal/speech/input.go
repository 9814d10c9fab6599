package speech

import (
	"context"
	"strings"
	"sync"
)

// Input runs single-shot capture episodes on a Recognizer. The handler is
// called exactly once per started episode, from the episode goroutine and
// never from Start or Stop.
type Input struct {
	rec       Recognizer
	available bool

	mu      sync.Mutex
	handler func(CaptureEvent)
	episode uint64
	cancel  context.CancelFunc
	closed  bool
}

// NewInput wraps rec. Availability is decided here and does not change.
func NewInput(rec Recognizer, handler func(CaptureEvent)) *Input {
	return &Input{rec: rec, available: available(rec), handler: handler}
}

func (in *Input) Available() bool { return in.available }

// Capturing reports whether an episode is in flight.
func (in *Input) Capturing() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cancel != nil
}

// Start begins a new episode. It reports false when the device is
// unavailable, the channel is closed, or an episode is already running.
func (in *Input) Start() (uint64, bool) {
	if !in.available {
		return 0, false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed || in.cancel != nil {
		return 0, false
	}
	in.episode++
	id := in.episode
	ctx, cancel := context.WithCancel(context.Background())
	in.cancel = cancel
	go in.run(ctx, cancel, id)
	return id, true
}

func (in *Input) run(ctx context.Context, cancel context.CancelFunc, id uint64) {
	text, err := in.rec.Recognize(ctx)
	aborted := ctx.Err() != nil
	cancel()
	text = strings.TrimSpace(text)
	switch {
	case err == nil && text != "":
	case aborted:
		text, err = "", ErrAborted
	case err == nil:
		err = ErrNoSpeech
	default:
		text = ""
	}

	in.mu.Lock()
	in.cancel = nil
	handler := in.handler
	if in.closed {
		handler = nil
	}
	in.mu.Unlock()

	if handler != nil {
		handler(CaptureEvent{Episode: id, Transcript: text, Err: err})
	}
}

// Stop ends the running episode. Its terminal event is still delivered.
func (in *Input) Stop() {
	in.mu.Lock()
	cancel := in.cancel
	in.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close aborts any episode and detaches the handler.
func (in *Input) Close() {
	in.mu.Lock()
	in.closed = true
	in.handler = nil
	cancel := in.cancel
	in.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
