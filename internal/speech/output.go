package speech

import (
	"context"
	"strings"
	"sync"
)

// Voice holds the delivery parameters applied to every utterance.
type Voice struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// DefaultVoice is slightly slower and higher than the device default.
var DefaultVoice = Voice{Rate: 0.9, Pitch: 1.1, Volume: 0.8}

type utterance struct {
	id     uint64
	cancel context.CancelFunc
}

// Output speaks one utterance at a time on a Synthesizer. Speaking a new
// utterance cancels the current one. Every utterance that starts reports
// UtteranceStarted followed by exactly one of UtteranceEnded or
// UtteranceFailed; cancellation reports UtteranceEnded. Events are delivered
// from the utterance goroutine, never from Speak or Cancel.
type Output struct {
	synth     Synthesizer
	available bool
	voice     Voice

	mu      sync.Mutex
	handler func(UtteranceEvent)
	next    uint64
	current *utterance
	closed  bool
}

type OutputOption func(*Output)

func WithVoice(v Voice) OutputOption {
	return func(o *Output) { o.voice = v }
}

func NewOutput(s Synthesizer, handler func(UtteranceEvent), opts ...OutputOption) *Output {
	o := &Output{synth: s, available: available(s), voice: DefaultVoice, handler: handler}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Output) Available() bool { return o.available }

// Speaking reports whether an utterance is in flight.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// Speak cancels any current utterance and starts speaking text. It returns
// the new utterance id, or false when nothing was started.
func (o *Output) Speak(text string) (uint64, bool) {
	text = strings.TrimSpace(text)
	if !o.available || text == "" {
		return 0, false
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, false
	}
	if o.current != nil {
		o.current.cancel()
	}
	o.next++
	ctx, cancel := context.WithCancel(context.Background())
	u := Utterance{ID: o.next, Text: text, Rate: o.voice.Rate, Pitch: o.voice.Pitch, Volume: o.voice.Volume}
	o.current = &utterance{id: u.ID, cancel: cancel}
	o.mu.Unlock()

	go o.run(ctx, cancel, u)
	return u.ID, true
}

func (o *Output) run(ctx context.Context, cancel context.CancelFunc, u Utterance) {
	o.emit(UtteranceEvent{ID: u.ID, Kind: UtteranceStarted}, false)

	err := o.synth.Speak(ctx, u)
	cancelled := ctx.Err() != nil
	cancel()

	ev := UtteranceEvent{ID: u.ID, Kind: UtteranceEnded}
	if err != nil && !cancelled {
		ev = UtteranceEvent{ID: u.ID, Kind: UtteranceFailed, Err: err}
	}
	o.emit(ev, true)
}

func (o *Output) emit(ev UtteranceEvent, terminal bool) {
	o.mu.Lock()
	if terminal && o.current != nil && o.current.id == ev.ID {
		o.current = nil
	}
	handler := o.handler
	if o.closed {
		handler = nil
	}
	o.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// Cancel stops the current utterance, which still reports UtteranceEnded.
func (o *Output) Cancel() {
	o.mu.Lock()
	cur := o.current
	o.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}

// Close cancels any utterance and detaches the handler.
func (o *Output) Close() {
	o.mu.Lock()
	o.closed = true
	o.handler = nil
	cur := o.current
	o.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}
