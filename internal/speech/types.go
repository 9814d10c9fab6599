// Package speech wraps voice capture and voice synthesis devices behind
// single-shot, event-reporting channels.
package speech

import (
	"context"
	"errors"
)

var (
	// ErrAborted is reported for a capture episode stopped before a result.
	ErrAborted = errors.New("speech: capture aborted")
	// ErrNoSpeech is returned by recognizers that heard nothing.
	ErrNoSpeech = errors.New("speech: no speech detected")
)

// Recognizer captures one utterance. Recognize returns when a transcript is
// available, the device fails, or ctx is cancelled.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Utterance is one piece of text to be spoken.
type Utterance struct {
	ID     uint64
	Text   string
	Rate   float64
	Pitch  float64
	Volume float64
}

// Synthesizer renders one utterance. Speak returns when playback ends, the
// device fails, or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
}

// Prober is implemented by devices that can report being unusable, for
// example when an API key is missing.
type Prober interface {
	Available() bool
}

func available(dev any) bool {
	if dev == nil {
		return false
	}
	if p, ok := dev.(Prober); ok {
		return p.Available()
	}
	return true
}

// CaptureEvent is the single terminal event of a capture episode.
type CaptureEvent struct {
	Episode    uint64
	Transcript string
	Err        error
}

// UtteranceKind classifies utterance events.
type UtteranceKind int

const (
	UtteranceStarted UtteranceKind = iota
	UtteranceEnded
	UtteranceFailed
)

func (k UtteranceKind) String() string {
	switch k {
	case UtteranceStarted:
		return "started"
	case UtteranceEnded:
		return "ended"
	case UtteranceFailed:
		return "failed"
	}
	return "unknown"
}

// UtteranceEvent reports progress of one utterance.
type UtteranceEvent struct {
	ID   uint64
	Kind UtteranceKind
	Err  error
}
