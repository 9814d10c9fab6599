package telephony

import (
	"context"
	"sync"

	"github.com/chadiek/jarvis/internal/speech"
)

// gatherDevice recognizes speech through Twilio's <Gather input="speech">.
// Each capture episode waits for the next SpeechResult posted to the
// gather webhook.
type gatherDevice struct {
	results chan string
}

func newGatherDevice() *gatherDevice {
	return &gatherDevice{results: make(chan string, 1)}
}

func (g *gatherDevice) Recognize(ctx context.Context) (string, error) {
	select {
	case text := <-g.results:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// deliver hands a SpeechResult to the running episode. A result with no
// episode waiting replaces any earlier undelivered one.
func (g *gatherDevice) deliver(text string) {
	for {
		select {
		case g.results <- text:
			return
		default:
		}
		select {
		case <-g.results:
		default:
		}
	}
}

// sayDevice speaks through <Say>. Speak publishes the utterance for the
// webhook that is waiting to render it, then blocks until Twilio reports it
// played by requesting the said webhook.
type sayDevice struct {
	spoken chan speech.Utterance

	mu      sync.Mutex
	current uint64
	done    chan struct{}
}

func newSayDevice() *sayDevice {
	return &sayDevice{spoken: make(chan speech.Utterance, 1)}
}

func (s *sayDevice) Speak(ctx context.Context, u speech.Utterance) error {
	done := make(chan struct{})
	s.mu.Lock()
	s.current = u.ID
	s.done = done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.current == u.ID {
			s.current, s.done = 0, nil
		}
		s.mu.Unlock()
	}()

	select {
	case s.spoken <- u:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishCurrent marks whatever utterance is in flight as played.
func (s *sayDevice) finishCurrent() bool {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	return id != 0 && s.finish(id)
}

// finish marks utterance id as played. Stale ids are ignored.
func (s *sayDevice) finish(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil || s.current != id {
		return false
	}
	close(s.done)
	s.current, s.done = 0, nil
	return true
}
