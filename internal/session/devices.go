package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chadiek/jarvis/internal/oauth"
	"github.com/chadiek/jarvis/internal/speech"
	"github.com/chadiek/jarvis/internal/tts"
)

var errClosed = errors.New("session: connection closed")

type reply struct {
	text string
	err  error
}

// replies pairs client answers with the device call waiting on them.
type replies struct {
	mu     sync.Mutex
	m      map[uint64]chan reply
	closed bool
}

func newReplies() *replies {
	return &replies{m: make(map[uint64]chan reply)}
}

func (r *replies) add(id uint64) (chan reply, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	ch := make(chan reply, 1)
	r.m[id] = ch
	return ch, true
}

// resolve hands rep to the waiter for id. Unknown ids are ignored.
func (r *replies) resolve(id uint64, rep reply) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.m[id]
	if !ok {
		return false
	}
	delete(r.m, id)
	ch <- rep
	return true
}

func (r *replies) remove(id uint64) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

func (r *replies) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, ch := range r.m {
		ch <- reply{err: errClosed}
		delete(r.m, id)
	}
}

// StreamRecognizer is a server-side recognizer fed with microphone PCM
// relayed over the session.
type StreamRecognizer interface {
	speech.Recognizer
	Feed(pcm []byte)
}

// browserRecognizer asks the browser's own speech recognition for one
// transcript per call.
type browserRecognizer struct {
	s    *Session
	next atomic.Uint64
}

func (r *browserRecognizer) Recognize(ctx context.Context) (string, error) {
	id := r.next.Add(1)
	ch, ok := r.s.captures.add(id)
	if !ok {
		return "", errClosed
	}
	defer r.s.captures.remove(id)
	if err := r.s.send(idFrame{Type: outCaptureStart, ID: id}); err != nil {
		return "", err
	}
	select {
	case rep := <-ch:
		return rep.text, rep.err
	case <-ctx.Done():
		_ = r.s.send(idFrame{Type: outCaptureStop, ID: id})
		return "", ctx.Err()
	}
}

// streamingRecognizer runs a server-side recognizer on audio the browser
// streams while the episode lasts.
type streamingRecognizer struct {
	s    *Session
	rec  StreamRecognizer
	next atomic.Uint64
}

func (r *streamingRecognizer) Recognize(ctx context.Context) (string, error) {
	id := r.next.Add(1)
	r.s.streaming.Store(true)
	defer r.s.streaming.Store(false)
	if err := r.s.send(idFrame{Type: outCaptureStart, ID: id, Stream: true}); err != nil {
		return "", err
	}
	defer func() { _ = r.s.send(idFrame{Type: outCaptureStop, ID: id}) }()
	return r.rec.Recognize(ctx)
}

// captureError maps a browser recognition error code.
func captureError(code string) error {
	switch code {
	case "aborted":
		return speech.ErrAborted
	case "no-speech":
		return speech.ErrNoSpeech
	case "":
		return errors.New("session: capture failed")
	}
	return fmt.Errorf("session: capture failed: %s", code)
}

// remoteSynth speaks in the browser. With a server-side voice the audio is
// streamed as binary frames, otherwise the browser voices the text itself.
// Either way the call ends when the browser reports the utterance done.
type remoteSynth struct {
	s     *Session
	voice tts.Streamer
}

func (r *remoteSynth) Speak(ctx context.Context, u speech.Utterance) error {
	ch, ok := r.s.speeches.add(u.ID)
	if !ok {
		return errClosed
	}
	defer r.s.speeches.remove(u.ID)

	err := r.s.send(speakFrame{
		Type: outSpeak, ID: u.ID, Text: u.Text,
		Rate: u.Rate, Pitch: u.Pitch, Volume: u.Volume,
		Audio: r.voice != nil,
	})
	if err != nil {
		return err
	}
	if r.voice != nil {
		sink := func(pcm []byte) error { return r.s.pacer.Write(ctx, pcm) }
		if err := tts.Render(ctx, r.voice, u.Text, sink); err == nil {
			err = r.s.pacer.Flush(ctx)
		}
		if err != nil {
			r.cancel(u.ID)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session: synthesize: %w", err)
		}
	}

	select {
	case rep := <-ch:
		return rep.err
	case <-ctx.Done():
		r.cancel(u.ID)
		return ctx.Err()
	}
}

func (r *remoteSynth) cancel(id uint64) {
	if r.voice != nil {
		r.s.pacer.Reset()
	}
	_ = r.s.send(idFrame{Type: outSpeakCancel, ID: id})
}

// remotePopup mirrors a browser popup window. The browser reports closure
// with a popup_closed frame; the flow polls Closed.
type remotePopup struct {
	s      *Session
	closed atomic.Bool
}

func (p *remotePopup) Closed() bool { return p.closed.Load() }

func (p *remotePopup) Close() {
	if p.closed.CompareAndSwap(false, true) {
		_ = p.s.send(popupFrame{Type: outClosePopup})
	}
}

type popupOpener struct{ s *Session }

func (o popupOpener) Open(_ context.Context, url string) (oauth.Popup, error) {
	p := &remotePopup{s: o.s}
	if err := o.s.send(popupFrame{Type: outOpenPopup, URL: url}); err != nil {
		return nil, err
	}
	o.s.popup.Store(p)
	return p, nil
}
