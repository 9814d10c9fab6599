package tts

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog"
)

const (
	// deepgramIdle ends a stream once audio has stopped arriving for this long.
	deepgramIdle     = 400 * time.Millisecond
	deepgramDeadline = 12 * time.Second
)

// Deepgram streams linear16 audio from the Deepgram speak websocket.
type Deepgram struct {
	apiKey string
	model  string
	log    zerolog.Logger
}

func NewDeepgram(apiKey, model string, log zerolog.Logger) *Deepgram {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &Deepgram{apiKey: apiKey, model: model, log: log}
}

func (d *Deepgram) Available() bool { return d.apiKey != "" }

func (d *Deepgram) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- ErrNoKey
			return
		}
		if text == "" {
			return
		}

		var lastRecv atomic.Int64
		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			lastRecv.Store(time.Now().UnixNano())
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			default:
			}
			return nil
		}}

		options := &clientinterfaces.WSSpeakOptions{Model: d.model, Encoding: "linear16", SampleRate: SampleRate}
		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}
		var stopOnce atomic.Bool
		stop := func() {
			if stopOnce.CompareAndSwap(false, true) {
				dg.Stop()
			}
		}
		defer stop()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			d.log.Warn().Err(err).Msg("deepgram flush")
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(deepgramDeadline)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if last := lastRecv.Load(); last != 0 && time.Since(time.Unix(0, last)) > deepgramIdle {
					return
				}
				if time.Now().After(deadline) {
					d.log.Warn().Msg("deepgram stream hit deadline")
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
