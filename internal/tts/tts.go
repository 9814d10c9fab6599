// Package tts renders assistant replies as 48 kHz 16-bit mono PCM using a
// hosted voice vendor.
package tts

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// SampleRate of every stream produced by this package.
const SampleRate = 48000

var ErrNoKey = errors.New("tts: vendor credentials missing")

// Streamer produces PCM chunks for text. Both channels are closed when the
// stream ends; errCh carries at most one error.
type Streamer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// New returns the streamer for vendor, or nil for the browser voice and
// for a vendor without credentials.
func New(vendor, deepgramKey, deepgramModel, elevenKey, elevenVoice string, log zerolog.Logger) Streamer {
	switch strings.ToLower(vendor) {
	case "deepgram":
		if deepgramKey == "" {
			return nil
		}
		return NewDeepgram(deepgramKey, deepgramModel, log)
	case "elevenlabs":
		if elevenKey == "" || elevenVoice == "" {
			return nil
		}
		return NewElevenLabs(elevenKey, elevenVoice, log)
	}
	return nil
}

// Render streams text through s into sink until the stream ends, sink fails
// or ctx is cancelled.
func Render(ctx context.Context, s Streamer, text string, sink func([]byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pcmCh, errCh := s.StreamPCM48k(ctx, text)
	for pcmCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pcm, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			if err := sink(pcm); err != nil {
				return err
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}
