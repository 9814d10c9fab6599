package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

const elevenLabsModel = "eleven_flash_v2_5"

// ElevenLabs streams pcm_48000 audio from the HTTP streaming endpoint.
type ElevenLabs struct {
	APIKey  string
	VoiceID string
	BaseURL string
	HTTP    *http.Client
	Log     zerolog.Logger
}

func NewElevenLabs(apiKey, voiceID string, log zerolog.Logger) *ElevenLabs {
	return &ElevenLabs{
		APIKey:  apiKey,
		VoiceID: voiceID,
		BaseURL: "https://api.elevenlabs.io",
		HTTP:    &http.Client{},
		Log:     log,
	}
}

func (e *ElevenLabs) Available() bool { return e.APIKey != "" && e.VoiceID != "" }

func (e *ElevenLabs) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if !e.Available() {
			errCh <- ErrNoKey
			return
		}
		if err := e.stream(ctx, text, pcmCh); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabs) stream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	u, err := url.Parse(strings.TrimRight(e.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(e.VoiceID) + "/stream")
	if err != nil {
		return fmt.Errorf("elevenlabs: base url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", elevenLabsModel)
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body, _ := json.Marshal(map[string]any{
		"model_id": elevenLabsModel,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{80, 120, 160, 200},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	first := true
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if first {
				e.Log.Debug().Int("bytes", n).Msg("elevenlabs first audio chunk")
				first = false
			}
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("elevenlabs: read stream: %w", rerr)
		}
	}
}
