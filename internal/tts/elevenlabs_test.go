package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestElevenLabs_StreamsBody(t *testing.T) {
	audio := bytes.Repeat([]byte{1, 2}, 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != "pcm_48000" {
			t.Errorf("unexpected output format %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "Hello there" {
			t.Errorf("unexpected text %v", body["text"])
		}
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	e := NewElevenLabs("key", "voice-1", zerolog.Nop())
	e.BaseURL = srv.URL
	e.HTTP = srv.Client()

	var got bytes.Buffer
	err := Render(context.Background(), e, "Hello there", func(pcm []byte) error {
		got.Write(pcm)
		return nil
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(got.Bytes(), audio) {
		t.Fatalf("expected %d bytes, got %d", len(audio), got.Len())
	}
}

func TestElevenLabs_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid key"}`))
	}))
	defer srv.Close()

	e := NewElevenLabs("key", "voice-1", zerolog.Nop())
	e.BaseURL = srv.URL
	e.HTTP = srv.Client()

	err := Render(context.Background(), e, "hi", func([]byte) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestElevenLabs_MissingCredentials(t *testing.T) {
	e := NewElevenLabs("key", "", zerolog.Nop())
	if e.Available() {
		t.Fatalf("expected unavailable without voice id")
	}
	err := Render(context.Background(), e, "hi", func([]byte) error { return nil })
	if !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

type chunkStreamer struct{ chunks [][]byte }

func (c chunkStreamer) StreamPCM48k(ctx context.Context, _ string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, len(c.chunks))
	errs := make(chan error)
	for _, ch := range c.chunks {
		pcm <- ch
	}
	close(pcm)
	close(errs)
	return pcm, errs
}

func TestRender_SinkErrorStops(t *testing.T) {
	boom := errors.New("socket closed")
	calls := 0
	err := Render(context.Background(), chunkStreamer{chunks: [][]byte{{1}, {2}, {3}}}, "x", func([]byte) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected first sink error to stop rendering, err=%v calls=%d", err, calls)
	}
}
