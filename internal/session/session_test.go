package session

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/conversation"
	"github.com/chadiek/jarvis/internal/infra/storage"
	"github.com/chadiek/jarvis/internal/oauth"
	"github.com/chadiek/jarvis/internal/spotify"
)

type frame struct {
	Type     string                `json:"type"`
	ID       uint64                `json:"id"`
	Stream   bool                  `json:"stream"`
	Text     string                `json:"text"`
	Rate     float64               `json:"rate"`
	Audio    bool                  `json:"audio"`
	URL      string                `json:"url"`
	State    string                `json:"state"`
	OK       bool                  `json:"ok"`
	Message  string                `json:"message"`
	Error    string                `json:"error"`
	Code     string                `json:"code"`
	Snapshot conversation.Snapshot `json:"snapshot"`
}

type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	binary int
}

func (c *testClient) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect reads frames until one of type typ satisfies match.
func (c *testClient) expect(typ string, match func(frame) bool) frame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = c.conn.SetReadDeadline(deadline)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if mt == websocket.BinaryMessage {
			c.binary += len(data)
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.t.Fatalf("decode %s: %v", data, err)
		}
		if f.Type == typ && (match == nil || match(f)) {
			return f
		}
	}
}

// idleWith matches an idle snapshot holding n messages.
func idleWith(n int) func(frame) bool {
	return func(f frame) bool {
		return f.Snapshot.Mode == conversation.ModeIdle && len(f.Snapshot.Messages) == n
	}
}

type fakeURLs struct{ url string }

func (f fakeURLs) AuthorizationURL(context.Context) (string, error) { return f.url, nil }

type echoResponder struct{}

func (echoResponder) Respond(text string) string { return "You said " + text }

func baseConfig(store *oauth.TokenStore) Config {
	return Config{
		URLs:         fakeURLs{url: "https://accounts.example.test/authorize?state=x"},
		Store:        store,
		Playback:     spotify.NewPlayback(store, spotify.NewClient("http://127.0.0.1:1", nil)),
		Log:          zerolog.Nop(),
		NewResponder: func() conversation.Responder { return echoResponder{} },
		PollInterval: 10 * time.Millisecond,
	}
}

func dial(t *testing.T, cfg Config, hello map[string]any) *testClient {
	t.Helper()
	e := echo.New()
	e.GET("/session", NewHandler(cfg).Serve)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/session", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	c := &testClient{t: t, conn: conn}
	if hello != nil {
		c.send(hello)
	}
	return c
}

func TestSession_TextTurnWithBrowserVoice(t *testing.T) {
	cfg := baseConfig(oauth.NewTokenStore(storage.NewMemory()))
	cfg.Greeting = "Good evening."
	c := dial(t, cfg, map[string]any{"type": "hello", "synthesis": true})

	initial := c.expect(outState, nil)
	if initial.Snapshot.Mode != conversation.ModeIdle || len(initial.Snapshot.Messages) != 1 {
		t.Fatalf("unexpected initial snapshot %+v", initial.Snapshot)
	}
	if initial.Snapshot.InputAvailable || !initial.Snapshot.OutputAvailable {
		t.Fatalf("unexpected availability %+v", initial.Snapshot)
	}

	c.send(map[string]any{"type": "submit", "text": "Hello"})
	speak := c.expect(outSpeak, nil)
	if speak.Text != "You said Hello" || speak.Audio || speak.Rate != 0.9 {
		t.Fatalf("unexpected speak frame %+v", speak)
	}

	c.send(map[string]any{"type": "speech_end", "id": speak.ID})
	done := c.expect(outState, idleWith(3))
	msgs := done.Snapshot.Messages
	if len(msgs) != 3 || msgs[1].Sender != conversation.SenderUser || msgs[2].Sender != conversation.SenderAssistant {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestSession_BrowserCapture(t *testing.T) {
	c := dial(t, baseConfig(oauth.NewTokenStore(storage.NewMemory())), map[string]any{"type": "hello", "capture": true})
	c.expect(outState, nil)

	c.send(map[string]any{"type": "listen_start"})
	start := c.expect(outCaptureStart, nil)
	if start.Stream {
		t.Fatalf("browser capture must not request streaming")
	}
	c.send(map[string]any{"type": "capture_result", "id": start.ID, "text": "what time is it"})
	got := c.expect(outState, func(f frame) bool { return f.Snapshot.PendingInput != "" })
	if got.Snapshot.Mode != conversation.ModeIdle {
		t.Fatalf("expected idle after capture, got %s", got.Snapshot.Mode)
	}
	if got.Snapshot.PendingInput != "what time is it" {
		t.Fatalf("expected pending input, got %+v", got.Snapshot)
	}
}

func TestSession_BrowserCaptureError(t *testing.T) {
	c := dial(t, baseConfig(oauth.NewTokenStore(storage.NewMemory())), map[string]any{"type": "hello", "capture": true})
	c.expect(outState, nil)

	c.send(map[string]any{"type": "listen_start"})
	start := c.expect(outCaptureStart, nil)
	c.send(map[string]any{"type": "capture_error", "id": start.ID, "error": "network"})
	got := c.expect(outState, func(f frame) bool { return f.Snapshot.Notice != "" })
	if got.Snapshot.Mode != conversation.ModeIdle {
		t.Fatalf("expected idle after capture failure, got %s", got.Snapshot.Mode)
	}
}

type fakeStream struct {
	mu  sync.Mutex
	fed int
	got chan struct{}
}

func (f *fakeStream) Feed(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fed += len(pcm)
	if f.fed > 0 {
		select {
		case f.got <- struct{}{}:
		default:
		}
	}
}

func (f *fakeStream) Recognize(ctx context.Context) (string, error) {
	select {
	case <-f.got:
		return "play some jazz", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSession_StreamingCapture(t *testing.T) {
	cfg := baseConfig(oauth.NewTokenStore(storage.NewMemory()))
	stream := &fakeStream{got: make(chan struct{}, 1)}
	cfg.NewRecognizer = func() StreamRecognizer { return stream }
	c := dial(t, cfg, map[string]any{"type": "hello"})
	c.expect(outState, nil)

	c.send(map[string]any{"type": "listen_start"})
	start := c.expect(outCaptureStart, nil)
	if !start.Stream {
		t.Fatalf("expected streaming capture")
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	c.expect(outCaptureStop, nil)
	got := c.expect(outState, func(f frame) bool { return f.Snapshot.PendingInput != "" })
	if got.Snapshot.PendingInput != "play some jazz" || got.Snapshot.Mode != conversation.ModeIdle {
		t.Fatalf("unexpected snapshot %+v", got.Snapshot)
	}
}

type pcmStreamer struct{ size int }

func (p pcmStreamer) StreamPCM48k(ctx context.Context, _ string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 1)
	errs := make(chan error)
	pcm <- make([]byte, p.size)
	close(pcm)
	close(errs)
	return pcm, errs
}

func TestSession_ServerVoiceStreamsAudio(t *testing.T) {
	cfg := baseConfig(oauth.NewTokenStore(storage.NewMemory()))
	cfg.Voice = pcmStreamer{size: frameBytes*2 + 10}
	c := dial(t, cfg, map[string]any{"type": "hello"})
	c.expect(outState, nil)

	c.send(map[string]any{"type": "submit", "text": "hi"})
	speak := c.expect(outSpeak, nil)
	if !speak.Audio {
		t.Fatalf("expected server audio")
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.binary < frameBytes*3 && time.Now().Before(deadline) {
		_ = c.conn.SetReadDeadline(deadline)
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			t.Fatalf("read audio: %v", err)
		}
		if mt == websocket.BinaryMessage {
			c.binary += len(data)
		}
	}
	if c.binary != frameBytes*3 {
		t.Fatalf("expected three padded frames, got %d bytes", c.binary)
	}
	c.send(map[string]any{"type": "speech_end", "id": speak.ID})
	c.expect(outState, idleWith(2))
}

func TestSession_AuthorizationSuccess(t *testing.T) {
	store := oauth.NewTokenStore(storage.NewMemory())
	c := dial(t, baseConfig(store), map[string]any{"type": "hello"})
	c.expect(outAuthState, func(f frame) bool { return f.State == string(oauth.StateIdle) })

	c.send(map[string]any{"type": "auth_begin"})
	popup := c.expect(outOpenPopup, nil)
	if !strings.HasPrefix(popup.URL, "https://accounts.example.test/authorize") {
		t.Fatalf("unexpected popup url %q", popup.URL)
	}
	c.expect(outAuthState, func(f frame) bool { return f.State == string(oauth.StatePopupOpen) })

	c.send(map[string]any{"type": "auth_begin"})
	busy := c.expect(outAuthResult, nil)
	if busy.OK || busy.Error == "" {
		t.Fatalf("second begin should be rejected, got %+v", busy)
	}

	c.send(map[string]any{"type": "auth_message", "payload": map[string]any{
		"type": "AUTH_SUCCESS", "accessToken": "acc", "refreshToken": "ref", "expiresIn": 3600,
	}})
	res := c.expect(outAuthResult, func(f frame) bool { return f.OK })
	if res.Error != "" {
		t.Fatalf("unexpected auth result %+v", res)
	}
	token, ok, err := store.AccessToken(context.Background())
	if err != nil || !ok || token != "acc" {
		t.Fatalf("expected stored token, got %q ok=%v err=%v", token, ok, err)
	}
}

func TestSession_AuthorizationPopupClosed(t *testing.T) {
	store := oauth.NewTokenStore(storage.NewMemory())
	c := dial(t, baseConfig(store), map[string]any{"type": "hello"})
	c.expect(outState, nil)

	c.send(map[string]any{"type": "auth_begin"})
	c.expect(outOpenPopup, nil)
	c.send(map[string]any{"type": "popup_closed"})
	res := c.expect(outAuthResult, nil)
	if res.OK || !strings.Contains(res.Error, "closed") {
		t.Fatalf("expected cancellation, got %+v", res)
	}
	if _, ok, _ := store.Get(context.Background()); ok {
		t.Fatalf("store must stay empty")
	}
}

func TestSession_PlaybackWithoutCredential(t *testing.T) {
	c := dial(t, baseConfig(oauth.NewTokenStore(storage.NewMemory())), map[string]any{"type": "hello"})
	c.expect(outState, nil)

	c.send(map[string]any{"type": "playback", "action": "play", "query": "blue"})
	res := c.expect(outPlaybackResult, nil)
	if res.OK || res.Code != string(spotify.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %+v", res)
	}
}

func TestSession_RequiresHello(t *testing.T) {
	c := dial(t, baseConfig(oauth.NewTokenStore(storage.NewMemory())), map[string]any{"type": "submit", "text": "hi"})
	f := c.expect(outError, nil)
	if !strings.Contains(f.Error, "hello") {
		t.Fatalf("unexpected error frame %+v", f)
	}
}

func TestReplies_CloseReleasesWaiters(t *testing.T) {
	r := newReplies()
	ch, ok := r.add(1)
	if !ok {
		t.Fatalf("add should succeed")
	}
	r.close()
	if rep := <-ch; rep.err != errClosed {
		t.Fatalf("expected errClosed, got %v", rep.err)
	}
	if _, ok := r.add(2); ok {
		t.Fatalf("add after close must fail")
	}
	if r.resolve(3, reply{}) {
		t.Fatalf("unknown id must be ignored")
	}
}
