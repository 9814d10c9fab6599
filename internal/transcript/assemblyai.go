// Package transcript turns streamed 16 kHz PCM into single utterances using
// the AssemblyAI realtime API.
package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// SilenceThreshold is the inactivity window after the last transcript
	// update before the utterance is considered complete.
	SilenceThreshold = 700 * time.Millisecond
	// ContinuationExtension is added when the last word implies continuation.
	ContinuationExtension = 1200 * time.Millisecond
	// NoSpeechTimeout ends an episode in which no words were recognized.
	NoSpeechTimeout = 8 * time.Second

	defaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"
)

var ErrNoKey = errors.New("transcript: AssemblyAI API key is empty")

type beginMessage struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

type terminationMessage struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// AssemblyAI is a speech.Recognizer fed with PCM frames from elsewhere,
// typically a websocket session relaying browser microphone audio.
type AssemblyAI struct {
	apiKey   string
	endpoint string
	dialer   websocket.Dialer
	log      zerolog.Logger

	silence  time.Duration
	noSpeech time.Duration

	frames chan []byte

	mu        sync.Mutex
	lastVoice time.Time
}

type Option func(*AssemblyAI)

// WithEndpoint overrides the streaming URL.
func WithEndpoint(u string) Option { return func(s *AssemblyAI) { s.endpoint = u } }

func WithLogger(l zerolog.Logger) Option { return func(s *AssemblyAI) { s.log = l } }

// WithTimings overrides the silence and no-speech windows.
func WithTimings(silence, noSpeech time.Duration) Option {
	return func(s *AssemblyAI) {
		if silence > 0 {
			s.silence = silence
		}
		if noSpeech > 0 {
			s.noSpeech = noSpeech
		}
	}
}

func NewAssemblyAI(apiKey string, opts ...Option) *AssemblyAI {
	s := &AssemblyAI{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      zerolog.Nop(),
		silence:  SilenceThreshold,
		noSpeech: NoSpeechTimeout,
		frames:   make(chan []byte, 1000),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether an API key is configured.
func (s *AssemblyAI) Available() bool { return s.apiKey != "" }

// Feed queues 16-bit little-endian mono PCM at 16 kHz. Frames are dropped
// when the buffer is full.
func (s *AssemblyAI) Feed(pcm []byte) {
	s.detectVoiceActivity(pcm)
	select {
	case s.frames <- pcm:
	default:
		s.log.Debug().Msg("audio buffer full, dropping frame")
	}
}

// Recognize streams fed audio until a turn completes, silence follows the
// last update, or ctx is cancelled. It returns an empty transcript when
// nothing was said.
func (s *AssemblyAI) Recognize(ctx context.Context) (string, error) {
	if s.apiKey == "" {
		return "", ErrNoKey
	}
	s.drain()

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")
	header := http.Header{"Authorization": {s.apiKey}}

	conn, resp, err := s.dialer.DialContext(ctx, s.endpoint+"?"+params.Encode(), header)
	if err != nil {
		if resp != nil {
			s.log.Warn().Int("status", resp.StatusCode).Msg("AssemblyAI handshake rejected")
		}
		return "", fmt.Errorf("transcript: connect: %w", err)
	}

	var wmu sync.Mutex
	write := func(mt int, data []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteMessage(mt, data)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(done, write)
	}()

	turns := make(chan turnMessage, 16)
	readErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		readErr <- s.read(conn, turns, done)
	}()

	text, err := s.collect(ctx, turns, readErr)

	close(done)
	_ = write(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
	_ = conn.Close()
	wg.Wait()
	return text, err
}

func (s *AssemblyAI) collect(ctx context.Context, turns <-chan turnMessage, readErr <-chan error) (string, error) {
	var (
		latest  string
		updated time.Time
	)
	timer := time.NewTimer(s.noSpeech)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return latest, ctx.Err()
		case err := <-readErr:
			if latest != "" {
				return latest, nil
			}
			return "", err
		case t := <-turns:
			text := strings.TrimSpace(t.Transcript)
			if text == "" {
				continue
			}
			latest, updated = text, time.Now()
			if t.EndOfTurn && !isContinuationLikely(text) {
				return latest, nil
			}
			resetTimer(timer, s.threshold(latest))
		case <-timer.C:
			if latest == "" {
				return "", nil
			}
			threshold := s.threshold(latest)
			wait := threshold - time.Since(updated)
			if rem := threshold - s.sinceVoice(); rem > wait {
				wait = rem
			}
			if wait > 10*time.Millisecond {
				timer.Reset(wait)
				continue
			}
			return latest, nil
		}
	}
}

func (s *AssemblyAI) threshold(text string) time.Duration {
	if isContinuationLikely(text) {
		return s.silence + ContinuationExtension
	}
	return s.silence
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (s *AssemblyAI) pump(done <-chan struct{}, write func(int, []byte) error) {
	for {
		select {
		case <-done:
			return
		case pcm := <-s.frames:
			if err := write(websocket.BinaryMessage, pcm); err != nil {
				s.log.Debug().Err(err).Msg("send audio")
				return
			}
		}
	}
}

func (s *AssemblyAI) read(conn *websocket.Conn, turns chan<- turnMessage, done <-chan struct{}) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &base); err != nil {
			s.log.Debug().Err(err).Msg("undecodable message")
			continue
		}
		switch base.Type {
		case "Begin":
			var m beginMessage
			_ = json.Unmarshal(data, &m)
			s.log.Debug().Str("id", m.ID).Time("expires_at", time.Unix(m.ExpiresAt, 0)).Msg("AssemblyAI session began")
		case "Turn":
			var m turnMessage
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			select {
			case turns <- m:
			case <-done:
				return nil
			}
		case "Termination":
			var m terminationMessage
			_ = json.Unmarshal(data, &m)
			s.log.Debug().Float64("audio_seconds", m.AudioDurationSeconds).Float64("session_seconds", m.SessionDurationSeconds).Msg("AssemblyAI session terminated")
		case "Error":
			var m errorMessage
			_ = json.Unmarshal(data, &m)
			return fmt.Errorf("transcript: AssemblyAI error: %s", m.Error)
		default:
			s.log.Debug().Str("type", base.Type).Msg("unknown message type")
		}
	}
}

func (s *AssemblyAI) drain() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

func (s *AssemblyAI) sinceVoice() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastVoice.IsZero() {
		return math.MaxInt64
	}
	return time.Since(s.lastVoice)
}

// RecentlyDetectedVoice reports whether voice energy was seen within window.
func (s *AssemblyAI) RecentlyDetectedVoice(window time.Duration) bool {
	return s.sinceVoice() <= window
}

// detectVoiceActivity records the time of any frame whose RMS suggests voice.
func (s *AssemblyAI) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	const voiceRMS = 250.0
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		s.mu.Lock()
		s.lastVoice = time.Now()
		s.mu.Unlock()
	}
}

func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
