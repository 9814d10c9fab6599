package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/notify"
)

// State is the phase of the authorization flow.
type State string

const (
	StateIdle       State = "idle"
	StateExchanging State = "exchanging"
	StatePopupOpen  State = "popupOpen"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

var (
	ErrBusy        = errors.New("oauth: authorization already in progress")
	ErrCancelled   = errors.New("oauth: authorization window was closed")
	ErrURLProvider = errors.New("oauth: could not get authorization url")
	ErrPopup       = errors.New("oauth: could not open authorization window")
	ErrStore       = errors.New("oauth: could not save credential")
)

// URLProvider returns the provider authorization URL to open.
type URLProvider interface {
	AuthorizationURL(ctx context.Context) (string, error)
}

// Popup is a handle on an opened child browsing context.
type Popup interface {
	Closed() bool
	Close()
}

// PopupOpener opens url in a child browsing context owned by the user.
type PopupOpener interface {
	Open(ctx context.Context, url string) (Popup, error)
}

// Result resolves one Begin call.
type Result struct {
	Credential Credential
	Err        error
}

type authSession struct {
	id     uint64
	popup  Popup
	result chan Result
	stop   context.CancelFunc
}

// Flow drives one authorization-code session at a time: it fetches the
// authorization URL, opens the popup, watches for the popup closing and
// accepts the success message posted back by the callback page.
type Flow struct {
	mu    sync.Mutex
	state State
	sess  *authSession
	seq   uint64

	urls     URLProvider
	opener   PopupOpener
	store    *TokenStore
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	inbox   chan []byte
	changes *notify.Queue[State]
}

type FlowOption func(*Flow)

// WithPollInterval sets how often the popup is checked for closure.
func WithPollInterval(d time.Duration) FlowOption {
	return func(f *Flow) {
		if d > 0 {
			f.interval = d
		}
	}
}

func WithFlowClock(now func() time.Time) FlowOption {
	return func(f *Flow) { f.now = now }
}

func WithFlowLogger(l zerolog.Logger) FlowOption {
	return func(f *Flow) { f.log = l }
}

func NewFlow(urls URLProvider, opener PopupOpener, store *TokenStore, opts ...FlowOption) *Flow {
	f := &Flow{
		state:    StateIdle,
		urls:     urls,
		opener:   opener,
		store:    store,
		interval: time.Second,
		now:      time.Now,
		log:      zerolog.Nop(),
		inbox:    make(chan []byte, 16),
		changes:  notify.NewQueue[State](),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// State returns the current phase.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe registers fn to receive every state transition in order.
func (f *Flow) Subscribe(fn func(State)) {
	f.changes.Subscribe(fn)
}

// setState must be called with f.mu held.
func (f *Flow) setState(s State) {
	if f.state == s {
		return
	}
	f.log.Debug().Str("from", string(f.state)).Str("to", string(s)).Msg("authorization state")
	f.state = s
	f.changes.Publish(s)
}

// Begin starts an authorization session. It returns ErrBusy, with no side
// effects, while another session is active. Every other outcome, including
// failures to obtain the URL or open the popup, is delivered on the returned
// channel, which receives exactly one Result and is then closed.
func (f *Flow) Begin(ctx context.Context) (<-chan Result, error) {
	f.mu.Lock()
	if f.sess != nil {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	f.seq++
	s := &authSession{id: f.seq, result: make(chan Result, 1)}
	f.sess = s
	f.setState(StateExchanging)
	f.mu.Unlock()

	url, err := f.urls.AuthorizationURL(ctx)
	if err != nil {
		f.fail(s, fmt.Errorf("%w: %v", ErrURLProvider, err))
		return s.result, nil
	}
	popup, err := f.opener.Open(ctx, url)
	if err != nil {
		f.fail(s, fmt.Errorf("%w: %v", ErrPopup, err))
		return s.result, nil
	}

	f.mu.Lock()
	if f.sess != s {
		// Cancelled while the popup was being opened.
		f.mu.Unlock()
		popup.Close()
		return s.result, nil
	}
	pollCtx, stop := context.WithCancel(context.Background())
	s.popup = popup
	s.stop = stop
	f.setState(StatePopupOpen)
	f.mu.Unlock()

	go f.watchPopup(pollCtx, s)
	return s.result, nil
}

func (f *Flow) watchPopup(ctx context.Context, s *authSession) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.popup.Closed() {
				f.log.Info().Uint64("session", s.id).Msg("authorization window closed by user")
				f.resolve(s, Result{Err: ErrCancelled}, StateIdle)
				return
			}
		}
	}
}

// Cancel resolves the active session, if any, as cancelled and closes its popup.
func (f *Flow) Cancel() {
	f.mu.Lock()
	s := f.sess
	f.mu.Unlock()
	if s == nil {
		return
	}
	if f.resolve(s, Result{Err: ErrCancelled}, StateIdle) && s.popup != nil {
		s.popup.Close()
	}
}

func (f *Flow) fail(s *authSession, err error) {
	f.log.Warn().Err(err).Uint64("session", s.id).Msg("authorization failed")
	f.resolve(s, Result{Err: err}, StateFailed)
}

// resolve ends s once. A failed session passes through StateFailed and comes
// to rest in StateIdle.
func (f *Flow) resolve(s *authSession, res Result, final State) bool {
	f.mu.Lock()
	ok := f.endLocked(s, final)
	f.mu.Unlock()
	if ok {
		s.result <- res
		close(s.result)
	}
	return ok
}

func (f *Flow) endLocked(s *authSession, final State) bool {
	if f.sess != s {
		return false
	}
	f.sess = nil
	if s.stop != nil {
		s.stop()
	}
	f.setState(final)
	if final == StateFailed {
		f.setState(StateIdle)
	}
	return true
}

// Deliver handles one cross-context message synchronously and reports whether
// it was accepted. Only a well-formed success message arriving while the popup
// is open is accepted; everything else is ignored.
func (f *Flow) Deliver(ctx context.Context, payload []byte) bool {
	msg, ok := ParseSuccessMessage(payload)
	if !ok {
		return false
	}

	f.mu.Lock()
	s := f.sess
	if s == nil || f.state != StatePopupOpen {
		f.mu.Unlock()
		f.log.Debug().Msg("ignoring authorization message outside an open session")
		return false
	}
	cred := msg.Credential(f.now())
	if err := f.store.Put(ctx, cred); err != nil {
		f.endLocked(s, StateFailed)
		f.mu.Unlock()
		err = fmt.Errorf("%w: %v", ErrStore, err)
		f.log.Warn().Err(err).Uint64("session", s.id).Msg("authorization failed")
		s.result <- Result{Err: err}
		close(s.result)
		return false
	}
	f.endLocked(s, StateSucceeded)
	f.mu.Unlock()

	f.log.Info().Uint64("session", s.id).Time("expires_at", cred.ExpiresAt).Msg("authorization succeeded")
	s.result <- Result{Credential: cred}
	close(s.result)
	return true
}

// Post queues a message for Run. It reports false when the inbox is full.
func (f *Flow) Post(payload []byte) bool {
	select {
	case f.inbox <- append([]byte(nil), payload...):
		return true
	default:
		f.log.Warn().Msg("authorization inbox full, message dropped")
		return false
	}
}

// Run consumes posted messages until ctx is done.
func (f *Flow) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-f.inbox:
			f.Deliver(ctx, p)
		}
	}
}

// Close cancels any active session and stops state notifications.
func (f *Flow) Close() {
	f.Cancel()
	f.changes.Close()
}
