package spotify

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
	"time"
)

// Action is a playback command.
type Action string

const (
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
)

func (a Action) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionNext, ActionPrevious:
		return true
	}
	return false
}

// ErrorKind classifies playback failures.
type ErrorKind string

const (
	KindUnauthorized  ErrorKind = "unauthorized"
	KindRejected      ErrorKind = "rejected"
	KindNotFound      ErrorKind = "not_found"
	KindInvalidAction ErrorKind = "invalid_action"
)

// PlaybackError is returned for every failed playback command.
type PlaybackError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("spotify: %s: %s", e.Kind, e.Message)
}

// Is matches any PlaybackError of the same kind.
func (e *PlaybackError) Is(target error) bool {
	t, ok := target.(*PlaybackError)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized = &PlaybackError{Kind: KindUnauthorized, Status: http.StatusUnauthorized,
		Message: "Spotify access token not provided. Please authenticate first."}
	ErrInvalidAction = &PlaybackError{Kind: KindInvalidAction, Status: http.StatusBadRequest, Message: "Invalid action"}
)

// Client issues bearer-authenticated playback commands.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = "https://api.spotify.com/v1"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

// Control runs action with token. A play with a non-empty query searches for
// a track first and plays the top hit; with no hit it resumes playback. An
// empty token fails with ErrUnauthorized before any request is made.
func (c *Client) Control(ctx context.Context, token string, action Action, query string) error {
	if token == "" {
		return ErrUnauthorized
	}
	if !action.Valid() {
		return ErrInvalidAction
	}

	method := http.MethodPut
	var body []byte
	endpoint := c.BaseURL + "/me/player/" + string(action)
	switch action {
	case ActionPlay:
		if q := strings.TrimSpace(query); q != "" {
			uri, err := c.searchTrack(ctx, token, q)
			if err != nil {
				return err
			}
			if uri != "" {
				body, _ = json.Marshal(map[string][]string{"uris": {uri}})
			}
		}
	case ActionNext, ActionPrevious:
		method = http.MethodPost
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("spotify: %s request: %w", action, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return apiError(resp)
}

func (c *Client) searchTrack(ctx context.Context, token, query string) (string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify: search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return "", apiError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		// A failed search falls back to resuming playback.
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", nil
	}
	var out struct {
		Tracks struct {
			Items []struct {
				URI string `json:"uri"`
			} `json:"items"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil
	}
	if len(out.Tracks.Items) == 0 {
		return "", nil
	}
	return out.Tracks.Items[0].URI, nil
}

func apiError(resp *http.Response) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(data, &e)
	msg := e.Error.Message
	if msg == "" {
		msg = "Spotify API error"
	}
	kind := KindRejected
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusNotFound:
		kind = KindNotFound
	}
	return &PlaybackError{Kind: kind, Status: resp.StatusCode, Message: msg}
}

// TokenSource yields the current bearer token, if any.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool, error)
}

// Playback runs commands with the stored credential.
type Playback struct {
	tokens TokenSource
	client *Client
}

func NewPlayback(tokens TokenSource, client *Client) *Playback {
	return &Playback{tokens: tokens, client: client}
}

// Control reads the stored credential and runs action. It returns a short
// success message. Without a usable credential it fails with ErrUnauthorized
// and no request is sent.
func (p *Playback) Control(ctx context.Context, action Action, query string) (string, error) {
	token, ok, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("spotify: read credential: %w", err)
	}
	if !ok {
		return "", ErrUnauthorized
	}
	return p.ControlWithToken(ctx, token, action, query)
}

// ControlWithToken runs action with an explicit token.
func (p *Playback) ControlWithToken(ctx context.Context, token string, action Action, query string) (string, error) {
	if err := p.client.Control(ctx, token, action, query); err != nil {
		return "", err
	}
	return "Successfully executed " + string(action), nil
}

// ErrorKindOf returns the kind of a playback error, or "" for other errors.
func ErrorKindOf(err error) ErrorKind {
	var pe *PlaybackError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
