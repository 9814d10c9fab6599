package spotify

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes requested from the account owner.
var Scopes = []string{
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
}

const stateIssuer = "jarvis"

var (
	ErrNotConfigured = errors.New("spotify: client credentials not configured")
	ErrInvalidState  = errors.New("spotify: invalid or expired state")
)

// Config holds the confidential client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AccountsURL  string
	// StateSecret signs the state parameter. A random secret is used when empty.
	StateSecret string
	StateTTL    time.Duration
	// MessageOrigin is the target origin of the success message posted to the opener.
	MessageOrigin string
}

// Authorizer builds authorization URLs and exchanges codes for tokens.
type Authorizer struct {
	cfg    Config
	secret []byte
	http   *http.Client
	now    func() time.Time
}

func NewAuthorizer(cfg Config, hc *http.Client) *Authorizer {
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = "https://accounts.spotify.com"
	}
	cfg.AccountsURL = strings.TrimRight(cfg.AccountsURL, "/")
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.MessageOrigin == "" {
		cfg.MessageOrigin = "*"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	secret := []byte(cfg.StateSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	return &Authorizer{cfg: cfg, secret: secret, http: hc, now: time.Now}
}

// Configured reports whether the client id and secret are both set.
func (a *Authorizer) Configured() bool {
	return a.cfg.ClientID != "" && a.cfg.ClientSecret != ""
}

// AuthorizationURL returns the consent URL carrying a freshly signed state.
func (a *Authorizer) AuthorizationURL(context.Context) (string, error) {
	if a.cfg.ClientID == "" {
		return "", ErrNotConfigured
	}
	state, err := a.signState()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(a.cfg.AccountsURL + "/authorize")
	if err != nil {
		return "", fmt.Errorf("spotify: accounts url: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("scope", strings.Join(Scopes, " "))
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Authorizer) signState() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.StateTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// VerifyState checks a state value produced by AuthorizationURL.
func (a *Authorizer) VerifyState(state string) error {
	if state == "" {
		return ErrInvalidState
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	_, err := parser.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return ErrInvalidState
	}
	return nil
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// ExchangeError is a non-success answer from the token endpoint.
type ExchangeError struct {
	Status      int
	Code        string
	Description string
}

func (e *ExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("spotify: token exchange failed (%d): %s", e.Status, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("spotify: token exchange failed (%d): %s", e.Status, e.Code)
	}
	return fmt.Sprintf("spotify: token exchange failed (%d)", e.Status)
}

// Exchange trades an authorization code for tokens using the client secret.
func (a *Authorizer) Exchange(ctx context.Context, code string) (TokenResponse, error) {
	if !a.Configured() {
		return TokenResponse{}, ErrNotConfigured
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.AccountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)

	resp, err := a.http.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("spotify: token request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &e)
		return TokenResponse{}, &ExchangeError{Status: resp.StatusCode, Code: e.Error, Description: e.ErrorDescription}
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenResponse{}, fmt.Errorf("spotify: decode token response: %w", err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return TokenResponse{}, errors.New("spotify: token response missing access_token or expires_in")
	}
	return tr, nil
}
