package oauth

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageTypeSuccess tags the message the callback page posts to its opener.
const MessageTypeSuccess = "AUTH_SUCCESS"

// SuccessMessage is the cross-context payload carrying the exchanged tokens.
type SuccessMessage struct {
	Type         string `json:"type"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type wireSuccess struct {
	Type         *string `json:"type"`
	AccessToken  *string `json:"accessToken"`
	RefreshToken *string `json:"refreshToken"`
	ExpiresIn    *int64  `json:"expiresIn"`
}

// ParseSuccessMessage validates payload against the success shape. Any other
// shape, including wrong field types, yields ok == false.
func ParseSuccessMessage(payload []byte) (SuccessMessage, bool) {
	var w wireSuccess
	if err := json.Unmarshal(payload, &w); err != nil {
		return SuccessMessage{}, false
	}
	if w.Type == nil || *w.Type != MessageTypeSuccess {
		return SuccessMessage{}, false
	}
	if w.AccessToken == nil || strings.TrimSpace(*w.AccessToken) == "" {
		return SuccessMessage{}, false
	}
	if w.ExpiresIn == nil || *w.ExpiresIn <= 0 {
		return SuccessMessage{}, false
	}
	m := SuccessMessage{Type: *w.Type, AccessToken: *w.AccessToken, ExpiresIn: *w.ExpiresIn}
	if w.RefreshToken != nil {
		m.RefreshToken = *w.RefreshToken
	}
	return m, true
}

// Credential converts the message into a credential issued at now.
func (m SuccessMessage) Credential(now time.Time) Credential {
	return Credential{
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(m.ExpiresIn) * time.Second),
	}
}
