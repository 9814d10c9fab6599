package oauth

import (
	"encoding/json"
	"errors"
	"time"
)

// Credential is a bearer token for the playback service.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Usable reports whether the credential can be presented at now.
func (c Credential) Usable(now time.Time) bool {
	return c.AccessToken != "" && now.Before(c.ExpiresAt)
}

// record is the persisted form; expiresAt is epoch milliseconds.
type record struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"`
}

var errBadRecord = errors.New("oauth: malformed credential record")

func encodeCredential(c Credential) ([]byte, error) {
	return json.Marshal(record{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt.UnixMilli(),
	})
}

func decodeCredential(data []byte) (Credential, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Credential{}, errBadRecord
	}
	if r.AccessToken == "" || r.ExpiresAt <= 0 {
		return Credential{}, errBadRecord
	}
	return Credential{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.UnixMilli(r.ExpiresAt),
	}, nil
}
