package oauth

import (
	"testing"
	"time"
)

func TestParseSuccessMessage(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"valid", `{"type":"AUTH_SUCCESS","accessToken":"a","refreshToken":"r","expiresIn":3600}`, true},
		{"no refresh token", `{"type":"AUTH_SUCCESS","accessToken":"a","expiresIn":3600}`, true},
		{"wrong type", `{"type":"AUTH_ERROR","accessToken":"a","expiresIn":3600}`, false},
		{"missing type", `{"accessToken":"a","expiresIn":3600}`, false},
		{"empty token", `{"type":"AUTH_SUCCESS","accessToken":"","expiresIn":3600}`, false},
		{"numeric token", `{"type":"AUTH_SUCCESS","accessToken":5,"expiresIn":3600}`, false},
		{"string expiry", `{"type":"AUTH_SUCCESS","accessToken":"a","expiresIn":"3600"}`, false},
		{"fractional expiry", `{"type":"AUTH_SUCCESS","accessToken":"a","expiresIn":1.5}`, false},
		{"zero expiry", `{"type":"AUTH_SUCCESS","accessToken":"a","expiresIn":0}`, false},
		{"not json", `AUTH_SUCCESS`, false},
		{"array", `[1,2]`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := ParseSuccessMessage([]byte(tc.payload))
			if ok != tc.ok {
				t.Fatalf("ParseSuccessMessage(%s) ok=%v want %v", tc.payload, ok, tc.ok)
			}
		})
	}
}

func TestSuccessMessage_Credential(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m, ok := ParseSuccessMessage([]byte(`{"type":"AUTH_SUCCESS","accessToken":"a","refreshToken":"r","expiresIn":3600}`))
	if !ok {
		t.Fatalf("expected valid message")
	}
	c := m.Credential(now)
	if c.AccessToken != "a" || c.RefreshToken != "r" || !c.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected credential %+v", c)
	}
	if !c.Usable(now) || c.Usable(now.Add(time.Hour)) {
		t.Fatalf("usable window wrong")
	}
}
