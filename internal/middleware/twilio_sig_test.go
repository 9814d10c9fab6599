package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func run(t *testing.T, token, base, signature string, form url.Values) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	e := echo.New()
	var got map[string]string
	e.POST("/twilio/voice", func(c echo.Context) error {
		got = TwilioParams(c)
		return c.String(http.StatusOK, "ok")
	}, TwilioAuth(token, base))

	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, got
}

func TestTwilioAuth_ValidSignature(t *testing.T) {
	form := url.Values{"CallSid": {"CA123"}, "From": {"+15550001111"}}
	sig := sign("secret", "https://jarvis.example.test/twilio/voice", form)

	rec, params := run(t, "secret", "https://jarvis.example.test", sig, form)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if params["CallSid"] != "CA123" || params["From"] != "+15550001111" {
		t.Fatalf("unexpected params %v", params)
	}
}

func TestTwilioAuth_Rejects(t *testing.T) {
	form := url.Values{"CallSid": {"CA123"}}
	good := sign("secret", "https://jarvis.example.test/twilio/voice", form)

	if rec, _ := run(t, "secret", "https://jarvis.example.test", "", form); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: expected 401, got %d", rec.Code)
	}
	if rec, _ := run(t, "other", "https://jarvis.example.test", good, form); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", rec.Code)
	}
	tampered := url.Values{"CallSid": {"CA999"}}
	if rec, _ := run(t, "secret", "https://jarvis.example.test", good, tampered); rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered form: expected 401, got %d", rec.Code)
	}
	if rec, _ := run(t, "", "", good, form); rec.Code != http.StatusInternalServerError {
		t.Fatalf("missing token: expected 500, got %d", rec.Code)
	}
}

func TestPublicURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/twilio/said?utterance=3", nil)
	r.Host = "localhost:8080"
	if got := PublicURL(r, ""); got != "http://localhost:8080/twilio/said?utterance=3" {
		t.Fatalf("unexpected local url %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "abc.ngrok.app")
	if got := PublicURL(r, ""); got != "https://abc.ngrok.app/twilio/said?utterance=3" {
		t.Fatalf("unexpected forwarded url %q", got)
	}
	if got := PublicURL(r, "https://jarvis.example.test/"); got != "https://jarvis.example.test/twilio/said?utterance=3" {
		t.Fatalf("unexpected base url %q", got)
	}
}
