package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
)

// TwilioParamsKey is the context key holding the validated form parameters.
const TwilioParamsKey = "twilioParams"

// TwilioAuth validates Twilio webhook requests using the X-Twilio-Signature
// header. baseURL, when set, replaces the scheme and host seen by the server,
// which is needed behind proxies and tunnels.
func TwilioAuth(authToken, baseURL string) echo.MiddlewareFunc {
	validator := client.NewRequestValidator(authToken)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			req := c.Request()
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for key, values := range form {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			signature := req.Header.Get("X-Twilio-Signature")
			if signature == "" || !validator.Validate(PublicURL(req, baseURL), params, signature) {
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(TwilioParamsKey, params)
			return next(c)
		}
	}
}

// PublicURL rebuilds the absolute URL Twilio requested. Priority: baseURL,
// then X-Forwarded-* headers, then the Host header.
func PublicURL(r *http.Request, baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		proto := r.Header.Get("X-Forwarded-Proto")
		host := r.Header.Get("X-Forwarded-Host")
		if proto != "" && host != "" {
			base = proto + "://" + host
		}
	}
	if base == "" {
		proto := "https"
		if strings.HasPrefix(r.Host, "localhost") || strings.HasPrefix(r.Host, "127.0.0.1") {
			proto = "http"
		}
		base = proto + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}

// TwilioParams returns the parameters stored by TwilioAuth.
func TwilioParams(c echo.Context) map[string]string {
	params, _ := c.Get(TwilioParamsKey).(map[string]string)
	if params == nil {
		return map[string]string{}
	}
	return params
}
