package spotify

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/oauth"
)

// Outcome names the terminal page rendered by the callback.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeDenied         Outcome = "denied"
	OutcomeMissingCode    Outcome = "missing_code"
	OutcomeBadState       Outcome = "bad_state"
	OutcomeNotConfigured  Outcome = "not_configured"
	OutcomeExchangeFailed Outcome = "exchange_failed"
	OutcomeUnexpected     Outcome = "unexpected"
)

// OutcomeHeader carries the outcome on every callback response.
const OutcomeHeader = "X-Auth-Outcome"

type page struct {
	Title   string
	Detail  string
	Message *oauth.SuccessMessage
	Origin  string
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
  <head><meta charset="utf-8"><title>{{.Title}}</title></head>
  <body>
    <h1>{{.Title}}</h1>
    <p>{{.Detail}}</p>
    <script>
{{- if .Message}}
      if (window.opener) {
        window.opener.postMessage({{.Message}}, {{.Origin}});
      }
      setTimeout(function () { window.close(); }, 2000);
{{- else}}
      window.close();
{{- end}}
    </script>
  </body>
</html>
`))

// CallbackHandler completes the authorization-code exchange. Every failure
// renders a page that closes itself without notifying the opener; success
// posts the tokens to the opener and closes after two seconds.
func CallbackHandler(a *Authorizer, log zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := c.QueryParams()
		outcome, p := handleCallback(c, a, log, q.Get("error"), q.Get("code"), q.Get("state"))
		return renderPage(c, outcome, p)
	}
}

func handleCallback(c echo.Context, a *Authorizer, log zerolog.Logger, providerErr, code, state string) (Outcome, page) {
	if providerErr != "" {
		log.Info().Str("error", providerErr).Msg("authorization denied by provider")
		return OutcomeDenied, page{Title: "Authentication Failed", Detail: "Error: " + providerErr}
	}
	if code == "" {
		return OutcomeMissingCode, page{Title: "Authentication Failed", Detail: "No authorization code received"}
	}
	if err := a.VerifyState(state); err != nil {
		log.Warn().Msg("callback with invalid state")
		return OutcomeBadState, page{Title: "Authentication Failed", Detail: "This sign-in link has expired. Please try again."}
	}
	if !a.Configured() {
		return OutcomeNotConfigured, page{Title: "Configuration Error", Detail: "Spotify credentials not configured"}
	}

	tr, err := a.Exchange(c.Request().Context(), code)
	if err != nil {
		var ee *ExchangeError
		if errors.As(err, &ee) {
			log.Warn().Int("status", ee.Status).Str("code", ee.Code).Msg("token exchange rejected")
			detail := ee.Description
			if detail == "" {
				detail = ee.Code
			}
			return OutcomeExchangeFailed, page{Title: "Token Exchange Failed", Detail: "Error: " + detail}
		}
		log.Error().Err(err).Msg("token exchange error")
		return OutcomeUnexpected, page{Title: "Authentication Error", Detail: "An unexpected error occurred"}
	}

	log.Info().Int64("expires_in", tr.ExpiresIn).Msg("authorization code exchanged")
	return OutcomeSuccess, page{
		Title:  "Authentication Successful!",
		Detail: "You can now close this window and use Spotify controls.",
		Message: &oauth.SuccessMessage{
			Type:         oauth.MessageTypeSuccess,
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			ExpiresIn:    tr.ExpiresIn,
		},
		Origin: a.cfg.MessageOrigin,
	}
}

func renderPage(c echo.Context, outcome Outcome, p page) error {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return err
	}
	c.Response().Header().Set(OutcomeHeader, string(outcome))
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
