package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/metrics"
	twiliomw "github.com/chadiek/jarvis/internal/middleware"
	"github.com/chadiek/jarvis/internal/session"
	"github.com/chadiek/jarvis/internal/spotify"
	"github.com/chadiek/jarvis/internal/telephony"
)

// Deps are the services mounted on the router. Nil services are not routed.
type Deps struct {
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Spotify   *spotify.Handlers
	Session   *session.Handler
	Telephony *telephony.Service

	TwilioAuthToken string
	PublicBaseURL   string
	// SessionToken, when set, is required to open a session.
	SessionToken string
}

// New creates a configured Echo server instance.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(requestLogger(d.Log))
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}
	if d.Spotify != nil {
		g := e.Group("/spotify", middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowHeaders: []string{echo.HeaderContentType},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		}))
		d.Spotify.Register(g)
	}
	if d.Session != nil {
		e.GET("/session", d.Session.Serve, requireToken(d.SessionToken))
	}
	if d.Telephony != nil {
		d.Telephony.Register(e.Group("/twilio", twiliomw.TwilioAuth(d.TwilioAuthToken, d.PublicBaseURL)))
	}
	return e
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("path", v.URIPath).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	})
}

func requireToken(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tokenOK(c.Request(), expected) {
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

// tokenOK accepts the token from the token query parameter, the
// X-Auth-Token header or a bearer Authorization header. An empty expected
// token accepts everything.
func tokenOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	candidates := []string{r.URL.Query().Get("token"), r.Header.Get("X-Auth-Token")}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		candidates = append(candidates, strings.TrimSpace(auth[7:]))
	}
	for _, got := range candidates {
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}
