package spotify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/metrics"
)

// Handlers exposes the authorization and playback endpoints.
type Handlers struct {
	Auth     *Authorizer
	Playback *Playback
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

func (h Handlers) Register(g *echo.Group) {
	g.GET("/auth", h.authURL)
	g.GET("/callback", CallbackHandler(h.Auth, h.Log))
	g.POST("/control", h.control)
}

func (h Handlers) authURL(c echo.Context) error {
	u, err := h.Auth.AuthorizationURL(c.Request().Context())
	if errors.Is(err, ErrNotConfigured) {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Spotify client ID not configured"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("build authorization url")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"auth_url": u})
}

type controlRequest struct {
	Action      string `json:"action"`
	Query       string `json:"query"`
	AccessToken string `json:"accessToken"`
}

func (h Handlers) control(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	action := Action(strings.ToLower(strings.TrimSpace(req.Action)))
	ctx := c.Request().Context()

	var (
		msg string
		err error
	)
	if req.AccessToken != "" {
		msg, err = h.Playback.ControlWithToken(ctx, req.AccessToken, action, req.Query)
	} else {
		msg, err = h.Playback.Control(ctx, action, req.Query)
	}
	if err != nil {
		var pe *PlaybackError
		if errors.As(err, &pe) {
			h.Metrics.RecordPlayback(string(action), string(pe.Kind))
			return c.JSON(pe.Status, map[string]string{"error": pe.Message})
		}
		h.Metrics.RecordPlayback(string(action), "error")
		h.Log.Error().Err(err).Str("action", string(action)).Msg("playback control failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	h.Metrics.RecordPlayback(string(action), "ok")
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": msg})
}
