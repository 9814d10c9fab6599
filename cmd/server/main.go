package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/jarvis/internal/config"
	"github.com/chadiek/jarvis/internal/httpserver"
	"github.com/chadiek/jarvis/internal/infra/storage"
	"github.com/chadiek/jarvis/internal/metrics"
	"github.com/chadiek/jarvis/internal/oauth"
	"github.com/chadiek/jarvis/internal/observability"
	"github.com/chadiek/jarvis/internal/responder"
	"github.com/chadiek/jarvis/internal/session"
	"github.com/chadiek/jarvis/internal/spotify"
	"github.com/chadiek/jarvis/internal/telephony"
	"github.com/chadiek/jarvis/internal/transcript"
	"github.com/chadiek/jarvis/internal/tts"
)

func main() {
	cfg := config.Load()
	logger := observability.New(cfg.LogLevel)

	backend, closer, err := openBackend(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("token_store", cfg.TokenStore).Msg("open token storage")
	}
	if closer != nil {
		defer closer.Close()
	}
	store := oauth.NewTokenStore(backend, oauth.WithStoreLogger(observability.Component(logger, "tokens")))

	auth := spotify.NewAuthorizer(spotify.Config{
		ClientID:      cfg.SpotifyClientID,
		ClientSecret:  cfg.SpotifyClientSecret,
		RedirectURI:   cfg.SpotifyRedirectURI,
		AccountsURL:   cfg.SpotifyAccountsURL,
		StateSecret:   cfg.OAuthStateSecret,
		MessageOrigin: cfg.SpotifyMessageOrigin,
	}, nil)
	playback := spotify.NewPlayback(store, spotify.NewClient(cfg.SpotifyAPIURL, nil))
	m := metrics.New("jarvis")

	sessionLog := observability.Component(logger, "session")
	sessions := session.NewHandler(session.Config{
		URLs:          auth,
		Store:         store,
		Playback:      playback,
		Metrics:       m,
		Log:           sessionLog,
		NewRecognizer: recognizerFactory(cfg, sessionLog),
		Voice:         tts.New(cfg.TTSVendor, cfg.DeepgramKey, cfg.DeepgramModel, cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, observability.Component(logger, "tts")),
		Greeting:      responder.Greeting,
		ResponseDelay: cfg.ResponseDelay,
		PollInterval:  cfg.AuthPollInterval,
	})

	phone := &telephony.Service{
		ResponseDelay: cfg.ResponseDelay,
		Metrics:       m,
		Log:           observability.Component(logger, "telephony"),
	}
	defer phone.Close()

	router := httpserver.New(httpserver.Deps{
		Log:             observability.Component(logger, "http"),
		Metrics:         m,
		Spotify:         &spotify.Handlers{Auth: auth, Playback: playback, Metrics: m, Log: observability.Component(logger, "spotify")},
		Session:         sessions,
		Telephony:       phone,
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicBaseURL:   cfg.PublicBaseURL,
		SessionToken:    cfg.SessionToken,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}

// openBackend selects the durable store for the credential.
func openBackend(cfg config.Config) (storage.Backend, io.Closer, error) {
	switch cfg.TokenStore {
	case "memory":
		return storage.NewMemory(), nil, nil
	case "supabase":
		s, err := storage.NewSupabase(storage.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
			Prefix:         "tokens/",
		})
		return s, nil, err
	default:
		s, err := storage.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

func recognizerFactory(cfg config.Config, log zerolog.Logger) func() session.StreamRecognizer {
	if cfg.STTVendor != "assemblyai" || cfg.AssemblyAIKey == "" {
		return nil
	}
	return func() session.StreamRecognizer {
		return transcript.NewAssemblyAI(cfg.AssemblyAIKey, transcript.WithLogger(observability.Component(log, "stt")))
	}
}
