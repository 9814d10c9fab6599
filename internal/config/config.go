package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string
	LogLevel      string
	PublicBaseURL string

	SpotifyClientID      string
	SpotifyClientSecret  string
	SpotifyRedirectURI   string
	SpotifyAccountsURL   string
	SpotifyAPIURL        string
	SpotifyMessageOrigin string
	OAuthStateSecret     string

	TokenStore             string
	DatabasePath           string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	STTVendor         string
	AssemblyAIKey     string
	TTSVendor         string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	TwilioAuthToken string
	SessionToken    string

	ResponseDelay    time.Duration
	AuthPollInterval time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("config: no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:   getenv("HTTP_ADDRESS", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),

		SpotifyClientID:      os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret:  os.Getenv("SPOTIFY_CLIENT_SECRET"),
		SpotifyRedirectURI:   os.Getenv("SPOTIFY_REDIRECT_URI"),
		SpotifyAccountsURL:   getenv("SPOTIFY_ACCOUNTS_URL", "https://accounts.spotify.com"),
		SpotifyAPIURL:        getenv("SPOTIFY_API_URL", "https://api.spotify.com/v1"),
		SpotifyMessageOrigin: getenv("SPOTIFY_MESSAGE_ORIGIN", "*"),
		OAuthStateSecret:     os.Getenv("OAUTH_STATE_SECRET"),

		TokenStore:             strings.ToLower(getenv("TOKEN_STORE", "sqlite")),
		DatabasePath:           getenv("DATABASE_PATH", "data/jarvis.db"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getenv("SUPABASE_BUCKET", "jarvis"),

		STTVendor:         strings.ToLower(getenv("STT_VENDOR", "browser")),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		TTSVendor:         strings.ToLower(getenv("TTS_VENDOR", "browser")),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getenv("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		SessionToken:    os.Getenv("SESSION_TOKEN"),

		ResponseDelay:    getduration("RESPONSE_DELAY", time.Second),
		AuthPollInterval: getduration("AUTH_POLL_INTERVAL", time.Second),
	}

	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		log.Warn().Msg("config: SPOTIFY_CLIENT_ID/SPOTIFY_CLIENT_SECRET not set - music control will not work")
	}
	if cfg.SpotifyRedirectURI == "" && cfg.PublicBaseURL != "" {
		cfg.SpotifyRedirectURI = cfg.PublicBaseURL + "/spotify/callback"
	}
	if cfg.STTVendor == "assemblyai" && cfg.AssemblyAIKey == "" {
		log.Warn().Msg("config: ASSEMBLYAI_API_KEY not set - server-side transcription disabled")
	}
	switch cfg.TTSVendor {
	case "deepgram":
		if cfg.DeepgramKey == "" {
			log.Warn().Msg("config: DEEPGRAM_API_KEY not set - server-side speech disabled")
		}
	case "elevenlabs":
		if cfg.ElevenLabsKey == "" || cfg.ElevenLabsVoiceID == "" {
			log.Warn().Msg("config: ELEVENLABS_API_KEY/ELEVENLABS_VOICE_ID not set - server-side speech disabled")
		}
	}
	if cfg.TwilioAuthToken == "" {
		log.Warn().Msg("config: TWILIO_AUTH_TOKEN not set - phone webhooks are disabled")
	}

	log.Info().Str("addr", cfg.HTTPAddress).Str("token_store", cfg.TokenStore).Msg("config loaded")
	return cfg
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid duration, using default")
		return fallback
	}
	return d
}
