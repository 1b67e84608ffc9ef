package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	RoomsLocal   = "local"
	RoomsLiveKit = "livekit"
)

type Config struct {
	Addr string
	// PublicURL is the externally reachable base URL; stream and audio URLs
	// are built from it. Empty means derive from the request Host.
	PublicURL string

	LogLevel  string
	LogFormat string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	CORSAllowedOrigins map[string]struct{} // empty => disabled
	MaxBodyBytes       int64

	// Per-caller limits on the /v1 API; zero disables each.
	LimitRPS         float64
	LimitBurst       int
	LimitMaxInFlight int

	// Twilio
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioValidateSignatures bool
	HoldMessage              string
	FailureMessage           string
	ApologyMessage           string
	SayVoice                 string
	SayLanguage              string
	StreamTokenSecret        string
	StreamTokenTTL           time.Duration

	// Rooms
	RoomsProvider    string
	RoomsSecret      string
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	GrantTTL         time.Duration
	RoomEmptyTimeout time.Duration

	// Turn-taking and playback
	SilenceWindow   time.Duration
	EnergyThreshold float64
	CooldownBase    time.Duration
	CooldownFactor  float64
	CooldownMax     time.Duration
	EchoTail        time.Duration
	PlaybackGrace   time.Duration
	MaxUtterance    time.Duration

	// Providers
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	CartesiaAPIKey   string
	ElevenLabsAPIKey string
	DefaultFamily    string
	DefaultModel     string
	ProviderTimeout  time.Duration
	HistoryWindow    int

	// Media bridge
	FrameDuration      time.Duration
	MaxMalformedFrames int
	WSPingInterval     time.Duration
	WSWriteTimeout     time.Duration
	WSReadTimeout      time.Duration

	// Session registry
	IdleTimeout     time.Duration
	MaxCallDuration time.Duration
	SweepInterval   time.Duration

	AudioCacheTTL time.Duration

	// Call configuration sources
	ProfilesPath       string
	RedisURL           string
	ConfigCacheTTL     time.Duration
	ConfigTimeout      time.Duration
	ConfigOwnerURL     string
	ConfigOwnerAPIKey  string
	ConfigOwnerRetries int
	HistoryLimit       int

	// DatabaseURL selects the store: postgres://..., sqlite:<path>, or empty
	// for in-memory.
	DatabaseURL string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEBRIDGE_ADDR", ":8080"),
		PublicURL:           strings.TrimRight(envOr("VOICEBRIDGE_PUBLIC_URL", ""), "/"),
		LogLevel:            envOr("VOICEBRIDGE_LOG_LEVEL", "info"),
		LogFormat:           envOr("VOICEBRIDGE_LOG_FORMAT", "text"),
		AuthMode:            AuthMode(envOr("VOICEBRIDGE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:             make(map[string]struct{}),
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxBodyBytes:        envInt64Or("VOICEBRIDGE_MAX_BODY_BYTES", 1<<20),
		LimitRPS:            envFloat64Or("VOICEBRIDGE_LIMIT_RPS", 5),
		LimitBurst:          envIntOr("VOICEBRIDGE_LIMIT_BURST", 10),
		LimitMaxInFlight:    envIntOr("VOICEBRIDGE_LIMIT_MAX_IN_FLIGHT", 4),
		TwilioAccountSID:    envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     envOr("TWILIO_AUTH_TOKEN", ""),
		HoldMessage:         envOr("VOICEBRIDGE_HOLD_MESSAGE", "Please hold while we connect you."),
		FailureMessage:      envOr("VOICEBRIDGE_FAILURE_MESSAGE", "We're sorry, this line can't take your call right now. Please try again later. Goodbye."),
		ApologyMessage:      envOr("VOICEBRIDGE_APOLOGY_MESSAGE", "I'm sorry, I'm having trouble right now. Could you say that again?"),
		SayVoice:            envOr("VOICEBRIDGE_SAY_VOICE", ""),
		SayLanguage:         envOr("VOICEBRIDGE_SAY_LANGUAGE", ""),
		StreamTokenSecret:   envOr("VOICEBRIDGE_STREAM_TOKEN_SECRET", ""),
		StreamTokenTTL:      envDurationOr("VOICEBRIDGE_STREAM_TOKEN_TTL", 2*time.Minute),
		RoomsProvider:       strings.ToLower(envOr("VOICEBRIDGE_ROOMS_PROVIDER", RoomsLocal)),
		RoomsSecret:         envOr("VOICEBRIDGE_ROOMS_SECRET", ""),
		LiveKitURL:          envOr("LIVEKIT_URL", ""),
		LiveKitAPIKey:       envOr("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret:    envOr("LIVEKIT_API_SECRET", ""),
		GrantTTL:            envDurationOr("VOICEBRIDGE_GRANT_TTL", 10*time.Minute),
		RoomEmptyTimeout:    envDurationOr("VOICEBRIDGE_ROOM_EMPTY_TIMEOUT", 5*time.Minute),
		SilenceWindow:       envDurationOr("VOICEBRIDGE_SILENCE_WINDOW", 1500*time.Millisecond),
		EnergyThreshold:     envFloat64Or("VOICEBRIDGE_ENERGY_THRESHOLD", 0.01),
		CooldownBase:        envDurationOr("VOICEBRIDGE_COOLDOWN_BASE", 300*time.Millisecond),
		CooldownFactor:      envFloat64Or("VOICEBRIDGE_COOLDOWN_FACTOR", 0.1),
		CooldownMax:         envDurationOr("VOICEBRIDGE_COOLDOWN_MAX", 2*time.Second),
		EchoTail:            envDurationOr("VOICEBRIDGE_ECHO_TAIL", 1500*time.Millisecond),
		PlaybackGrace:       envDurationOr("VOICEBRIDGE_PLAYBACK_GRACE", 750*time.Millisecond),
		MaxUtterance:        envDurationOr("VOICEBRIDGE_MAX_UTTERANCE", 30*time.Second),
		OpenAIAPIKey:        envOr("OPENAI_API_KEY", ""),
		AnthropicAPIKey:     envOr("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:        envOr("GEMINI_API_KEY", ""),
		CartesiaAPIKey:      envOr("CARTESIA_API_KEY", ""),
		ElevenLabsAPIKey:    envOr("ELEVENLABS_API_KEY", ""),
		DefaultFamily:       strings.ToLower(envOr("VOICEBRIDGE_DEFAULT_FAMILY", "openai")),
		DefaultModel:        envOr("VOICEBRIDGE_DEFAULT_MODEL", ""),
		ProviderTimeout:     envDurationOr("VOICEBRIDGE_PROVIDER_TIMEOUT", 30*time.Second),
		HistoryWindow:       envIntOr("VOICEBRIDGE_HISTORY_WINDOW", 20),
		FrameDuration:       envDurationOr("VOICEBRIDGE_FRAME_DURATION", 20*time.Millisecond),
		MaxMalformedFrames:  envIntOr("VOICEBRIDGE_MAX_MALFORMED_FRAMES", 5),
		WSPingInterval:      envDurationOr("VOICEBRIDGE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("VOICEBRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("VOICEBRIDGE_WS_READ_TIMEOUT", 60*time.Second),
		IdleTimeout:         envDurationOr("VOICEBRIDGE_IDLE_TIMEOUT", 2*time.Minute),
		MaxCallDuration:     envDurationOr("VOICEBRIDGE_MAX_CALL_DURATION", 30*time.Minute),
		SweepInterval:       envDurationOr("VOICEBRIDGE_SWEEP_INTERVAL", 15*time.Second),
		AudioCacheTTL:       envDurationOr("VOICEBRIDGE_AUDIO_CACHE_TTL", 30*time.Second),
		ProfilesPath:        envOr("VOICEBRIDGE_PROFILES", ""),
		RedisURL:            envOr("VOICEBRIDGE_REDIS_URL", ""),
		ConfigCacheTTL:      envDurationOr("VOICEBRIDGE_CONFIG_CACHE_TTL", 5*time.Minute),
		ConfigTimeout:       envDurationOr("VOICEBRIDGE_CONFIG_TIMEOUT", 10*time.Second),
		ConfigOwnerURL:      envOr("VOICEBRIDGE_CONFIG_OWNER_URL", ""),
		ConfigOwnerAPIKey:   envOr("VOICEBRIDGE_CONFIG_OWNER_API_KEY", ""),
		ConfigOwnerRetries:  envIntOr("VOICEBRIDGE_CONFIG_OWNER_RETRIES", 3),
		HistoryLimit:        envIntOr("VOICEBRIDGE_HISTORY_LIMIT", 50),
		DatabaseURL:         envOr("VOICEBRIDGE_DATABASE_URL", ""),
		ReadHeaderTimeout:   envDurationOr("VOICEBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOICEBRIDGE_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:      envDurationOr("VOICEBRIDGE_HANDLER_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod: envDurationOr("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}
	cfg.TwilioValidateSignatures = envBoolOr("VOICEBRIDGE_TWILIO_VALIDATE", cfg.TwilioAuthToken != "")

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_AUTH_MODE must be one of required|optional|disabled")
	}
	for _, key := range splitCSV(os.Getenv("VOICEBRIDGE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VOICEBRIDGE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_API_KEYS must be set when VOICEBRIDGE_AUTH_MODE=required")
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_LOG_FORMAT must be one of text|json")
	}
	if cfg.PublicURL != "" && !strings.HasPrefix(cfg.PublicURL, "http://") && !strings.HasPrefix(cfg.PublicURL, "https://") {
		return Config{}, fmt.Errorf("VOICEBRIDGE_PUBLIC_URL must start with http:// or https://")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 || cfg.LimitBurst < 0 || cfg.LimitMaxInFlight < 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_LIMIT_RPS, VOICEBRIDGE_LIMIT_BURST and VOICEBRIDGE_LIMIT_MAX_IN_FLIGHT must be >= 0")
	}
	if cfg.TwilioValidateSignatures && cfg.TwilioAuthToken == "" {
		return Config{}, fmt.Errorf("TWILIO_AUTH_TOKEN must be set when VOICEBRIDGE_TWILIO_VALIDATE=true")
	}
	if cfg.StreamTokenTTL <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_STREAM_TOKEN_TTL must be > 0")
	}

	switch cfg.RoomsProvider {
	case RoomsLocal:
	case RoomsLiveKit:
		if cfg.LiveKitURL == "" || cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
			return Config{}, fmt.Errorf("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set when VOICEBRIDGE_ROOMS_PROVIDER=livekit")
		}
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_ROOMS_PROVIDER must be one of local|livekit")
	}
	if cfg.GrantTTL <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_GRANT_TTL must be > 0")
	}
	if cfg.RoomEmptyTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_ROOM_EMPTY_TIMEOUT must be > 0")
	}

	if cfg.SilenceWindow <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SILENCE_WINDOW must be > 0")
	}
	if cfg.EnergyThreshold < 0 || cfg.EnergyThreshold > 1 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_ENERGY_THRESHOLD must be between 0 and 1")
	}
	if cfg.CooldownBase < 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_COOLDOWN_BASE must be >= 0")
	}
	if cfg.CooldownFactor < 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_COOLDOWN_FACTOR must be >= 0")
	}
	if cfg.CooldownMax < cfg.CooldownBase {
		return Config{}, fmt.Errorf("VOICEBRIDGE_COOLDOWN_MAX must be >= VOICEBRIDGE_COOLDOWN_BASE")
	}
	if cfg.EchoTail < 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_ECHO_TAIL must be >= 0")
	}
	if cfg.PlaybackGrace < 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_PLAYBACK_GRACE must be >= 0")
	}
	if cfg.MaxUtterance <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MAX_UTTERANCE must be > 0")
	}

	switch cfg.DefaultFamily {
	case "openai", "anthropic", "gemini":
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_DEFAULT_FAMILY must be one of openai|anthropic|gemini")
	}
	if cfg.ProviderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_HISTORY_WINDOW must be > 0")
	}
	if cfg.ConfigTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_CONFIG_TIMEOUT must be > 0")
	}

	if cfg.FrameDuration < 10*time.Millisecond || cfg.FrameDuration > 100*time.Millisecond {
		return Config{}, fmt.Errorf("VOICEBRIDGE_FRAME_DURATION must be between 10ms and 100ms")
	}
	if cfg.MaxMalformedFrames <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MAX_MALFORMED_FRAMES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_READ_TIMEOUT must be > 0")
	}

	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_IDLE_TIMEOUT must be > 0")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MAX_CALL_DURATION must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SWEEP_INTERVAL must be > 0")
	}
	if cfg.AudioCacheTTL <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_AUDIO_CACHE_TTL must be > 0")
	}

	if cfg.ConfigCacheTTL <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_CONFIG_CACHE_TTL must be > 0")
	}
	if cfg.ConfigOwnerRetries < 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_CONFIG_OWNER_RETRIES must be >= 0")
	}
	if cfg.HistoryLimit < 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_HISTORY_LIMIT must be >= 0")
	}
	if u := cfg.DatabaseURL; u != "" && !strings.HasPrefix(u, "postgres://") && !strings.HasPrefix(u, "postgresql://") && !strings.HasPrefix(u, "sqlite:") {
		return Config{}, fmt.Errorf("VOICEBRIDGE_DATABASE_URL must be a postgres:// URL or sqlite:<path>")
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
