package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/core/providers/gemini"
	"github.com/vango-go/voicebridge/pkg/core/voice"
	"github.com/vango-go/voicebridge/pkg/gateway/audiocache"
	"github.com/vango-go/voicebridge/pkg/gateway/call"
	"github.com/vango-go/voicebridge/pkg/gateway/callconfig"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/handlers"
	"github.com/vango-go/voicebridge/pkg/gateway/lifecycle"
	"github.com/vango-go/voicebridge/pkg/gateway/media"
	"github.com/vango-go/voicebridge/pkg/gateway/metrics"
	"github.com/vango-go/voicebridge/pkg/gateway/mw"
	"github.com/vango-go/voicebridge/pkg/gateway/ratelimit"
	"github.com/vango-go/voicebridge/pkg/gateway/rooms"
	"github.com/vango-go/voicebridge/pkg/gateway/sessions"
	"github.com/vango-go/voicebridge/pkg/gateway/store"
	"github.com/vango-go/voicebridge/pkg/gateway/telephony"
)

// Version is reported by /v1/status.
var Version = "dev"

const configCachePrefix = "voicebridge:config:"

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	httpClient *http.Client
	lifecycle  *lifecycle.Lifecycle
	metrics    *metrics.Metrics
	registry   *sessions.Registry
	audio      *audiocache.Cache
	rooms      *rooms.Manager
	store      store.Store
	turns      *store.AsyncLog
	redis      *redis.Client
	calls      *handlers.Calls
	limiter    *ratelimit.Limiter
	tokens     media.StreamTokens
	startedAt  time.Time

	cancelLoops context.CancelFunc
}

// New builds the gateway and every collaborator it owns. The store is opened
// (and migrated) here, so ctx bounds startup I/O.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		httpClient: httpClient,
		lifecycle:  &lifecycle.Lifecycle{},
		startedAt:  time.Now(),
	}
	s.registry = sessions.NewRegistry(sessions.Options{
		IdleTimeout:   cfg.IdleTimeout,
		MaxDuration:   cfg.MaxCallDuration,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
	})
	s.metrics = metrics.New("voicebridge", s.registry.Count)
	s.audio = audiocache.New(cfg.AudioCacheTTL)
	limits := ratelimit.Config{RPS: cfg.LimitRPS, Burst: cfg.LimitBurst, MaxInFlight: cfg.LimitMaxInFlight}
	if limits.Enabled() {
		s.limiter = ratelimit.New(limits)
	}
	s.tokens = media.StreamTokens{Secret: []byte(cfg.StreamTokenSecret), TTL: cfg.StreamTokenTTL}

	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	s.store = st
	s.turns = store.NewAsyncLog(st, 0, logger)

	roomProvider, err := newRoomProvider(cfg)
	if err != nil {
		s.closeResources(ctx)
		return nil, err
	}
	s.rooms = &rooms.Manager{Provider: roomProvider, TTL: cfg.GrantTTL}

	resolver, err := s.newResolver()
	if err != nil {
		s.closeResources(ctx)
		return nil, err
	}

	factory, err := s.newFactory(ctx)
	if err != nil {
		s.closeResources(ctx)
		return nil, err
	}

	deps := call.Deps{
		Config:    resolver,
		Providers: factory,
		Log:       s.turns,
		Metrics:   s.metrics,
		Logger:    logger,
		Timing: call.Timing{
			Silence:         cfg.SilenceWindow,
			EnergyThreshold: cfg.EnergyThreshold,
			CooldownBase:    cfg.CooldownBase,
			CooldownFactor:  cfg.CooldownFactor,
			CooldownMax:     cfg.CooldownMax,
			EchoTail:        cfg.EchoTail,
			PlaybackGrace:   cfg.PlaybackGrace,
			MaxUtterance:    cfg.MaxUtterance,
			ConfigTimeout:   cfg.ConfigTimeout,
		},
		Apology: cfg.ApologyMessage,
		Failure: cfg.FailureMessage,
	}
	var control call.CallControl
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		control = telephony.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		deps.Control = control
	} else {
		logger.Warn("twilio credentials not configured; out-of-band hangup disabled")
	}
	s.calls = &handlers.Calls{
		Registry: s.registry,
		Rooms:    s.rooms,
		Agent:    deps,
		Control:  control,
		Logger:   logger,
	}

	s.routes()
	return s, nil
}

func newRoomProvider(cfg config.Config) (rooms.Provider, error) {
	switch cfg.RoomsProvider {
	case config.RoomsLiveKit:
		lk := rooms.NewLiveKit(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
		lk.EmptyTimeout = cfg.RoomEmptyTimeout
		return lk, nil
	case config.RoomsLocal, "":
		secret := cfg.RoomsSecret
		if secret == "" {
			secret = cfg.StreamTokenSecret
		}
		if secret == "" {
			return nil, errors.New("VOICEBRIDGE_ROOMS_SECRET must be set for local rooms")
		}
		return rooms.NewLocal("voicebridge", []byte(secret)), nil
	default:
		return nil, fmt.Errorf("unknown rooms provider %q", cfg.RoomsProvider)
	}
}

// newResolver chains cache, profiles, store and the configuration owner.
func (s *Server) newResolver() (*callconfig.Resolver, error) {
	r := &callconfig.Resolver{
		History:      s.store,
		HistoryLimit: s.cfg.HistoryLimit,
		Logger:       s.logger,
	}
	if s.cfg.RedisURL != "" {
		cache, client, err := callconfig.NewRedisCacheFromURL(s.cfg.RedisURL, configCachePrefix, s.cfg.ConfigCacheTTL)
		if err != nil {
			return nil, err
		}
		s.redis = client
		r.Cache = cache
	}
	if s.cfg.ProfilesPath != "" {
		profiles, err := callconfig.LoadProfiles(s.cfg.ProfilesPath)
		if err != nil {
			return nil, err
		}
		s.logger.Info("agent profiles loaded", "path", s.cfg.ProfilesPath, "count", profiles.Len())
		r.Sources = append(r.Sources, profiles)
	}
	r.Sources = append(r.Sources, callconfig.StoreSource{Store: s.store})
	if s.cfg.ConfigOwnerURL != "" {
		r.Sources = append(r.Sources, &callconfig.Remote{
			BaseURL:    s.cfg.ConfigOwnerURL,
			APIKey:     s.cfg.ConfigOwnerAPIKey,
			HTTPClient: s.httpClient,
			Retries:    uint64(s.cfg.ConfigOwnerRetries),
		})
	}
	return r, nil
}

func (s *Server) newFactory(ctx context.Context) (*voice.Factory, error) {
	f := &voice.Factory{
		Credentials: voice.Credentials{
			OpenAI:     s.cfg.OpenAIAPIKey,
			Anthropic:  s.cfg.AnthropicAPIKey,
			Gemini:     s.cfg.GeminiAPIKey,
			Cartesia:   s.cfg.CartesiaAPIKey,
			ElevenLabs: s.cfg.ElevenLabsAPIKey,
		},
		DefaultFamily: core.Family(s.cfg.DefaultFamily),
		DefaultModel:  s.cfg.DefaultModel,
		HTTPClient:    s.httpClient,
		Options: voice.Options{
			Timeout:       s.cfg.ProviderTimeout,
			HistoryWindow: s.cfg.HistoryWindow,
			Observer:      s.metrics,
		},
	}
	if s.cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, s.cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		f.Gemini = client.Models
	}
	return f, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle, Store: s.store})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("POST /twilio/voice", s.twilio("twilio_voice", handlers.VoiceWebhookHandler{
		Config:    s.cfg,
		Calls:     s.calls,
		Tokens:    s.tokens,
		Lifecycle: s.lifecycle,
		Logger:    s.logger,
	}))
	s.mux.Handle("POST /twilio/status", s.twilio("twilio_status", handlers.StatusCallbackHandler{
		Registry: s.registry,
		Logger:   s.logger,
	}))
	s.mux.Handle("GET "+handlers.MediaStreamPath, s.metrics.Instrument("twilio_media", handlers.MediaHandler{
		Registry: s.registry,
		Bridge: media.Config{
			PingInterval:  s.cfg.WSPingInterval,
			WriteTimeout:  s.cfg.WSWriteTimeout,
			ReadTimeout:   s.cfg.WSReadTimeout,
			FrameDuration: s.cfg.FrameDuration,
			MaxMalformed:  s.cfg.MaxMalformedFrames,
			Tokens:        s.tokens,
			Metrics:       s.metrics,
		},
		Logger: s.logger,
	}))

	s.mux.Handle("POST /v1/sessions", s.api("sessions_create", handlers.CreateSessionHandler{
		Config:    s.cfg,
		Calls:     s.calls,
		Cache:     s.audio,
		Lifecycle: s.lifecycle,
		Logger:    s.logger,
	}))
	s.mux.Handle("GET /v1/sessions/{id}", s.api("sessions_get", handlers.GetSessionHandler{Registry: s.registry}))
	s.mux.Handle("POST /v1/speech", s.api("speech", handlers.SpeechHandler{
		Config:   s.cfg,
		Registry: s.registry,
		Logger:   s.logger,
	}))
	s.mux.Handle("GET /v1/status", s.api("status", handlers.StatusHandler{
		Config:    s.cfg,
		Registry:  s.registry,
		Lifecycle: s.lifecycle,
		Rooms:     s.rooms.Provider.Name(),
		StartedAt: s.startedAt,
		Version:   Version,
	}))
	// Audio ids are unguessable and short-lived; players fetch them without
	// credentials.
	s.mux.Handle("GET "+handlers.AudioPathPrefix+"{id}", s.metrics.Instrument("audio", handlers.AudioHandler{Cache: s.audio}))

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) api(route string, h http.Handler) http.Handler {
	return s.metrics.Instrument(route, mw.APIVersion(mw.Auth(s.cfg, mw.RateLimit(s.limiter, h))))
}

func (s *Server) twilio(route string, h http.Handler) http.Handler {
	if s.cfg.TwilioValidateSignatures {
		h = mw.TwilioSignature(s.cfg.TwilioAuthToken, s.cfg.PublicURL, h)
	}
	return s.metrics.Instrument(route, h)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Start runs the registry sweeper and the audio cache janitor until
// Shutdown.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelLoops = cancel
	go s.registry.Run(ctx)
	go s.audio.Run(ctx)
}

func (s *Server) SetDraining() {
	s.lifecycle.Drain(time.Now())
}

func (s *Server) ActiveSessions() int {
	return s.registry.Count()
}

// Shutdown closes every session, waits for them to tear down, then flushes
// the conversation log and closes the store. It returns false when sessions
// were still tearing down at the deadline.
func (s *Server) Shutdown(ctx context.Context) bool {
	s.SetDraining()
	if n := s.registry.CloseAll(sessions.ReasonShutdown); n > 0 {
		s.logger.Info("closing sessions for shutdown", "count", n)
	}
	clean := s.registry.Wait(ctx)
	if s.cancelLoops != nil {
		s.cancelLoops()
	}
	s.closeResources(ctx)
	return clean
}

func (s *Server) closeResources(ctx context.Context) {
	if s.turns != nil {
		if err := s.turns.Close(ctx); err != nil {
			s.logger.Warn("conversation log flush incomplete", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("store close failed", "error", err)
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}
