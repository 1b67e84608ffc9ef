// Package callconfig resolves the agent configuration for a call. Local
// sources are consulted first (cache, profiles file, database); the
// configuration owner's HTTP API is the last resort.
package callconfig

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/vango-go/voicebridge/pkg/core"
)

// Request identifies the call being configured.
type Request struct {
	CallID  string
	From    string
	To      string
	AgentID string
}

// ThreadID is the conversation log key for the call.
func (r Request) ThreadID() string {
	if r.CallID == "" {
		return ""
	}
	return "call:" + r.CallID
}

// Result is a resolved configuration plus the call's prior turns.
type Result struct {
	Config  core.AgentConfig
	History []core.Turn
	Source  string
}

// Source is one place configurations can come from. Lookup returns
// ok=false when the source has nothing for req.
type Source interface {
	Name() string
	Lookup(ctx context.Context, req Request) (cfg core.AgentConfig, ok bool, err error)
}

// Cache is the fast path in front of every source.
type Cache interface {
	Get(ctx context.Context, key string) (core.AgentConfig, bool, error)
	Set(ctx context.Context, key string, cfg core.AgentConfig) error
}

// HistoryReader is the read side of the conversation log.
type HistoryReader interface {
	ListTurns(ctx context.Context, threadID string, limit int) ([]core.Turn, error)
}

// Resolver walks Cache, then Sources in order.
type Resolver struct {
	Cache        Cache
	Sources      []Source
	History      HistoryReader
	HistoryLimit int
	Logger       *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// CacheKey is the cache key for req: the agent id when known, otherwise the
// dialed number.
func CacheKey(req Request) string {
	if id := strings.TrimSpace(req.AgentID); id != "" {
		return "agent:" + id
	}
	if to := strings.TrimSpace(req.To); to != "" {
		return "number:" + to
	}
	return ""
}

// Resolve returns the configuration for req or a configuration_missing
// error. Source failures are logged and skipped; only the absence of any
// usable configuration is an error.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	log := r.logger().With("call_id", req.CallID, "to", req.To)
	key := CacheKey(req)

	var (
		cfg    core.AgentConfig
		source string
		found  bool
	)
	if r.Cache != nil && key != "" {
		c, ok, err := r.Cache.Get(ctx, key)
		if err != nil {
			log.Warn("config cache read failed", "error", err)
		}
		if ok {
			cfg, source, found = c, "cache", true
		}
	}

	for _, src := range r.Sources {
		if found {
			break
		}
		c, ok, err := src.Lookup(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Warn("config source failed", "source", src.Name(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := c.Validate(); err != nil {
			log.Warn("config source returned invalid config", "source", src.Name(), "error", err)
			continue
		}
		cfg, source, found = c, src.Name(), true
		if r.Cache != nil && key != "" {
			if err := r.Cache.Set(ctx, key, c); err != nil {
				log.Warn("config cache write failed", "error", err)
			}
		}
	}
	if !found {
		return nil, core.NewConfigurationMissingError(req.CallID)
	}

	res := &Result{Config: cfg, Source: source}
	if r.History != nil && req.ThreadID() != "" {
		turns, err := r.History.ListTurns(ctx, req.ThreadID(), r.HistoryLimit)
		if err != nil {
			log.Warn("conversation history read failed", "error", err)
		} else {
			res.History = turns
		}
	}
	log.Debug("call config resolved", "source", source, "agent_id", cfg.AgentID)
	return res, nil
}
