package callconfig

import (
	"context"

	"github.com/vango-go/voicebridge/pkg/core"
)

// AgentStore is the agent_configs table.
type AgentStore interface {
	FindAgentConfig(ctx context.Context, agentID, number string) (core.AgentConfig, bool, error)
}

// StoreSource reads configurations from the database.
type StoreSource struct {
	Store AgentStore
}

func (s StoreSource) Name() string { return "store" }

func (s StoreSource) Lookup(ctx context.Context, req Request) (core.AgentConfig, bool, error) {
	if s.Store == nil {
		return core.AgentConfig{}, false, nil
	}
	return s.Store.FindAgentConfig(ctx, req.AgentID, normalizeNumber(req.To))
}
