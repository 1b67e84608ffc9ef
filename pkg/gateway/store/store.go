// Package store persists agent configurations and the conversation log.
//
// The conversation log is append-only: turns are written once, in the order
// they were finalized, and read back only to seed a new session's history.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/vango-go/voicebridge/pkg/core"
)

// Store is the persistence surface the gateway needs.
type Store interface {
	FindAgentConfig(ctx context.Context, agentID, number string) (core.AgentConfig, bool, error)
	PutAgentConfig(ctx context.Context, cfg core.AgentConfig, numbers []string) error
	AppendTurn(ctx context.Context, threadID, channel string, turn core.Turn) error
	ListTurns(ctx context.Context, threadID string, limit int) ([]core.Turn, error)
	Ping(ctx context.Context) error
	Close() error
}

var errClosed = errors.New("store closed")

// Open returns the store named by url:
//
//	""                      in-memory
//	postgres://...          Postgres
//	sqlite:<path>           SQLite (":memory:" for a private in-memory database)
func Open(ctx context.Context, url string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		logger.Warn("no database configured; conversation log is in-memory")
		return NewMemory(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgres(ctx, url)
	case strings.HasPrefix(url, "sqlite:"):
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite:"))
	default:
		return nil, fmt.Errorf("unsupported database url scheme in %q", redact(url))
	}
}

func redact(url string) string {
	if i := strings.Index(url, "@"); i >= 0 {
		if j := strings.Index(url, "://"); j >= 0 && j < i {
			return url[:j+3] + "***" + url[i:]
		}
	}
	return url
}

func validateTurn(threadID string, turn core.Turn) error {
	if strings.TrimSpace(threadID) == "" {
		return core.NewInvalidRequestErrorWithParam("thread id is required", "thread_id")
	}
	if strings.TrimSpace(turn.ID) == "" {
		return core.NewInvalidRequestErrorWithParam("turn id is required", "id")
	}
	return nil
}

func cleanNumbers(numbers []string) []string {
	out := make([]string, 0, len(numbers))
	seen := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type storedTurn struct {
	channel string
	turn    core.Turn
}

// Memory keeps everything in process. It backs tests and deployments without
// a database.
type Memory struct {
	mu      sync.RWMutex
	configs map[string]core.AgentConfig
	numbers map[string]string
	threads map[string][]storedTurn
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{
		configs: make(map[string]core.AgentConfig),
		numbers: make(map[string]string),
		threads: make(map[string][]storedTurn),
	}
}

func (m *Memory) FindAgentConfig(_ context.Context, agentID, number string) (core.AgentConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return core.AgentConfig{}, false, errClosed
	}
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		cfg, ok := m.configs[agentID]
		return cfg, ok, nil
	}
	if id, ok := m.numbers[strings.TrimSpace(number)]; ok {
		cfg, ok := m.configs[id]
		return cfg, ok, nil
	}
	return core.AgentConfig{}, false, nil
}

func (m *Memory) PutAgentConfig(_ context.Context, cfg core.AgentConfig, numbers []string) error {
	if _, err := encodeConfig(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.configs[cfg.AgentID] = cfg
	for _, n := range cleanNumbers(numbers) {
		m.numbers[n] = cfg.AgentID
	}
	return nil
}

func (m *Memory) AppendTurn(_ context.Context, threadID, channel string, turn core.Turn) error {
	if err := validateTurn(threadID, turn); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.threads[threadID] = append(m.threads[threadID], storedTurn{channel: channel, turn: turn})
	return nil
}

func (m *Memory) ListTurns(_ context.Context, threadID string, limit int) ([]core.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	stored := m.threads[threadID]
	turns := make([]core.Turn, len(stored))
	for i, s := range stored {
		turns[i] = s.turn
	}
	return core.WindowTurns(turns, limit), nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
