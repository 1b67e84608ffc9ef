package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vango-go/voicebridge/pkg/core"
)

const (
	qFindByAgent = `SELECT config FROM agent_configs WHERE agent_id = ?`

	qFindByNumber = `SELECT c.config FROM agent_configs c
JOIN agent_numbers n ON n.agent_id = c.agent_id
WHERE n.number = ?`

	qUpsertConfig = `INSERT INTO agent_configs (agent_id, config, updated_at) VALUES (?, ?, ?)
ON CONFLICT (agent_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`

	qUpsertNumber = `INSERT INTO agent_numbers (number, agent_id) VALUES (?, ?)
ON CONFLICT (number) DO UPDATE SET agent_id = excluded.agent_id`

	qAppendTurn = `INSERT INTO conversation_turns (id, thread_id, channel, seq, role, modality, text, created_at)
SELECT ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ? FROM conversation_turns WHERE thread_id = ?`

	qListTurns = `SELECT id, role, modality, text, created_at FROM conversation_turns
WHERE thread_id = ? ORDER BY seq DESC LIMIT ?`
)

// SQLite is the database/sql backed store.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to ":memory:" is its own database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.Migrate(ctx, "up"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLite) Migrate(ctx context.Context, command string) error {
	return Migrate(ctx, s.db, DialectSQLite, command)
}

func (s *SQLite) FindAgentConfig(ctx context.Context, agentID, number string) (core.AgentConfig, bool, error) {
	query, arg := qFindByAgent, strings.TrimSpace(agentID)
	if arg == "" {
		query, arg = qFindByNumber, strings.TrimSpace(number)
	}
	if arg == "" {
		return core.AgentConfig{}, false, nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AgentConfig{}, false, nil
	}
	if err != nil {
		return core.AgentConfig{}, false, fmt.Errorf("find agent config: %w", err)
	}
	return decodeConfig(raw)
}

func (s *SQLite) PutAgentConfig(ctx context.Context, cfg core.AgentConfig, numbers []string) error {
	raw, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, qUpsertConfig, cfg.AgentID, raw, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert agent config: %w", err)
	}
	for _, n := range cleanNumbers(numbers) {
		if _, err := tx.ExecContext(ctx, qUpsertNumber, n, cfg.AgentID); err != nil {
			return fmt.Errorf("upsert agent number: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AppendTurn(ctx context.Context, threadID, channel string, turn core.Turn) error {
	if err := validateTurn(threadID, turn); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, qAppendTurn,
		turn.ID, threadID, channel, string(turn.Role), string(turn.Modality), turn.Text,
		turn.Timestamp.UnixMilli(), threadID)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *SQLite) ListTurns(ctx context.Context, threadID string, limit int) ([]core.Turn, error) {
	rows, err := s.db.QueryContext(ctx, qListTurns, threadID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	var turns []core.Turn
	for rows.Next() {
		t, err := scanTurn(rows.Scan)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return chronological(turns), nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

func encodeConfig(cfg core.AgentConfig) (string, error) {
	if strings.TrimSpace(cfg.AgentID) == "" {
		return "", core.NewInvalidRequestErrorWithParam("agent_id is required", "agent_id")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode agent config: %w", err)
	}
	return string(raw), nil
}

func decodeConfig(raw string) (core.AgentConfig, bool, error) {
	var cfg core.AgentConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return core.AgentConfig{}, false, fmt.Errorf("decode agent config: %w", err)
	}
	return cfg, true, nil
}

func scanTurn(scan func(dest ...any) error) (core.Turn, error) {
	var (
		t        core.Turn
		role     string
		modality string
		ms       int64
	)
	if err := scan(&t.ID, &role, &modality, &t.Text, &ms); err != nil {
		return core.Turn{}, fmt.Errorf("scan turn: %w", err)
	}
	t.Role = core.Role(role)
	t.Modality = core.Modality(modality)
	t.Timestamp = time.UnixMilli(ms).UTC()
	return t, nil
}

// listLimit maps "no limit" onto a value both dialects accept.
func listLimit(limit int) int64 {
	if limit <= 0 {
		return 1<<62 - 1
	}
	return int64(limit)
}

// chronological reverses newest-first rows in place.
func chronological(turns []core.Turn) []core.Turn {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}
