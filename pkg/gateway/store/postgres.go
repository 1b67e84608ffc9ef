package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vango-go/voicebridge/pkg/core"
)

const (
	pgFindByAgent = `SELECT config FROM agent_configs WHERE agent_id = $1`

	pgFindByNumber = `SELECT c.config FROM agent_configs c
JOIN agent_numbers n ON n.agent_id = c.agent_id
WHERE n.number = $1`

	pgUpsertConfig = `INSERT INTO agent_configs (agent_id, config, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (agent_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`

	pgUpsertNumber = `INSERT INTO agent_numbers (number, agent_id) VALUES ($1, $2)
ON CONFLICT (number) DO UPDATE SET agent_id = excluded.agent_id`

	pgAppendTurn = `INSERT INTO conversation_turns (id, thread_id, channel, seq, role, modality, text, created_at)
SELECT $1::text, $2::text, $3::text, COALESCE(MAX(seq), 0) + 1, $4::text, $5::text, $6::text, $7::bigint
FROM conversation_turns WHERE thread_id = $2::text`

	pgListTurns = `SELECT id, role, modality, text, created_at FROM conversation_turns
WHERE thread_id = $1 ORDER BY seq DESC LIMIT $2`

	// Serializes appends to one thread so seq stays dense.
	pgLockThread = `SELECT pg_advisory_xact_lock(hashtext($1))`
)

// Postgres is the pgx backed store.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// OpenPostgres connects to url and applies pending migrations.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns < 4 {
		cfg.MaxConns = 4
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{pool: pool, db: stdlib.OpenDBFromPool(pool)}
	if err := p.Migrate(ctx, "up"); err != nil {
		p.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return p, nil
}

// Migrate runs goose over a database/sql view of the pool.
func (p *Postgres) Migrate(ctx context.Context, command string) error {
	return Migrate(ctx, p.db, DialectPostgres, command)
}

func (p *Postgres) FindAgentConfig(ctx context.Context, agentID, number string) (core.AgentConfig, bool, error) {
	query, arg := pgFindByAgent, strings.TrimSpace(agentID)
	if arg == "" {
		query, arg = pgFindByNumber, strings.TrimSpace(number)
	}
	if arg == "" {
		return core.AgentConfig{}, false, nil
	}
	var raw string
	err := p.pool.QueryRow(ctx, query, arg).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.AgentConfig{}, false, nil
	}
	if err != nil {
		return core.AgentConfig{}, false, fmt.Errorf("find agent config: %w", err)
	}
	return decodeConfig(raw)
}

func (p *Postgres) PutAgentConfig(ctx context.Context, cfg core.AgentConfig, numbers []string) error {
	raw, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgUpsertConfig, cfg.AgentID, raw, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("upsert agent config: %w", err)
		}
		for _, n := range cleanNumbers(numbers) {
			if _, err := tx.Exec(ctx, pgUpsertNumber, n, cfg.AgentID); err != nil {
				return fmt.Errorf("upsert agent number: %w", err)
			}
		}
		return nil
	})
}

func (p *Postgres) AppendTurn(ctx context.Context, threadID, channel string, turn core.Turn) error {
	if err := validateTurn(threadID, turn); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgLockThread, threadID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, pgAppendTurn,
			turn.ID, threadID, channel, string(turn.Role), string(turn.Modality), turn.Text,
			turn.Timestamp.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (p *Postgres) ListTurns(ctx context.Context, threadID string, limit int) ([]core.Turn, error) {
	rows, err := p.pool.Query(ctx, pgListTurns, threadID, listLimit(limit))
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

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	err := p.db.Close()
	p.pool.Close()
	return err
}
