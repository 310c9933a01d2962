package convlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore persists conversations to Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore runs pending migrations and opens the connection pool.
func OpenPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping conversation store: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SaveConversation writes the conversation and its turns in one transaction.
func (s *PGStore) SaveConversation(ctx context.Context, rec Record) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var conversationID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO conversations (session_id, channel, started_at, ended_at)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			rec.SessionID, rec.Channel, rec.StartedAt, rec.EndedAt,
		).Scan(&conversationID)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		for seq, turn := range rec.Turns {
			_, err := tx.Exec(ctx,
				`INSERT INTO conversation_turns (conversation_id, seq, role, content, spoken_at)
				 VALUES ($1, $2, $3, $4, $5)`,
				conversationID, seq, string(turn.Role), turn.Text, turn.At,
			)
			if err != nil {
				return fmt.Errorf("insert turn %d: %w", seq, err)
			}
		}
		return nil
	})
}

// Close releases the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
