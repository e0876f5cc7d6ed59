package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the prompts table and its indexes when absent.
// Statements are idempotent so the call is safe on every boot.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS prompts (
    id               BIGSERIAL PRIMARY KEY,
    prompt_text      TEXT        NOT NULL,
    prompt_hash      TEXT        NOT NULL,
    total_uses       BIGINT      NOT NULL DEFAULT 1,
    total_fails      BIGINT      NOT NULL DEFAULT 0,
    first_used_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_used_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    model            TEXT        NOT NULL DEFAULT '',
    thumbnail        BYTEA,
    thumbnail_mime   TEXT,
    thumbnail_width  INT,
    thumbnail_height INT
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_hash ON prompts (prompt_hash);`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_last_used_at ON prompts (last_used_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_total_uses ON prompts (total_uses DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_model ON prompts (model);`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
