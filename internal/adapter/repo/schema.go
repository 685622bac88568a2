package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ad_jobs (
    job_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'submitted',
    payload JSONB,
    video_url TEXT,
    n8n_raw JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    version BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ad_jobs_status ON ad_jobs (status);
CREATE INDEX IF NOT EXISTS idx_ad_jobs_created_at ON ad_jobs (created_at);
`

// EnsureSchema creates the job table when it does not exist yet, so a fresh
// database works without a separate provisioning step.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
