package candidates

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// DBPool abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore serves element records from the capture pipeline's PostgreSQL
// table. Like every CandidateStore it is strictly read-only: the capture
// pipeline owns writes.
type PGStore struct {
	pool DBPool
	log  *zap.Logger
}

const selectRecordsSQL = `
SELECT id, page_context, selectors, action, visible_text, tag, captured_at
FROM element_records
WHERE page_context = $1
ORDER BY captured_at DESC`

// NewPGStore creates a new store instance and verifies the connection.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGStore{
		pool: pool,
		log:  logger.Named("candidate_store.pg"),
	}, nil
}

// RecordsForPage returns every record scoped to the given page context.
func (s *PGStore) RecordsForPage(ctx context.Context, pageContext string) ([]schemas.ElementRecord, error) {
	rows, err := s.pool.Query(ctx, selectRecordsSQL, pageContext)
	if err != nil {
		return nil, fmt.Errorf("failed to query element records: %w", err)
	}
	defer rows.Close()

	var records []schemas.ElementRecord
	for rows.Next() {
		var (
			rec          schemas.ElementRecord
			selectorsRaw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.PageContext, &selectorsRaw, &rec.Action,
			&rec.VisibleText, &rec.Tag, &rec.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan element record: %w", err)
		}
		// Selector variants are stored as a JSONB map keyed by strategy.
		if len(selectorsRaw) > 0 {
			if err := json.Unmarshal(selectorsRaw, &rec.Selectors); err != nil {
				s.log.Warn("Skipping record with malformed selectors column.",
					zap.String("record_id", rec.ID), zap.Error(err))
				continue
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating element records: %w", err)
	}

	return records, nil
}
