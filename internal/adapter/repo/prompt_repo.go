package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

const promptColumns = `id, prompt_text, prompt_hash, total_uses, total_fails, first_used_at, last_used_at, model, thumbnail, thumbnail_mime, thumbnail_width, thumbnail_height`

// DBTX is the subset of pgxpool.Pool the repository issues statements
// through; tests substitute a fake.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PromptRepositoryPG implements domain.PromptLedger backed by
// PostgreSQL. Every mutating operation is a single statement; the
// unique index on prompt_hash resolves concurrent inserts of the same
// normalized prompt.
type PromptRepositoryPG struct {
	pool   DBTX
	logger zerolog.Logger
}

var _ domain.PromptLedger = (*PromptRepositoryPG)(nil)

// NewPromptRepository creates a new PromptRepositoryPG.
func NewPromptRepository(pool DBTX, logger zerolog.Logger) *PromptRepositoryPG {
	return &PromptRepositoryPG{pool: pool, logger: logger.With().Str("component", "prompt_repo").Logger()}
}

// ExistsByText checks for a record matching the normalized hash of text.
func (r *PromptRepositoryPG) ExistsByText(ctx context.Context, text string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM prompts WHERE prompt_hash = $1)`, domain.HashPrompt(text)).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts a new record. The hash is recomputed from the text so
// callers cannot store a mismatched pair. The caller's counters are
// honored, clamped at zero: a record may legitimately start with
// total_uses=0 when the prompt is saved before any generation. Returns
// domain.ErrDuplicatePrompt when the hash already exists.
func (r *PromptRepositoryPG) Create(ctx context.Context, record *domain.PromptRecord) (*domain.PromptRecord, error) {
	query := `
INSERT INTO prompts (prompt_text, prompt_hash, total_uses, total_fails, model, thumbnail, thumbnail_mime, thumbnail_width, thumbnail_height)
VALUES ($1, $2, GREATEST($3, 0), GREATEST($4, 0), $5, $6, $7, $8, $9)
RETURNING ` + promptColumns + `;
`
	thumbData, thumbMIME, thumbW, thumbH := thumbnailFields(record.Thumbnail)
	row := r.pool.QueryRow(ctx, query,
		record.PromptText,
		domain.HashPrompt(record.PromptText),
		record.TotalUses,
		record.TotalFails,
		record.Model,
		thumbData,
		thumbMIME,
		thumbW,
		thumbH,
	)

	created, err := scanPrompt(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicatePrompt
		}
		return nil, err
	}
	return created, nil
}

// Update increments total_uses and refreshes last_used_at for the
// record matching the hash of text. The model column is refreshed when
// a non-empty model is given. Never creates; returns domain.ErrNotFound
// when the prompt is unknown.
func (r *PromptRepositoryPG) Update(ctx context.Context, text, model string) (*domain.PromptRecord, error) {
	query := `
UPDATE prompts
SET total_uses = total_uses + 1,
    last_used_at = NOW(),
    model = COALESCE(NULLIF($2, ''), model)
WHERE prompt_hash = $1
RETURNING ` + promptColumns + `;
`
	return scanPrompt(r.pool.QueryRow(ctx, query, domain.HashPrompt(text), model))
}

// AttemptSave updates the record for text or creates it with
// total_uses=1. Best-effort: failures are logged and swallowed so a
// ledger outage never breaks a successful generation.
func (r *PromptRepositoryPG) AttemptSave(ctx context.Context, text, model string, thumb *domain.Thumbnail) *domain.PromptRecord {
	record := domain.NewPromptRecord(text, model)
	record.TotalUses = 1
	record.Thumbnail = thumb

	created, err := r.Create(ctx, record)
	if err == nil {
		return created
	}
	if errors.Is(err, domain.ErrDuplicatePrompt) {
		// Lost the insert race or the prompt predates this call.
		updated, uerr := r.Update(ctx, text, model)
		if uerr == nil {
			return updated
		}
		err = uerr
	}
	r.logger.Warn().Err(err).Str("hash", domain.HashPrompt(text)).Msg("prompt autosave failed")
	return nil
}

// IncrementUsageByID bumps total_uses for id. A missing row reports
// false without an error.
func (r *PromptRepositoryPG) IncrementUsageByID(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE prompts SET total_uses = total_uses + 1, last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TrackFailureByID bumps total_fails for id. Failures count as
// activity, so last_used_at is refreshed to keep the record out of
// the cleanup window.
func (r *PromptRepositoryPG) TrackFailureByID(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE prompts SET total_fails = total_fails + 1, last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TrackFailure bumps total_fails for the record matching text. Unknown
// prompts are not recorded. Like TrackFailureByID, a failure refreshes
// last_used_at.
func (r *PromptRepositoryPG) TrackFailure(ctx context.Context, text string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE prompts SET total_fails = total_fails + 1, last_used_at = NOW() WHERE prompt_hash = $1`, domain.HashPrompt(text))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID fetches a record by primary key.
func (r *PromptRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.PromptRecord, error) {
	return scanPrompt(r.pool.QueryRow(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = $1`, id))
}

// GetByHash fetches a record by its normalized prompt hash.
func (r *PromptRepositoryPG) GetByHash(ctx context.Context, hash string) (*domain.PromptRecord, error) {
	return scanPrompt(r.pool.QueryRow(ctx, `SELECT `+promptColumns+` FROM prompts WHERE prompt_hash = $1`, hash))
}

// GetThumbnail returns the stored preview for id. domain.ErrNotFound
// covers both an unknown id and a record without a thumbnail.
func (r *PromptRepositoryPG) GetThumbnail(ctx context.Context, id int64) (*domain.Thumbnail, error) {
	row := r.pool.QueryRow(ctx, `SELECT thumbnail, thumbnail_mime, thumbnail_width, thumbnail_height FROM prompts WHERE id = $1 AND thumbnail IS NOT NULL`, id)

	var thumb domain.Thumbnail
	if err := row.Scan(&thumb.Data, &thumb.MIME, &thumb.Width, &thumb.Height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &thumb, nil
}

// Recent lists thumbnail-bearing records ordered by last_used_at.
func (r *PromptRepositoryPG) Recent(ctx context.Context, limit int, model string) ([]domain.PromptRecord, error) {
	return r.gallery(ctx, "last_used_at DESC", limit, model)
}

// Popular lists thumbnail-bearing records ordered by total_uses.
func (r *PromptRepositoryPG) Popular(ctx context.Context, limit int, model string) ([]domain.PromptRecord, error) {
	return r.gallery(ctx, "total_uses DESC, last_used_at DESC", limit, model)
}

// MostFailed lists thumbnail-bearing records ordered by total_fails.
func (r *PromptRepositoryPG) MostFailed(ctx context.Context, limit int, model string) ([]domain.PromptRecord, error) {
	return r.gallery(ctx, "total_fails DESC, last_used_at DESC", limit, model)
}

func (r *PromptRepositoryPG) gallery(ctx context.Context, order string, limit int, model string) ([]domain.PromptRecord, error) {
	query := `
SELECT ` + promptColumns + `
FROM prompts
WHERE thumbnail IS NOT NULL
  AND ($2 = '' OR model = $2)
ORDER BY ` + order + `
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, normalizeLimit(limit), model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrompts(rows)
}

// Search finds records whose text contains query, case-insensitively,
// most recently used first. Thumbnail-less records are included.
func (r *PromptRepositoryPG) Search(ctx context.Context, query string, limit int) ([]domain.PromptRecord, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := r.pool.Query(ctx, `
SELECT `+promptColumns+`
FROM prompts
WHERE prompt_text ILIKE $1
ORDER BY last_used_at DESC
LIMIT $2;
`, pattern, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrompts(rows)
}

// Stats aggregates ledger-wide counters in one round trip.
func (r *PromptRepositoryPG) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	query := `
SELECT COUNT(*),
       COALESCE(SUM(total_uses), 0),
       COALESCE(SUM(total_fails), 0),
       COUNT(*) FILTER (WHERE thumbnail IS NOT NULL),
       COALESCE((SELECT prompt_text FROM prompts ORDER BY total_uses DESC, last_used_at DESC LIMIT 1), ''),
       COALESCE((SELECT total_uses FROM prompts ORDER BY total_uses DESC, last_used_at DESC LIMIT 1), 0),
       COALESCE((SELECT prompt_text FROM prompts WHERE total_fails > 0 ORDER BY total_fails DESC LIMIT 1), ''),
       COALESCE((SELECT total_fails FROM prompts WHERE total_fails > 0 ORDER BY total_fails DESC LIMIT 1), 0)
FROM prompts;
`
	var stats domain.LedgerStats
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalPrompts,
		&stats.TotalUses,
		&stats.TotalFails,
		&stats.PromptsWithThumbnail,
		&stats.MostPopularPrompt,
		&stats.MostPopularUses,
		&stats.MostFailedPrompt,
		&stats.MostFailedFails,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// UpdateText replaces the prompt text of an existing record and
// recomputes its hash. Counters and thumbnail are untouched.
func (r *PromptRepositoryPG) UpdateText(ctx context.Context, id int64, text string) (*domain.PromptRecord, error) {
	query := `
UPDATE prompts
SET prompt_text = $2,
    prompt_hash = $3
WHERE id = $1
RETURNING ` + promptColumns + `;
`
	record, err := scanPrompt(r.pool.QueryRow(ctx, query, id, text, domain.HashPrompt(text)))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicatePrompt
		}
		return nil, err
	}
	return record, nil
}

// Delete removes a record by id.
func (r *PromptRepositoryPG) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM prompts WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CleanupOld deletes thumbnail-less records strictly older than the
// given age in days. Records with thumbnails are never removed.
func (r *PromptRepositoryPG) CleanupOld(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
DELETE FROM prompts
WHERE thumbnail IS NULL
  AND last_used_at < NOW() - ($1 * INTERVAL '1 day');
`, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPrompt(row pgx.Row) (*domain.PromptRecord, error) {
	var (
		p         domain.PromptRecord
		thumbData []byte
		thumbMIME *string
		thumbW    *int
		thumbH    *int
	)
	err := row.Scan(&p.ID, &p.PromptText, &p.PromptHash, &p.TotalUses, &p.TotalFails, &p.FirstUsedAt, &p.LastUsedAt, &p.Model, &thumbData, &thumbMIME, &thumbW, &thumbH)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(thumbData) > 0 && thumbMIME != nil && thumbW != nil && thumbH != nil {
		p.Thumbnail = &domain.Thumbnail{Data: thumbData, MIME: *thumbMIME, Width: *thumbW, Height: *thumbH}
	}
	return &p, nil
}

func scanPrompts(rows pgx.Rows) ([]domain.PromptRecord, error) {
	records := make([]domain.PromptRecord, 0)
	for rows.Next() {
		record, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func thumbnailFields(thumb *domain.Thumbnail) ([]byte, *string, *int, *int) {
	if thumb == nil || len(thumb.Data) == 0 {
		return nil, nil, nil, nil
	}
	return thumb.Data, &thumb.MIME, &thumb.Width, &thumb.Height
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
