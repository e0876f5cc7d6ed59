package domain

import "context"

// LedgerStats summarizes the prompt ledger.
type LedgerStats struct {
	TotalPrompts         int64
	TotalUses            int64
	TotalFails           int64
	PromptsWithThumbnail int64
	MostPopularPrompt    string
	MostPopularUses      int64
	MostFailedPrompt     string
	MostFailedFails      int64
}

// PromptLedger is the deduplicating, counter-tracking store of
// prompts. Mutating operations are single atomic statements against
// the backing table; the unique hash constraint is the dedup safety
// net under concurrent creation.
type PromptLedger interface {
	// ExistsByText normalizes and hashes text and checks for a match.
	ExistsByText(ctx context.Context, text string) (bool, error)

	// Create inserts a new record. Returns ErrDuplicatePrompt when a
	// record with the same normalized hash already exists.
	Create(ctx context.Context, record *PromptRecord) (*PromptRecord, error)

	// Update increments total_uses and refreshes last_used_at for the
	// record matching the hash of text. Returns ErrNotFound when no
	// such record exists; it never creates.
	Update(ctx context.Context, text, model string) (*PromptRecord, error)

	// AttemptSave updates the existing record for text or creates one
	// with total_uses=1. Best-effort: storage errors are logged and a
	// nil record returned, never an error.
	AttemptSave(ctx context.Context, text, model string, thumb *Thumbnail) *PromptRecord

	// IncrementUsageByID bumps total_uses for the given id. Returns
	// false when no row matches; missing rows are not an error.
	IncrementUsageByID(ctx context.Context, id int64) (bool, error)

	// TrackFailureByID bumps total_fails for the given id.
	TrackFailureByID(ctx context.Context, id int64) (bool, error)

	// TrackFailure bumps total_fails for the record matching text.
	TrackFailure(ctx context.Context, text string) (bool, error)

	GetByID(ctx context.Context, id int64) (*PromptRecord, error)
	GetByHash(ctx context.Context, hash string) (*PromptRecord, error)
	GetThumbnail(ctx context.Context, id int64) (*Thumbnail, error)

	// Gallery queries; restricted to records with thumbnails. model
	// filters when non-empty.
	Recent(ctx context.Context, limit int, model string) ([]PromptRecord, error)
	Popular(ctx context.Context, limit int, model string) ([]PromptRecord, error)
	MostFailed(ctx context.Context, limit int, model string) ([]PromptRecord, error)
	Search(ctx context.Context, query string, limit int) ([]PromptRecord, error)

	Stats(ctx context.Context) (*LedgerStats, error)

	// UpdateText replaces the prompt text (and hash) of an existing
	// record. Returns ErrNotFound or ErrDuplicatePrompt as applicable.
	UpdateText(ctx context.Context, id int64, text string) (*PromptRecord, error)

	Delete(ctx context.Context, id int64) (bool, error)

	// CleanupOld deletes thumbnail-less records whose last_used_at is
	// strictly older than the given age in days. Records with
	// thumbnails are never removed.
	CleanupOld(ctx context.Context, days int) (int64, error)
}
