package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MaxPromptLength is the upper bound for user-supplied prompt text.
const MaxPromptLength = 2000

// Thumbnail is a rendered preview of a generation result. The four
// fields are populated together or not at all.
type Thumbnail struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// PromptRecord is one row of the prompt ledger. Identity is the
// SHA-256 hash of the normalized prompt text, so two prompts that
// differ only in case or whitespace collapse to one record.
type PromptRecord struct {
	ID          int64
	PromptText  string
	PromptHash  string
	TotalUses   int64
	TotalFails  int64
	FirstUsedAt time.Time
	LastUsedAt  time.Time
	Model       string
	Thumbnail   *Thumbnail
}

// HasThumbnail reports whether the record carries a preview image.
func (p *PromptRecord) HasThumbnail() bool {
	return p.Thumbnail != nil && len(p.Thumbnail.Data) > 0
}

// NormalizePrompt canonicalizes prompt text for hashing: NFKC
// normalization, lowercase, trim, and collapse of internal whitespace
// runs to a single space. The function is idempotent.
func NormalizePrompt(prompt string) string {
	if prompt == "" {
		return ""
	}
	normalized := norm.NFKC.String(prompt)
	normalized = strings.ToLower(strings.TrimSpace(normalized))
	return strings.Join(strings.Fields(normalized), " ")
}

// HashPrompt returns the hex SHA-256 digest of the normalized prompt.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(NormalizePrompt(prompt)))
	return hex.EncodeToString(sum[:])
}

// NewPromptRecord builds an unsaved record with the hash derived from
// the text.
func NewPromptRecord(text, model string) *PromptRecord {
	return &PromptRecord{
		PromptText: text,
		PromptHash: HashPrompt(text),
		Model:      model,
	}
}
