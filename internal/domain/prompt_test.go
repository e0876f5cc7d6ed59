package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePromptCollapsesWhitespaceAndCase(t *testing.T) {
	got := NormalizePrompt("  A Cat  On\tA   Mat ")
	assert.Equal(t, "a cat on a mat", got)
}

func TestNormalizePromptIdempotent(t *testing.T) {
	inputs := []string{
		"A Cat  On A Mat",
		"ｆｕｌｌｗｉｄｔｈ ｔｅｘｔ",
		"already normal",
		"",
		"   ",
	}
	for _, in := range inputs {
		once := NormalizePrompt(in)
		assert.Equal(t, once, NormalizePrompt(once), "input %q", in)
	}
}

func TestNormalizePromptAppliesNFKC(t *testing.T) {
	// Fullwidth forms fold to their ASCII equivalents under NFKC.
	assert.Equal(t, "abc 123", NormalizePrompt("ＡＢＣ　１２３"))
}

func TestHashPromptMatchesNormalizedDigest(t *testing.T) {
	sum := sha256.Sum256([]byte("a red bicycle"))
	assert.Equal(t, hex.EncodeToString(sum[:]), HashPrompt("  A Red  Bicycle "))
}

func TestHashPromptCollapsesEquivalentPrompts(t *testing.T) {
	assert.Equal(t, HashPrompt("A Cat  On A Mat"), HashPrompt("a cat on a mat"))
	assert.NotEqual(t, HashPrompt("a cat on a mat"), HashPrompt("a dog on a mat"))
}

func TestNewPromptRecordDerivesHash(t *testing.T) {
	rec := NewPromptRecord("Sunset over water", "gemini-2.5-flash-image-preview")
	assert.Equal(t, HashPrompt("Sunset over water"), rec.PromptHash)
	assert.False(t, rec.HasThumbnail())
}
