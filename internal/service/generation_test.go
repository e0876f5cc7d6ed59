package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/domain"
	"server/internal/infra"
	image "server/internal/providers/image"
)

type stubGenerator struct {
	name      string
	model     string
	data      []byte
	err       error
	textCalls int
	oneCalls  int
	manyCalls int
}

func (g *stubGenerator) Name() string  { return g.name }
func (g *stubGenerator) Model() string { return g.model }

func (g *stubGenerator) GenerateFromText(ctx context.Context, prompt string) ([]byte, string, error) {
	g.textCalls++
	return g.data, "image/png", g.err
}

func (g *stubGenerator) GenerateFromImageAndText(ctx context.Context, img domain.File, prompt string) ([]byte, string, error) {
	g.oneCalls++
	return g.data, "image/png", g.err
}

func (g *stubGenerator) GenerateFromMultipleImagesAndText(ctx context.Context, imgs []domain.File, prompt string) ([]byte, string, error) {
	g.manyCalls++
	return g.data, "image/png", g.err
}

type stubFactory struct {
	gen     *stubGenerator
	err     error
	created []string
}

func (f *stubFactory) Create(name string, apiKey ...string) (image.Generator, error) {
	f.created = append(f.created, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.gen, nil
}

func (f *stubFactory) Available() []string { return []string{f.gen.name} }

type stubLedger struct {
	exists       bool
	existsErr    error
	records      map[int64]*domain.PromptRecord
	updated      []string
	incremented  []int64
	failedIDs    []int64
	failedTexts  []string
	attemptSaves int
	savedThumb   *domain.Thumbnail
	createErr    error
	trackErr     error
}

func newStubLedger() *stubLedger {
	return &stubLedger{records: map[int64]*domain.PromptRecord{}}
}

func (l *stubLedger) ExistsByText(ctx context.Context, text string) (bool, error) {
	return l.exists, l.existsErr
}

func (l *stubLedger) Create(ctx context.Context, record *domain.PromptRecord) (*domain.PromptRecord, error) {
	if l.createErr != nil {
		return nil, l.createErr
	}
	record.ID = int64(len(l.records) + 1)
	l.records[record.ID] = record
	return record, nil
}

func (l *stubLedger) Update(ctx context.Context, text, model string) (*domain.PromptRecord, error) {
	l.updated = append(l.updated, text)
	rec := domain.NewPromptRecord(text, model)
	rec.TotalUses = 2
	return rec, nil
}

func (l *stubLedger) AttemptSave(ctx context.Context, text, model string, thumb *domain.Thumbnail) *domain.PromptRecord {
	l.attemptSaves++
	l.savedThumb = thumb
	rec := domain.NewPromptRecord(text, model)
	rec.TotalUses = 1
	return rec
}

func (l *stubLedger) IncrementUsageByID(ctx context.Context, id int64) (bool, error) {
	l.incremented = append(l.incremented, id)
	_, ok := l.records[id]
	return ok, nil
}

func (l *stubLedger) TrackFailureByID(ctx context.Context, id int64) (bool, error) {
	if l.trackErr != nil {
		return false, l.trackErr
	}
	l.failedIDs = append(l.failedIDs, id)
	return true, nil
}

func (l *stubLedger) TrackFailure(ctx context.Context, text string) (bool, error) {
	if l.trackErr != nil {
		return false, l.trackErr
	}
	l.failedTexts = append(l.failedTexts, text)
	return l.exists, nil
}

func (l *stubLedger) GetByID(ctx context.Context, id int64) (*domain.PromptRecord, error) {
	if rec, ok := l.records[id]; ok {
		return rec, nil
	}
	return nil, domain.ErrNotFound
}

func (l *stubLedger) GetByHash(ctx context.Context, hash string) (*domain.PromptRecord, error) {
	return nil, domain.ErrNotFound
}

func (l *stubLedger) GetThumbnail(ctx context.Context, id int64) (*domain.Thumbnail, error) {
	return nil, domain.ErrNotFound
}

func (l *stubLedger) Recent(ctx context.Context, limit int, model string) ([]domain.PromptRecord, error) {
	return nil, nil
}

func (l *stubLedger) Popular(ctx context.Context, limit int, model string) ([]domain.PromptRecord, error) {
	return nil, nil
}

func (l *stubLedger) MostFailed(ctx context.Context, limit int, model string) ([]domain.PromptRecord, error) {
	return nil, nil
}

func (l *stubLedger) Search(ctx context.Context, query string, limit int) ([]domain.PromptRecord, error) {
	return nil, nil
}

func (l *stubLedger) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	return &domain.LedgerStats{}, nil
}

func (l *stubLedger) UpdateText(ctx context.Context, id int64, text string) (*domain.PromptRecord, error) {
	return nil, domain.ErrNotFound
}

func (l *stubLedger) Delete(ctx context.Context, id int64) (bool, error) { return false, nil }

func (l *stubLedger) CleanupOld(ctx context.Context, days int) (int64, error) { return 0, nil }

var _ domain.PromptLedger = (*stubLedger)(nil)

func newService(ledger *stubLedger, factory *stubFactory, autoSave bool) *GenerationService {
	cfg := &infra.Config{
		DefaultProvider:          "stub",
		AutosavePrompts:          autoSave,
		MaxConcurrentGenerations: 2,
	}
	return NewGenerationService(cfg, factory, ledger, zerolog.Nop())
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	factory := &stubFactory{gen: &stubGenerator{name: "stub"}}
	svc := newService(newStubLedger(), factory, false)

	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "   "})
	require.ErrorIs(t, err, domain.ErrInvalidPrompt)
	assert.Empty(t, factory.created, "no provider call for invalid input")
}

func TestGenerateRejectsOversizedPrompt(t *testing.T) {
	svc := newService(newStubLedger(), &stubFactory{gen: &stubGenerator{name: "stub"}}, false)

	long := make([]byte, domain.MaxPromptLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: string(long)})
	require.ErrorIs(t, err, domain.ErrInvalidPrompt)
}

func TestGeneratePromptLimitCountsRunesNotBytes(t *testing.T) {
	svc := newService(newStubLedger(), &stubFactory{gen: &stubGenerator{name: "stub", data: []byte{0x01}}}, false)

	// 1500 CJK runes are 4500 bytes; only the rune count matters.
	within := strings.Repeat("山", 1500)
	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: within})
	require.NoError(t, err)

	over := strings.Repeat("山", domain.MaxPromptLength+1)
	_, err = svc.Generate(context.Background(), GenerateInput{Prompt: over})
	require.ErrorIs(t, err, domain.ErrInvalidPrompt)
}

func TestGenerateBumpsUsageForKnownText(t *testing.T) {
	ledger := newStubLedger()
	ledger.exists = true
	gen := &stubGenerator{name: "stub", model: "m1", data: []byte{0x01}}
	svc := newService(ledger, &stubFactory{gen: gen}, false)

	result, err := svc.Generate(context.Background(), GenerateInput{Prompt: "a red bicycle"})
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Equal(t, []string{"a red bicycle"}, ledger.updated)
	assert.Equal(t, 1, gen.textCalls)
	assert.Zero(t, ledger.attemptSaves)
}

func TestGenerateBumpsUsageByID(t *testing.T) {
	ledger := newStubLedger()
	ledger.records[7] = &domain.PromptRecord{ID: 7, PromptText: "a red bicycle"}
	svc := newService(ledger, &stubFactory{gen: &stubGenerator{name: "stub", data: []byte{0x01}}}, false)

	result, err := svc.Generate(context.Background(), GenerateInput{Prompt: "a red bicycle", PromptID: 7})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ledger.incremented)
	require.NotNil(t, result.Record)
	assert.Equal(t, int64(7), result.Record.ID)
}

func TestGenerateUnseenPromptNotPersistedWithoutAutosave(t *testing.T) {
	ledger := newStubLedger()
	svc := newService(ledger, &stubFactory{gen: &stubGenerator{name: "stub", data: []byte{0x01}}}, false)

	result, err := svc.Generate(context.Background(), GenerateInput{Prompt: "never seen"})
	require.NoError(t, err)
	assert.Nil(t, result.Record)
	assert.Zero(t, ledger.attemptSaves)
	assert.Empty(t, ledger.updated)
}

func TestGenerateAutosavesUnseenPrompt(t *testing.T) {
	ledger := newStubLedger()
	svc := newService(ledger, &stubFactory{gen: &stubGenerator{name: "stub", model: "m1", data: []byte{0x01}}}, true)

	result, err := svc.Generate(context.Background(), GenerateInput{Prompt: "never seen"})
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Equal(t, 1, ledger.attemptSaves)
}

func TestGenerateFailureTracksKnownPromptOnly(t *testing.T) {
	ledger := newStubLedger()
	gen := &stubGenerator{name: "stub", err: errors.New("vendor down")}
	svc := newService(ledger, &stubFactory{gen: gen}, true)

	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "doomed prompt"})
	require.Error(t, err)
	assert.Equal(t, []string{"doomed prompt"}, ledger.failedTexts)
	assert.Empty(t, ledger.records, "failures never create records")
	assert.Zero(t, ledger.attemptSaves)
}

func TestGenerateFailureTracksByID(t *testing.T) {
	ledger := newStubLedger()
	gen := &stubGenerator{name: "stub", err: errors.New("vendor down")}
	svc := newService(ledger, &stubFactory{gen: gen}, false)

	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "doomed prompt", PromptID: 3})
	require.Error(t, err)
	assert.Equal(t, []int64{3}, ledger.failedIDs)
	assert.Empty(t, ledger.failedTexts)
}

func TestGenerateReturnsVendorErrorWhenTrackingFails(t *testing.T) {
	ledger := newStubLedger()
	ledger.trackErr = errors.New("db down")
	vendorErr := errors.New("vendor down")
	svc := newService(ledger, &stubFactory{gen: &stubGenerator{name: "stub", err: vendorErr}}, false)

	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "doomed prompt"})
	require.ErrorIs(t, err, vendorErr)
}

func TestGenerateDispatchesByImageCount(t *testing.T) {
	gen := &stubGenerator{name: "stub", data: []byte{0x01}}
	svc := newService(newStubLedger(), &stubFactory{gen: gen}, false)

	imgs := []domain.File{
		domain.NewUpload("a.png", "image/png", []byte{0x0a}),
		domain.NewUpload("b.png", "image/png", []byte{0x0b}),
	}

	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "p"})
	require.NoError(t, err)
	result, err := svc.Generate(context.Background(), GenerateInput{Prompt: "p", Images: imgs[:1]})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ReferenceDataURL, "data:image/png;base64,"))
	_, err = svc.Generate(context.Background(), GenerateInput{Prompt: "p", Images: imgs})
	require.NoError(t, err)

	assert.Equal(t, 1, gen.textCalls)
	assert.Equal(t, 1, gen.oneCalls)
	assert.Equal(t, 1, gen.manyCalls)
}

func TestSavePromptDuplicateFallsBackToUpdate(t *testing.T) {
	ledger := newStubLedger()
	ledger.createErr = domain.ErrDuplicatePrompt
	svc := newService(ledger, &stubFactory{gen: &stubGenerator{name: "stub"}}, false)

	record, err := svc.SavePrompt(context.Background(), SaveInput{Prompt: "a red bicycle", Model: "m1"})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, []string{"a red bicycle"}, ledger.updated)
}

func TestSavePromptCreatesRecord(t *testing.T) {
	ledger := newStubLedger()
	svc := newService(ledger, &stubFactory{gen: &stubGenerator{name: "stub"}}, false)

	record, err := svc.SavePrompt(context.Background(), SaveInput{Prompt: "a red bicycle", Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.TotalUses)
	assert.Len(t, ledger.records, 1)
}
