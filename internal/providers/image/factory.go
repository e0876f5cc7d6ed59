package image

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"server/internal/infra"
)

// UnsupportedProviderError reports a provider name outside the
// registered set.
type UnsupportedProviderError struct {
	Name      string
	Available []string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

var providerNames = []string{
	geminiProviderName,
	huggingFaceProviderName,
	replicateProviderName,
	stabilityProviderName,
}

// Factory builds provider adapters from configuration. API keys
// resolve in priority order: explicit argument, environment variable,
// configured value; construction fails fast when none is set.
type Factory struct {
	cfg        *infra.Config
	httpClient *http.Client
}

// NewFactory constructs a factory. httpClient may be nil; each
// adapter then creates its own client with a vendor-suited timeout.
func NewFactory(cfg *infra.Config, httpClient *http.Client) *Factory {
	return &Factory{cfg: cfg, httpClient: httpClient}
}

// Create resolves a provider name (case-insensitive, trimmed) to an
// adapter. An optional explicit API key overrides environment and
// configuration.
func (f *Factory) Create(name string, apiKey ...string) (Generator, error) {
	explicit := ""
	if len(apiKey) > 0 {
		explicit = apiKey[0]
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case geminiProviderName:
		return NewGeminiGenerator(GeminiOptions{
			APIKey:     resolveKey(explicit, "GEMINI_API_KEY", f.cfg.GeminiAPIKey),
			Model:      f.cfg.GeminiModel,
			BaseURL:    f.cfg.GeminiBaseURL,
			HTTPClient: f.httpClient,
		})
	case replicateProviderName:
		return NewReplicateGenerator(ReplicateOptions{
			APIKey:     resolveKey(explicit, "REPLICATE_API_KEY", f.cfg.ReplicateAPIKey),
			Model:      f.cfg.ReplicateModel,
			BaseURL:    f.cfg.ReplicateBaseURL,
			HTTPClient: f.httpClient,
		})
	case stabilityProviderName:
		return NewStabilityGenerator(StabilityOptions{
			APIKey:     resolveKey(explicit, "STABILITY_API_KEY", f.cfg.StabilityAPIKey),
			BaseURL:    f.cfg.StabilityBaseURL,
			HTTPClient: f.httpClient,
		})
	case huggingFaceProviderName:
		return NewHuggingFaceGenerator(HuggingFaceOptions{
			APIKey:     resolveKey(explicit, "HUGGINGFACE_API_KEY", f.cfg.HuggingFaceAPIKey),
			Model:      f.cfg.HuggingFaceModel,
			BaseURL:    f.cfg.HuggingFaceBaseURL,
			HTTPClient: f.httpClient,
		})
	default:
		return nil, &UnsupportedProviderError{Name: name, Available: f.Available()}
	}
}

// Available returns the registered provider names, sorted.
func (f *Factory) Available() []string {
	names := make([]string, len(providerNames))
	copy(names, providerNames)
	sort.Strings(names)
	return names
}

func resolveKey(explicit, envName, configured string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if v := os.Getenv(envName); strings.TrimSpace(v) != "" {
		return v
	}
	return configured
}
