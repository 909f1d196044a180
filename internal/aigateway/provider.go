package aigateway

import (
	"net/http"
	"strings"
)

// Provider identifies an upstream inference provider by its route slug on
// the inference gateway.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderAzure     Provider = "azure-openai"
	ProviderVertex    Provider = "google-vertex-ai"
)

// ProviderHeader overrides path-based detection when it names a known
// provider.
const ProviderHeader = "X-Shield-Provider"

var knownProviders = map[Provider]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderAzure:     true,
	ProviderVertex:    true,
}

// DetectProvider selects the upstream provider from the request path shape,
// or from the override header when present. ok is false when neither
// matches; the caller then treats the request as ordinary web traffic.
func DetectProvider(r *http.Request) (Provider, bool) {
	if override := r.Header.Get(ProviderHeader); override != "" {
		p := Provider(strings.ToLower(override))
		if knownProviders[p] {
			return p, true
		}
		return "", false
	}

	path := r.URL.Path
	switch {
	case strings.Contains(path, "/messages"):
		return ProviderAnthropic, true
	case strings.Contains(path, ":generateContent") || strings.Contains(path, ":streamGenerateContent"),
		strings.Contains(path, "/projects/") && strings.Contains(path, "/locations/"):
		return ProviderVertex, true
	case strings.Contains(path, "/deployments/"):
		return ProviderAzure, true
	case strings.Contains(path, "completions") || strings.Contains(path, "embeddings"),
		strings.HasSuffix(path, "/models") || strings.Contains(path, "/models/"):
		return ProviderOpenAI, true
	}
	return "", false
}
