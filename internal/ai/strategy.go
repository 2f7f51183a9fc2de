package ai

import (
	"net/http"
	"strings"
)

// Message is one conversational turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single structured call through the gateway.
type Request struct {
	Model       string
	Messages    []Message
	Schema      map[string]any // JSON schema the reply must satisfy
	SchemaName  string
	MaxTokens   int
	Temperature *float64
}

// Strategy encapsulates one provider's request shaping, response envelope,
// and capability-error detection. Adding a provider means adding one table
// entry, not editing gateway call sites.
type Strategy interface {
	// Name is the provider id used in configuration and the mode cache.
	Name() string
	// Modes lists supported response modes in order of preference.
	Modes() []Mode
	// RequiresKey reports whether calls need a credential.
	RequiresKey() bool
	// DefaultBaseURL is used when configuration leaves the endpoint empty.
	DefaultBaseURL() string
	// Endpoint builds the call URL for the given base and model.
	Endpoint(baseURL, model string) string
	// BuildBody shapes the provider-specific request body for a mode.
	BuildBody(req Request, mode Mode) ([]byte, error)
	// ExtractText pulls the model text out of the response envelope.
	ExtractText(body []byte) (string, error)
	// IsCapabilityError reports whether a non-success response rejects the
	// requested response format itself rather than the request.
	IsCapabilityError(statusCode int, body string) bool
	// Authorize attaches credentials to the outbound request.
	Authorize(r *http.Request, key string)
	// ValidationURLs lists endpoints a config check may probe.
	ValidationURLs(baseURL string) []string
}

var strategies = map[string]Strategy{
	"openai":     &responsesStrategy{},
	"openrouter": &chatCompletionsStrategy{name: "openrouter", base: "https://openrouter.ai/api/v1", needsKey: true},
	"lmstudio":   &chatCompletionsStrategy{name: "lmstudio", base: "http://localhost:1234/v1", needsKey: false},
	"ollama":     &ollamaStrategy{},
	"gemini":     &geminiStrategy{},
}

// StrategyFor resolves a provider id to its strategy.
func StrategyFor(provider string) (Strategy, bool) {
	s, ok := strategies[strings.ToLower(strings.TrimSpace(provider))]
	return s, ok
}

// Providers lists the known provider ids.
func Providers() []string {
	out := make([]string, 0, len(strategies))
	for name := range strategies {
		out = append(out, name)
	}
	return out
}

// capabilityPhrases are rejection substrings that indicate the response
// format feature itself is unsupported, across providers.
var capabilityPhrases = []string{
	"response_format",
	"json_schema",
	"structured output",
	"structured outputs",
	"not supported",
	"unsupported",
	"unknown parameter",
	"unknown field",
	"invalid parameter",
	"does not support",
	"unrecognized request argument",
	"response_mime_type",
	"unexpected format",
}

func matchesCapabilityPhrase(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range capabilityPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
