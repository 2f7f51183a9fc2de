package ai

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

// ollamaStrategy speaks the native Ollama generate dialect. Ollama never
// requires a key and takes the format constraint as a top-level field.
type ollamaStrategy struct{}

func (s *ollamaStrategy) Name() string           { return "ollama" }
func (s *ollamaStrategy) RequiresKey() bool      { return false }
func (s *ollamaStrategy) DefaultBaseURL() string { return "http://localhost:11434" }

func (s *ollamaStrategy) Modes() []Mode {
	return []Mode{ModeJSONSchema, ModeJSONObject, ModeNone}
}

func (s *ollamaStrategy) Endpoint(baseURL, _ string) string {
	return baseURL + "/api/generate"
}

func (s *ollamaStrategy) BuildBody(req Request, mode Mode) ([]byte, error) {
	var system, prompt strings.Builder
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		if prompt.Len() > 0 {
			prompt.WriteString("\n\n")
		}
		prompt.WriteString(m.Content)
	}

	body := map[string]any{
		"model":  req.Model,
		"prompt": prompt.String(),
		"stream": false,
	}
	if system.Len() > 0 {
		body["system"] = system.String()
	}
	if req.Temperature != nil {
		body["options"] = map[string]any{"temperature": *req.Temperature}
	}
	switch mode {
	case ModeJSONSchema:
		body["format"] = req.Schema
	case ModeJSONObject:
		body["format"] = "json"
	}
	return json.Marshal(body)
}

func (s *ollamaStrategy) ExtractText(body []byte) (string, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", eris.Wrap(err, "ai: ollama: decode response")
	}
	if envelope.Response == "" {
		return "", eris.New("ai: ollama: empty response")
	}
	return envelope.Response, nil
}

func (s *ollamaStrategy) IsCapabilityError(statusCode int, body string) bool {
	// Older Ollama builds reject schema-valued format with a 400.
	return statusCode == http.StatusBadRequest && matchesCapabilityPhrase(body)
}

func (s *ollamaStrategy) Authorize(_ *http.Request, _ string) {}

func (s *ollamaStrategy) ValidationURLs(baseURL string) []string {
	return []string{baseURL + "/api/tags", baseURL + "/api/version"}
}
