package ai

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
)

// geminiStrategy speaks the native Gemini generateContent dialect.
type geminiStrategy struct{}

func (s *geminiStrategy) Name() string      { return "gemini" }
func (s *geminiStrategy) RequiresKey() bool { return true }

func (s *geminiStrategy) DefaultBaseURL() string {
	return "https://generativelanguage.googleapis.com"
}

func (s *geminiStrategy) Modes() []Mode {
	return []Mode{ModeJSONSchema, ModeJSONObject, ModeText}
}

func (s *geminiStrategy) Endpoint(baseURL, model string) string {
	return baseURL + "/v1beta/models/" + model + ":generateContent"
}

func (s *geminiStrategy) BuildBody(req Request, mode Mode) ([]byte, error) {
	var contents []map[string]any
	var system []map[string]any
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, map[string]any{"text": m.Content})
		case "assistant":
			contents = append(contents, map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": m.Content}},
			})
		default:
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []map[string]any{{"text": m.Content}},
			})
		}
	}

	generation := map[string]any{}
	if req.MaxTokens > 0 {
		generation["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		generation["temperature"] = *req.Temperature
	}
	switch mode {
	case ModeJSONSchema:
		generation["responseMimeType"] = "application/json"
		generation["responseSchema"] = scrubSchema(req.Schema)
	case ModeJSONObject:
		generation["responseMimeType"] = "application/json"
	}

	body := map[string]any{"contents": contents}
	if len(system) > 0 {
		body["systemInstruction"] = map[string]any{"parts": system}
	}
	if len(generation) > 0 {
		body["generationConfig"] = generation
	}
	return json.Marshal(body)
}

// scrubSchema drops JSON-schema keywords the Gemini OpenAPI subset rejects.
func scrubSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "additionalProperties" || k == "$schema" {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = scrubSchema(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func (s *geminiStrategy) ExtractText(body []byte) (string, error) {
	var envelope struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", eris.Wrap(err, "ai: gemini: decode response")
	}
	for _, cand := range envelope.Candidates {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				return part.Text, nil
			}
		}
	}
	return "", eris.New("ai: gemini: no text parts in response")
}

func (s *geminiStrategy) IsCapabilityError(statusCode int, body string) bool {
	return statusCode == http.StatusBadRequest && matchesCapabilityPhrase(body)
}

func (s *geminiStrategy) Authorize(r *http.Request, key string) {
	r.Header.Set("x-goog-api-key", key)
}

func (s *geminiStrategy) ValidationURLs(baseURL string) []string {
	return []string{baseURL + "/v1beta/models"}
}
