package ai

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
)

// chatCompletionsStrategy speaks the OpenAI chat-completions dialect shared
// by OpenRouter, LM Studio, and most self-hosted gateways.
type chatCompletionsStrategy struct {
	name     string
	base     string
	needsKey bool
}

func (s *chatCompletionsStrategy) Name() string           { return s.name }
func (s *chatCompletionsStrategy) RequiresKey() bool      { return s.needsKey }
func (s *chatCompletionsStrategy) DefaultBaseURL() string { return s.base }

func (s *chatCompletionsStrategy) Modes() []Mode {
	return []Mode{ModeJSONSchema, ModeJSONObject, ModeNone}
}

func (s *chatCompletionsStrategy) Endpoint(baseURL, _ string) string {
	return baseURL + "/chat/completions"
}

func (s *chatCompletionsStrategy) BuildBody(req Request, mode Mode) ([]byte, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	switch mode {
	case ModeJSONSchema:
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.SchemaName,
				"schema": req.Schema,
				"strict": true,
			},
		}
	case ModeJSONObject:
		body["response_format"] = map[string]any{"type": "json_object"}
	}
	return json.Marshal(body)
}

func (s *chatCompletionsStrategy) ExtractText(body []byte) (string, error) {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", eris.Wrapf(err, "ai: %s: decode response", s.name)
	}
	if len(envelope.Choices) == 0 {
		return "", eris.Errorf("ai: %s: empty choices in response", s.name)
	}
	return envelope.Choices[0].Message.Content, nil
}

func (s *chatCompletionsStrategy) IsCapabilityError(statusCode int, body string) bool {
	return statusCode == http.StatusBadRequest && matchesCapabilityPhrase(body)
}

func (s *chatCompletionsStrategy) Authorize(r *http.Request, key string) {
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
}

func (s *chatCompletionsStrategy) ValidationURLs(baseURL string) []string {
	return []string{baseURL + "/models"}
}

// responsesStrategy speaks the OpenAI responses dialect.
type responsesStrategy struct{}

func (s *responsesStrategy) Name() string           { return "openai" }
func (s *responsesStrategy) RequiresKey() bool      { return true }
func (s *responsesStrategy) DefaultBaseURL() string { return "https://api.openai.com/v1" }

func (s *responsesStrategy) Modes() []Mode {
	return []Mode{ModeJSONSchema, ModeJSONObject, ModeText}
}

func (s *responsesStrategy) Endpoint(baseURL, _ string) string {
	return baseURL + "/responses"
}

func (s *responsesStrategy) BuildBody(req Request, mode Mode) ([]byte, error) {
	input := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		input = append(input, map[string]any{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model": req.Model,
		"input": input,
	}
	if req.MaxTokens > 0 {
		body["max_output_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	switch mode {
	case ModeJSONSchema:
		body["text"] = map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   req.SchemaName,
				"schema": req.Schema,
				"strict": true,
			},
		}
	case ModeJSONObject:
		body["text"] = map[string]any{
			"format": map[string]any{"type": "json_object"},
		}
	}
	return json.Marshal(body)
}

func (s *responsesStrategy) ExtractText(body []byte) (string, error) {
	var envelope struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", eris.Wrap(err, "ai: openai: decode response")
	}
	for _, out := range envelope.Output {
		if out.Type != "message" {
			continue
		}
		for _, c := range out.Content {
			if c.Type == "output_text" && c.Text != "" {
				return c.Text, nil
			}
		}
	}
	return "", eris.New("ai: openai: no output_text in response")
}

func (s *responsesStrategy) IsCapabilityError(statusCode int, body string) bool {
	return statusCode == http.StatusBadRequest && matchesCapabilityPhrase(body)
}

func (s *responsesStrategy) Authorize(r *http.Request, key string) {
	r.Header.Set("Authorization", "Bearer "+key)
}

func (s *responsesStrategy) ValidationURLs(baseURL string) []string {
	return []string{baseURL + "/models"}
}
