package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
)

var statsSchema = &Schema{
	Name:        "test-stats",
	Description: "correct/total counts",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"total":   map[string]any{"type": "integer", "minimum": 0},
			"correct": map[string]any{"type": "integer", "minimum": 0},
		},
		"required":             []any{"total", "correct"},
		"additionalProperties": false,
	},
}

func gradeRequest(schema *Schema) Request {
	return Request{
		System:    "You are an IELTS examiner.",
		Messages:  []Message{{Role: RoleUser, Content: "Grade this passage."}},
		Schema:    schema,
		MaxTokens: 256,
	}
}

func serve(t *testing.T, status int, header http.Header, body any) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header()[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func anthropicMessage(text, stop string) map[string]any {
	return map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": 50, "output_tokens": 30},
	}
}

func newAnthropic(t *testing.T, url string) *AnthropicProvider {
	t.Helper()
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", Model: "claude-sonnet"}, option.WithBaseURL(url))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestAnthropicProvider_StructuredOutput(t *testing.T) {
	url := serve(t, http.StatusOK, nil, anthropicMessage("```json\n{\"total\":3,\"correct\":2}\n```", "end_turn"))

	resp, err := newAnthropic(t, url).Generate(context.Background(), gradeRequest(statsSchema))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Content) != `{"total":3,"correct":2}` {
		t.Fatalf("fence not stripped: %s", resp.Content)
	}
	if resp.Usage.TotalTokens != 80 {
		t.Fatalf("expected 80 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if resp.StopReason != StopEnd {
		t.Fatalf("expected stop reason %q, got %q", StopEnd, resp.StopReason)
	}
}

func TestAnthropicProvider_TruncatedOutput(t *testing.T) {
	url := serve(t, http.StatusOK, nil, anthropicMessage(`{"total":3,`, "max_tokens"))

	_, err := newAnthropic(t, url).Generate(context.Background(), gradeRequest(statsSchema))
	var maxTok *ErrMaxTokensExceeded
	if !errors.As(err, &maxTok) {
		t.Fatalf("expected ErrMaxTokensExceeded, got: %T (%v)", err, err)
	}
}

func TestAnthropicProvider_Errors(t *testing.T) {
	apiError := func(kind string) map[string]any {
		return map[string]any{"type": "error", "error": map[string]any{"type": kind, "message": kind}}
	}

	t.Run("rate limit carries retry-after", func(t *testing.T) {
		url := serve(t, http.StatusTooManyRequests, http.Header{"Retry-After": {"2"}}, apiError("rate_limit_error"))
		_, err := newAnthropic(t, url).Generate(context.Background(), gradeRequest(nil))
		var rl *ErrRateLimit
		if !errors.As(err, &rl) {
			t.Fatalf("expected ErrRateLimit, got: %T (%v)", err, err)
		}
		if rl.RetryAfter != 2*time.Second {
			t.Fatalf("expected 2s retry-after, got %s", rl.RetryAfter)
		}
	})

	t.Run("overloaded", func(t *testing.T) {
		url := serve(t, 529, nil, apiError("overloaded_error"))
		_, err := newAnthropic(t, url).Generate(context.Background(), gradeRequest(nil))
		var unavail *ErrProviderUnavailable
		if !errors.As(err, &unavail) {
			t.Fatalf("expected ErrProviderUnavailable, got: %T (%v)", err, err)
		}
	})

	t.Run("bad key", func(t *testing.T) {
		url := serve(t, http.StatusUnauthorized, nil, apiError("authentication_error"))
		_, err := newAnthropic(t, url).Generate(context.Background(), gradeRequest(nil))
		var rejected *ErrRejected
		if !errors.As(err, &rejected) || rejected.Status != http.StatusUnauthorized {
			t.Fatalf("expected ErrRejected(401), got: %T (%v)", err, err)
		}
	})
}

func openAICompletion(content, finish string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1234567890,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
		"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 25, "total_tokens": 65},
	}
}

func newOpenAI(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", Model: "gpt-4o-mini", BaseURL: url + "/v1"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestOpenAIProvider_StructuredOutput(t *testing.T) {
	url := serve(t, http.StatusOK, nil, openAICompletion(`{"total":5,"correct":5}`, "stop"))

	resp, err := newOpenAI(t, url).Generate(context.Background(), gradeRequest(statsSchema))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Usage.InputTokens != 40 || resp.Usage.OutputTokens != 25 || resp.Usage.TotalTokens != 65 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Fatalf("expected model gpt-4o-mini, got %q", resp.Model)
	}
}

func TestOpenAIProvider_SchemaViolation(t *testing.T) {
	url := serve(t, http.StatusOK, nil, openAICompletion(`{"total":-1,"correct":0}`, "stop"))

	_, err := newOpenAI(t, url).Generate(context.Background(), gradeRequest(statsSchema))
	var inv *ErrInvalidResponse
	if !errors.As(err, &inv) {
		t.Fatalf("expected ErrInvalidResponse, got: %T (%v)", err, err)
	}
}

func TestOpenAIProvider_LengthFinish(t *testing.T) {
	url := serve(t, http.StatusOK, nil, openAICompletion(`{"total":`, "length"))

	_, err := newOpenAI(t, url).Generate(context.Background(), gradeRequest(statsSchema))
	var maxTok *ErrMaxTokensExceeded
	if !errors.As(err, &maxTok) {
		t.Fatalf("expected ErrMaxTokensExceeded, got: %T (%v)", err, err)
	}
}

func TestOpenAIProvider_Errors(t *testing.T) {
	apiError := func(kind string) map[string]any {
		return map[string]any{"error": map[string]any{"message": kind, "type": kind}}
	}
	tests := []struct {
		name   string
		status int
		target any
	}{
		{"rate limit", http.StatusTooManyRequests, new(*ErrRateLimit)},
		{"server error", http.StatusServiceUnavailable, new(*ErrProviderUnavailable)},
		{"bad request", http.StatusBadRequest, new(*ErrRejected)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := serve(t, tt.status, nil, apiError(tt.name))
			_, err := newOpenAI(t, url).Generate(context.Background(), gradeRequest(nil))
			if !errors.As(err, tt.target) {
				t.Fatalf("unexpected error: %T (%v)", err, err)
			}
		})
	}
}

func TestNewProviders_RequireKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Error("anthropic: expected error for empty key")
	}
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("openai: expected error for empty key")
	}
	if _, err := NewGeminiProvider(context.Background(), GeminiConfig{}); err == nil {
		t.Error("gemini: expected error for empty key")
	}
	if _, err := NewOpenRouterProvider(OpenRouterConfig{}); err == nil {
		t.Error("openrouter: expected error for empty key")
	}
}

func TestModelAliases(t *testing.T) {
	tests := []struct {
		name    string
		aliases map[string]string
		want    string
	}{
		{"claude-sonnet", anthropicModels, "claude-sonnet-4-5-20250929"},
		{"claude-haiku", anthropicModels, "claude-haiku-4-5-20251001"},
		{"gemini-flash", geminiModels, "gemini-2.5-flash"},
		{"gpt-mini", openaiModels, "gpt-4.1-mini"},
		{"anthropic/claude-sonnet-4", openaiModels, "anthropic/claude-sonnet-4"},
	}
	for _, tt := range tests {
		if got := resolveModel(tt.name, tt.aliases); got != tt.want {
			t.Errorf("resolveModel(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
	// Every default alias should have a price so cost logging works.
	for _, id := range []string{anthropicModels["claude-sonnet"], geminiModels["gemini-flash"], "gpt-4o"} {
		if LookupCost(id) == nil {
			t.Errorf("no price for default model %q", id)
		}
	}
}

func TestOpenRouterProvider_PassesModelThrough(t *testing.T) {
	p, err := NewOpenRouterProvider(OpenRouterConfig{APIKey: "sk-or-test", Model: "google/gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "google/gemini-2.5-flash" {
		t.Fatalf("model = %q", p.ModelID())
	}
}

func TestClassifyStatus(t *testing.T) {
	cause := errors.New("upstream")
	tests := []struct {
		status int
		want   string
	}{
		{429, "*llm.ErrRateLimit"},
		{408, "*llm.ErrProviderUnavailable"},
		{500, "*llm.ErrProviderUnavailable"},
		{0, "*llm.ErrProviderUnavailable"},
		{400, "*llm.ErrRejected"},
		{404, "*llm.ErrRejected"},
	}
	for _, tt := range tests {
		err := classifyStatus(tt.status, nil, cause)
		if got := typeName(err); got != tt.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
		if !errors.Is(err, cause) {
			t.Errorf("classifyStatus(%d) lost the cause", tt.status)
		}
	}
}

func typeName(err error) string {
	switch err.(type) {
	case *ErrRateLimit:
		return "*llm.ErrRateLimit"
	case *ErrProviderUnavailable:
		return "*llm.ErrProviderUnavailable"
	case *ErrRejected:
		return "*llm.ErrRejected"
	}
	return "other"
}

func TestRetryAfterHeader(t *testing.T) {
	if d := retryAfter(http.Header{"Retry-After": {"7"}}); d != 7*time.Second {
		t.Fatalf("seconds form: got %s", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := retryAfter(http.Header{"Retry-After": {future}}); d <= 0 || d > time.Minute {
		t.Fatalf("date form: got %s", d)
	}
	if d := retryAfter(nil); d != 0 {
		t.Fatalf("missing header: got %s", d)
	}
}
