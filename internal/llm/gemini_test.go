package llm

import (
	"testing"

	"google.golang.org/genai"
)

func TestGeminiSchema_NullableScore(t *testing.T) {
	def := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score": map[string]any{
				"type":    []any{"number", "null"},
				"minimum": 0,
				"maximum": 9,
			},
			"feedback": map[string]any{"type": "string", "description": "examiner notes"},
			"level":    map[string]any{"type": "string", "enum": []any{"low", "high"}},
			"parts": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
		"required": []any{"score", "feedback"},
	}

	s := geminiSchema(def)

	if s.Type != genai.TypeObject {
		t.Fatalf("expected OBJECT, got %s", s.Type)
	}
	score := s.Properties["score"]
	if score.Type != genai.TypeNumber {
		t.Fatalf("expected NUMBER for score, got %s", score.Type)
	}
	if score.Nullable == nil || !*score.Nullable {
		t.Fatal("expected score to be nullable")
	}
	if score.Minimum == nil || *score.Minimum != 0 || score.Maximum == nil || *score.Maximum != 9 {
		t.Fatalf("expected 0..9 bounds, got %v..%v", score.Minimum, score.Maximum)
	}
	if s.Properties["feedback"].Description != "examiner notes" {
		t.Fatalf("description lost: %q", s.Properties["feedback"].Description)
	}
	if got := s.Properties["level"].Enum; len(got) != 2 || got[1] != "high" {
		t.Fatalf("unexpected enum: %v", got)
	}
	if s.Properties["parts"].Items.Type != genai.TypeInteger {
		t.Fatalf("expected INTEGER items, got %s", s.Properties["parts"].Items.Type)
	}
	if len(s.PropertyOrdering) != 2 || s.PropertyOrdering[0] != "score" {
		t.Fatalf("unexpected ordering: %v", s.PropertyOrdering)
	}
}

func TestGeminiSchema_NullableObject(t *testing.T) {
	s := geminiSchema(map[string]any{"type": []any{"object", "null"}})
	if s.Type != genai.TypeObject || s.Nullable == nil {
		t.Fatalf("expected nullable OBJECT, got %s nullable=%v", s.Type, s.Nullable)
	}
}
