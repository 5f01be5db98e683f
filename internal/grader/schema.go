package grader

import "github.com/abhisek/bandscore/internal/llm"

func scoreSchema(description string) map[string]any {
	return map[string]any{
		"type":        []any{"object", "null"},
		"description": description,
		"properties": map[string]any{
			"score": map[string]any{
				"type":    []any{"number", "null"},
				"minimum": 0,
				"maximum": 9,
			},
			"feedback": map[string]any{"type": "string"},
		},
		"required":             []any{"score", "feedback"},
		"additionalProperties": false,
	}
}

// PassageSchema constrains the Reading free-text grading response.
var PassageSchema = &llm.Schema{
	Name:        "reading-passage-grade",
	Description: "Per-question correctness of free-text answers to an IELTS Reading passage",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"analysis": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_id":    map[string]any{"type": "string"},
						"is_correct":     map[string]any{"type": "boolean"},
						"correct_answer": map[string]any{"type": "string"},
						"explanation":    map[string]any{"type": "string"},
					},
					"required":             []any{"question_id", "is_correct", "correct_answer", "explanation"},
					"additionalProperties": false,
				},
			},
			"stats": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"total":   map[string]any{"type": "integer", "minimum": 0},
					"correct": map[string]any{"type": "integer", "minimum": 0},
				},
				"required":             []any{"total", "correct"},
				"additionalProperties": false,
			},
		},
		"required":             []any{"analysis", "stats"},
		"additionalProperties": false,
	},
}

func writingTaskSchema(description string) map[string]any {
	return map[string]any{
		"type":        "object",
		"description": description,
		"properties": map[string]any{
			"task_achievement":               scoreSchema("Task 1 only: how well the report covers the visual"),
			"task_response":                  scoreSchema("Task 2 only: how well the essay answers the question"),
			"coherence_and_cohesion":         scoreSchema("Organisation and linking"),
			"lexical_resource":               scoreSchema("Range and accuracy of vocabulary"),
			"grammatical_range_and_accuracy": scoreSchema("Range and accuracy of grammar"),
			"word_count":                     map[string]any{"type": "integer", "minimum": 0},
			"timing_feedback":                map[string]any{"type": "string"},
		},
		"required": []any{
			"task_achievement", "task_response", "coherence_and_cohesion",
			"lexical_resource", "grammatical_range_and_accuracy", "word_count", "timing_feedback",
		},
		"additionalProperties": false,
	}
}

// WritingSchema constrains the Writing grading response.
var WritingSchema = &llm.Schema{
	Name:        "writing-grade",
	Description: "IELTS Writing band criteria for Task 1 and Task 2",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task1": writingTaskSchema("Task 1 grading"),
			"task2": writingTaskSchema("Task 2 grading"),
			"overall_band_score": map[string]any{
				"type":    []any{"number", "null"},
				"minimum": 0,
				"maximum": 9,
			},
			"overall_feedback": map[string]any{"type": "string"},
			"total_feedback":   map[string]any{"type": "string"},
		},
		"required":             []any{"task1", "task2", "overall_band_score", "overall_feedback", "total_feedback"},
		"additionalProperties": false,
	},
}

// SpeakingSchema constrains the Speaking grading response.
var SpeakingSchema = &llm.Schema{
	Name:        "speaking-grade",
	Description: "IELTS Speaking band criteria and per-part scores",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fluency_and_coherence":          scoreSchema("Fluency and coherence"),
			"lexical_resource":               scoreSchema("Lexical resource"),
			"grammatical_range_and_accuracy": scoreSchema("Grammatical range and accuracy"),
			"pronunciation":                  scoreSchema("Pronunciation as evidenced by the transcript"),
			"part1":                          scoreSchema("Part 1 interview"),
			"part2":                          scoreSchema("Part 2 long turn"),
			"part3":                          scoreSchema("Part 3 discussion"),
			"feedback":                       map[string]any{"type": "string"},
		},
		"required": []any{
			"fluency_and_coherence", "lexical_resource", "grammatical_range_and_accuracy",
			"pronunciation", "part1", "part2", "part3", "feedback",
		},
		"additionalProperties": false,
	},
}
