// Package grader is the narrow request/response contract with the external
// AI grader used for Reading free text, Writing and Speaking.
package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/llm"
)

// Purposes recorded on grader calls.
const (
	PurposeReading  = "reading-passage"
	PurposeWriting  = "writing"
	PurposeSpeaking = "speaking"
)

// Config holds generation settings for grading calls.
type Config struct {
	MaxTokens   int
	Temperature float64
	// Timeout bounds one grading call, retries included. Zero means none.
	Timeout time.Duration
}

// DefaultConfig returns deterministic settings with room for long feedback.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   4096,
		Temperature: 0,
	}
}

// Grader sends grading requests to an llm.Provider. Every failure is
// returned as an *ielts.ExternalError so callers can absorb it.
type Grader struct {
	provider llm.Provider
	cfg      Config
}

// New creates a Grader.
func New(provider llm.Provider, cfg Config) *Grader {
	return &Grader{provider: provider, cfg: cfg}
}

// GradePassage grades the free-text answers of one Reading passage.
func (g *Grader) GradePassage(ctx context.Context, req PassageRequest) (*PassageResult, error) {
	msg, err := buildPassageMessage(req)
	if err != nil {
		return nil, fmt.Errorf("build passage prompt: %w", err)
	}
	var out PassageResult
	if err := g.generate(ctx, PurposeReading, passageSystemTemplate, req.Lang, msg, PassageSchema, &out); err != nil {
		return nil, &ielts.ExternalError{Op: "grade passage " + req.PassageID, Err: err}
	}
	return &out, nil
}

// GradeWriting grades both tasks of a Writing session.
func (g *Grader) GradeWriting(ctx context.Context, req WritingRequest) (*WritingResult, error) {
	msg, err := buildWritingMessage(req)
	if err != nil {
		return nil, fmt.Errorf("build writing prompt: %w", err)
	}
	var out WritingResult
	if err := g.generate(ctx, PurposeWriting, writingSystemTemplate, req.Lang, msg, WritingSchema, &out); err != nil {
		return nil, &ielts.ExternalError{Op: "grade writing", Err: err}
	}
	return &out, nil
}

// GradeSpeaking grades the transcripts of a Speaking session.
func (g *Grader) GradeSpeaking(ctx context.Context, req SpeakingRequest) (*SpeakingResult, error) {
	msg, err := buildSpeakingMessage(req)
	if err != nil {
		return nil, fmt.Errorf("build speaking prompt: %w", err)
	}
	var out SpeakingResult
	if err := g.generate(ctx, PurposeSpeaking, speakingSystemTemplate, req.Lang, msg, SpeakingSchema, &out); err != nil {
		return nil, &ielts.ExternalError{Op: "grade speaking", Err: err}
	}
	return &out, nil
}

func (g *Grader) generate(
	ctx context.Context,
	purpose string,
	system *template.Template,
	lang, userMsg string,
	schema *llm.Schema,
	out any,
) error {
	ctx = llm.WithPurpose(ctx, purpose)
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	sys, err := systemPrompt(system, lang)
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}

	resp, err := g.provider.Generate(ctx, llm.Request{
		System: sys,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: userMsg},
		},
		Schema:      schema,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Content, out); err != nil {
		return &llm.ErrInvalidResponse{Content: resp.Content, Err: err}
	}
	return nil
}
