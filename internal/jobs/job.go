// Package jobs runs analysis out of band: a Client enqueues named jobs after
// a session completes and a Worker pool consumes them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/bandscore/internal/ielts"
)

// Job names.
const (
	AnalyseListening = "analyse_listening"
	AnalyseReading   = "analyse_reading"
	AnalyseWriting   = "analyse_writing"
	AnalyseSpeaking  = "analyse_speaking"
)

var jobModules = map[string]ielts.Module{
	AnalyseListening: ielts.Listening,
	AnalyseReading:   ielts.Reading,
	AnalyseWriting:   ielts.Writing,
	AnalyseSpeaking:  ielts.Speaking,
}

// AnalysisJob returns the job name that analyses module m.
func AnalysisJob(m ielts.Module) (string, error) {
	for name, mod := range jobModules {
		if mod == m {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ielts.ErrUnknownTestType, m)
}

// Job is one unit of queued work. It is JSON-encoded on durable queues.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SessionID string    `json:"session_id"`
	Lang      string    `json:"lang,omitempty"`
	Attempt   int       `json:"attempt"`
	Enqueued  time.Time `json:"enqueued_at"`
	NotBefore time.Time `json:"not_before,omitzero"`
}

// Queue is a FIFO of jobs. Dequeue blocks until a job is available, the
// context ends or the queue is closed.
type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

// ErrClosed is returned by a closed queue.
var ErrClosed = errors.New("queue closed")

// Client enqueues analysis jobs. It implements the session dispatcher.
type Client struct {
	queue Queue
	now   func() time.Time
}

// NewClient creates a Client over q.
func NewClient(q Queue) *Client {
	return &Client{queue: q, now: func() time.Time { return time.Now().UTC() }}
}

// DispatchAnalysis enqueues the analysis job of a completed session. The
// language only travels with the subjective modules.
func (c *Client) DispatchAnalysis(ctx context.Context, m ielts.Module, sessionID, lang string) error {
	name, err := AnalysisJob(m)
	if err != nil {
		return err
	}
	j := Job{
		ID:        uuid.NewString(),
		Name:      name,
		SessionID: sessionID,
		Enqueued:  c.now(),
	}
	if m.Subjective() {
		j.Lang = lang
	}
	if err := c.queue.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", name, sessionID, err)
	}
	return nil
}
