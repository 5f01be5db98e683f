package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/bandscore/internal/band"
	"github.com/abhisek/bandscore/internal/evaluate"
	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/store"
	"github.com/abhisek/bandscore/internal/telemetry"
)

func (o *Orchestrator) listening(ctx context.Context, sess *ielts.Session) (*ielts.Analysis, error) {
	started := time.Now()
	key := store.AnalysisKey{Module: ielts.Listening, SubjectID: sess.ID, UserID: sess.UserID}
	if a, err := o.existing(ctx, key); err != nil || a != nil {
		return a, err
	}

	answers, err := o.store.Queries().ListAnswers(ctx, store.AnswerFilter{SessionID: sess.ID, UserID: sess.UserID})
	if err != nil {
		return nil, err
	}
	correct := 0
	for i := range answers {
		if answers[i].Correct() {
			correct++
		}
	}

	return o.persist(ctx, &ielts.Analysis{
		Module:         ielts.Listening,
		SubjectID:      sess.ID,
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		CorrectAnswers: correct,
		TotalQuestions: len(answers),
		OverallScore:   band.FromCorrect(correct),
		Duration:       sess.Duration(),
	}, started, nil)
}

// reading analyses every passage independently. A failing passage does not
// stop its siblings; the failures are joined into the returned error and
// the passages that succeeded are still returned.
func (o *Orchestrator) reading(ctx context.Context, sess *ielts.Session) ([]ielts.Analysis, error) {
	q := o.store.Queries()
	exam, err := q.GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := q.ListAnswers(ctx, store.AnswerFilter{SessionID: sess.ID, UserID: sess.UserID})
	if err != nil {
		return nil, err
	}
	byPart := make(map[string][]ielts.Answer)
	for _, a := range answers {
		byPart[a.PartID] = append(byPart[a.PartID], a)
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		errs    []error
		results = make([]*ielts.Analysis, len(exam.Parts))
	)
	g.SetLimit(o.fanout)
	for i := range exam.Parts {
		part := &exam.Parts[i]
		g.Go(func() error {
			a, err := o.passage(ctx, sess, part, byPart[part.ID])
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("passage %d (%s): %w", part.Number, part.ID, err))
				mu.Unlock()
				return nil
			}
			results[i] = a
			return nil
		})
	}
	_ = g.Wait()

	var out []ielts.Analysis
	for _, a := range results {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, errors.Join(errs...)
}

func (o *Orchestrator) passage(ctx context.Context, sess *ielts.Session, part *ielts.Part, answers []ielts.Answer) (_ *ielts.Analysis, err error) {
	ctx, span := o.tracer.Start(ctx, "analysis.passage", trace.WithAttributes(
		attribute.String("passage_id", part.ID),
		attribute.Int("answers", len(answers)),
	))
	defer func() { telemetry.End(span, err) }()

	started := time.Now()
	key := store.AnalysisKey{Module: ielts.Reading, SubjectID: part.ID, UserID: sess.UserID}
	if a, err := o.existing(ctx, key); err != nil || a != nil {
		return a, err
	}

	questions := make(map[string]ielts.Question, len(part.Questions))
	for _, q := range part.Questions {
		questions[q.ID] = q
	}

	var pending []evaluate.Pending
	for _, a := range answers {
		if a.Resolved() {
			continue
		}
		q, ok := questions[a.QuestionID]
		if !ok {
			return nil, ielts.NotFound("question", a.QuestionID)
		}
		pending = append(pending, evaluate.Pending{Question: q, Value: a.Value})
	}

	verdicts, gerr := evaluate.GradePassage(ctx, o.grader, part, sess.Lang, pending)
	if gerr != nil {
		o.graderFailed(sess, part.ID, gerr)
	}

	correct := 0
	var resolved []resolution
	for _, a := range answers {
		if a.Resolved() {
			if a.Correct() {
				correct++
			}
			continue
		}
		r := verdicts[a.QuestionID]
		if r.Correct {
			correct++
		}
		resolved = append(resolved, resolution{
			answerID: a.ID,
			Resolution: store.Resolution{
				Correct:       r.Correct,
				Score:         r.Score,
				CorrectAnswer: r.CorrectAnswer,
				Explanation:   r.Explanation,
			},
		})
	}

	return o.persist(ctx, &ielts.Analysis{
		Module:         ielts.Reading,
		SubjectID:      part.ID,
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		CorrectAnswers: correct,
		TotalQuestions: len(answers),
		OverallScore:   band.FromCorrect(correct),
		Duration:       sess.Duration(),
	}, started, resolved)
}
