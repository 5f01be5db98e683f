// Package analysis produces the scored analysis of a completed session,
// exactly once per session (per passage for Reading), however many times
// and however concurrently it is invoked.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/bandscore/internal/evaluate"
	"github.com/abhisek/bandscore/internal/grader"
	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/metrics"
	"github.com/abhisek/bandscore/internal/store"
	"github.com/abhisek/bandscore/internal/telemetry"
)

// Grader is the external grader as seen by the orchestrator.
// *grader.Grader satisfies it.
type Grader interface {
	evaluate.PassageGrader
	GradeWriting(ctx context.Context, req grader.WritingRequest) (*grader.WritingResult, error)
	GradeSpeaking(ctx context.Context, req grader.SpeakingRequest) (*grader.SpeakingResult, error)
}

// Options carries the optional collaborators of an Orchestrator.
type Options struct {
	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
	// PassageConcurrency bounds parallel Reading passages. Defaults to 4.
	PassageConcurrency int
}

// Orchestrator coordinates evaluation, banding and persistence.
type Orchestrator struct {
	store   *store.Store
	grader  Grader
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	fanout  int
}

// New creates an Orchestrator.
func New(s *store.Store, g Grader, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:   s,
		grader:  g,
		log:     opts.Log,
		metrics: opts.Metrics,
		tracer:  telemetry.Tracer(),
		fanout:  opts.PassageConcurrency,
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	o.log = o.log.WithField("component", "analysis")
	if o.fanout <= 0 {
		o.fanout = 4
	}
	return o
}

var errLostRace = errors.New("analysis already created")

// Analyse returns the analyses of a completed session, creating them on
// first call. Stored analyses are returned unchanged.
func (o *Orchestrator) Analyse(ctx context.Context, module ielts.Module, sessionID string) (_ []ielts.Analysis, err error) {
	ctx, span := o.tracer.Start(ctx, "analysis.Analyse", trace.WithAttributes(
		attribute.String("module", string(module)),
		attribute.String("session_id", sessionID),
	))
	defer func() { telemetry.End(span, err) }()

	sess, err := o.completed(ctx, module, sessionID)
	if err != nil {
		return nil, err
	}

	switch module {
	case ielts.Listening:
		a, err := o.listening(ctx, sess)
		if err != nil {
			return nil, err
		}
		return []ielts.Analysis{*a}, nil
	case ielts.Reading:
		return o.reading(ctx, sess)
	case ielts.Writing:
		a, err := o.writing(ctx, sess)
		if err != nil {
			return nil, err
		}
		return []ielts.Analysis{*a}, nil
	case ielts.Speaking:
		a, err := o.speaking(ctx, sess)
		if err != nil {
			return nil, err
		}
		return []ielts.Analysis{*a}, nil
	}
	return nil, fmt.Errorf("%w: %q", ielts.ErrUnknownTestType, module)
}

// Get returns the stored analyses of a session owned by userID without
// creating anything. ErrNotReady means the analysis is still being made.
func (o *Orchestrator) Get(ctx context.Context, module ielts.Module, sessionID, userID string) ([]ielts.Analysis, error) {
	q := o.store.Queries()
	sess, err := q.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID || sess.Module != module {
		return nil, ielts.NotFound("session", sessionID)
	}
	if sess.Status != ielts.StatusCompleted {
		return nil, notCompleted(sess)
	}

	all, err := q.ListAnalysesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []ielts.Analysis
	for _, a := range all {
		if a.Module == module && a.UserID == userID {
			out = append(out, a)
		}
	}

	want := 1
	if module == ielts.Reading {
		exam, err := q.GetExam(ctx, sess.ExamID)
		if err != nil {
			return nil, err
		}
		want = len(exam.Parts)
	}
	if len(out) < want {
		return nil, ielts.ErrNotReady
	}
	return out, nil
}

// completed loads sessionID and checks it may be analysed.
func (o *Orchestrator) completed(ctx context.Context, module ielts.Module, sessionID string) (*ielts.Session, error) {
	sess, err := o.store.Queries().GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Module != module {
		return nil, ielts.NotFound(string(module)+" session", sessionID)
	}
	if sess.Status != ielts.StatusCompleted {
		return nil, notCompleted(sess)
	}
	return sess, nil
}

func notCompleted(sess *ielts.Session) error {
	return fmt.Errorf("%w: %s session %s is %s, not %s",
		ielts.ErrInvalidState, sess.Module, sess.ID, sess.Status, ielts.StatusCompleted)
}

// existing returns the stored analysis for key, or nil.
func (o *Orchestrator) existing(ctx context.Context, key store.AnalysisKey) (*ielts.Analysis, error) {
	return o.store.Queries().GetAnalysis(ctx, key)
}

// resolution is a late grader verdict for one stored answer.
type resolution struct {
	answerID string
	store.Resolution
}

// persist inserts a and applies the answer resolutions in one transaction.
// If another writer inserted first, nothing is written and the winner's
// row is returned instead.
func (o *Orchestrator) persist(ctx context.Context, a *ielts.Analysis, started time.Time, resolved []resolution) (*ielts.Analysis, error) {
	err := o.store.InTx(ctx, func(q *store.Queries) error {
		created, err := q.InsertAnalysis(ctx, a)
		if err != nil {
			return err
		}
		if !created {
			return errLostRace
		}
		for _, r := range resolved {
			if err := q.ResolveAnswer(ctx, r.answerID, r.Resolution); err != nil {
				return err
			}
		}
		return nil
	})

	log := o.log.WithFields(logrus.Fields{
		"module":     a.Module,
		"session_id": a.SessionID,
		"subject_id": a.SubjectID,
	})
	switch {
	case errors.Is(err, errLostRace):
		o.metrics.Analysis(string(a.Module), false, time.Since(started))
		winner, err := o.existing(ctx, store.AnalysisKey{Module: a.Module, SubjectID: a.SubjectID, UserID: a.UserID})
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("analysis %s/%s vanished after conflict", a.Module, a.SubjectID)
		}
		log.Debug("analysis created concurrently, returning stored row")
		return winner, nil
	case err != nil:
		return nil, err
	}

	o.metrics.Analysis(string(a.Module), true, time.Since(started))
	log.WithFields(logrus.Fields{
		"score":   a.OverallScore,
		"correct": a.CorrectAnswers,
		"total":   a.TotalQuestions,
	}).Info("analysis created")
	return a, nil
}

// graderFailed logs and counts an absorbed grader failure.
func (o *Orchestrator) graderFailed(sess *ielts.Session, subject string, err error) {
	o.metrics.GraderFailed(string(sess.Module))
	o.log.WithFields(logrus.Fields{
		"module":     sess.Module,
		"session_id": sess.ID,
		"subject_id": subject,
	}).WithError(err).Warn("grader failed, scoring with fallback")
}
