package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/bandscore/internal/ielts"
)

var analysisColumns = []string{
	"id", "module", "subject_id", "session_id", "user_id", "correct_answers",
	"total_questions", "overall_score", "criteria", "feedback", "duration_ms",
	"created_at",
}

// AnalysisKey is the natural key of an analysis: one per module, subject
// and user.
type AnalysisKey struct {
	Module    ielts.Module
	SubjectID string
	UserID    string
}

// InsertAnalysis stores a if no analysis exists for its key. Returns false
// when another writer got there first; a is left untouched in that case.
func (q *Queries) InsertAnalysis(ctx context.Context, a *ielts.Analysis) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	criteria := a.Criteria
	if criteria == nil {
		criteria = ielts.Criteria{}
	}
	crit, err := marshalJSON(criteria)
	if err != nil {
		return false, err
	}
	ib := q.b().Insert(analysesTable.Name).
		Columns(analysisColumns...).
		Values(a.ID, string(a.Module), a.SubjectID, a.SessionID, a.UserID, a.CorrectAnswers,
			a.TotalQuestions, a.OverallScore, crit, a.Feedback, a.Duration.Milliseconds(),
			a.CreatedAt).
		OnConflict(
			entsql.ConflictColumns("module", "subject_id", "user_id"),
			entsql.DoNothing(),
		)
	n, err := q.exec(ctx, ib)
	if err != nil {
		return false, fmt.Errorf("insert analysis %s/%s: %w", a.Module, a.SubjectID, err)
	}
	return n == 1, nil
}

// GetAnalysis loads the analysis for key, or nil if none exists.
func (q *Queries) GetAnalysis(ctx context.Context, key AnalysisKey) (*ielts.Analysis, error) {
	t := q.b().Table(analysesTable.Name)
	sel := q.b().Select(qualify(t, analysisColumns)...).
		From(t).
		Where(entsql.And(
			entsql.EQ(t.C("module"), string(key.Module)),
			entsql.EQ(t.C("subject_id"), key.SubjectID),
			entsql.EQ(t.C("user_id"), key.UserID),
		))

	var a *ielts.Analysis
	err := q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		var err error
		a, err = scanAnalysis(rows)
		return err
	})
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s/%s: %w", key.Module, key.SubjectID, err)
	}
	return a, nil
}

// ListAnalysesBySession returns every analysis produced for a session,
// one per passage for Reading.
func (q *Queries) ListAnalysesBySession(ctx context.Context, sessionID string) ([]ielts.Analysis, error) {
	t := q.b().Table(analysesTable.Name)
	sel := q.b().Select(qualify(t, analysisColumns)...).
		From(t).
		Where(entsql.EQ(t.C("session_id"), sessionID)).
		OrderBy(t.C("created_at"), t.C("subject_id"))

	var out []ielts.Analysis
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		a, err := scanAnalysis(rows)
		if err != nil {
			return err
		}
		out = append(out, *a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list analyses of %s: %w", sessionID, err)
	}
	return out, nil
}

func scanAnalysis(rows *entsql.Rows) (*ielts.Analysis, error) {
	var (
		a          ielts.Analysis
		module     string
		crit       string
		durationMs int64
	)
	err := rows.Scan(&a.ID, &module, &a.SubjectID, &a.SessionID, &a.UserID, &a.CorrectAnswers,
		&a.TotalQuestions, &a.OverallScore, &crit, &a.Feedback, &durationMs, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Module = ielts.Module(module)
	a.Duration = time.Duration(durationMs) * time.Millisecond
	if err := unmarshalJSON(crit, &a.Criteria); err != nil {
		return nil, fmt.Errorf("analysis %s criteria: %w", a.ID, err)
	}
	return &a, nil
}
