package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/bandscore/internal/ielts"
)

var answerColumns = []string{
	"id", "session_id", "user_id", "question_id", "part_id", "user_answer",
	"answered", "is_correct", "score", "correct_answer", "explanation",
	"media_path", "created_at",
}

// InsertAnswers writes a batch of answers in one statement. The unique
// (session, user, question) index rejects a second batch for the same
// session.
func (q *Queries) InsertAnswers(ctx context.Context, answers []ielts.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ib := q.b().Insert(answersTable.Name).Columns(answerColumns...)
	for i := range answers {
		a := &answers[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		value, err := marshalJSON(a.Value)
		if err != nil {
			return err
		}
		ib.Values(a.ID, a.SessionID, a.UserID, a.QuestionID, a.PartID, value,
			a.Answered, nullable(a.IsCorrect), a.Score, a.CorrectAnswer, a.Explanation,
			a.MediaPath, a.CreatedAt)
	}
	if _, err := q.exec(ctx, ib); err != nil {
		return fmt.Errorf("insert %d answers: %w", len(answers), err)
	}
	return nil
}

// AnswerFilter narrows ListAnswers. SessionID is required.
type AnswerFilter struct {
	SessionID string
	UserID    string
	PartID    string
}

// ListAnswers returns a session's answers ordered by creation time.
func (q *Queries) ListAnswers(ctx context.Context, f AnswerFilter) ([]ielts.Answer, error) {
	t := q.b().Table(answersTable.Name)
	sel := q.b().Select(qualify(t, answerColumns)...).
		From(t).
		Where(entsql.EQ(t.C("session_id"), f.SessionID)).
		OrderBy(t.C("created_at"), t.C("question_id"))
	if f.UserID != "" {
		sel.Where(entsql.EQ(t.C("user_id"), f.UserID))
	}
	if f.PartID != "" {
		sel.Where(entsql.EQ(t.C("part_id"), f.PartID))
	}

	var out []ielts.Answer
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		a, err := scanAnswer(rows)
		if err != nil {
			return err
		}
		out = append(out, *a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list answers of %s: %w", f.SessionID, err)
	}
	return out, nil
}

// DeleteAnswers removes every answer of a session.
func (q *Queries) DeleteAnswers(ctx context.Context, sessionID string) (int64, error) {
	n, err := q.exec(ctx, q.b().Delete(answersTable.Name).Where(entsql.EQ("session_id", sessionID)))
	if err != nil {
		return 0, fmt.Errorf("delete answers of %s: %w", sessionID, err)
	}
	return n, nil
}

// Resolution is a late correctness decision for one answer.
type Resolution struct {
	Correct       bool
	Score         float64
	CorrectAnswer string
	Explanation   string
}

// ResolveAnswer records the correctness decision for an answer.
func (q *Queries) ResolveAnswer(ctx context.Context, id string, r Resolution) error {
	ub := q.b().Update(answersTable.Name).
		Set("is_correct", r.Correct).
		Set("score", r.Score).
		Set("correct_answer", r.CorrectAnswer).
		Set("explanation", r.Explanation).
		Where(entsql.EQ("id", id))
	n, err := q.exec(ctx, ub)
	if err != nil {
		return fmt.Errorf("resolve answer %s: %w", id, err)
	}
	if n == 0 {
		return ielts.NotFound("answer", id)
	}
	return nil
}

func scanAnswer(rows *entsql.Rows) (*ielts.Answer, error) {
	var (
		a         ielts.Answer
		value     string
		isCorrect sql.NullBool
	)
	err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.QuestionID, &a.PartID, &value,
		&a.Answered, &isCorrect, &a.Score, &a.CorrectAnswer, &a.Explanation,
		&a.MediaPath, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(value, &a.Value); err != nil {
		return nil, fmt.Errorf("answer %s value: %w", a.ID, err)
	}
	a.IsCorrect = boolPtr(isCorrect)
	return &a, nil
}
