package session

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/bandscore/internal/evaluate"
	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/store"
)

// AnswerInput is one submitted Listening or Reading answer.
type AnswerInput struct {
	QuestionID string            `json:"question_id"`
	Value      ielts.AnswerValue `json:"user_answer"`
}

// WritingSubmission carries the two Writing tasks.
type WritingSubmission struct {
	Task1 string `json:"task1"`
	Task2 string `json:"task2"`
}

// SpokenAnswer is the recorded answer to one Speaking part.
type SpokenAnswer struct {
	PartNumber int    `json:"part"`
	Transcript string `json:"transcript"`
	MediaPath  string `json:"media_path"`
}

// SubmitResult is the raw outcome returned by a submit. Richer scoring
// arrives later through the analysis.
type SubmitResult struct {
	TotalScore float64 `json:"total_score"`
	Answered   int     `json:"answered"`
	Total      int     `json:"total"`
	// Pending counts answers left for the grader.
	Pending int `json:"pending"`
}

// SubmitListening evaluates every answer locally.
func (s *Service) SubmitListening(ctx context.Context, sessionID, userID string, answers []AnswerInput) (*SubmitResult, error) {
	return s.submitObjective(ctx, ielts.Listening, sessionID, userID, answers, func(q ielts.Question, v ielts.AnswerValue) evaluate.Result {
		return evaluate.Listening(q, v)
	})
}

// SubmitReading resolves multiple-choice items now. Free-text items are
// stored unresolved for the analysis to grade per passage.
func (s *Service) SubmitReading(ctx context.Context, sessionID, userID string, answers []AnswerInput) (*SubmitResult, error) {
	return s.submitObjective(ctx, ielts.Reading, sessionID, userID, answers, evaluate.ReadingLocal)
}

func (s *Service) submitObjective(
	ctx context.Context,
	m ielts.Module,
	sessionID, userID string,
	answers []AnswerInput,
	eval func(ielts.Question, ielts.AnswerValue) evaluate.Result,
) (*SubmitResult, error) {
	sess, exam, err := s.submittable(ctx, m, sessionID, userID)
	if err != nil {
		return nil, err
	}

	questions := indexQuestions(exam)
	given := make(map[string]ielts.AnswerValue, len(answers))
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			return nil, ielts.Invalid("question_id", "unknown question %q", a.QuestionID)
		}
		if _, dup := given[a.QuestionID]; dup {
			return nil, ielts.Invalid("question_id", "question %q answered twice", a.QuestionID)
		}
		if err := evaluate.Validate(q, a.Value); err != nil {
			return nil, err
		}
		given[a.QuestionID] = a.Value
	}

	res := &SubmitResult{}
	rows := make([]ielts.Answer, 0, len(questions))
	for _, part := range exam.Parts {
		for _, q := range part.Questions {
			row := ielts.Answer{
				SessionID:  sess.ID,
				UserID:     userID,
				QuestionID: q.ID,
				PartID:     part.ID,
			}
			v, ok := given[q.ID]
			if !ok || v.IsEmpty() {
				synthesize(&row, m)
				rows = append(rows, row)
				continue
			}

			r := eval(q, v)
			row.Value = v
			row.Answered = true
			if r.Resolved {
				row.IsCorrect = ptr(r.Correct)
				row.Score = r.Score
				row.CorrectAnswer = r.CorrectAnswer
				row.Explanation = r.Explanation
			} else {
				res.Pending++
			}
			res.Answered++
			res.TotalScore += row.Score
			rows = append(rows, row)
		}
	}
	res.Total = len(rows)

	return s.complete(ctx, sess, rows, res)
}

// SubmitWriting stores both tasks for grading. Task text is matched to the
// first question of parts 1 and 2.
func (s *Service) SubmitWriting(ctx context.Context, sessionID, userID string, sub WritingSubmission) (*SubmitResult, error) {
	sess, exam, err := s.submittable(ctx, ielts.Writing, sessionID, userID)
	if err != nil {
		return nil, err
	}

	texts := map[int]string{1: sub.Task1, 2: sub.Task2}
	res := &SubmitResult{}
	var rows []ielts.Answer
	for _, part := range exam.Parts {
		for i, q := range part.Questions {
			row := ielts.Answer{SessionID: sess.ID, UserID: userID, QuestionID: q.ID, PartID: part.ID}
			text := strings.TrimSpace(texts[part.Number])
			if i > 0 || text == "" {
				synthesize(&row, ielts.Writing)
			} else {
				row.Value = ielts.Text(text)
				row.Answered = true
				res.Answered++
				res.Pending++
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, ielts.NotFound("writing tasks for exam", exam.ID)
	}
	res.Total = len(rows)

	return s.complete(ctx, sess, rows, res)
}

// SubmitSpeaking stores one spoken answer per part. Part 1 is mandatory.
func (s *Service) SubmitSpeaking(ctx context.Context, sessionID, userID string, answers []SpokenAnswer) (*SubmitResult, error) {
	sess, exam, err := s.submittable(ctx, ielts.Speaking, sessionID, userID)
	if err != nil {
		return nil, err
	}

	parts := make(map[int]bool, len(exam.Parts))
	for _, p := range exam.Parts {
		parts[p.Number] = true
	}
	byPart := make(map[int]SpokenAnswer, len(answers))
	for _, a := range answers {
		if !parts[a.PartNumber] {
			return nil, ielts.Invalid("part", "exam has no speaking part %d", a.PartNumber)
		}
		if _, dup := byPart[a.PartNumber]; dup {
			return nil, ielts.Invalid("part", "part %d answered twice", a.PartNumber)
		}
		a.Transcript = strings.TrimSpace(a.Transcript)
		byPart[a.PartNumber] = a
	}
	if first, ok := byPart[1]; !ok || (first.Transcript == "" && first.MediaPath == "") {
		return nil, ielts.Invalid("part", "part 1 answer is required")
	}

	res := &SubmitResult{}
	var rows []ielts.Answer
	for _, part := range exam.Parts {
		a, ok := byPart[part.Number]
		for i, q := range part.Questions {
			row := ielts.Answer{SessionID: sess.ID, UserID: userID, QuestionID: q.ID, PartID: part.ID}
			if !ok || i > 0 || (a.Transcript == "" && a.MediaPath == "") {
				synthesize(&row, ielts.Speaking)
			} else {
				row.Value = ielts.Text(a.Transcript)
				row.MediaPath = a.MediaPath
				row.Answered = true
				res.Answered++
				res.Pending++
			}
			rows = append(rows, row)
		}
	}
	res.Total = len(rows)

	return s.complete(ctx, sess, rows, res)
}

// submittable loads an owned session of module m that may still be
// submitted, together with its exam.
func (s *Service) submittable(ctx context.Context, m ielts.Module, sessionID, userID string) (*ielts.Session, *ielts.Exam, error) {
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Module != m {
		return nil, nil, ielts.NotFound(strings.ToLower(string(m))+" session", sessionID)
	}
	if _, err := Transition(m, sess.Status, ielts.EventSubmit); err != nil {
		s.metrics.Transition(string(m), string(ielts.EventSubmit), err)
		return nil, nil, err
	}
	exam, err := s.store.Queries().GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, nil, err
	}
	return sess, exam, nil
}

// complete moves the session to COMPLETED and writes all answer rows in one
// transaction, then schedules the analysis.
func (s *Service) complete(ctx context.Context, sess *ielts.Session, rows []ielts.Answer, res *SubmitResult) (*SubmitResult, error) {
	now := s.now()
	_, err := s.move(ctx, sess, ielts.EventSubmit, store.SessionUpdate{EndTime: &now}, func(q *store.Queries) error {
		return q.InsertAnswers(ctx, rows)
	})
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"module":     sess.Module,
		"answered":   res.Answered,
		"total":      res.Total,
	})
	if s.dispatch != nil {
		if err := s.dispatch.DispatchAnalysis(ctx, sess.Module, sess.ID, sess.Lang); err != nil {
			log.WithError(err).Error("failed to enqueue analysis")
		}
	}
	log.WithField("score", res.TotalScore).Info("session submitted")
	return res, nil
}

// synthesize fills row as an unanswered, incorrect, zero-score answer.
func synthesize(row *ielts.Answer, m ielts.Module) {
	row.Value = ielts.List()
	row.Answered = false
	row.IsCorrect = ptr(false)
	row.Score = 0
	if m == ielts.Reading {
		row.Explanation = evaluate.ExplainNoAnswer
	}
}

func indexQuestions(exam *ielts.Exam) map[string]ielts.Question {
	out := make(map[string]ielts.Question)
	for _, p := range exam.Parts {
		for _, q := range p.Questions {
			out[q.ID] = q
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
