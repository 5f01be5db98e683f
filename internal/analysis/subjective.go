package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/bandscore/internal/band"
	"github.com/abhisek/bandscore/internal/grader"
	"github.com/abhisek/bandscore/internal/i18n"
	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/store"
)

var (
	writingTask1Criteria = []string{"task_achievement", "coherence_and_cohesion", "lexical_resource", "grammatical_range_and_accuracy"}
	writingTask2Criteria = []string{"task_response", "coherence_and_cohesion", "lexical_resource", "grammatical_range_and_accuracy"}
	speakingCriteria     = []string{"fluency_and_coherence", "lexical_resource", "grammatical_range_and_accuracy", "pronunciation"}
)

// partAnswer pairs a part with the answer to its first question.
type partAnswer struct {
	part   *ielts.Part
	prompt string
	answer *ielts.Answer
}

// firstAnswers returns, in part order, each part with the answer to its
// first question (nil when the part has no questions or no row).
func firstAnswers(exam *ielts.Exam, answers []ielts.Answer) []partAnswer {
	byQuestion := make(map[string]*ielts.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}
	out := make([]partAnswer, 0, len(exam.Parts))
	for i := range exam.Parts {
		p := &exam.Parts[i]
		pa := partAnswer{part: p, prompt: p.Body}
		if len(p.Questions) > 0 {
			q := p.Questions[0]
			if pa.prompt == "" {
				pa.prompt = q.Text
			}
			pa.answer = byQuestion[q.ID]
		}
		out = append(out, pa)
	}
	return out
}

func (pa partAnswer) text() string {
	if pa.answer == nil || !pa.answer.Answered {
		return ""
	}
	return strings.TrimSpace(pa.answer.Value.String())
}

func (o *Orchestrator) writing(ctx context.Context, sess *ielts.Session) (*ielts.Analysis, error) {
	started := time.Now()
	key := store.AnalysisKey{Module: ielts.Writing, SubjectID: sess.ID, UserID: sess.UserID}
	if a, err := o.existing(ctx, key); err != nil || a != nil {
		return a, err
	}

	q := o.store.Queries()
	exam, err := q.GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := q.ListAnswers(ctx, store.AnswerFilter{SessionID: sess.ID, UserID: sess.UserID})
	if err != nil {
		return nil, err
	}

	req := grader.WritingRequest{Lang: sess.Lang}
	answered := 0
	for _, pa := range firstAnswers(exam, answers) {
		task := grader.WritingTask{Number: pa.part.Number, Prompt: pa.prompt, MediaPath: pa.part.MediaPath, Answer: pa.text()}
		if task.Answer != "" {
			answered++
		}
		switch pa.part.Number {
		case 1:
			req.Task1 = task
		case 2:
			req.Task2 = task
		}
	}

	a := &ielts.Analysis{
		Module:         ielts.Writing,
		SubjectID:      sess.ID,
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		CorrectAnswers: answered,
		TotalQuestions: len(answers),
		Duration:       sess.Duration(),
	}

	in := band.WritingInput{Task2Answer: req.Task2.Answer}
	switch res, err := o.gradeWriting(ctx, req); {
	case err != nil:
		o.graderFailed(sess, sess.ID, err)
		a.Criteria, a.Feedback = writingFallback(sess.Lang, err)
	case res == nil:
		a.Criteria, a.Feedback = writingFallback(sess.Lang, nil)
	default:
		a.Criteria = writingCriteria(res)
		a.Feedback = strings.TrimSpace(res.Feedback())
		in.Task1 = res.Task1.Scores(1)
		in.Task2 = res.Task2.Scores(2)
		in.GraderOverall = res.OverallBandScore
	}
	a.OverallScore = band.Writing(in)

	return o.persist(ctx, a, started, nil)
}

// gradeWriting skips the grader when neither task was answered.
func (o *Orchestrator) gradeWriting(ctx context.Context, req grader.WritingRequest) (*grader.WritingResult, error) {
	if req.Task1.Answer == "" && req.Task2.Answer == "" {
		return nil, nil
	}
	return o.grader.GradeWriting(ctx, req)
}

func writingCriteria(res *grader.WritingResult) ielts.Criteria {
	c := ielts.Criteria{}
	for task, g := range []grader.WritingTaskGrade{res.Task1, res.Task2} {
		prefix := fmt.Sprintf("task%d.", task+1)
		for name, s := range g.Criteria(task + 1) {
			c[prefix+name] = ielts.Criterion{Score: s.Value(), Feedback: s.Feedback}
		}
	}
	return c
}

// writingFallback zeroes every criterion. err is nil when nothing was
// submitted.
func writingFallback(lang string, err error) (ielts.Criteria, string) {
	feedback := i18n.Message(i18n.MsgNotAnswered, lang)
	if err != nil {
		feedback = fmt.Sprintf("%s (%v)", i18n.Message(i18n.MsgGraderError, lang), err)
	}
	c := ielts.Criteria{}
	for _, name := range writingTask1Criteria {
		c["task1."+name] = ielts.Criterion{Feedback: feedback}
	}
	for _, name := range writingTask2Criteria {
		c["task2."+name] = ielts.Criterion{Feedback: feedback}
	}
	return c, feedback
}

func (o *Orchestrator) speaking(ctx context.Context, sess *ielts.Session) (*ielts.Analysis, error) {
	started := time.Now()
	key := store.AnalysisKey{Module: ielts.Speaking, SubjectID: sess.ID, UserID: sess.UserID}
	if a, err := o.existing(ctx, key); err != nil || a != nil {
		return a, err
	}

	q := o.store.Queries()
	exam, err := q.GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := q.ListAnswers(ctx, store.AnswerFilter{SessionID: sess.ID, UserID: sess.UserID})
	if err != nil {
		return nil, err
	}

	parts := firstAnswers(exam, answers)
	req := grader.SpeakingRequest{Lang: sess.Lang}
	answered := make(map[int]bool, len(parts))
	for _, pa := range parts {
		t := pa.text()
		answered[pa.part.Number] = t != ""
		req.Parts = append(req.Parts, grader.SpeakingPart{Number: pa.part.Number, Question: pa.prompt, Transcript: t})
	}

	a := &ielts.Analysis{
		Module:         ielts.Speaking,
		SubjectID:      sess.ID,
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		TotalQuestions: len(answers),
		Duration:       sess.Duration(),
		Criteria:       ielts.Criteria{},
	}
	for _, ok := range answered {
		if ok {
			a.CorrectAnswers++
		}
	}

	noAnswer := i18n.Message(i18n.MsgNoAnswer, sess.Lang)
	res, err := o.grader.GradeSpeaking(ctx, req)
	if err != nil {
		o.graderFailed(sess, sess.ID, err)
		a.Feedback = fmt.Sprintf("%s (%v)", i18n.Message(i18n.MsgGraderError, sess.Lang), err)
		for _, name := range speakingCriteria {
			a.Criteria[name] = ielts.Criterion{Feedback: a.Feedback}
		}
		for _, pa := range parts {
			fb := a.Feedback
			if !answered[pa.part.Number] {
				fb = noAnswer
			}
			a.Criteria[partKey(pa.part.Number)] = ielts.Criterion{Feedback: fb}
		}
		a.OverallScore = band.Speaking(nil)
		return o.persist(ctx, a, started, nil)
	}

	for name, s := range res.Criteria() {
		a.Criteria[name] = ielts.Criterion{Score: s.Value(), Feedback: feedbackOf(s)}
	}
	for _, pa := range parts {
		n := pa.part.Number
		if !answered[n] {
			a.Criteria[partKey(n)] = ielts.Criterion{Feedback: noAnswer}
			continue
		}
		s := res.Part(n)
		a.Criteria[partKey(n)] = ielts.Criterion{Score: s.Value(), Feedback: feedbackOf(s)}
	}
	a.Feedback = strings.TrimSpace(res.Feedback)
	a.OverallScore = band.Speaking(res.Scores())

	return o.persist(ctx, a, started, nil)
}

func partKey(n int) string {
	return fmt.Sprintf("part%d", n)
}

func feedbackOf(s *grader.Score) string {
	if s == nil {
		return ""
	}
	return s.Feedback
}
