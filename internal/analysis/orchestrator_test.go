package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/bandscore/internal/grader"
	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/llm"
	"github.com/abhisek/bandscore/internal/metrics"
	"github.com/abhisek/bandscore/internal/session"
	"github.com/abhisek/bandscore/internal/store"
	"github.com/abhisek/bandscore/internal/store/storetest"
)

type fixture struct {
	store   *store.Store
	mock    *llm.MockProvider
	orch    *Orchestrator
	svc     *session.Service
	metrics *metrics.Metrics
	hook    *test.Hook
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.Open(t)
	storetest.SeedPricing(t, s)
	storetest.AddUser(t, s, "alice", 1000, "pro")
	storetest.AddUser(t, s, "bob", 1000, "pro")

	log, hook := test.NewNullLogger()
	f := &fixture{
		store:   s,
		mock:    llm.NewMockProvider(),
		metrics: metrics.New(),
		hook:    hook,
		clock:   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	f.orch = New(s, grader.New(f.mock, grader.DefaultConfig()), Options{Log: log, Metrics: f.metrics})
	f.svc = session.NewService(s, nil, session.Options{Log: log, Now: func() time.Time { return f.clock }})
	return f
}

// begin starts a session for alice and advances the clock by took, so the
// submit that follows records that duration.
func (f *fixture) begin(t *testing.T, exam *ielts.Exam, lang string, took time.Duration) *ielts.Session {
	t.Helper()
	sess, err := f.svc.Start(context.Background(), session.StartRequest{
		UserID: "alice", Module: exam.Module, ExamID: exam.ID, Lang: lang,
	})
	require.NoError(t, err)
	f.clock = f.clock.Add(took)
	return sess
}

func (f *fixture) count(t *testing.T, sessionID string) int {
	t.Helper()
	all, err := f.store.Queries().ListAnalysesBySession(context.Background(), sessionID)
	require.NoError(t, err)
	return len(all)
}

func TestListening_IdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	exam := storetest.AddExam(t, f.store, storetest.ListeningExam(40))
	sess := f.begin(t, exam, "en", 35*time.Minute)
	ctx := context.Background()

	var answers []session.AnswerInput
	for k := 1; k <= 30; k++ {
		v := ielts.Text(fmt.Sprintf("a%d", k))
		if k > 23 {
			v = ielts.Text("nope")
		}
		answers = append(answers, session.AnswerInput{QuestionID: fmt.Sprintf("l%d", k), Value: v})
	}
	_, err := f.svc.SubmitListening(ctx, sess.ID, "alice", answers)
	require.NoError(t, err)

	const callers = 8
	var (
		wg  sync.WaitGroup
		ids = make([]string, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.orch.Analyse(ctx, ielts.Listening, sess.ID)
			if assert.NoError(t, err) && assert.Len(t, got, 1) {
				ids[i] = got[0].ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.count(t, sess.ID))

	again, err := f.orch.Analyse(ctx, ielts.Listening, sess.ID)
	require.NoError(t, err)
	a := again[0]
	assert.Equal(t, ids[0], a.ID)
	assert.Equal(t, 23, a.CorrectAnswers)
	assert.Equal(t, 40, a.TotalQuestions)
	assert.Equal(t, 6.0, a.OverallScore)
	assert.Equal(t, 35*time.Minute, a.Duration)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AnalysesCreated.WithLabelValues("LISTENING", "created")))
}

func TestAnalyse_Preconditions(t *testing.T) {
	f := newFixture(t)
	exam := storetest.AddExam(t, f.store, storetest.ListeningExam(4))
	sess := f.begin(t, exam, "en", time.Minute)
	ctx := context.Background()

	_, err := f.orch.Analyse(ctx, ielts.Listening, sess.ID)
	assert.ErrorIs(t, err, ielts.ErrInvalidState)

	_, err = f.orch.Analyse(ctx, ielts.Listening, "missing")
	assert.ErrorIs(t, err, ielts.ErrNotFound)

	_, err = f.svc.SubmitListening(ctx, sess.ID, "alice", nil)
	require.NoError(t, err)
	_, err = f.orch.Analyse(ctx, ielts.Reading, sess.ID)
	assert.ErrorIs(t, err, ielts.ErrNotFound)

	got, err := f.orch.Analyse(ctx, ielts.Listening, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, got[0].CorrectAnswers)
	assert.Equal(t, 0.0, got[0].OverallScore)
}

func passageResponder(_ context.Context, req llm.Request) llm.MockResponse {
	msg := req.Messages[0].Content
	switch {
	case strings.Contains(msg, "Bees communicate"):
		return llm.MockResponse{Content: json.RawMessage(`{
			"analysis": [{"question_id":"r3","is_correct":true,"correct_answer":"by dancing","explanation":"Stated in line 1."}],
			"stats": {"total":1,"correct":1}
		}`)}
	default:
		return llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("upstream 503")}}
	}
}

func TestReading_PerPassageWithPartialGraderFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.Responder = passageResponder
	exam := storetest.AddExam(t, f.store, storetest.ReadingExam())
	sess := f.begin(t, exam, "ru", 50*time.Minute)
	ctx := context.Background()

	_, err := f.svc.SubmitReading(ctx, sess.ID, "alice", []session.AnswerInput{
		{QuestionID: "r1", Value: ielts.Text("B")},
		{QuestionID: "r2", Value: ielts.Text("C")},
		{QuestionID: "r3", Value: ielts.Text("They dance")},
		{QuestionID: "r4", Value: ielts.Text("b")},
		{QuestionID: "r5", Value: ielts.Text("The sun")},
	})
	require.NoError(t, err)

	got, err := f.orch.Analyse(ctx, ielts.Reading, sess.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	bySubject := map[string]ielts.Analysis{}
	for _, a := range got {
		bySubject[a.SubjectID] = a
		assert.Equal(t, sess.ID, a.SessionID)
		assert.Equal(t, 50*time.Minute, a.Duration)
	}
	assert.Equal(t, 2, bySubject["p1"].CorrectAnswers)
	assert.Equal(t, 3, bySubject["p1"].TotalQuestions)
	assert.Equal(t, 2.0, bySubject["p1"].OverallScore)
	assert.Equal(t, 1, bySubject["p2"].CorrectAnswers)
	assert.Equal(t, 2, bySubject["p2"].TotalQuestions)

	rows, err := f.store.Queries().ListAnswers(ctx, store.AnswerFilter{SessionID: sess.ID})
	require.NoError(t, err)
	byQ := map[string]ielts.Answer{}
	for _, a := range rows {
		byQ[a.QuestionID] = a
		assert.True(t, a.Resolved(), a.QuestionID)
	}
	assert.True(t, byQ["r3"].Correct())
	assert.Equal(t, "by dancing", byQ["r3"].CorrectAnswer)
	assert.Equal(t, "Stated in line 1.", byQ["r3"].Explanation)
	assert.False(t, byQ["r5"].Correct())
	assert.True(t, strings.HasPrefix(byQ["r5"].Explanation, "Error processing answer: "))

	calls := f.mock.CallCount()
	assert.Equal(t, 2, calls)
	assert.Contains(t, f.mock.Calls[0].System, "Russian")

	again, err := f.orch.Analyse(ctx, ielts.Reading, sess.ID)
	require.NoError(t, err)
	assert.Len(t, again, 2)
	assert.Equal(t, calls, f.mock.CallCount(), "stored analyses are not re-graded")
	assert.Equal(t, 2, f.count(t, sess.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GraderFailures.WithLabelValues("READING")))
}

const writingJSON = `{
	"task1": {
		"task_achievement": {"score": 8, "feedback": "Covers all features."},
		"coherence_and_cohesion": {"score": 8, "feedback": "Well organised."},
		"lexical_resource": {"score": 8, "feedback": "Precise."},
		"grammatical_range_and_accuracy": {"score": 8, "feedback": "Accurate."}
	},
	"task2": {
		"task_response": {"score": 8, "feedback": "Clear position."},
		"coherence_and_cohesion": {"score": 8, "feedback": "Logical."},
		"lexical_resource": {"score": 8, "feedback": "Wide range."},
		"grammatical_range_and_accuracy": {"score": 8, "feedback": "Few errors."}
	},
	"overall_feedback": "Strong script."
}`

func TestWriting_Task2PlaceholderCapsBand(t *testing.T) {
	f := newFixture(t)
	f.mock.AddResponse(llm.MockResponse{Content: json.RawMessage(writingJSON)})
	exam := storetest.AddExam(t, f.store, storetest.WritingExam())
	sess := f.begin(t, exam, "en", time.Hour)
	ctx := context.Background()

	_, err := f.svc.SubmitWriting(ctx, sess.ID, "alice", session.WritingSubmission{Task1: "The chart shows...", Task2: "string"})
	require.NoError(t, err)

	got, err := f.orch.Analyse(ctx, ielts.Writing, sess.ID)
	require.NoError(t, err)
	a := got[0]
	assert.Equal(t, 6.0, a.OverallScore)
	assert.Equal(t, "Strong script.", a.Feedback)
	assert.Equal(t, 8.0, a.Criteria["task1.task_achievement"].Score)
	assert.Equal(t, "Clear position.", a.Criteria["task2.task_response"].Feedback)
	assert.Len(t, a.Criteria, 8)

	req := f.mock.Calls[0].Messages[0].Content
	assert.Contains(t, req, "The chart shows...")
}

func TestWriting_AveragesFourCriteriaPerTask(t *testing.T) {
	tests := []struct {
		name     string
		task1    float64
		task2    float64
		stray    float64
		wantBand float64
	}{
		{name: "all six", task1: 6, task2: 6, stray: 6, wantBand: 6},
		{name: "stray scores ignored", task1: 6, task2: 7, stray: 9, wantBand: 6.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mock.AddResponse(llm.MockResponse{Content: json.RawMessage(fmt.Sprintf(`{
				"task1": {
					"task_achievement": {"score": %[1]v, "feedback": ""},
					"task_response": {"score": %[3]v, "feedback": ""},
					"coherence_and_cohesion": {"score": %[1]v, "feedback": ""},
					"lexical_resource": {"score": %[1]v, "feedback": ""},
					"grammatical_range_and_accuracy": {"score": %[1]v, "feedback": ""}
				},
				"task2": {
					"task_achievement": {"score": %[3]v, "feedback": ""},
					"task_response": {"score": %[2]v, "feedback": ""},
					"coherence_and_cohesion": {"score": %[2]v, "feedback": ""},
					"lexical_resource": {"score": %[2]v, "feedback": ""},
					"grammatical_range_and_accuracy": {"score": %[2]v, "feedback": ""}
				},
				"overall_band_score": null,
				"overall_feedback": "ok"
			}`, tt.task1, tt.task2, tt.stray))})
			exam := storetest.AddExam(t, f.store, storetest.WritingExam())
			sess := f.begin(t, exam, "en", time.Hour)
			ctx := context.Background()

			_, err := f.svc.SubmitWriting(ctx, sess.ID, "alice", session.WritingSubmission{
				Task1: "The chart shows a steady rise in exports.",
				Task2: "Some people believe that cities should invest in public transport rather than roads.",
			})
			require.NoError(t, err)

			got, err := f.orch.Analyse(ctx, ielts.Writing, sess.ID)
			require.NoError(t, err)
			a := got[0]
			assert.Equal(t, tt.wantBand, a.OverallScore)
			assert.Len(t, a.Criteria, 8)
			assert.NotContains(t, a.Criteria, "task1.task_response")
			assert.NotContains(t, a.Criteria, "task2.task_achievement")
		})
	}
}

func TestWriting_GraderFailureFloorsAtOne(t *testing.T) {
	f := newFixture(t)
	f.mock.AddResponse(llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("timeout")}})
	exam := storetest.AddExam(t, f.store, storetest.WritingExam())
	sess := f.begin(t, exam, "uz", time.Hour)
	ctx := context.Background()

	_, err := f.svc.SubmitWriting(ctx, sess.ID, "alice", session.WritingSubmission{Task1: "Some text", Task2: "An essay"})
	require.NoError(t, err)

	got, err := f.orch.Analyse(ctx, ielts.Writing, sess.ID)
	require.NoError(t, err)
	a := got[0]
	assert.Equal(t, 1.0, a.OverallScore)
	assert.Contains(t, a.Feedback, "Javobni avtomatik baholab bo'lmadi.")
	assert.Len(t, a.Criteria, 8)
	for name, c := range a.Criteria {
		assert.Zero(t, c.Score, name)
	}
	var warned bool
	for _, e := range f.hook.AllEntries() {
		warned = warned || e.Message == "grader failed, scoring with fallback"
	}
	assert.True(t, warned)
}

func TestWriting_NothingSubmittedSkipsGrader(t *testing.T) {
	f := newFixture(t)
	exam := storetest.AddExam(t, f.store, storetest.WritingExam())
	sess := f.begin(t, exam, "en", time.Minute)
	ctx := context.Background()

	_, err := f.svc.SubmitWriting(ctx, sess.ID, "alice", session.WritingSubmission{})
	require.NoError(t, err)

	got, err := f.orch.Analyse(ctx, ielts.Writing, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[0].OverallScore)
	assert.Equal(t, "Not answered", got[0].Feedback)
	assert.Zero(t, f.mock.CallCount())
}

func TestSpeaking_MissingPartsScoreZero(t *testing.T) {
	f := newFixture(t)
	f.mock.AddResponse(llm.MockResponse{Content: json.RawMessage(`{
		"fluency_and_coherence": {"score": 6, "feedback": "Some hesitation."},
		"lexical_resource": {"score": 6.5, "feedback": "Varied."},
		"grammatical_range_and_accuracy": {"score": 6, "feedback": "Mostly accurate."},
		"pronunciation": {"score": 7, "feedback": "Clear."},
		"part1": {"score": 6.5, "feedback": "Fine."},
		"part2": {"score": 5, "feedback": "ignored"},
		"part3": {"score": 6, "feedback": "Developed."},
		"feedback": "Good range."
	}`)})
	exam := storetest.AddExam(t, f.store, storetest.SpeakingExam())
	sess := f.begin(t, exam, "en", 14*time.Minute)
	ctx := context.Background()

	_, err := f.svc.SubmitSpeaking(ctx, sess.ID, "alice", []session.SpokenAnswer{
		{PartNumber: 1, Transcript: "I live in Samarkand."},
		{PartNumber: 3, Transcript: "Cities will keep growing."},
	})
	require.NoError(t, err)

	got, err := f.orch.Analyse(ctx, ielts.Speaking, sess.ID)
	require.NoError(t, err)
	a := got[0]
	// (6 + 6.5 + 6 + 7) / 4 = 6.375 -> 6.5
	assert.Equal(t, 6.5, a.OverallScore)
	assert.Equal(t, 2, a.CorrectAnswers)
	assert.Equal(t, "Good range.", a.Feedback)
	assert.Equal(t, ielts.Criterion{Score: 0, Feedback: "No answer"}, a.Criteria["part2"])
	assert.Equal(t, 6.0, a.Criteria["part3"].Score)
	assert.Equal(t, 7.0, a.Criteria["pronunciation"].Score)
	assert.Equal(t, 14*time.Minute, a.Duration)

	msg := f.mock.Calls[0].Messages[0].Content
	assert.Contains(t, msg, "Transcript: I live in Samarkand.")
}

func TestSpeaking_GraderFailure(t *testing.T) {
	f := newFixture(t)
	f.mock.AddResponse(llm.MockResponse{Err: &llm.ErrRateLimit{Err: errors.New("quota")}})
	exam := storetest.AddExam(t, f.store, storetest.SpeakingExam())
	sess := f.begin(t, exam, "en", time.Minute)
	ctx := context.Background()

	_, err := f.svc.SubmitSpeaking(ctx, sess.ID, "alice", []session.SpokenAnswer{{PartNumber: 1, Transcript: "Hello."}})
	require.NoError(t, err)

	got, err := f.orch.Analyse(ctx, ielts.Speaking, sess.ID)
	require.NoError(t, err)
	a := got[0]
	assert.Equal(t, 1.0, a.OverallScore)
	assert.Equal(t, "No answer", a.Criteria["part3"].Feedback)
	assert.Contains(t, a.Criteria["fluency_and_coherence"].Feedback, "could not be graded")
}

func TestGet_NotReadyThenReady(t *testing.T) {
	f := newFixture(t)
	f.mock.Responder = passageResponder
	exam := storetest.AddExam(t, f.store, storetest.ReadingExam())
	sess := f.begin(t, exam, "en", time.Minute)
	ctx := context.Background()

	_, err := f.orch.Get(ctx, ielts.Reading, sess.ID, "alice")
	assert.ErrorIs(t, err, ielts.ErrInvalidState, "still running")

	_, err = f.svc.SubmitReading(ctx, sess.ID, "alice", nil)
	require.NoError(t, err)

	_, err = f.orch.Get(ctx, ielts.Reading, sess.ID, "alice")
	assert.ErrorIs(t, err, ielts.ErrNotReady)

	_, err = f.orch.Analyse(ctx, ielts.Reading, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, f.mock.CallCount(), "nothing pending")

	got, err := f.orch.Get(ctx, ielts.Reading, sess.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = f.orch.Get(ctx, ielts.Reading, sess.ID, "bob")
	assert.ErrorIs(t, err, ielts.ErrNotFound)
}
