// Package evaluate decides per-question correctness for objectively
// gradable items and batches free-text Reading items to the external grader.
package evaluate

import (
	"strings"

	"github.com/abhisek/bandscore/internal/ielts"
)

// Explanations recorded on Reading answers.
const (
	ExplainNoAnswer        = "No answer provided."
	ExplainIncorrectOption = "Incorrect option."
	explainErrorPrefix     = "Error processing answer: "
)

// Result is the verdict for one question. An unresolved result leaves
// correctness to the external grader.
type Result struct {
	Resolved      bool
	Correct       bool
	Score         float64
	CorrectAnswer string
	Explanation   string
}

func verdict(correct bool) Result {
	r := Result{Resolved: true, Correct: correct}
	if correct {
		r.Score = 1
	}
	return r
}

// Unanswered is the verdict synthesized for a question absent from the
// submission.
func Unanswered() Result {
	return verdict(false)
}

// Normalize trims, case-folds and collapses inner whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Listening checks a Listening answer against its question's type rule.
func Listening(q ielts.Question, v ielts.AnswerValue) Result {
	if v.IsEmpty() {
		return Unanswered()
	}
	correct := q.CorrectAnswer

	switch q.Type {
	case ielts.QuestionCloze, ielts.QuestionFormCompletion, ielts.QuestionSentenceCompletion:
		return verdict(sameSequence(v.Strings(), correct.Strings()))

	case ielts.QuestionChoice:
		want := correct.Strings()
		got := v.Strings()
		if len(want) == 0 || len(got) != 1 {
			return verdict(false)
		}
		return verdict(Normalize(got[0]) == Normalize(want[0]))

	case ielts.QuestionMultipleAnswers:
		return verdict(sameSet(v.Strings(), correct.Strings()))

	case ielts.QuestionMatching:
		if correct.Kind == ielts.KindStructured || v.Kind == ielts.KindStructured {
			return verdict(sameMapping(v, correct))
		}
		return verdict(sameSequence(v.Strings(), correct.Strings()))
	}

	return verdict(v.String() == correct.String())
}

// ReadingLocal resolves what can be decided without the grader: empty
// answers and multiple-choice items. Free-text items come back unresolved.
func ReadingLocal(q ielts.Question, v ielts.AnswerValue) Result {
	if v.IsEmpty() {
		r := verdict(false)
		r.Explanation = ExplainNoAnswer
		return r
	}
	if q.Type != ielts.QuestionMultipleChoice {
		return Result{}
	}

	var want string
	for _, opt := range q.Options {
		if opt.Correct {
			want = opt.Text
			break
		}
	}
	if want == "" && len(q.CorrectAnswer.Strings()) > 0 {
		want = q.CorrectAnswer.Strings()[0]
	}

	r := verdict(want != "" && Normalize(v.String()) == Normalize(want))
	r.CorrectAnswer = want
	if !r.Correct {
		r.Explanation = ExplainIncorrectOption
	}
	return r
}

// Failed is the verdict for a free-text item whose grading call failed.
func Failed(err error) Result {
	r := verdict(false)
	r.Explanation = explainErrorPrefix + err.Error()
	return r
}

func sameSequence(got, want []string) bool {
	if len(got) != len(want) || len(want) == 0 {
		return false
	}
	for i := range want {
		if Normalize(got[i]) != Normalize(want[i]) {
			return false
		}
	}
	return true
}

func sameSet(got, want []string) bool {
	a := toSet(got)
	b := toSet(want)
	if len(a) != len(b) || len(b) == 0 {
		return false
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		if n := Normalize(s); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func sameMapping(got, want ielts.AnswerValue) bool {
	if got.Kind != ielts.KindStructured || want.Kind != ielts.KindStructured {
		return false
	}
	if len(got.Map) != len(want.Map) || len(want.Map) == 0 {
		return false
	}
	norm := make(map[string]string, len(got.Map))
	for k, v := range got.Map {
		norm[Normalize(k)] = Normalize(v)
	}
	for k, v := range want.Map {
		if g, ok := norm[Normalize(k)]; !ok || g != Normalize(v) {
			return false
		}
	}
	return true
}
