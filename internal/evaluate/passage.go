package evaluate

import (
	"context"
	"errors"

	"github.com/abhisek/bandscore/internal/grader"
	"github.com/abhisek/bandscore/internal/ielts"
)

// PassageGrader grades the free-text items of one Reading passage.
// *grader.Grader satisfies it.
type PassageGrader interface {
	GradePassage(ctx context.Context, req grader.PassageRequest) (*grader.PassageResult, error)
}

// Pending is a free-text answer waiting for the grader.
type Pending struct {
	Question ielts.Question
	Value    ielts.AnswerValue
}

var errMissingVerdict = errors.New("missing from grader response")

// GradePassage sends every pending item of passage to g in a single call
// and returns a resolved Result per question id. When the call fails every
// item is marked incorrect with the error as its explanation, and the error
// is returned alongside so callers can log it; the results are still
// usable.
func GradePassage(ctx context.Context, g PassageGrader, passage *ielts.Part, lang string, pending []Pending) (map[string]Result, error) {
	out := make(map[string]Result, len(pending))
	if len(pending) == 0 {
		return out, nil
	}

	req := grader.PassageRequest{
		PassageID: passage.ID,
		Text:      passage.Body,
		Lang:      lang,
		Questions: make([]grader.PassageQuestion, len(pending)),
	}
	for i, p := range pending {
		req.Questions[i] = grader.PassageQuestion{
			QuestionID: p.Question.ID,
			Question:   p.Question.Text,
			Type:       p.Question.Type,
			UserAnswer: p.Value.String(),
		}
	}

	res, err := g.GradePassage(ctx, req)
	if err != nil {
		for _, p := range pending {
			out[p.Question.ID] = Failed(err)
		}
		return out, err
	}

	for _, p := range pending {
		v, ok := res.Verdict(p.Question.ID)
		if !ok {
			out[p.Question.ID] = Failed(errMissingVerdict)
			continue
		}
		r := verdict(v.IsCorrect)
		r.CorrectAnswer = v.CorrectAnswer
		r.Explanation = v.Explanation
		out[p.Question.ID] = r
	}
	return out, nil
}
