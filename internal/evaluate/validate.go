package evaluate

import (
	"github.com/abhisek/bandscore/internal/ielts"
)

// Validate rejects answer shapes a question type cannot accept. The zero
// AnswerValue is always accepted as "no answer".
func Validate(q ielts.Question, v ielts.AnswerValue) error {
	if v.Kind == "" {
		return nil
	}
	ok := false
	switch q.Type {
	case ielts.QuestionCloze, ielts.QuestionFormCompletion, ielts.QuestionSentenceCompletion,
		ielts.QuestionMultipleAnswers:
		ok = v.Kind != ielts.KindStructured
	case ielts.QuestionChoice:
		ok = v.Kind == ielts.KindText || v.Kind == ielts.KindScalar ||
			(v.Kind == ielts.KindList && len(v.List) <= 1)
	case ielts.QuestionMatching:
		ok = v.Kind == ielts.KindStructured || v.Kind == ielts.KindList
	case ielts.QuestionMultipleChoice, ielts.QuestionText:
		ok = v.Kind == ielts.KindText || v.Kind == ielts.KindScalar
	case ielts.QuestionEssay, ielts.QuestionSpoken:
		ok = v.Kind == ielts.KindText
	default:
		ok = true
	}
	if !ok {
		return ielts.Invalid("answer."+q.ID, "%s value not accepted for %s question", v.Kind, q.Type)
	}
	return nil
}
