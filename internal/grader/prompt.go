package grader

import (
	"bytes"
	"encoding/json"
	"text/template"

	"github.com/abhisek/bandscore/internal/i18n"
)

const passageSystemPrompt = `You are an experienced IELTS Reading examiner. You check free-text answers to questions about a reading passage.

Instructions:
- Judge every question in the list. Return exactly one entry per question_id, using the ids you were given.
- An answer is correct when it conveys the answer found in the passage; ignore case, articles and minor spelling slips.
- correct_answer is the answer as it appears in the passage.
- Keep each explanation to one or two sentences, written in {{.Language}}.
- stats.total is the number of questions and stats.correct the number judged correct.`

const writingSystemPrompt = `You are a certified IELTS Writing examiner. Grade both tasks using the public IELTS band descriptors.

Instructions:
- Score each criterion from 0 to 9 in steps of 0.5 and give short, specific feedback for it.
- Task 1 is graded on task_achievement; set task_response to null for Task 1.
- Task 2 is graded on task_response; set task_achievement to null for Task 2.
- If a task answer is empty, score its criteria 0 and say that the task was not answered.
- word_count is the number of words in the candidate's answer for that task.
- Leave overall_band_score null unless you are certain of the overall band.
- Write all feedback in {{.Language}}.`

const speakingSystemPrompt = `You are a certified IELTS Speaking examiner. You receive transcripts of a candidate's answers to the three parts of the test.

Instructions:
- Score fluency_and_coherence, lexical_resource, grammatical_range_and_accuracy and pronunciation from 0 to 9 in steps of 0.5, with short feedback for each.
- Judge pronunciation only from what the transcript evidences; say so in the feedback.
- Score part1, part2 and part3 separately. Set a part to null when it has no transcript.
- feedback is a short overall summary.
- Write all feedback in {{.Language}}.`

var (
	passageSystemTemplate  = template.Must(template.New("passage-system").Parse(passageSystemPrompt))
	writingSystemTemplate  = template.Must(template.New("writing-system").Parse(writingSystemPrompt))
	speakingSystemTemplate = template.Must(template.New("speaking-system").Parse(speakingSystemPrompt))
)

var passageUserTemplate = template.Must(template.New("passage").Parse(`Passage:
{{.Text}}

Questions and candidate answers (JSON):
{{.QuestionsJSON}}`))

var writingUserTemplate = template.Must(template.New("writing").Parse(`Task 1 prompt:
{{.Task1.Prompt}}
{{if .Task1.MediaPath}}(Task 1 diagram: {{.Task1.MediaPath}})
{{end}}
Task 1 answer:
{{.Task1.Answer}}

Task 2 prompt:
{{.Task2.Prompt}}

Task 2 answer:
{{.Task2.Answer}}`))

var speakingUserTemplate = template.Must(template.New("speaking").Parse(`{{range .Parts}}Part {{.Number}}
Question: {{.Question}}
Transcript: {{if .Transcript}}{{.Transcript}}{{else}}(no answer){{end}}

{{end}}`))

type languageData struct {
	Language string
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func systemPrompt(t *template.Template, lang string) (string, error) {
	return render(t, languageData{Language: i18n.LanguageName(lang)})
}

func buildPassageMessage(req PassageRequest) (string, error) {
	questions, err := json.MarshalIndent(req.Questions, "", "  ")
	if err != nil {
		return "", err
	}
	return render(passageUserTemplate, struct {
		Text          string
		QuestionsJSON string
	}{Text: req.Text, QuestionsJSON: string(questions)})
}

func buildWritingMessage(req WritingRequest) (string, error) {
	return render(writingUserTemplate, req)
}

func buildSpeakingMessage(req SpeakingRequest) (string, error) {
	return render(speakingUserTemplate, req)
}
