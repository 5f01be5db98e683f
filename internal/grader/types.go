package grader

// PassageQuestion is one free-text Reading item sent for grading.
type PassageQuestion struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Type       string `json:"type"`
	UserAnswer string `json:"user_answer"`
}

// PassageRequest batches the free-text items of one passage.
type PassageRequest struct {
	PassageID string
	Text      string
	Questions []PassageQuestion
	Lang      string
}

// ItemVerdict is the grader's decision for one question, persisted verbatim.
type ItemVerdict struct {
	QuestionID    string `json:"question_id"`
	IsCorrect     bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

// PassageStats summarizes a graded batch.
type PassageStats struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// PassageResult is the grader's response for one passage.
type PassageResult struct {
	Analysis []ItemVerdict `json:"analysis"`
	Stats    PassageStats  `json:"stats"`
}

// Verdict returns the verdict for questionID.
func (r *PassageResult) Verdict(questionID string) (ItemVerdict, bool) {
	for _, v := range r.Analysis {
		if v.QuestionID == questionID {
			return v, true
		}
	}
	return ItemVerdict{}, false
}

// Score is a graded criterion. A nil Score means the grader omitted it.
type Score struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// Value returns the numeric score, zero when absent.
func (s *Score) Value() float64 {
	if s == nil || s.Score == nil {
		return 0
	}
	return *s.Score
}

// Present reports whether the grader produced a number.
func (s *Score) Present() bool {
	return s != nil && s.Score != nil
}

// WritingTask is one task of a Writing submission.
type WritingTask struct {
	Number    int
	Prompt    string
	MediaPath string
	Answer    string
}

// WritingRequest carries both tasks of a Writing session.
type WritingRequest struct {
	Task1 WritingTask
	Task2 WritingTask
	Lang  string
}

// WritingTaskGrade holds the criteria of one Writing task. The schema
// carries both TaskAchievement and TaskResponse on each task; only the one
// matching the task number counts.
type WritingTaskGrade struct {
	TaskAchievement             *Score `json:"task_achievement"`
	TaskResponse                *Score `json:"task_response"`
	CoherenceAndCohesion        *Score `json:"coherence_and_cohesion"`
	LexicalResource             *Score `json:"lexical_resource"`
	GrammaticalRangeAndAccuracy *Score `json:"grammatical_range_and_accuracy"`
	WordCount                   int    `json:"word_count"`
	TimingFeedback              string `json:"timing_feedback"`
}

type namedScore struct {
	name  string
	score *Score
}

// band returns the four criteria task n is banded on: task achievement
// for Task 1, task response for Task 2.
func (g WritingTaskGrade) band(task int) [4]namedScore {
	first := namedScore{"task_achievement", g.TaskAchievement}
	if task == 2 {
		first = namedScore{"task_response", g.TaskResponse}
	}
	return [4]namedScore{
		first,
		{"coherence_and_cohesion", g.CoherenceAndCohesion},
		{"lexical_resource", g.LexicalResource},
		{"grammatical_range_and_accuracy", g.GrammaticalRangeAndAccuracy},
	}
}

// Criteria returns the four criteria of task n keyed by name, skipping
// the ones the grader omitted.
func (g WritingTaskGrade) Criteria(task int) map[string]*Score {
	out := make(map[string]*Score, 4)
	for _, c := range g.band(task) {
		if c.score != nil {
			out[c.name] = c.score
		}
	}
	return out
}

// Scores returns the numeric criteria of task n that were graded.
func (g WritingTaskGrade) Scores(task int) []float64 {
	var out []float64
	for _, c := range g.band(task) {
		if c.score.Present() {
			out = append(out, *c.score.Score)
		}
	}
	return out
}

// WritingResult is the grader's response for a Writing session.
type WritingResult struct {
	Task1            WritingTaskGrade `json:"task1"`
	Task2            WritingTaskGrade `json:"task2"`
	OverallBandScore *float64         `json:"overall_band_score"`
	OverallFeedback  string           `json:"overall_feedback"`
	TotalFeedback    string           `json:"total_feedback"`
}

// Feedback picks the summary text: overall, then total, then the task
// achievement and task response feedback joined by a newline.
func (r *WritingResult) Feedback() string {
	if r.OverallFeedback != "" {
		return r.OverallFeedback
	}
	if r.TotalFeedback != "" {
		return r.TotalFeedback
	}
	var ta, tr string
	if r.Task1.TaskAchievement != nil {
		ta = r.Task1.TaskAchievement.Feedback
	}
	if r.Task2.TaskResponse != nil {
		tr = r.Task2.TaskResponse.Feedback
	}
	return ta + "\n" + tr
}

// SpeakingPart is one transcribed part of a Speaking session.
type SpeakingPart struct {
	Number     int
	Question   string
	Transcript string
}

// SpeakingRequest carries the answered parts of a Speaking session.
type SpeakingRequest struct {
	Parts []SpeakingPart
	Lang  string
}

// SpeakingResult is the grader's response for a Speaking session.
type SpeakingResult struct {
	FluencyAndCoherence         *Score `json:"fluency_and_coherence"`
	LexicalResource             *Score `json:"lexical_resource"`
	GrammaticalRangeAndAccuracy *Score `json:"grammatical_range_and_accuracy"`
	Pronunciation               *Score `json:"pronunciation"`
	Part1                       *Score `json:"part1"`
	Part2                       *Score `json:"part2"`
	Part3                       *Score `json:"part3"`
	Feedback                    string `json:"feedback"`
}

// Criteria returns the four band criteria keyed by name.
func (r *SpeakingResult) Criteria() map[string]*Score {
	return map[string]*Score{
		"fluency_and_coherence":          r.FluencyAndCoherence,
		"lexical_resource":               r.LexicalResource,
		"grammatical_range_and_accuracy": r.GrammaticalRangeAndAccuracy,
		"pronunciation":                  r.Pronunciation,
	}
}

// Scores returns the numeric band criteria that were graded.
func (r *SpeakingResult) Scores() []float64 {
	var out []float64
	for _, s := range []*Score{
		r.FluencyAndCoherence,
		r.LexicalResource,
		r.GrammaticalRangeAndAccuracy,
		r.Pronunciation,
	} {
		if s.Present() {
			out = append(out, *s.Score)
		}
	}
	return out
}

// Part returns the per-part score for part number n (1 to 3).
func (r *SpeakingResult) Part(n int) *Score {
	switch n {
	case 1:
		return r.Part1
	case 2:
		return r.Part2
	case 3:
		return r.Part3
	}
	return nil
}
