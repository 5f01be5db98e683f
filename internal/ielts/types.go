// Package ielts holds the domain vocabulary shared across the scoring engine:
// skill modules, session statuses, content, answers and analyses.
package ielts

import (
	"fmt"
	"strings"
	"time"
)

// Module is one of the four IELTS skill modules.
type Module string

const (
	Listening Module = "LISTENING"
	Reading   Module = "READING"
	Writing   Module = "WRITING"
	Speaking  Module = "SPEAKING"
)

// Modules lists every module in canonical order.
var Modules = []Module{Listening, Reading, Writing, Speaking}

// ParseModule accepts any casing of a module name.
func ParseModule(s string) (Module, error) {
	m := Module(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case Listening, Reading, Writing, Speaking:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTestType, s)
}

// Subjective reports whether the module is scored by the external grader.
func (m Module) Subjective() bool {
	return m == Writing || m == Speaking
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusPending   Status = "PENDING"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
)

// Event is a lifecycle transition request.
type Event string

const (
	EventStart   Event = "start"
	EventSubmit  Event = "submit"
	EventCancel  Event = "cancel"
	EventRestart Event = "restart"
	EventExpire  Event = "expire"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxReading         TransactionType = "READING"
	TxWriting         TransactionType = "WRITING"
	TxListening       TransactionType = "LISTENING"
	TxSpeaking        TransactionType = "SPEAKING"
	TxDailyBonus      TransactionType = "DAILY_BONUS"
	TxReferralBonus   TransactionType = "REFERRAL_BONUS"
	TxCustomDeduction TransactionType = "CUSTOM_DEDUCTION"
	TxCustomAddition  TransactionType = "CUSTOM_ADDITION"
	TxRefund          TransactionType = "REFUND"
)

// Question types. Listening uses the lower-case names, Reading the upper-case ones.
const (
	QuestionCloze              = "cloze_test"
	QuestionFormCompletion     = "form_completion"
	QuestionSentenceCompletion = "sentence_completion"
	QuestionChoice             = "choice"
	QuestionMultipleAnswers    = "multiple_answers"
	QuestionMatching           = "matching"

	QuestionText           = "TEXT"
	QuestionMultipleChoice = "MULTIPLE_CHOICE"

	QuestionEssay  = "essay"
	QuestionSpoken = "spoken"
)

// User is the subset of the account the engine reads.
type User struct {
	ID        string
	Tokens    int64
	TariffID  string
	CreatedAt time.Time
}

// Tariff decides which price column a user pays.
type Tariff struct {
	ID        string
	Name      string
	Tokens    int64
	IsDefault bool
}

// TestType carries the two price points of a module.
type TestType struct {
	Type       Module
	Price      int64
	TrialPrice int64
}

// TokenTransaction is one append-only ledger row.
type TokenTransaction struct {
	ID           int64
	UserID       string
	Type         TransactionType
	Amount       int64
	BalanceAfter int64
	Description  string
	CreatedAt    time.Time
}

// Translations maps field -> language -> text.
type Translations map[string]map[string]string

// Exam is a complete test for one module.
type Exam struct {
	ID           string
	Module       Module
	Title        string
	Translations Translations
	Parts        []Part
}

// Part is a Listening part, a Reading passage, a Writing task or a Speaking part.
type Part struct {
	ID           string
	ExamID       string
	Number       int
	Title        string
	Body         string
	MediaPath    string
	Translations Translations
	Questions    []Question
}

// Option is a multiple-choice variant.
type Option struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is immutable test content.
type Question struct {
	ID            string
	PartID        string
	Index         int
	Type          string
	Text          string
	Options       []Option
	CorrectAnswer AnswerValue
}

// Session is one user's attempt at one module.
type Session struct {
	ID        string
	Module    Module
	UserID    string
	ExamID    string
	Status    Status
	PricePaid int64
	Lang      string
	StartTime *time.Time
	EndTime   *time.Time
	CreatedAt time.Time
}

// Duration is end minus start, or zero when either is unset.
func (s *Session) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// Answer is one per question per session.
type Answer struct {
	ID            string
	SessionID     string
	UserID        string
	QuestionID    string
	PartID        string
	Value         AnswerValue
	Answered      bool
	IsCorrect     *bool
	Score         float64
	CorrectAnswer string
	Explanation   string
	MediaPath     string
	CreatedAt     time.Time
}

// Resolved reports whether correctness has been decided.
func (a *Answer) Resolved() bool { return a.IsCorrect != nil }

// Correct reports a resolved, correct answer.
func (a *Answer) Correct() bool { return a.IsCorrect != nil && *a.IsCorrect }

// Criterion is one graded dimension with its feedback.
type Criterion struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Criteria is the per-criterion breakdown persisted with an analysis.
// Keys are criterion names, prefixed by task or part where relevant.
type Criteria map[string]Criterion

// Analysis is the scored outcome of a completed session, or of one
// passage for Reading.
type Analysis struct {
	ID             string
	Module         Module
	SubjectID      string
	SessionID      string
	UserID         string
	CorrectAnswers int
	TotalQuestions int
	OverallScore   float64
	Criteria       Criteria
	Feedback       string
	Duration       time.Duration
	CreatedAt      time.Time
}

// Lookup returns the translation of field in lang.
func (t Translations) Lookup(field, lang string) (string, bool) {
	s, ok := t[field][lang]
	return s, ok
}

// RawField returns an untranslated content field by name.
func (e *Exam) RawField(field string) string {
	if field == "title" {
		return e.Title
	}
	return ""
}

func (e *Exam) Translation(field, lang string) (string, bool) {
	return e.Translations.Lookup(field, lang)
}

// RawField returns an untranslated content field by name.
func (p *Part) RawField(field string) string {
	switch field {
	case "title":
		return p.Title
	case "body":
		return p.Body
	}
	return ""
}

func (p *Part) Translation(field, lang string) (string, bool) {
	return p.Translations.Lookup(field, lang)
}
