// Package storetest provides in-memory stores and content fixtures for tests
// in other packages.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/store"
)

var seq atomic.Int64

// Open returns a migrated in-memory sqlite store closed at test end.
func Open(t testing.TB) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:storetest_%d?mode=memory&cache=shared", seq.Add(1))
	s, err := store.Open(context.Background(), store.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Prices used by SeedPricing.
const (
	Price      = 20
	TrialPrice = 5
)

// SeedPricing creates a default "free" tariff, a paid "pro" tariff and a
// test type for every module.
func SeedPricing(t testing.TB, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	q := s.Queries()
	require.NoError(t, q.CreateTariff(ctx, &ielts.Tariff{ID: "free", Name: "Free", IsDefault: true}))
	require.NoError(t, q.CreateTariff(ctx, &ielts.Tariff{ID: "pro", Name: "Pro", Tokens: 500}))
	for _, m := range ielts.Modules {
		require.NoError(t, q.UpsertTestType(ctx, &ielts.TestType{Type: m, Price: Price, TrialPrice: TrialPrice}))
	}
}

// AddUser creates a user with a balance and optional tariff.
func AddUser(t testing.TB, s *store.Store, id string, tokens int64, tariff string) {
	t.Helper()
	require.NoError(t, s.Queries().CreateUser(context.Background(), &ielts.User{ID: id, Tokens: tokens, TariffID: tariff}))
}

// AddExam persists e and returns it with generated ids filled in.
func AddExam(t testing.TB, s *store.Store, e *ielts.Exam) *ielts.Exam {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(q *store.Queries) error {
		return q.CreateExam(ctx, e)
	}))
	return e
}

// ListeningExam has four parts of n/4 cloze questions whose answers are
// "a1".."aN".
func ListeningExam(n int) *ielts.Exam {
	e := &ielts.Exam{Module: ielts.Listening, Title: "Listening practice"}
	per := n / 4
	for p := range 4 {
		part := ielts.Part{Title: fmt.Sprintf("Section %d", p+1), MediaPath: fmt.Sprintf("audio/%d.mp3", p+1)}
		for i := range per {
			k := p*per + i + 1
			part.Questions = append(part.Questions, ielts.Question{
				ID:            fmt.Sprintf("l%d", k),
				Type:          ielts.QuestionCloze,
				Text:          fmt.Sprintf("Gap %d", k),
				CorrectAnswer: ielts.List(fmt.Sprintf("a%d", k)),
			})
		}
		e.Parts = append(e.Parts, part)
	}
	return e
}

// ReadingExam has two passages. Passage 1 holds r1-mc, r2-mc and r3-text;
// passage 2 holds r4-mc and r5-text. Correct choices are "B".
func ReadingExam() *ielts.Exam {
	mc := func(id string) ielts.Question {
		return ielts.Question{
			ID:   id,
			Type: ielts.QuestionMultipleChoice,
			Text: "Pick one",
			Options: []ielts.Option{
				{Text: "A"}, {Text: "B", Correct: true}, {Text: "C"},
			},
		}
	}
	text := func(id string) ielts.Question {
		return ielts.Question{ID: id, Type: ielts.QuestionText, Text: "What does the author claim?"}
	}
	return &ielts.Exam{
		Module:       ielts.Reading,
		Title:        "Reading practice",
		Translations: ielts.Translations{"title": {"ru": "Чтение"}},
		Parts: []ielts.Part{
			{ID: "p1", Title: "Bees", Body: "Bees communicate by dancing.", Questions: []ielts.Question{mc("r1"), mc("r2"), text("r3")}},
			{ID: "p2", Title: "Tides", Body: "Tides follow the moon.", Questions: []ielts.Question{mc("r4"), text("r5")}},
		},
	}
}

// WritingExam has Task 1 (w1) and Task 2 (w2).
func WritingExam() *ielts.Exam {
	return &ielts.Exam{
		Module: ielts.Writing,
		Title:  "Writing practice",
		Parts: []ielts.Part{
			{Title: "Task 1", Body: "Describe the chart.", Questions: []ielts.Question{{ID: "w1", Type: ielts.QuestionEssay, Text: "Describe the chart."}}},
			{Title: "Task 2", Body: "Discuss both views.", Questions: []ielts.Question{{ID: "w2", Type: ielts.QuestionEssay, Text: "Discuss both views."}}},
		},
	}
}

// SpeakingExam has three parts with one prompt each (s1..s3).
func SpeakingExam() *ielts.Exam {
	e := &ielts.Exam{Module: ielts.Speaking, Title: "Speaking practice"}
	for i := 1; i <= 3; i++ {
		e.Parts = append(e.Parts, ielts.Part{
			Title:     fmt.Sprintf("Part %d", i),
			Questions: []ielts.Question{{ID: fmt.Sprintf("s%d", i), Type: ielts.QuestionSpoken, Text: fmt.Sprintf("Prompt %d", i)}},
		})
	}
	return e
}
