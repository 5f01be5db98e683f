// Package content imports seed data (pricing, tariffs, users and exams)
// from a JSON document.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/ledger"
	"github.com/abhisek/bandscore/internal/store"
)

// Document is the import file format.
type Document struct {
	TestTypes []TestType `json:"test_types"`
	Tariffs   []Tariff   `json:"tariffs"`
	Users     []User     `json:"users"`
	Exams     []Exam     `json:"exams"`
}

type TestType struct {
	Type       string `json:"type"`
	Price      int64  `json:"price"`
	TrialPrice int64  `json:"trial_price"`
}

type Tariff struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tokens    int64  `json:"tokens"`
	IsDefault bool   `json:"is_default"`
}

// User is created with a zero balance; Tokens is credited through the
// ledger so the opening balance has a transaction row.
type User struct {
	ID     string `json:"id"`
	Tariff string `json:"tariff"`
	Tokens int64  `json:"tokens"`
}

type Exam struct {
	ID           string             `json:"id"`
	Module       string             `json:"module"`
	Title        string             `json:"title"`
	Translations ielts.Translations `json:"translations"`
	Parts        []Part             `json:"parts"`
}

type Part struct {
	ID           string             `json:"id"`
	Number       int                `json:"number"`
	Title        string             `json:"title"`
	Body         string             `json:"body"`
	MediaPath    string             `json:"media_path"`
	Translations ielts.Translations `json:"translations"`
	Questions    []Question         `json:"questions"`
}

type Question struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Text          string            `json:"text"`
	Options       []ielts.Option    `json:"options"`
	CorrectAnswer ielts.AnswerValue `json:"correct_answer"`
}

// Summary counts what an import wrote.
type Summary struct {
	TestTypes int
	Tariffs   int
	Users     int
	Exams     int
	Questions int
}

// Decode reads a Document, rejecting unknown fields.
func Decode(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &doc, nil
}

// Import writes doc in one transaction. Nothing is written on error.
func Import(ctx context.Context, s *store.Store, doc *Document, log logrus.FieldLogger) (*Summary, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	exams, err := doc.exams()
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	err = s.InTx(ctx, func(q *store.Queries) error {
		for _, tt := range doc.TestTypes {
			m, err := ielts.ParseModule(tt.Type)
			if err != nil {
				return err
			}
			if err := q.UpsertTestType(ctx, &ielts.TestType{Type: m, Price: tt.Price, TrialPrice: tt.TrialPrice}); err != nil {
				return err
			}
			sum.TestTypes++
		}
		for _, t := range doc.Tariffs {
			if err := q.CreateTariff(ctx, &ielts.Tariff{ID: t.ID, Name: t.Name, Tokens: t.Tokens, IsDefault: t.IsDefault}); err != nil {
				return err
			}
			sum.Tariffs++
		}
		for _, u := range doc.Users {
			if u.ID == "" {
				return ielts.Invalid("users.id", "required")
			}
			if err := q.CreateUser(ctx, &ielts.User{ID: u.ID, TariffID: u.Tariff}); err != nil {
				return err
			}
			if u.Tokens > 0 {
				if _, err := ledger.Credit(ctx, q, u.ID, u.Tokens, ielts.TxCustomAddition, "opening balance"); err != nil {
					return err
				}
			}
			sum.Users++
		}
		for _, e := range exams {
			if err := q.CreateExam(ctx, e); err != nil {
				return err
			}
			sum.Exams++
			for _, p := range e.Parts {
				sum.Questions += len(p.Questions)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"test_types": sum.TestTypes,
		"tariffs":    sum.Tariffs,
		"users":      sum.Users,
		"exams":      sum.Exams,
		"questions":  sum.Questions,
	}).Info("content imported")
	return sum, nil
}

func (doc *Document) exams() ([]*ielts.Exam, error) {
	out := make([]*ielts.Exam, 0, len(doc.Exams))
	for i, e := range doc.Exams {
		m, err := ielts.ParseModule(e.Module)
		if err != nil {
			return nil, fmt.Errorf("exam %d: %w", i, err)
		}
		if len(e.Parts) == 0 {
			return nil, ielts.Invalid(fmt.Sprintf("exams[%d].parts", i), "at least one part is required")
		}
		exam := &ielts.Exam{ID: e.ID, Module: m, Title: e.Title, Translations: e.Translations}
		for _, p := range e.Parts {
			part := ielts.Part{
				ID:           p.ID,
				Number:       p.Number,
				Title:        p.Title,
				Body:         p.Body,
				MediaPath:    p.MediaPath,
				Translations: p.Translations,
			}
			for k, q := range p.Questions {
				part.Questions = append(part.Questions, ielts.Question{
					ID:            q.ID,
					Index:         k + 1,
					Type:          q.Type,
					Text:          q.Text,
					Options:       q.Options,
					CorrectAnswer: q.CorrectAnswer,
				})
			}
			exam.Parts = append(exam.Parts, part)
		}
		out = append(out, exam)
	}
	return out, nil
}
