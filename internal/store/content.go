package store

import (
	"context"
	"fmt"
	"math/rand/v2"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/bandscore/internal/ielts"
)

// CreateExam inserts an exam with its parts and questions. Missing IDs are
// generated. Run it inside InTx so a partial import never lands.
func (q *Queries) CreateExam(ctx context.Context, e *ielts.Exam) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tr, err := marshalJSON(orEmpty(e.Translations))
	if err != nil {
		return err
	}
	ib := q.b().Insert(examsTable.Name).
		Columns("id", "module", "title", "translations").
		Values(e.ID, string(e.Module), e.Title, tr)
	if _, err := q.exec(ctx, ib); err != nil {
		return fmt.Errorf("insert exam %s: %w", e.ID, err)
	}

	for i := range e.Parts {
		p := &e.Parts[i]
		p.ExamID = e.ID
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Number == 0 {
			p.Number = i + 1
		}
		if err := q.insertPart(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) insertPart(ctx context.Context, p *ielts.Part) error {
	tr, err := marshalJSON(orEmpty(p.Translations))
	if err != nil {
		return err
	}
	ib := q.b().Insert(examPartsTable.Name).
		Columns("id", "exam_id", "number", "title", "body", "media_path", "translations").
		Values(p.ID, p.ExamID, p.Number, p.Title, p.Body, p.MediaPath, tr)
	if _, err := q.exec(ctx, ib); err != nil {
		return fmt.Errorf("insert part %s: %w", p.ID, err)
	}
	if len(p.Questions) == 0 {
		return nil
	}

	qb := q.b().Insert(questionsTable.Name).
		Columns("id", "part_id", "idx", "type", "text", "options", "correct_answer")
	for i := range p.Questions {
		qq := &p.Questions[i]
		qq.PartID = p.ID
		if qq.ID == "" {
			qq.ID = uuid.NewString()
		}
		if qq.Index == 0 {
			qq.Index = i + 1
		}
		opts := qq.Options
		if opts == nil {
			opts = []ielts.Option{}
		}
		optsJSON, err := marshalJSON(opts)
		if err != nil {
			return err
		}
		correct, err := marshalJSON(qq.CorrectAnswer)
		if err != nil {
			return err
		}
		qb.Values(qq.ID, qq.PartID, qq.Index, qq.Type, qq.Text, optsJSON, correct)
	}
	if _, err := q.exec(ctx, qb); err != nil {
		return fmt.Errorf("insert questions for part %s: %w", p.ID, err)
	}
	return nil
}

// GetExam loads an exam with parts and questions in display order.
func (q *Queries) GetExam(ctx context.Context, id string) (*ielts.Exam, error) {
	t := q.b().Table(examsTable.Name)
	sel := q.b().Select(t.C("id"), t.C("module"), t.C("title"), t.C("translations")).
		From(t).
		Where(entsql.EQ(t.C("id"), id))

	var (
		e      ielts.Exam
		module string
		trans  string
	)
	err := q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		return rows.Scan(&e.ID, &module, &e.Title, &trans)
	})
	if isNoRows(err) {
		return nil, ielts.NotFound("exam", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get exam %s: %w", id, err)
	}
	e.Module = ielts.Module(module)
	if err := unmarshalJSON(trans, &e.Translations); err != nil {
		return nil, fmt.Errorf("exam %s translations: %w", id, err)
	}

	parts, err := q.listParts(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range parts {
		qs, err := q.ListQuestions(ctx, parts[i].ID)
		if err != nil {
			return nil, err
		}
		parts[i].Questions = qs
	}
	e.Parts = parts
	return &e, nil
}

func (q *Queries) listParts(ctx context.Context, examID string) ([]ielts.Part, error) {
	t := q.b().Table(examPartsTable.Name)
	sel := q.b().Select(qualify(t, []string{"id", "exam_id", "number", "title", "body", "media_path", "translations"})...).
		From(t).
		Where(entsql.EQ(t.C("exam_id"), examID)).
		OrderBy(t.C("number"))

	var out []ielts.Part
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			p     ielts.Part
			trans string
		)
		if err := rows.Scan(&p.ID, &p.ExamID, &p.Number, &p.Title, &p.Body, &p.MediaPath, &trans); err != nil {
			return err
		}
		if err := unmarshalJSON(trans, &p.Translations); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list parts of %s: %w", examID, err)
	}
	return out, nil
}

// ListQuestions returns a part's questions ordered by index.
func (q *Queries) ListQuestions(ctx context.Context, partID string) ([]ielts.Question, error) {
	t := q.b().Table(questionsTable.Name)
	sel := q.b().Select(qualify(t, []string{"id", "part_id", "idx", "type", "text", "options", "correct_answer"})...).
		From(t).
		Where(entsql.EQ(t.C("part_id"), partID)).
		OrderBy(t.C("idx"))

	var out []ielts.Question
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			qq            ielts.Question
			opts, correct string
		)
		if err := rows.Scan(&qq.ID, &qq.PartID, &qq.Index, &qq.Type, &qq.Text, &opts, &correct); err != nil {
			return err
		}
		if err := unmarshalJSON(opts, &qq.Options); err != nil {
			return err
		}
		if err := unmarshalJSON(correct, &qq.CorrectAnswer); err != nil {
			return fmt.Errorf("question %s correct answer: %w", qq.ID, err)
		}
		out = append(out, qq)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list questions of %s: %w", partID, err)
	}
	return out, nil
}

// ListExamIDs returns the IDs of every exam for a module.
func (q *Queries) ListExamIDs(ctx context.Context, m ielts.Module) ([]string, error) {
	t := q.b().Table(examsTable.Name)
	sel := q.b().Select(t.C("id")).
		From(t).
		Where(entsql.EQ(t.C("module"), string(m))).
		OrderBy(t.C("id"))

	var ids []string
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list exams for %s: %w", m, err)
	}
	return ids, nil
}

// RandomExamID picks one exam of the module. Returns a NotFoundError when
// the module has no content.
func (q *Queries) RandomExamID(ctx context.Context, m ielts.Module) (string, error) {
	ids, err := q.ListExamIDs(ctx, m)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ielts.NotFound("exam", string(m))
	}
	return ids[rand.IntN(len(ids))], nil
}

func orEmpty(t ielts.Translations) ielts.Translations {
	if t == nil {
		return ielts.Translations{}
	}
	return t
}
