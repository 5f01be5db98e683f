package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/bandscore/internal/ielts"
)

var sessionColumns = []string{
	"id", "module", "user_id", "exam_id", "status", "price_paid",
	"lang", "start_time", "end_time", "created_at",
}

// CreateSession inserts a session row.
func (q *Queries) CreateSession(ctx context.Context, s *ielts.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	ib := q.b().Insert(sessionsTable.Name).
		Columns(sessionColumns...).
		Values(s.ID, string(s.Module), s.UserID, s.ExamID, string(s.Status), s.PricePaid,
			s.Lang, nullable(s.StartTime), nullable(s.EndTime), s.CreatedAt)
	if _, err := q.exec(ctx, ib); err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession loads a session. Returns a NotFoundError if absent.
func (q *Queries) GetSession(ctx context.Context, id string) (*ielts.Session, error) {
	t := q.b().Table(sessionsTable.Name)
	sel := q.b().Select(qualify(t, sessionColumns)...).
		From(t).
		Where(entsql.EQ(t.C("id"), id))

	var s *ielts.Session
	err := q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		var err error
		s, err = scanSession(rows)
		return err
	})
	if isNoRows(err) {
		return nil, ielts.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

// SessionUpdate is a compare-and-set status change.
type SessionUpdate struct {
	From []ielts.Status
	To   ielts.Status

	StartTime *time.Time // set when non-nil
	EndTime   *time.Time // set when non-nil
	ClearEnd  bool       // null out end_time
}

// UpdateSessionStatus applies u only if the session is still in one of
// u.From. Returns false when another writer moved it first.
func (q *Queries) UpdateSessionStatus(ctx context.Context, id string, u SessionUpdate) (bool, error) {
	from := make([]any, len(u.From))
	for i, st := range u.From {
		from[i] = string(st)
	}
	ub := q.b().Update(sessionsTable.Name).
		Set("status", string(u.To)).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", from...),
		))
	if u.StartTime != nil {
		ub.Set("start_time", *u.StartTime)
	}
	switch {
	case u.EndTime != nil:
		ub.Set("end_time", *u.EndTime)
	case u.ClearEnd:
		ub.SetNull("end_time")
	}

	n, err := q.exec(ctx, ub)
	if err != nil {
		return false, fmt.Errorf("update session %s: %w", id, err)
	}
	return n == 1, nil
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	UserID        string
	Module        ielts.Module
	Status        ielts.Status
	StartedBefore time.Time
	QueryOpts
}

// ListSessions returns sessions, newest first.
func (q *Queries) ListSessions(ctx context.Context, f SessionFilter) ([]ielts.Session, error) {
	t := q.b().Table(sessionsTable.Name)
	sel := q.b().Select(qualify(t, sessionColumns)...).
		From(t).
		OrderBy(entsql.Desc(t.C("created_at")))
	if f.UserID != "" {
		sel.Where(entsql.EQ(t.C("user_id"), f.UserID))
	}
	if f.Module != "" {
		sel.Where(entsql.EQ(t.C("module"), string(f.Module)))
	}
	if f.Status != "" {
		sel.Where(entsql.EQ(t.C("status"), string(f.Status)))
	}
	if !f.StartedBefore.IsZero() {
		sel.Where(entsql.LT(t.C("start_time"), f.StartedBefore))
	}
	paginate(sel, f.QueryOpts)

	var out []ielts.Session
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		s, err := scanSession(rows)
		if err != nil {
			return err
		}
		out = append(out, *s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func scanSession(rows *entsql.Rows) (*ielts.Session, error) {
	var (
		s                  ielts.Session
		module, status     string
		startTime, endTime sql.NullTime
	)
	err := rows.Scan(&s.ID, &module, &s.UserID, &s.ExamID, &status, &s.PricePaid,
		&s.Lang, &startTime, &endTime, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Module = ielts.Module(module)
	s.Status = ielts.Status(status)
	s.StartTime = timePtr(startTime)
	s.EndTime = timePtr(endTime)
	return &s, nil
}
