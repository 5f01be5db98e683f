package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// GraderCall is one recorded request to the external grader.
type GraderCall struct {
	ID           int64
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
	CreatedAt    time.Time
}

var graderCallColumns = []string{
	"id", "provider", "model", "purpose", "input_tokens", "output_tokens",
	"latency_ms", "success", "error_message", "request_body", "response_body",
	"created_at",
}

// PurposeUsage aggregates grader calls by purpose.
type PurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
}

// ModelUsage aggregates grader calls by model.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

// RecordGraderCall appends a grader call and sets its ID.
func (q *Queries) RecordGraderCall(ctx context.Context, c *GraderCall) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	ib := q.b().Insert(graderCallsTable.Name).
		Columns(graderCallColumns[1:]...).
		Values(c.Provider, c.Model, c.Purpose, c.InputTokens, c.OutputTokens,
			c.LatencyMs, c.Success, c.ErrorMessage, c.RequestBody, c.ResponseBody,
			c.CreatedAt)
	id, err := q.insertID(ctx, ib)
	if err != nil {
		return fmt.Errorf("record grader call: %w", err)
	}
	c.ID = id
	return nil
}

// GraderCallFilter narrows ListGraderCalls.
type GraderCallFilter struct {
	Purpose string
	QueryOpts
}

// ListGraderCalls returns recorded calls, newest first.
func (q *Queries) ListGraderCalls(ctx context.Context, f GraderCallFilter) ([]GraderCall, error) {
	t := q.b().Table(graderCallsTable.Name)
	sel := q.b().Select(qualify(t, graderCallColumns)...).
		From(t).
		OrderBy(entsql.Desc(t.C("id")))
	if f.Purpose != "" {
		sel.Where(entsql.EQ(t.C("purpose"), f.Purpose))
	}
	paginate(sel, f.QueryOpts)

	var out []GraderCall
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		c, err := scanGraderCall(rows)
		if err != nil {
			return err
		}
		out = append(out, *c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list grader calls: %w", err)
	}
	return out, nil
}

// GetGraderCall returns a single call, or nil if absent.
func (q *Queries) GetGraderCall(ctx context.Context, id int64) (*GraderCall, error) {
	t := q.b().Table(graderCallsTable.Name)
	sel := q.b().Select(qualify(t, graderCallColumns)...).
		From(t).
		Where(entsql.EQ(t.C("id"), id))

	var c *GraderCall
	err := q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		var err error
		c, err = scanGraderCall(rows)
		return err
	})
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grader call %d: %w", id, err)
	}
	return c, nil
}

// UsageByPurpose sums tokens and latency per purpose.
func (q *Queries) UsageByPurpose(ctx context.Context) ([]PurposeUsage, error) {
	t := q.b().Table(graderCallsTable.Name)
	sel := q.b().Select(
		t.C("purpose"),
		entsql.As(entsql.Count("*"), "calls"),
		entsql.As(entsql.Sum(t.C("input_tokens")), "input"),
		entsql.As(entsql.Sum(t.C("output_tokens")), "output"),
		entsql.As(entsql.Avg(t.C("latency_ms")), "latency"),
	).
		From(t).
		GroupBy(t.C("purpose")).
		OrderBy(t.C("purpose"))

	var out []PurposeUsage
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			u   PurposeUsage
			avg float64
		)
		if err := rows.Scan(&u.Purpose, &u.Calls, &u.InputTokens, &u.OutputTokens, &avg); err != nil {
			return err
		}
		u.AvgLatencyMs = int64(avg)
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("usage by purpose: %w", err)
	}
	return out, nil
}

// UsageByModel sums tokens per model.
func (q *Queries) UsageByModel(ctx context.Context) ([]ModelUsage, error) {
	t := q.b().Table(graderCallsTable.Name)
	sel := q.b().Select(
		t.C("model"),
		entsql.As(entsql.Count("*"), "calls"),
		entsql.As(entsql.Sum(t.C("input_tokens")), "input"),
		entsql.As(entsql.Sum(t.C("output_tokens")), "output"),
	).
		From(t).
		GroupBy(t.C("model")).
		OrderBy(t.C("model"))

	var out []ModelUsage
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		var u ModelUsage
		if err := rows.Scan(&u.Model, &u.Calls, &u.InputTokens, &u.OutputTokens); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("usage by model: %w", err)
	}
	return out, nil
}

func scanGraderCall(rows *entsql.Rows) (*GraderCall, error) {
	var c GraderCall
	err := rows.Scan(&c.ID, &c.Provider, &c.Model, &c.Purpose, &c.InputTokens, &c.OutputTokens,
		&c.LatencyMs, &c.Success, &c.ErrorMessage, &c.RequestBody, &c.ResponseBody,
		&c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
