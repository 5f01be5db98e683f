package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
)

// Queries runs statements against either the pool or an open transaction.
// Obtain one from Store.Queries or inside Store.InTx.
type Queries struct {
	eq      dialect.ExecQuerier
	dialect string
}

// QueryOpts configures list queries with pagination.
type QueryOpts struct {
	Limit  int // max results (0 = unlimited)
	Offset int
}

func (q *Queries) b() *entsql.DialectBuilder {
	return entsql.Dialect(q.dialect)
}

func (q *Queries) exec(ctx context.Context, b entsql.Querier) (int64, error) {
	query, args := b.Query()
	var res sql.Result
	if err := q.eq.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) query(ctx context.Context, b entsql.Querier, scan func(*entsql.Rows) error) error {
	query, args := b.Query()
	var rows entsql.Rows
	if err := q.eq.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(&rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// queryOne scans the first row. Returns sql.ErrNoRows when there is none.
func (q *Queries) queryOne(ctx context.Context, b entsql.Querier, scan func(*entsql.Rows) error) error {
	found := false
	err := q.query(ctx, b, func(rows *entsql.Rows) error {
		if found {
			return nil
		}
		found = true
		return scan(rows)
	})
	if err != nil {
		return err
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

// insertID runs an insert and returns the generated integer key. Postgres
// has no LastInsertId, so it goes through RETURNING.
func (q *Queries) insertID(ctx context.Context, ib *entsql.InsertBuilder) (int64, error) {
	if q.dialect == dialect.Postgres {
		var id int64
		err := q.queryOne(ctx, ib.Returning("id"), func(rows *entsql.Rows) error {
			return rows.Scan(&id)
		})
		return id, err
	}
	query, args := ib.Query()
	var res sql.Result
	if err := q.eq.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func paginate(sel *entsql.Selector, opts QueryOpts) *entsql.Selector {
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		sel.Offset(opts.Offset)
	}
	return sel
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
