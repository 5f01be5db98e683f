package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/bandscore/internal/ielts"
)

// CreateUser inserts a user with an opening balance.
func (q *Queries) CreateUser(ctx context.Context, u *ielts.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var tariff any
	if u.TariffID != "" {
		tariff = u.TariffID
	}
	ib := q.b().Insert(usersTable.Name).
		Columns("id", "tokens", "tariff_id", "created_at").
		Values(u.ID, u.Tokens, tariff, u.CreatedAt)
	if _, err := q.exec(ctx, ib); err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser loads a user. Returns a NotFoundError if absent.
func (q *Queries) GetUser(ctx context.Context, id string) (*ielts.User, error) {
	t := q.b().Table(usersTable.Name)
	sel := q.b().Select(t.C("id"), t.C("tokens"), t.C("tariff_id"), t.C("created_at")).
		From(t).
		Where(entsql.EQ(t.C("id"), id))

	var (
		u      ielts.User
		tariff sql.NullString
	)
	err := q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		return rows.Scan(&u.ID, &u.Tokens, &tariff, &u.CreatedAt)
	})
	if isNoRows(err) {
		return nil, ielts.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.TariffID = tariff.String
	return &u, nil
}

// DebitTokens subtracts amount from the cached balance only if the balance
// covers it. Returns false when no row was changed: the user is missing or
// the balance is too low.
func (q *Queries) DebitTokens(ctx context.Context, userID string, amount int64) (bool, error) {
	ub := q.b().Update(usersTable.Name).
		Add("tokens", -amount).
		Where(entsql.And(
			entsql.EQ("id", userID),
			entsql.GTE("tokens", amount),
		))
	n, err := q.exec(ctx, ub)
	if err != nil {
		return false, fmt.Errorf("debit user %s: %w", userID, err)
	}
	return n == 1, nil
}

// CreditTokens adds amount to the cached balance.
func (q *Queries) CreditTokens(ctx context.Context, userID string, amount int64) error {
	ub := q.b().Update(usersTable.Name).
		Add("tokens", amount).
		Where(entsql.EQ("id", userID))
	n, err := q.exec(ctx, ub)
	if err != nil {
		return fmt.Errorf("credit user %s: %w", userID, err)
	}
	if n == 0 {
		return ielts.NotFound("user", userID)
	}
	return nil
}

// SetUserTariff assigns or clears (empty id) a user's tariff.
func (q *Queries) SetUserTariff(ctx context.Context, userID, tariffID string) error {
	ub := q.b().Update(usersTable.Name).Where(entsql.EQ("id", userID))
	if tariffID == "" {
		ub.SetNull("tariff_id")
	} else {
		ub.Set("tariff_id", tariffID)
	}
	n, err := q.exec(ctx, ub)
	if err != nil {
		return fmt.Errorf("set tariff for %s: %w", userID, err)
	}
	if n == 0 {
		return ielts.NotFound("user", userID)
	}
	return nil
}

// CreateTariff inserts a tariff.
func (q *Queries) CreateTariff(ctx context.Context, t *ielts.Tariff) error {
	ib := q.b().Insert(tariffsTable.Name).
		Columns("id", "name", "tokens", "is_default").
		Values(t.ID, t.Name, t.Tokens, t.IsDefault)
	if _, err := q.exec(ctx, ib); err != nil {
		return fmt.Errorf("insert tariff %s: %w", t.ID, err)
	}
	return nil
}

// GetTariff loads a tariff. Returns a NotFoundError if absent.
func (q *Queries) GetTariff(ctx context.Context, id string) (*ielts.Tariff, error) {
	t := q.b().Table(tariffsTable.Name)
	sel := q.b().Select(t.C("id"), t.C("name"), t.C("tokens"), t.C("is_default")).
		From(t).
		Where(entsql.EQ(t.C("id"), id))

	var tr ielts.Tariff
	err := q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		return rows.Scan(&tr.ID, &tr.Name, &tr.Tokens, &tr.IsDefault)
	})
	if isNoRows(err) {
		return nil, ielts.NotFound("tariff", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tariff %s: %w", id, err)
	}
	return &tr, nil
}

// UpsertTestType creates or reprices a module.
func (q *Queries) UpsertTestType(ctx context.Context, tt *ielts.TestType) error {
	ib := q.b().Insert(testTypesTable.Name).
		Columns("type", "price", "trial_price").
		Values(string(tt.Type), tt.Price, tt.TrialPrice).
		OnConflict(
			entsql.ConflictColumns("type"),
			entsql.ResolveWithNewValues(),
		)
	if _, err := q.exec(ctx, ib); err != nil {
		return fmt.Errorf("upsert test type %s: %w", tt.Type, err)
	}
	return nil
}

// GetTestType loads the price points of a module. A missing row is
// ErrUnknownTestType.
func (q *Queries) GetTestType(ctx context.Context, m ielts.Module) (*ielts.TestType, error) {
	t := q.b().Table(testTypesTable.Name)
	sel := q.b().Select(t.C("type"), t.C("price"), t.C("trial_price")).
		From(t).
		Where(entsql.EQ(t.C("type"), string(m)))

	var (
		tt  ielts.TestType
		typ string
	)
	err := q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		return rows.Scan(&typ, &tt.Price, &tt.TrialPrice)
	})
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: %s", ielts.ErrUnknownTestType, m)
	}
	if err != nil {
		return nil, fmt.Errorf("get test type %s: %w", m, err)
	}
	tt.Type = ielts.Module(typ)
	return &tt, nil
}

// ListTestTypes returns every priced module.
func (q *Queries) ListTestTypes(ctx context.Context) ([]ielts.TestType, error) {
	t := q.b().Table(testTypesTable.Name)
	sel := q.b().Select(t.C("type"), t.C("price"), t.C("trial_price")).
		From(t).
		OrderBy(t.C("type"))

	var out []ielts.TestType
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			tt  ielts.TestType
			typ string
		)
		if err := rows.Scan(&typ, &tt.Price, &tt.TrialPrice); err != nil {
			return err
		}
		tt.Type = ielts.Module(typ)
		out = append(out, tt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list test types: %w", err)
	}
	return out, nil
}
