package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/bandscore/internal/ielts"
)

var transactionColumns = []string{
	"id", "user_id", "transaction_type", "amount",
	"balance_after_transaction", "description", "created_at",
}

// InsertTokenTransaction appends a ledger row and sets its ID.
func (q *Queries) InsertTokenTransaction(ctx context.Context, tx *ielts.TokenTransaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	ib := q.b().Insert(tokenTransactionsTable.Name).
		Columns(transactionColumns[1:]...).
		Values(tx.UserID, string(tx.Type), tx.Amount, tx.BalanceAfter, tx.Description, tx.CreatedAt)
	id, err := q.insertID(ctx, ib)
	if err != nil {
		return fmt.Errorf("insert token transaction for %s: %w", tx.UserID, err)
	}
	tx.ID = id
	return nil
}

// TransactionFilter narrows a history query.
type TransactionFilter struct {
	UserID string
	Types  []ielts.TransactionType
	QueryOpts
}

// ListTokenTransactions returns ledger rows, newest first.
func (q *Queries) ListTokenTransactions(ctx context.Context, f TransactionFilter) ([]ielts.TokenTransaction, error) {
	t := q.b().Table(tokenTransactionsTable.Name)
	sel := q.b().Select(qualify(t, transactionColumns)...).
		From(t).
		Where(entsql.EQ(t.C("user_id"), f.UserID)).
		OrderBy(entsql.Desc(t.C("id")))
	if len(f.Types) > 0 {
		types := make([]any, len(f.Types))
		for i, tt := range f.Types {
			types[i] = string(tt)
		}
		sel.Where(entsql.In(t.C("transaction_type"), types...))
	}
	paginate(sel, f.QueryOpts)

	var out []ielts.TokenTransaction
	err := q.query(ctx, sel, func(rows *entsql.Rows) error {
		tx, err := scanTransaction(rows)
		if err != nil {
			return err
		}
		out = append(out, *tx)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list token transactions for %s: %w", f.UserID, err)
	}
	return out, nil
}

// LatestTokenTransaction returns the newest ledger row, or nil if the user
// has none.
func (q *Queries) LatestTokenTransaction(ctx context.Context, userID string) (*ielts.TokenTransaction, error) {
	txs, err := q.ListTokenTransactions(ctx, TransactionFilter{
		UserID:    userID,
		QueryOpts: QueryOpts{Limit: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// SumTokenTransactions returns the sum of all amounts and the row count.
func (q *Queries) SumTokenTransactions(ctx context.Context, userID string) (sum int64, count int, err error) {
	t := q.b().Table(tokenTransactionsTable.Name)
	sel := q.b().Select(
		entsql.As("COALESCE("+entsql.Sum(t.C("amount"))+", 0)", "total"),
		entsql.As(entsql.Count("*"), "n"),
	).
		From(t).
		Where(entsql.EQ(t.C("user_id"), userID))

	err = q.queryOne(ctx, sel, func(rows *entsql.Rows) error {
		return rows.Scan(&sum, &count)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("sum token transactions for %s: %w", userID, err)
	}
	return sum, count, nil
}

func scanTransaction(rows *entsql.Rows) (*ielts.TokenTransaction, error) {
	var (
		tx  ielts.TokenTransaction
		typ string
	)
	if err := rows.Scan(&tx.ID, &tx.UserID, &typ, &tx.Amount, &tx.BalanceAfter, &tx.Description, &tx.CreatedAt); err != nil {
		return nil, err
	}
	tx.Type = ielts.TransactionType(typ)
	return &tx, nil
}

func qualify(t *entsql.SelectTable, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = t.C(c)
	}
	return out
}
