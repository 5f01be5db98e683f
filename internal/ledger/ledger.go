// Package ledger meters test attempts in tokens. Every balance change is a
// guarded update of the cached balance plus an append-only transaction row,
// executed on the caller's transaction.
package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/store"
)

// Ledger reads balances and history outside of a caller transaction and
// runs standalone adjustments in their own transaction.
type Ledger struct {
	store *store.Store
	log   logrus.FieldLogger
}

// New creates a Ledger.
func New(s *store.Store, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{store: s, log: log.WithField("component", "ledger")}
}

// Admission is the result of a successful CheckAndDebit.
type Admission struct {
	Price   int64
	Balance int64
}

// Debit subtracts amount from the user's balance and appends a negative
// ledger row. Fails with ErrInsufficientBalance when the balance does not
// cover amount, leaving nothing written.
func Debit(ctx context.Context, q *store.Queries, userID string, amount int64, typ ielts.TransactionType, description string) (int64, error) {
	if amount < 0 {
		return 0, ielts.Invalid("amount", "must not be negative")
	}
	ok, err := q.DebitTokens(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		u, err := q.GetUser(ctx, userID)
		if err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: user %s has %d tokens, needs %d",
			ielts.ErrInsufficientBalance, userID, u.Tokens, amount)
	}
	return appendRow(ctx, q, userID, -amount, typ, description)
}

// Credit adds amount to the user's balance and appends a positive ledger row.
func Credit(ctx context.Context, q *store.Queries, userID string, amount int64, typ ielts.TransactionType, description string) (int64, error) {
	if amount < 0 {
		return 0, ielts.Invalid("amount", "must not be negative")
	}
	if err := q.CreditTokens(ctx, userID, amount); err != nil {
		return 0, err
	}
	return appendRow(ctx, q, userID, amount, typ, description)
}

func appendRow(ctx context.Context, q *store.Queries, userID string, amount int64, typ ielts.TransactionType, description string) (int64, error) {
	u, err := q.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	tx := &ielts.TokenTransaction{
		UserID:       userID,
		Type:         typ,
		Amount:       amount,
		BalanceAfter: u.Tokens,
		Description:  description,
	}
	if err := q.InsertTokenTransaction(ctx, tx); err != nil {
		return 0, err
	}
	return u.Tokens, nil
}

// Price resolves what the user pays for module: the trial price without a
// tariff or on the default tariff, the full price otherwise.
func Price(ctx context.Context, q *store.Queries, u *ielts.User, module ielts.Module) (int64, error) {
	tt, err := q.GetTestType(ctx, module)
	if err != nil {
		return 0, err
	}
	if u.TariffID == "" {
		return tt.TrialPrice, nil
	}
	tariff, err := q.GetTariff(ctx, u.TariffID)
	if err != nil {
		return 0, err
	}
	if tariff.IsDefault {
		return tt.TrialPrice, nil
	}
	return tt.Price, nil
}

// CheckAndDebit admits the user to a module: resolves the price and debits
// it with the module as transaction type.
func CheckAndDebit(ctx context.Context, q *store.Queries, userID string, module ielts.Module) (*Admission, error) {
	u, err := q.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	price, err := Price(ctx, q, u, module)
	if err != nil {
		return nil, err
	}
	balance, err := Debit(ctx, q, userID, price, ielts.TransactionType(module),
		fmt.Sprintf("Test %s started", module))
	if err != nil {
		return nil, err
	}
	return &Admission{Price: price, Balance: balance}, nil
}

// Debit runs a standalone debit, e.g. CUSTOM_DEDUCTION.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, typ ielts.TransactionType, description string) (int64, error) {
	var balance int64
	err := l.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		balance, err = Debit(ctx, q, userID, amount, typ, description)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.log.WithFields(logrus.Fields{
		"user_id": userID, "amount": -amount, "type": typ, "balance": balance,
	}).Info("tokens debited")
	return balance, nil
}

// Credit runs a standalone credit: refunds, bonuses and adjustments.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, typ ielts.TransactionType, description string) (int64, error) {
	var balance int64
	err := l.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		balance, err = Credit(ctx, q, userID, amount, typ, description)
		return err
	})
	if err != nil {
		return 0, err
	}
	l.log.WithFields(logrus.Fields{
		"user_id": userID, "amount": amount, "type": typ, "balance": balance,
	}).Info("tokens credited")
	return balance, nil
}

// Balance returns the cached balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	u, err := l.store.Queries().GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Tokens, nil
}

// Filter narrows History.
type Filter struct {
	Types  []ielts.TransactionType
	Limit  int
	Offset int
}

// History lists the user's ledger rows, newest first.
func (l *Ledger) History(ctx context.Context, userID string, f Filter) ([]ielts.TokenTransaction, error) {
	q := l.store.Queries()
	if _, err := q.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return q.ListTokenTransactions(ctx, store.TransactionFilter{
		UserID:    userID,
		Types:     f.Types,
		QueryOpts: store.QueryOpts{Limit: f.Limit, Offset: f.Offset},
	})
}

// Report is the outcome of Verify.
type Report struct {
	UserID        string
	Cached        int64
	LatestBalance int64 // balance_after of the newest row
	Sum           int64 // sum of all amounts
	Rows          int
}

// Consistent reports whether the cached balance matches the newest ledger
// row. A user without rows is consistent.
func (r *Report) Consistent() bool {
	return r.Rows == 0 || r.Cached == r.LatestBalance
}

// Verify compares the cached balance with the ledger.
func (l *Ledger) Verify(ctx context.Context, userID string) (*Report, error) {
	q := l.store.Queries()
	u, err := q.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sum, n, err := q.SumTokenTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	r := &Report{UserID: userID, Cached: u.Tokens, Sum: sum, Rows: n}
	latest, err := q.LatestTokenTransaction(ctx, userID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		r.LatestBalance = latest.BalanceAfter
	}
	if !r.Consistent() {
		l.log.WithFields(logrus.Fields{
			"user_id": userID, "cached": r.Cached, "ledger": r.LatestBalance,
		}).Warn("balance drift detected")
	}
	return r, nil
}
