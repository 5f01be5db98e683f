package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/bandscore/internal/ielts"
	"github.com/abhisek/bandscore/internal/store"
)

var dbSeq atomic.Int64

func openStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	s, err := store.Open(context.Background(), store.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, users ...*ielts.User) {
	t.Helper()
	ctx := context.Background()
	q := s.Queries()
	require.NoError(t, q.CreateTariff(ctx, &ielts.Tariff{ID: "free", Name: "Free", IsDefault: true}))
	require.NoError(t, q.CreateTariff(ctx, &ielts.Tariff{ID: "pro", Name: "Pro", Tokens: 500}))
	for _, m := range ielts.Modules {
		require.NoError(t, q.UpsertTestType(ctx, &ielts.TestType{Type: m, Price: 20, TrialPrice: 5}))
	}
	for _, u := range users {
		require.NoError(t, q.CreateUser(ctx, u))
	}
}

func TestCheckAndDebit_PricesByTariff(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		&ielts.User{ID: "none", Tokens: 100},
		&ielts.User{ID: "trial", Tokens: 100, TariffID: "free"},
		&ielts.User{ID: "paid", Tokens: 100, TariffID: "pro"},
	)
	ctx := context.Background()

	tests := []struct {
		user  string
		price int64
	}{
		{"none", 5},
		{"trial", 5},
		{"paid", 20},
	}
	for _, tc := range tests {
		var adm *Admission
		err := s.InTx(ctx, func(q *store.Queries) error {
			var err error
			adm, err = CheckAndDebit(ctx, q, tc.user, ielts.Reading)
			return err
		})
		require.NoError(t, err, tc.user)
		assert.Equal(t, tc.price, adm.Price, tc.user)
		assert.Equal(t, 100-tc.price, adm.Balance, tc.user)

		latest, err := s.Queries().LatestTokenTransaction(ctx, tc.user)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, -tc.price, latest.Amount)
		assert.Equal(t, adm.Balance, latest.BalanceAfter)
		assert.Equal(t, ielts.TxReading, latest.Type)
		assert.Equal(t, "Test READING started", latest.Description)
	}
}

func TestCheckAndDebit_Failures(t *testing.T) {
	s := openStore(t)
	seed(t, s, &ielts.User{ID: "poor", Tokens: 4})
	ctx := context.Background()
	q := s.Queries()

	_, err := CheckAndDebit(ctx, q, "poor", ielts.Writing)
	assert.ErrorIs(t, err, ielts.ErrInsufficientBalance)

	_, err = CheckAndDebit(ctx, q, "ghost", ielts.Writing)
	assert.ErrorIs(t, err, ielts.ErrNotFound)

	_, err = CheckAndDebit(ctx, q, "poor", ielts.Module("MATH"))
	assert.ErrorIs(t, err, ielts.ErrUnknownTestType)

	txs, err := q.ListTokenTransactions(ctx, store.TransactionFilter{UserID: "poor"})
	require.NoError(t, err)
	assert.Empty(t, txs)

	u, err := q.GetUser(ctx, "poor")
	require.NoError(t, err)
	assert.Equal(t, int64(4), u.Tokens)
}

func TestCheckAndDebit_RollsBackWithSqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := store.NewWithDB(db, dialect.SQLite)

	userRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "tokens", "tariff_id", "created_at"}).
			AddRow("u1", int64(3), nil, time.Now())
	}
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `users`").WillReturnRows(userRows())
	mock.ExpectQuery("SELECT .* FROM `test_types`").WillReturnRows(
		sqlmock.NewRows([]string{"type", "price", "trial_price"}).AddRow("READING", int64(20), int64(5)))
	mock.ExpectExec("UPDATE `users` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM `users`").WillReturnRows(userRows())
	mock.ExpectRollback()

	err = s.InTx(context.Background(), func(q *store.Queries) error {
		_, err := CheckAndDebit(context.Background(), q, "u1", ielts.Reading)
		return err
	})
	assert.ErrorIs(t, err, ielts.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	s := openStore(t)
	seed(t, s, &ielts.User{ID: "u1", Tokens: 50})
	l := New(s, nil)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, "u1", 10, ielts.TxCustomDeduction, "adjust"); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), succeeded.Load())
	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)

	r, err := l.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, r.Consistent())
	assert.Equal(t, 5, r.Rows)
}

func TestCredit_AndHistory(t *testing.T) {
	s := openStore(t)
	seed(t, s, &ielts.User{ID: "u1"})
	logger, hook := test.NewNullLogger()
	l := New(s, logger)
	ctx := context.Background()

	bal, err := l.Credit(ctx, "u1", 30, ielts.TxDailyBonus, "daily")
	require.NoError(t, err)
	assert.Equal(t, int64(30), bal)
	_, err = l.Credit(ctx, "u1", 10, ielts.TxRefund, "refund")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "u1", 15, ielts.TxCustomDeduction, "adjust")
	require.NoError(t, err)
	assert.Equal(t, "tokens debited", hook.LastEntry().Message)

	all, err := l.History(ctx, "u1", Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(25), all[0].BalanceAfter)

	bonuses, err := l.History(ctx, "u1", Filter{Types: []ielts.TransactionType{ielts.TxDailyBonus}})
	require.NoError(t, err)
	require.Len(t, bonuses, 1)
	assert.Equal(t, int64(30), bonuses[0].Amount)

	page, err := l.History(ctx, "u1", Filter{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ielts.TxDailyBonus, page[0].Type)

	_, err = l.History(ctx, "ghost", Filter{})
	assert.ErrorIs(t, err, ielts.ErrNotFound)

	_, err = l.Credit(ctx, "u1", -1, ielts.TxRefund, "")
	assert.ErrorIs(t, err, ielts.ErrValidation)
}

func TestVerify_DetectsDrift(t *testing.T) {
	s := openStore(t)
	seed(t, s, &ielts.User{ID: "u1"})
	logger, hook := test.NewNullLogger()
	l := New(s, logger)
	ctx := context.Background()

	_, err := l.Credit(ctx, "u1", 10, ielts.TxCustomAddition, "")
	require.NoError(t, err)

	// Bypass the ledger to simulate drift.
	require.NoError(t, s.Queries().CreditTokens(ctx, "u1", 5))

	r, err := l.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, r.Consistent())
	assert.Equal(t, int64(15), r.Cached)
	assert.Equal(t, int64(10), r.LatestBalance)
	assert.Equal(t, int64(10), r.Sum)
	assert.Equal(t, "balance drift detected", hook.LastEntry().Message)
}
