package inventory

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q(s string) string { return regexp.QuoteMeta(s) }

func TestPostgresReserveInsufficientRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO reservations")).
		WithArgs("o1", "p1", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(q("UPDATE inventory SET available = available - $2")).
		WithArgs("p1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"available"}))
	mock.ExpectQuery(q("SELECT available FROM inventory")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"available"}).AddRow(1))
	mock.ExpectRollback()

	l := &PostgresLedger{DB: mock}
	err = l.Reserve(context.Background(), "o1", "p1", 2, time.Time{})

	var stock *InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assert.Equal(t, 1, stock.Available)
	assert.Equal(t, 2, stock.Requested)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReserveDuplicateHoldSkipsDecrement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO reservations")).
		WithArgs("o1", "p1", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	l := &PostgresLedger{DB: mock}
	require.NoError(t, l.Reserve(context.Background(), "o1", "p1", 2, time.Time{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReleaseCreditsEachReservedHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(q("UPDATE reservations SET status = 'RELEASED'")).
		WithArgs("o1").
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "qty"}).AddRow("p1", 2).AddRow("p2", 1))
	mock.ExpectExec(q("UPDATE inventory SET available = available + $2")).
		WithArgs("p1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q("UPDATE inventory SET available = available + $2")).
		WithArgs("p2", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	l := &PostgresLedger{DB: mock}
	units, err := l.Release(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, 3, units)
	require.NoError(t, mock.ExpectationsWereMet())
}
