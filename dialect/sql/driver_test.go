package sql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmenon/qcompile/dialect"
)

func TestOpenDB(t *testing.T) {
	for _, name := range []string{dialect.Postgres, dialect.SQLite} {
		t.Run(name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(name, db)
			assert.NotNil(t, drv)
			assert.Equal(t, name, drv.Dialect())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("simple query", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
				AddRow(1, "a@example.com").
				AddRow(2, "b@example.com"))

		rows := &Rows{}
		require.NoError(t, drv.Query(context.Background(), "SELECT id, email FROM users", []any{}, rows))
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query with args", func(t *testing.T) {
		mock.ExpectQuery(`SELECT email FROM users WHERE id = \$1`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@example.com"))

		rows := &Rows{}
		require.NoError(t, drv.Query(context.Background(), "SELECT email FROM users WHERE id = $1", []any{1}, rows))
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT", []any{}, rows)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	mock.ExpectExec(`UPDATE users SET email = \$1 WHERE id = \$2`).
		WithArgs("a@example.com", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, drv.Exec(context.Background(), "UPDATE users SET email = $1 WHERE id = $2", []any{"a@example.com", 1}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users (email) VALUES ('a@example.com')", []any{}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on statement error", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("constraint failed"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "INSERT INTO users (email) VALUES ('a@example.com')", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithVarSetsAndResetsSessionVariable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	mock.ExpectExec("SET statement_timeout = '5000'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))

	rows := &Rows{}
	err = drv.Query(WithVar(context.Background(), "statement_timeout", "5000"), "SELECT 1", []any{}, rows)
	require.NoError(t, err)
	require.NoError(t, rows.Close(), "rows must be closed to release the connection the session variable was set on")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVarInsideTransactionSkipsReset(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	mock.ExpectBegin()
	mock.ExpectExec("SET statement_timeout = '5000'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectCommit()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	rows := &Rows{}
	require.NoError(t, tx.Query(WithVar(context.Background(), "statement_timeout", "5000"), "SELECT 1", []any{}, rows))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet(), "a transaction is already scoped to one connection, so no RESET is issued")
}
