package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "db.sqlite") + "?_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	database, err := NewDB("sqlite", dsn, noop.NewMeterProvider(), "db-test")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema(context.Background()))
	return database
}

func TestNewDB_RejectsUnknownDriver(t *testing.T) {
	_, err := NewDB("postgres", "", noop.NewMeterProvider(), "db-test")

	require.Error(t, err)
}

func TestInitSchema_IsIdempotent(t *testing.T) {
	database := openTestDB(t)

	require.NoError(t, database.InitSchema(context.Background()))

	var n int
	err := database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users','carts','cart_items','orders','order_items','products','categories')").Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := database.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO users (username, email, created_at) VALUES (?, ?, ?)", "ana", "", time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM users").Scan(&n))
	assert.Zero(t, n)
}

func TestWithTx_Commits(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	err := database.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO users (username, email, created_at) VALUES (?, ?, ?)", "ana", "", time.Now().UTC())
		return err
	})
	require.NoError(t, err)

	var created time.Time
	require.NoError(t, database.QueryRow("SELECT created_at FROM users WHERE username = ?", "ana").Scan(&created))
	assert.WithinDuration(t, time.Now(), created, time.Minute)
}

func TestIsDuplicateKey(t *testing.T) {
	database := openTestDB(t)
	insert := "INSERT INTO users (username, email, created_at) VALUES (?, ?, ?)"

	_, err := database.Exec(insert, "ana", "", time.Now().UTC())
	require.NoError(t, err)
	_, err = database.Exec(insert, "ana", "", time.Now().UTC())
	require.Error(t, err)

	assert.True(t, IsDuplicateKey(err))
	assert.True(t, IsDuplicateKey(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.False(t, IsDuplicateKey(&mysql.MySQLError{Number: 1213}))
	assert.False(t, IsDuplicateKey(errors.New("Duplicate entry")))
}

func TestDialect_ForUpdate(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", MySQL.ForUpdate())
	assert.Empty(t, SQLite.ForUpdate())
}

func TestSplitSQLStatements(t *testing.T) {
	in := `-- header
CREATE TABLE a (id INT);

-- second
CREATE TABLE b (id INT);
`
	got := splitSQLStatements(in)

	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, got)
}
