package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_MigratesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "sodia.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{
		"users",
		"user_login_details",
		"user_account_settings",
		"user_privacy_settings",
		"user_notification_settings",
		"user_challenges_settings",
		"sessions",
		"session_updates",
	} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, "table %s", table)
		assert.Equal(t, table, name)
	}

	var fk int
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpenSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sodia.db")

	db, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Second open finds every migration applied.
	db, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpenSQLite_RejectsMemory(t *testing.T) {
	_, err := OpenSQLite(context.Background(), ":memory:")
	require.Error(t, err)

	_, err = OpenSQLite(context.Background(), "  ")
	require.Error(t, err)
}

func TestSQLiteConstraintClassification(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "sodia.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	const id = "01HZZZZZZZZZZZZZZZZZZZZZZZ"
	_, err = db.ExecContext(ctx, `INSERT INTO users (id, created_at) VALUES (?, 0)`, id)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO users (id, created_at) VALUES (?, 0)`, id)
	cols, ok := SQLiteUniqueViolation(err)
	require.True(t, ok, "err=%v", err)
	assert.Contains(t, cols, "users.id")

	_, err = db.ExecContext(ctx,
		`INSERT INTO user_privacy_settings (user_id, created_at) VALUES (?, 0)`,
		"01HYYYYYYYYYYYYYYYYYYYYYYY",
	)
	assert.True(t, SQLiteForeignKeyViolation(err), "err=%v", err)
	assert.False(t, SQLiteForeignKeyViolation(nil))

	_, ok = SQLiteUniqueViolation(nil)
	assert.False(t, ok)
}

func TestMigrate_UnknownDialect(t *testing.T) {
	err := Migrate(context.Background(), nil, Dialect("oracle"))
	require.Error(t, err)
}
