package conn

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/persist/internal/orm/ormtest"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

const artistDDL = `
CREATE TABLE Artist (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	Version INTEGER NOT NULL DEFAULT 0,
	Deleted BOOLEAN NOT NULL DEFAULT 0,
	Name TEXT NOT NULL UNIQUE,
	Alias TEXT
)`

func setupSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(artistDDL)
	require.NoError(t, err)

	c, err := Wrap(db, "sqlite3")
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	return c
}

func insertArtist(t *testing.T, c *DB, name string) int64 {
	t.Helper()
	id, err := c.ExecuteInsert(context.Background(), query.Insert(artistMeta(t), map[string]interface{}{
		"Version": 0,
		"Deleted": false,
		"Name":    name,
	}))
	require.NoError(t, err)
	return id
}

func TestSQLite_RoundTrip(t *testing.T) {
	c := setupSQLite(t)
	ctx := context.Background()

	first := insertArtist(t, c, "Miles")
	second := insertArtist(t, c, "Coltrane")
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	compiled, err := query.NewCompiler(ormtest.Schema(), query.SQLite).
		Compile(query.From("Artist").Where(query.Field("Name").StartsWith("Mi")))
	require.NoError(t, err)

	rows, err := c.ExecuteReader(ctx, compiled)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		v, ok := rows.Value("Name")
		require.True(t, ok)
		names = append(names, v.(string))
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Miles"}, names)
}

func TestSQLite_UniqueViolationIsTranslated(t *testing.T) {
	c := setupSQLite(t)
	insertArtist(t, c, "Miles")

	_, err := c.ExecuteInsert(context.Background(), query.Insert(artistMeta(t), map[string]interface{}{
		"Version": 0,
		"Deleted": false,
		"Name":    "Miles",
	}))
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestSQLite_SavepointRollback(t *testing.T) {
	c := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, c.BeginTransaction(ctx, transaction.Unspecified))
	insertArtist(t, c, "Miles")
	require.NoError(t, c.Save(ctx, "before_second"))
	insertArtist(t, c, "Coltrane")
	require.NoError(t, c.RollbackTo(ctx, "before_second"))
	require.NoError(t, c.Commit(ctx))

	n, err := c.ExecuteScalar(ctx, &query.Query{Command: "SELECT COUNT(*) FROM Artist"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	affected, err := c.ExecuteNonQuery(ctx, query.Delete(artistMeta(t), 1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}
