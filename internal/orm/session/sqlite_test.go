package session

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/ormtest"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

// the store bumps Version on every UPDATE that does not set it
const catalogueDDL = `
CREATE TABLE Artist (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	Version INTEGER NOT NULL DEFAULT 0,
	Deleted BOOLEAN NOT NULL DEFAULT 0,
	Name TEXT NOT NULL UNIQUE,
	Alias TEXT
);
CREATE TABLE Album (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	Version INTEGER NOT NULL DEFAULT 0,
	Deleted BOOLEAN NOT NULL DEFAULT 0,
	Title TEXT NOT NULL,
	Year INTEGER,
	ArtistId INTEGER NOT NULL REFERENCES Artist(Id),
	LabelId INTEGER
);
CREATE TABLE Track (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	Version INTEGER NOT NULL DEFAULT 0,
	Deleted BOOLEAN NOT NULL DEFAULT 0,
	Title TEXT NOT NULL,
	Seconds INTEGER,
	AlbumId INTEGER NOT NULL REFERENCES Album(Id)
);
CREATE TABLE Review (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	Version INTEGER NOT NULL DEFAULT 0,
	Deleted BOOLEAN NOT NULL DEFAULT 0,
	Body TEXT,
	AlbumId INTEGER NOT NULL REFERENCES Album(Id)
);
CREATE TRIGGER artist_version AFTER UPDATE ON Artist FOR EACH ROW WHEN NEW.Version = OLD.Version
BEGIN UPDATE Artist SET Version = OLD.Version + 1 WHERE Id = OLD.Id; END;
CREATE TRIGGER album_version AFTER UPDATE ON Album FOR EACH ROW WHEN NEW.Version = OLD.Version
BEGIN UPDATE Album SET Version = OLD.Version + 1 WHERE Id = OLD.Id; END;
`

func setupCatalogue(t *testing.T) *conn.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(catalogueDDL)
	require.NoError(t, err)

	c, err := conn.Wrap(db, "sqlite3")
	require.NoError(t, err)
	require.NoError(t, c.Open(context.Background()))
	return c
}

func TestSQLite_UnitOfWork(t *testing.T) {
	c := setupCatalogue(t)
	ctx := context.Background()
	metadata, descriptors := ormtest.Schema(), ormtest.Descriptors()

	writer := New(c, metadata, descriptors, Config{FlushMode: FlushCommit, DeletionMode: DeleteHard, IdentityCache: true})
	require.NoError(t, writer.BeginTransaction(ctx, transaction.Unspecified))

	artist := ormtest.NewArtist("Miles")
	album := ormtest.NewAlbum(artist, "Kind of Blue")
	ormtest.NewTrack(album, "So What", 562)
	ormtest.NewTrack(album, "Freddie Freeloader", 586)
	require.NoError(t, writer.SaveOrUpdate(ctx, artist))
	require.NoError(t, writer.Commit(ctx))
	require.NotZero(t, album.ID)

	reader := New(c, metadata, descriptors, Config{FlushMode: FlushIntelligent, DeletionMode: DeleteHard, IdentityCache: true})
	loaded, err := reader.QuerySingle(ctx, query.From("Album").
		Where(query.Field("Artist", "Name").Eq("Miles")).
		Include("Tracks"))
	require.NoError(t, err)
	require.NotNil(t, loaded)

	got := loaded.(*ormtest.Album)
	assert.Equal(t, "Kind of Blue", got.Title)
	assert.Equal(t, artist.ID, got.ArtistID)
	assert.Equal(t, 2, got.Tracks.Len())

	got.SetYear(1959)
	require.NoError(t, reader.SaveOrUpdate(ctx, got))
	n, err := reader.Count(ctx, query.From("Album").Where(query.Field("Year").Eq(1959)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, got.Version)

	// the writer still holds version 0 of the album
	album.SetTitle("Kind Of Blue")
	require.NoError(t, writer.SaveOrUpdate(ctx, album))
	assert.ErrorIs(t, writer.Flush(ctx), ErrOptimisticLock)
	assert.Equal(t, 0, album.Version)

	// tracks are in memory here, so only the review blocks the delete
	reviewMeta, ok := metadata.Get("Review")
	require.True(t, ok)
	_, err = c.ExecuteInsert(ctx, query.Insert(reviewMeta, map[string]interface{}{
		"Version": 0, "Deleted": false, "Body": "essential", "AlbumId": got.ID,
	}))
	require.NoError(t, err)

	err = reader.Delete(ctx, got)
	var deleteErr *DeleteError
	require.ErrorAs(t, err, &deleteErr)
	assert.Equal(t, []string{"Review #1 references Album #1 through AlbumId"}, deleteErr.Violations)
	assert.False(t, got.Deleted)
}
