package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/persist/internal/orm/cache"
	"github.com/conduit-lang/persist/internal/orm/conn"
	"github.com/conduit-lang/persist/internal/orm/conn/conntest"
	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/hooks"
	"github.com/conduit-lang/persist/internal/orm/ormtest"
	"github.com/conduit-lang/persist/internal/orm/query"
	"github.com/conduit-lang/persist/internal/orm/transaction"
)

func newSession(t *testing.T, cfg Config) (*Session, *conntest.Fake) {
	t.Helper()
	fake := conntest.New()
	return New(fake, ormtest.Schema(), ormtest.Descriptors(), cfg), fake
}

// persisted makes e look loaded from the store at the given id and version
func persisted[E entity.Entity](e E, id int64, version int) E {
	b := e.EntityBase()
	b.ID = id
	b.Version = version
	b.Tracker().Clear()
	return e
}

func TestFlush_InsertAssignsIdentity(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	artist := ormtest.NewArtist("Miles")
	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	require.NoError(t, s.Flush(ctx))

	assert.Equal(t, int64(1), artist.ID)
	assert.Equal(t, []string{
		"INSERT INTO Artist (Version,Deleted,Name,Alias) VALUES (@Version,@Deleted,@Name,@Alias);",
	}, fake.Commands())
	assert.Empty(t, s.Pending())
	assert.False(t, artist.Tracker().HasChanges())
}

func TestFlush_ZeroIdentityIsAnInsertError(t *testing.T) {
	s, fake := newSession(t, Config{})
	fake.Insert = func(*query.Query) (int64, error) { return 0, nil }
	ctx := context.Background()

	artist := ormtest.NewArtist("Miles")
	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	err := s.Flush(ctx)

	var insertErr *InsertError
	require.ErrorAs(t, err, &insertErr)
	assert.Equal(t, "Artist", insertErr.Entity)
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.Equal(t, int64(0), artist.ID)
	assert.Len(t, s.Pending(), 1, "flush list survives a failed flush")
}

func TestFlush_InsertErrorWrapsDriverError(t *testing.T) {
	s, fake := newSession(t, Config{})
	fake.Insert = func(*query.Query) (int64, error) { return 0, conn.ErrUniqueViolation }
	ctx := context.Background()

	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	err := s.Flush(ctx)
	assert.ErrorIs(t, err, conn.ErrUniqueViolation)
}

func TestFlush_CascadeInsertSyncsForeignKeys(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	artist := ormtest.NewArtist("Miles")
	album := ormtest.NewAlbum(artist, "Kind of Blue")
	track := ormtest.NewTrack(album, "So What", 562)

	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	require.NoError(t, s.Flush(ctx))

	require.Len(t, fake.Executed, 3)
	assert.Equal(t, []string{"Artist", "Album", "Track"}, []string{
		fake.Executed[0].EntityType, fake.Executed[1].EntityType, fake.Executed[2].EntityType,
	})
	assert.Equal(t, artist.ID, album.ArtistID)
	assert.Equal(t, album.ID, track.AlbumID)

	p, ok := fake.Executed[1].Param("@ArtistId")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Value)

	label, ok := fake.Executed[1].Param("@LabelId")
	require.True(t, ok)
	assert.Nil(t, label.Value, "unset optional foreign key is written as NULL")
}

func TestFlush_InsertsReferencedEntitiesFirst(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	artist := ormtest.NewArtist("Miles")
	album := ormtest.NewAlbum(artist, "Kind of Blue")
	track := ormtest.NewTrack(album, "So What", 562)

	// the track is scheduled ahead of the album it points at
	require.NoError(t, s.SaveOrUpdate(ctx, track))
	require.ErrorAs(t, s.Flush(ctx), new(*TransientReferenceError))
	assert.Empty(t, fake.Executed, "nothing runs when a reference is unscheduled")

	require.NoError(t, s.SaveOrUpdate(ctx, album))
	require.NoError(t, s.Flush(ctx))

	var order []string
	for _, q := range fake.Executed {
		order = append(order, q.EntityType)
	}
	assert.Equal(t, []string{"Artist", "Album", "Track"}, order)
	assert.Equal(t, album.ID, track.AlbumID)
}

func TestFlush_UpdateWritesChangedColumns(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)
	artist.SetName("Name")
	artist.SetAlias("Alias")

	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	require.NoError(t, s.Flush(ctx))

	require.Len(t, fake.Executed, 1)
	q := fake.Executed[0]
	assert.Equal(t, "UPDATE Artist SET Name = @Name,Alias = @Alias WHERE Id = 1 AND Version = 0", q.Command)
	assert.Equal(t, []interface{}{"Name", "Alias"}, q.Values())
	assert.Equal(t, 1, artist.Version)
	assert.False(t, artist.Tracker().HasChanges())
}

func TestFlush_UnchangedEntityIsSkipped(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)
	artist.SetName("Miles")

	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	require.NoError(t, s.Flush(ctx))
	assert.Empty(t, fake.Executed)
	assert.Equal(t, 0, artist.Version)
}

func TestFlush_UpdateFailureRestoresVersion(t *testing.T) {
	tests := []struct {
		name     string
		nonQuery func(*query.Query) (int64, error)
		want     error
	}{
		{"no row matched", func(*query.Query) (int64, error) { return 0, nil }, ErrOptimisticLock},
		{"driver error", func(*query.Query) (int64, error) { return 0, conn.ErrCheckViolation }, conn.ErrCheckViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newSession(t, Config{})
			fake.NonQuery = tt.nonQuery
			ctx := context.Background()

			artist := persisted(ormtest.NewArtist("Miles"), 1, 4)
			artist.SetName("Miles Davis")
			require.NoError(t, s.SaveOrUpdate(ctx, artist))

			err := s.Flush(ctx)
			var updateErr *UpdateError
			require.ErrorAs(t, err, &updateErr)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 4, updateErr.Version)
			assert.Equal(t, 4, artist.Version)
			assert.True(t, artist.HasChanged("Name"))
			assert.Len(t, s.Pending(), 1)
		})
	}
}

func TestFlush_ReplacedReferenceSyncsForeignKey(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	miles := persisted(ormtest.NewArtist("Miles"), 5, 0)
	album := persisted(ormtest.NewAlbum(nil, "Kind of Blue"), 10, 2)
	album.ArtistID = 5
	album.Artist = miles

	coltrane := ormtest.NewArtist("Coltrane")
	album.SetArtist(coltrane)

	require.NoError(t, s.SaveOrUpdate(ctx, album))
	require.NoError(t, s.Flush(ctx))

	require.Len(t, fake.Executed, 2)
	assert.Equal(t, "Artist", fake.Executed[0].EntityType)
	assert.Equal(t, "UPDATE Album SET ArtistId = @ArtistId WHERE Id = 10 AND Version = 2", fake.Executed[1].Command)
	assert.Equal(t, []interface{}{coltrane.ID}, fake.Executed[1].Values())
	assert.Equal(t, 3, album.Version)
}

func TestFlush_ValidationRunsBeforeAnyStatement(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("")))

	err := s.Flush(ctx)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "artist name is required")
	assert.Empty(t, fake.Executed)
	assert.Len(t, s.Pending(), 2)
}

func TestSaveOrUpdate_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted transient", func(t *testing.T) {
		s, _ := newSession(t, Config{})
		artist := ormtest.NewArtist("Miles")
		artist.SetDeleted(true)
		assert.ErrorIs(t, s.SaveOrUpdate(ctx, artist), ErrTransientInsert)
		assert.Empty(t, s.Pending())
	})

	t.Run("deleted transient child", func(t *testing.T) {
		s, _ := newSession(t, Config{})
		artist := ormtest.NewArtist("Miles")
		album := ormtest.NewAlbum(artist, "Kind of Blue")
		album.SetDeleted(true)
		assert.ErrorIs(t, s.SaveOrUpdate(ctx, artist), ErrTransientInsert)
		assert.Empty(t, s.Pending())
	})

	t.Run("listener", func(t *testing.T) {
		listeners := hooks.NewRegistry(nil, nil).OnSave(hooks.ForEntity("Album",
			hooks.SaveFunc(func(context.Context, entity.Entity) bool { return false })))
		s, _ := newSession(t, Config{Listeners: listeners})

		artist := ormtest.NewArtist("Miles")
		ormtest.NewAlbum(artist, "Kind of Blue")

		err := s.SaveOrUpdate(ctx, artist)
		assert.ErrorIs(t, err, ErrListenerRejected)
		assert.ErrorIs(t, err, hooks.ErrRejected)
		assert.Empty(t, s.Pending(), "a rejection schedules nothing")
	})
}

func TestSaveOrUpdate_Deduplicates(t *testing.T) {
	s, _ := newSession(t, Config{})
	ctx := context.Background()

	artist := ormtest.NewArtist("Miles")
	album := ormtest.NewAlbum(artist, "Kind of Blue")
	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	require.NoError(t, s.SaveOrUpdate(ctx, album))

	assert.Equal(t, []entity.Entity{artist, album}, s.Pending())
}

func TestSaveOrUpdate_FlushAlways(t *testing.T) {
	s, fake := newSession(t, Config{FlushMode: FlushAlways})
	require.NoError(t, s.SaveOrUpdate(context.Background(), ormtest.NewArtist("Miles")))
	assert.Len(t, fake.Executed, 1)
	assert.Empty(t, s.Pending())
}

func TestEvict(t *testing.T) {
	s, fake := newSession(t, Config{IdentityCache: true})
	ctx := context.Background()

	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)
	artist.SetAlias("Dewey")
	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	_, known := s.cached("Artist", 1)
	require.True(t, known)

	s.Evict(ctx, artist)
	assert.True(t, artist.Evicted)
	assert.Empty(t, s.Pending())
	_, known = s.cached("Artist", 1)
	assert.False(t, known)

	assert.ErrorIs(t, s.SaveOrUpdate(ctx, artist), ErrEvicted)
	require.NoError(t, s.Flush(ctx))
	assert.Empty(t, fake.Executed)
}

func TestFlush_EvictedAfterSchedulingFails(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	artist := ormtest.NewArtist("Miles")
	require.NoError(t, s.SaveOrUpdate(ctx, artist))
	// evicted behind the session's back
	artist.Evicted = true

	assert.ErrorIs(t, s.Flush(ctx), ErrEvicted)
	assert.Empty(t, fake.Executed)
}

func TestDelete_NoneIsNoop(t *testing.T) {
	s, fake := newSession(t, Config{DeletionMode: DeleteNone})
	artist := persisted(ormtest.NewArtist("Miles"), 1, 1)

	require.NoError(t, s.Delete(context.Background(), artist))
	assert.False(t, artist.Deleted)
	assert.Empty(t, fake.Executed)
}

func TestDelete_Hard(t *testing.T) {
	s, fake := newSession(t, Config{DeletionMode: DeleteHard, IdentityCache: true})
	ctx := context.Background()
	artist := persisted(ormtest.NewArtist("Miles"), 1, 1)
	ormtest.Attach(ormtest.Schema(), artist)

	require.NoError(t, s.Delete(ctx, artist))

	commands := fake.Commands()
	require.NotEmpty(t, commands)
	assert.Equal(t, "DELETE Artist WHERE Id = 1 AND Version = 1", commands[len(commands)-1])
	assert.True(t, artist.Deleted)
	_, known := s.cached("Artist", 1)
	assert.False(t, known)
}

func TestDelete_HardRemovesChildrenFirst(t *testing.T) {
	s, fake := newSession(t, Config{DeletionMode: DeleteHard})
	ctx := context.Background()

	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)
	album := persisted(ormtest.NewAlbum(artist, "Kind of Blue"), 7, 0)
	ormtest.NewTrack(album, "unsaved", 1)

	require.NoError(t, s.Delete(ctx, artist))

	var deletes []string
	for _, q := range fake.Executed {
		if strings.HasPrefix(q.Command, "DELETE") {
			deletes = append(deletes, q.Command)
		}
	}
	assert.Equal(t, []string{
		"DELETE Album WHERE Id = 7 AND Version = 0",
		"DELETE Artist WHERE Id = 1 AND Version = 0",
	}, deletes)
}

func TestDelete_HardZeroRowsIsOptimisticLock(t *testing.T) {
	s, fake := newSession(t, Config{DeletionMode: DeleteHard})
	fake.NonQuery = func(*query.Query) (int64, error) { return 0, nil }

	err := s.Delete(context.Background(), persisted(ormtest.NewArtist("Miles"), 1, 3))
	var deleteErr *DeleteError
	require.ErrorAs(t, err, &deleteErr)
	assert.ErrorIs(t, err, ErrOptimisticLock)
}

func TestDelete_ViolationsAbortWithoutMutation(t *testing.T) {
	s, fake := newSession(t, Config{DeletionMode: DeleteHard})
	fake.Reader = func(q *query.Query) ([]conntest.Row, error) {
		if q.EntityType != "Album" {
			return nil, nil
		}
		return []conntest.Row{
			{"Id": int64(7), "ArtistId": int64(1), "Title": "Kind of Blue"},
			{"Id": int64(8), "ArtistId": int64(1), "Title": "Milestones"},
		}, nil
	}
	ctx := context.Background()
	artist := persisted(ormtest.NewArtist("Miles"), 1, 1)

	err := s.Delete(ctx, artist)
	var deleteErr *DeleteError
	require.ErrorAs(t, err, &deleteErr)
	assert.Equal(t, []string{
		"Album #7 references Artist #1 through ArtistId",
		"Album #8 references Artist #1 through ArtistId",
	}, deleteErr.Violations)
	assert.False(t, artist.Deleted)
	assert.False(t, artist.Tracker().HasChanges())

	for _, q := range fake.Executed {
		assert.Equal(t, query.Many, q.Cardinality, "only constraint reads ran: %s", q.Command)
	}
	require.Len(t, fake.Executed, 1)
	assert.Equal(t, []interface{}{int64(1), false}, fake.Executed[0].Values())
}

func TestDelete_DeletionSetDoesNotViolate(t *testing.T) {
	s, fake := newSession(t, Config{DeletionMode: DeleteSoft})
	fake.Reader = func(q *query.Query) ([]conntest.Row, error) {
		if q.EntityType == "Album" {
			return []conntest.Row{{"Id": int64(7), "ArtistId": int64(1)}}, nil
		}
		return nil, nil
	}
	ctx := context.Background()

	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)
	album := persisted(ormtest.NewAlbum(nil, "Kind of Blue"), 7, 0)
	album.ArtistID = 1
	album.Artist = artist
	artist.Albums.Load([]*ormtest.Album{album})

	require.NoError(t, s.Delete(ctx, artist))
	assert.True(t, artist.Deleted)
	assert.True(t, album.Deleted)
}

func TestDelete_SoftSchedulesUpdate(t *testing.T) {
	s, fake := newSession(t, Config{DeletionMode: DeleteSoft})
	ctx := context.Background()
	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)

	require.NoError(t, s.Delete(ctx, artist))
	assert.Equal(t, []entity.Entity{artist}, s.Pending())

	fake.Reset()
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, []string{"UPDATE Artist SET Deleted = @Deleted WHERE Id = 1 AND Version = 0"}, fake.Commands())
	assert.Equal(t, []interface{}{true}, fake.Executed[0].Values())
}

func TestDelete_SoftFailureLeavesEntitiesUntouched(t *testing.T) {
	s, _ := newSession(t, Config{DeletionMode: DeleteSoft})
	ctx := context.Background()
	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)
	album := ormtest.NewAlbum(artist, "Unreleased")

	err := s.Delete(ctx, artist)
	assert.ErrorIs(t, err, ErrTransientInsert)
	assert.False(t, artist.Deleted)
	assert.False(t, album.Deleted)
	assert.NotContains(t, artist.Tracker().GetChangedProperties(), "Deleted")
	assert.Empty(t, s.Pending())
}

func TestDelete_SoftSaveListenerRejects(t *testing.T) {
	listeners := hooks.NewRegistry(nil, nil).OnSave(
		hooks.SaveFunc(func(context.Context, entity.Entity) bool { return false }))
	s, _ := newSession(t, Config{DeletionMode: DeleteSoft, Listeners: listeners})
	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)

	assert.ErrorIs(t, s.Delete(context.Background(), artist), ErrListenerRejected)
	assert.False(t, artist.Deleted)
	assert.False(t, artist.Tracker().HasChanges())
	assert.Empty(t, s.Pending())
}

func TestDelete_ListenerRejects(t *testing.T) {
	listeners := hooks.NewRegistry(nil, nil).OnDelete(
		hooks.DeleteFunc(func(context.Context, entity.Entity) bool { return false }))
	s, fake := newSession(t, Config{DeletionMode: DeleteHard, Listeners: listeners})
	artist := persisted(ormtest.NewArtist("Miles"), 1, 0)

	assert.ErrorIs(t, s.Delete(context.Background(), artist), ErrListenerRejected)
	assert.False(t, artist.Deleted)
	assert.Empty(t, fake.Executed)
}

func TestTransactions_RequireActiveTransaction(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	assert.ErrorIs(t, s.Commit(ctx), ErrTransactionState)
	assert.ErrorIs(t, s.Rollback(ctx), ErrTransactionState)
	assert.ErrorIs(t, s.Save(ctx, "sp"), ErrTransactionState)
	assert.ErrorIs(t, s.RollbackTo(ctx, "sp"), ErrTransactionState)
	assert.ErrorIs(t, s.Release(ctx, "sp"), ErrTransactionState)
	assert.Empty(t, fake.Events)

	require.NoError(t, s.BeginTransaction(ctx, transaction.ReadCommitted))
	assert.Equal(t, InTransaction, s.State())
	assert.ErrorIs(t, s.BeginTransaction(ctx, transaction.Serializable), ErrTransactionState)
}

func TestTransactions_SavePoints(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx, transaction.Unspecified))
	name, err := s.SavePoint(ctx)
	require.NoError(t, err)
	require.NoError(t, s.RollbackTo(ctx, name))
	require.NoError(t, s.Release(ctx, name))
	require.NoError(t, s.Rollback(ctx))

	assert.Equal(t, []string{
		"begin DEFAULT", "save " + name, "rollback to " + name, "release " + name, "rollback",
	}, fake.Events)
	assert.Equal(t, Open, s.State())
}

func TestCommit_FlushesThenRunsListeners(t *testing.T) {
	var order []string
	queue := hooks.NewAsyncQueue(1, 0, nil)
	queue.Start()
	defer queue.Shutdown()
	done := make(chan struct{})

	fake := conntest.New()
	listeners := hooks.NewRegistry(queue, nil).
		OnCommit(hooks.CommitFunc(func(context.Context) error {
			order = append(order, "listener")
			order = append(order, fake.Commands()...)
			return nil
		})).
		AfterCommit("notify", func(context.Context) error {
			close(done)
			return nil
		})
	s := New(fake, ormtest.Schema(), ormtest.Descriptors(), Config{FlushMode: FlushCommit, Listeners: listeners})
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx, transaction.ReadCommitted))
	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	require.NoError(t, s.Commit(ctx))
	<-done

	assert.Equal(t, []string{
		"listener",
		"INSERT INTO Artist (Version,Deleted,Name,Alias) VALUES (@Version,@Deleted,@Name,@Alias);",
	}, order)
	assert.Equal(t, []string{"begin READ COMMITTED", "commit"}, fake.Events)
}

func TestCommit_ManualModeDoesNotFlush(t *testing.T) {
	s, fake := newSession(t, Config{FlushMode: FlushManual})
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx, transaction.Unspecified))
	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	require.NoError(t, s.Commit(ctx))
	assert.Empty(t, fake.Executed)
	assert.Len(t, s.Pending(), 1)
}

func TestCommit_ListenerFailureKeepsTransaction(t *testing.T) {
	boom := errors.New("audit unavailable")
	listeners := hooks.NewRegistry(nil, nil).OnCommit(hooks.CommitFunc(func(context.Context) error { return boom }))
	s, fake := newSession(t, Config{Listeners: listeners})
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx, transaction.Unspecified))
	err := s.Commit(ctx)
	assert.ErrorIs(t, err, ErrListenerRejected)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, InTransaction, s.State())
	assert.Equal(t, []string{"begin DEFAULT"}, fake.Events)
}

func artistRows(fake *conntest.Fake) {
	fake.Reader = func(q *query.Query) ([]conntest.Row, error) {
		switch q.EntityType {
		case "Artist":
			return []conntest.Row{
				{"Id": int64(1), "Version": int64(2), "Deleted": int64(0), "Name": "Miles", "Alias": nil},
			}, nil
		case "Album":
			return []conntest.Row{
				{"Id": int64(7), "Version": int64(0), "Deleted": false, "Title": "Kind of Blue", "Year": int64(1959), "ArtistId": int64(1)},
				{"Id": int64(8), "Version": int64(0), "Deleted": false, "Title": "Milestones", "Year": int64(1958), "ArtistId": int64(1)},
			}, nil
		}
		return nil, nil
	}
}

func TestQuery_HydratesWithoutTracking(t *testing.T) {
	s, fake := newSession(t, Config{IdentityCache: true})
	artistRows(fake)
	ctx := context.Background()

	result, err := s.Query(ctx, query.From("Artist").Where(query.Field("Name").StartsWith("Mi")))
	require.NoError(t, err)
	require.Len(t, result, 1)

	artist := result[0].(*ormtest.Artist)
	assert.Equal(t, int64(1), artist.ID)
	assert.Equal(t, 2, artist.Version)
	assert.False(t, artist.Deleted)
	assert.Equal(t, "Miles", artist.Name)
	assert.Empty(t, artist.Alias)
	assert.False(t, artist.Tracker().HasChanges())
	assert.NotNil(t, artist.Metadata())

	again, err := s.QuerySingle(ctx, query.From("Artist"))
	require.NoError(t, err)
	assert.Same(t, artist, again, "known identities return the cached instance")
}

func TestQuery_WithoutIdentityCacheReturnsNewInstances(t *testing.T) {
	s, fake := newSession(t, Config{})
	artistRows(fake)
	ctx := context.Background()

	first, err := s.QuerySingle(ctx, query.From("Artist"))
	require.NoError(t, err)
	second, err := s.QuerySingle(ctx, query.From("Artist"))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestQuery_FlushesFirstInIntelligentMode(t *testing.T) {
	s, fake := newSession(t, Config{FlushMode: FlushIntelligent})
	ctx := context.Background()

	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	_, err := s.Query(ctx, query.From("Artist"))
	require.NoError(t, err)

	require.Len(t, fake.Executed, 2)
	assert.Equal(t, "Artist", fake.Executed[0].EntityType)
	assert.Contains(t, fake.Executed[0].Command, "INSERT")
	assert.Contains(t, fake.Executed[1].Command, "SELECT")
}

func TestQuery_ManualModeDoesNotFlush(t *testing.T) {
	s, fake := newSession(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	_, err := s.Query(ctx, query.From("Artist"))
	require.NoError(t, err)
	require.Len(t, fake.Executed, 1)
	assert.Contains(t, fake.Executed[0].Command, "SELECT")
}

func TestQuery_Cardinality(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		q    query.Queryable
		want error
	}{
		{"single with two rows", query.From("Album").Single(), ErrCardinality},
		{"single or default with two rows", query.From("Album").SingleOrDefault(), ErrCardinality},
		{"first on empty", query.From("Label").First(), ErrCardinality},
		{"first or default on empty", query.From("Label").FirstOrDefault(), nil},
		{"count", query.From("Album").Count(), ErrCardinality},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newSession(t, Config{})
			artistRows(fake)
			_, err := s.Query(ctx, tt.q)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCount(t *testing.T) {
	s, fake := newSession(t, Config{})
	fake.Scalar = func(*query.Query) (interface{}, error) { return int64(3), nil }
	ctx := context.Background()

	n, err := s.Count(ctx, query.From("Album").Where(query.Field("Year").Lt(1960)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Contains(t, fake.Executed[0].Command, "SELECT COUNT(*)")

	n, err = s.Count(ctx, query.From("Album").Count())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestGet_IdentityThenRowCacheThenStore(t *testing.T) {
	store := cache.NewRowStore(cache.NewMemory(cache.DefaultConfig()), 0)
	defer store.Close()
	ctx := context.Background()

	s, fake := newSession(t, Config{IdentityCache: true, Cache: store})
	artistRows(fake)

	first, err := s.Get(ctx, "Artist", 1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Len(t, fake.Executed, 1)

	again, err := s.Get(ctx, "Artist", 1)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Len(t, fake.Executed, 1, "identity cache hit")

	// a second session shares only the row cache
	other, otherFake := newSession(t, Config{IdentityCache: true, Cache: store})
	fromCache, err := other.Get(ctx, "Artist", 1)
	require.NoError(t, err)
	assert.Empty(t, otherFake.Executed, "row cache hit")
	assert.Equal(t, "Miles", fromCache.(*ormtest.Artist).Name)
	assert.Equal(t, 2, fromCache.EntityBase().Version)
	assert.False(t, fromCache.EntityBase().Tracker().HasChanges())

	missing, err := other.Get(ctx, "Label", 3)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Len(t, otherFake.Executed, 1)
}

func TestEvict_PurgesRowCache(t *testing.T) {
	store := cache.NewRowStore(cache.NewMemory(cache.DefaultConfig()), 0)
	defer store.Close()
	ctx := context.Background()

	s, fake := newSession(t, Config{Cache: store})
	artistRows(fake)
	artist, err := s.Get(ctx, "Artist", 1)
	require.NoError(t, err)

	s.Evict(ctx, artist)
	_, err = store.Get(ctx, "Artist", 1)
	assert.True(t, cache.IsCacheMiss(err))
}

func TestRowCache_RollbackDiscardsTransactionWrites(t *testing.T) {
	store := cache.NewRowStore(cache.NewMemory(cache.DefaultConfig()), 0)
	defer store.Close()
	ctx := context.Background()

	s, _ := newSession(t, Config{Cache: store})
	require.NoError(t, s.BeginTransaction(ctx, transaction.ReadCommitted))
	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Ghost")))
	require.NoError(t, s.Flush(ctx))

	_, err := store.Get(ctx, "Artist", 1)
	assert.True(t, cache.IsCacheMiss(err), "uncommitted rows stay out of the shared cache")

	require.NoError(t, s.Rollback(ctx))

	other, otherFake := newSession(t, Config{Cache: store})
	got, err := other.Get(ctx, "Artist", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, otherFake.Executed, 1, "the store is queried")
}

func TestRowCache_CommitPublishesTransactionWrites(t *testing.T) {
	store := cache.NewRowStore(cache.NewMemory(cache.DefaultConfig()), 0)
	defer store.Close()
	ctx := context.Background()

	s, _ := newSession(t, Config{Cache: store})
	require.NoError(t, s.BeginTransaction(ctx, transaction.ReadCommitted))
	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Commit(ctx))

	other, otherFake := newSession(t, Config{Cache: store})
	got, err := other.Get(ctx, "Artist", 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Miles", got.(*ormtest.Artist).Name)
	assert.Empty(t, otherFake.Executed)
}

func TestRowCache_RollbackToDiscardsLaterWrites(t *testing.T) {
	store := cache.NewRowStore(cache.NewMemory(cache.DefaultConfig()), 0)
	defer store.Close()
	ctx := context.Background()

	s, _ := newSession(t, Config{Cache: store})
	require.NoError(t, s.BeginTransaction(ctx, transaction.ReadCommitted))
	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	require.NoError(t, s.Flush(ctx))

	sp, err := s.SavePoint(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Ghost")))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.RollbackTo(ctx, sp))
	require.NoError(t, s.Commit(ctx))

	_, err = store.Get(ctx, "Artist", 1)
	assert.NoError(t, err)
	_, err = store.Get(ctx, "Artist", 2)
	assert.True(t, cache.IsCacheMiss(err))
}

func TestQuery_EagerLoadsIncludes(t *testing.T) {
	s, fake := newSession(t, Config{IdentityCache: true})
	artistRows(fake)
	ctx := context.Background()

	result, err := s.Query(ctx, query.From("Artist").Include("Albums"))
	require.NoError(t, err)
	require.Len(t, result, 1)

	artist := result[0].(*ormtest.Artist)
	albums := artist.Albums.Items()
	require.Len(t, albums, 2)
	assert.Equal(t, "Kind of Blue", albums[0].Title)
	assert.Same(t, artist, albums[0].Artist)
	assert.False(t, artist.Tracker().HasChanges())
	assert.False(t, albums[0].Tracker().HasChanges())

	child := fake.Executed[1]
	assert.Equal(t, "Album", child.EntityType)
	assert.Equal(t, []interface{}{int64(1)}, child.Values())
}

func TestQuery_EagerLoadsReferences(t *testing.T) {
	s, fake := newSession(t, Config{IdentityCache: true})
	artistRows(fake)
	ctx := context.Background()

	result, err := s.Query(ctx, query.From("Album").Include("Artist"))
	require.NoError(t, err)
	require.Len(t, result, 2)

	first, second := result[0].(*ormtest.Album), result[1].(*ormtest.Album)
	require.NotNil(t, first.Artist)
	assert.Equal(t, "Miles", first.Artist.Name)
	assert.Same(t, first.Artist, second.Artist)
	assert.Len(t, fake.Executed, 2, "the shared artist is read once")
	assert.False(t, first.Tracker().HasChanges())
}

func TestSession_LogsStatements(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s, fake := newSession(t, Config{Logger: zap.New(core)})
	fake.Insert = func(*query.Query) (int64, error) { return 0, conn.ErrNotNullViolation }
	ctx := context.Background()

	require.NoError(t, s.SaveOrUpdate(ctx, ormtest.NewArtist("Miles")))
	require.Error(t, s.Flush(ctx))

	entries := logs.FilterMessage("statement failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, s.ID().String(), fields["session_id"])
	assert.Contains(t, fields["sql"], "INSERT INTO Artist")
	assert.Contains(t, fields, "duration")
	assert.Contains(t, fields, "params")
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}
