package books

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/migrations"
	"github.com/shishobooks/hondana/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestCreateAndRetrieveBook(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	book := &models.Book{
		Title:          "One Piece Vol. 1",
		SeriesName:     pointerutil.String("One Piece"),
		SeriesPosition: pointerutil.Int(1),
		ISBN13:         pointerutil.String("9781569319017"),
	}
	require.NoError(t, svc.CreateBook(ctx, book))
	assert.NotZero(t, book.ID)

	found, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	assert.Equal(t, "One Piece Vol. 1", found.Title)
	assert.Equal(t, "One Piece", *found.SeriesName)

	missing := book.ID + 1
	_, err = svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &missing})
	assert.True(t, errors.Is(err, errcodes.NotFound("Book")))
}

func TestListBooks_SeriesNameFilterIsCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	for _, b := range []*models.Book{
		{Title: "One Piece Vol. 1", SeriesName: pointerutil.String("One Piece")},
		{Title: "One Piece Vol. 2", SeriesName: pointerutil.String("one piece")},
		{Title: "Bleach Vol. 1", SeriesName: pointerutil.String("Bleach")},
		{Title: "Standalone"},
	} {
		require.NoError(t, svc.CreateBook(ctx, b))
	}

	found, err := svc.ListBooks(ctx, ListBooksOptions{SeriesName: pointerutil.String("ONE PIECE")})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "One Piece Vol. 1", found[0].Title)
	assert.Equal(t, "One Piece Vol. 2", found[1].Title)
}

func TestListSeriesNames(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	for _, b := range []*models.Book{
		{Title: "Zeta 1", SeriesName: pointerutil.String("Zeta")},
		{Title: "Alpha 1", SeriesName: pointerutil.String("Alpha")},
		{Title: "Alpha 2", SeriesName: pointerutil.String("Alpha")},
		{Title: "Blank", SeriesName: pointerutil.String("")},
		{Title: "Standalone"},
	} {
		require.NoError(t, svc.CreateBook(ctx, b))
	}

	names, err := svc.ListSeriesNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Zeta"}, names)
}

func TestUpdateBook_OnlyNamedColumns(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	book := &models.Book{Title: "One Piece Vol. 1"}
	require.NoError(t, svc.CreateBook(ctx, book))

	book.Title = "Renamed"
	book.Publisher = pointerutil.String("VIZ Media")
	require.NoError(t, svc.UpdateBook(ctx, book, UpdateBookOptions{Columns: []string{"publisher"}}))

	reloaded, err := svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &book.ID})
	require.NoError(t, err)
	// Title wasn't in the column list, so only the publisher changed.
	assert.Equal(t, "One Piece Vol. 1", reloaded.Title)
	assert.Equal(t, "VIZ Media", *reloaded.Publisher)
}
