package volumes

import (
	"context"
	"database/sql"
	"testing"

	"github.com/pkg/errors"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/migrations"
	"github.com/shishobooks/hondana/pkg/models"
	"github.com/shishobooks/hondana/pkg/series"
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

func createSeries(t *testing.T, db *bun.DB, name string) *models.Series {
	t.Helper()

	s := &models.Series{Name: name}
	err := series.NewService(db).CreateSeries(context.Background(), s)
	require.NoError(t, err)
	return s
}

func TestCreateVolume_DefaultsToMissing(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	s := createSeries(t, db, "One Piece")

	volume := &models.Volume{SeriesID: s.ID, Position: 1}
	require.NoError(t, svc.CreateVolume(ctx, volume))

	assert.NotZero(t, volume.ID)
	assert.Equal(t, models.VolumeStatusMissing, volume.Status)
}

func TestCreateVolume_DuplicatePositionRejected(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	s := createSeries(t, db, "One Piece")

	require.NoError(t, svc.CreateVolume(ctx, &models.Volume{SeriesID: s.ID, Position: 1}))
	err := svc.CreateVolume(ctx, &models.Volume{SeriesID: s.ID, Position: 1})
	assert.Error(t, err)
}

func TestListVolumes_FilteredAndOrdered(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	s := createSeries(t, db, "One Piece")
	other := createSeries(t, db, "Bleach")

	for _, v := range []*models.Volume{
		{SeriesID: s.ID, Position: 3, Status: models.VolumeStatusOwned},
		{SeriesID: s.ID, Position: 1, Status: models.VolumeStatusOwned},
		{SeriesID: s.ID, Position: 2, Status: models.VolumeStatusMissing},
		{SeriesID: other.ID, Position: 1, Status: models.VolumeStatusOwned},
	} {
		require.NoError(t, svc.CreateVolume(ctx, v))
	}

	vols, err := svc.ListVolumes(ctx, ListVolumesOptions{SeriesID: &s.ID})
	require.NoError(t, err)
	require.Len(t, vols, 3)
	assert.Equal(t, 1, vols[0].Position)
	assert.Equal(t, 2, vols[1].Position)
	assert.Equal(t, 3, vols[2].Position)

	owned, err := svc.ListVolumes(ctx, ListVolumesOptions{
		SeriesID: &s.ID,
		Statuses: []string{models.VolumeStatusOwned},
	})
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, 1, owned[0].Position)
	assert.Equal(t, 3, owned[1].Position)
}

func TestRetrieveVolume_BySeriesAndPosition(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	s := createSeries(t, db, "One Piece")
	require.NoError(t, svc.CreateVolume(ctx, &models.Volume{SeriesID: s.ID, Position: 5, Title: "Vol. 5"}))

	position := 5
	vol, err := svc.RetrieveVolume(ctx, RetrieveVolumeOptions{SeriesID: &s.ID, Position: &position})
	require.NoError(t, err)
	assert.Equal(t, "Vol. 5", vol.Title)

	missing := 6
	_, err = svc.RetrieveVolume(ctx, RetrieveVolumeOptions{SeriesID: &s.ID, Position: &missing})
	assert.True(t, errors.Is(err, errcodes.NotFound("Volume")))
}

func TestUpdateVolume_StatusFlip(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	s := createSeries(t, db, "One Piece")
	volume := &models.Volume{SeriesID: s.ID, Position: 1, Status: models.VolumeStatusOwned}
	require.NoError(t, svc.CreateVolume(ctx, volume))

	volume.Status = models.VolumeStatusMissing
	require.NoError(t, svc.UpdateVolume(ctx, volume, UpdateVolumeOptions{Columns: []string{"status"}}))

	reloaded, err := svc.RetrieveVolume(ctx, RetrieveVolumeOptions{ID: &volume.ID})
	require.NoError(t, err)
	assert.Equal(t, models.VolumeStatusMissing, reloaded.Status)
}
