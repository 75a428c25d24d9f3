package volumes

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveVolumeOptions struct {
	ID       *int
	SeriesID *int
	Position *int
}

type ListVolumesOptions struct {
	SeriesID *int
	Statuses []string
}

type UpdateVolumeOptions struct {
	Columns []string
}

// Service owns the volume ledger. Volumes are only ever inserted or updated;
// a position that exists stays on the ledger even after its book is deleted.
type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateVolume(ctx context.Context, volume *models.Volume) error {
	now := time.Now()
	if volume.CreatedAt.IsZero() {
		volume.CreatedAt = now
	}
	volume.UpdatedAt = volume.CreatedAt

	if volume.Status == "" {
		volume.Status = models.VolumeStatusMissing
	}

	_, err := svc.db.
		NewInsert().
		Model(volume).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveVolume(ctx context.Context, opts RetrieveVolumeOptions) (*models.Volume, error) {
	volume := &models.Volume{}

	q := svc.db.
		NewSelect().
		Model(volume)

	if opts.ID != nil {
		q = q.Where("v.id = ?", *opts.ID)
	}
	if opts.SeriesID != nil {
		q = q.Where("v.series_id = ?", *opts.SeriesID)
	}
	if opts.Position != nil {
		q = q.Where("v.position = ?", *opts.Position)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Volume")
		}
		return nil, errors.WithStack(err)
	}

	return volume, nil
}

func (svc *Service) ListVolumes(ctx context.Context, opts ListVolumesOptions) ([]*models.Volume, error) {
	var volumes []*models.Volume

	q := svc.db.
		NewSelect().
		Model(&volumes).
		Order("v.position ASC")

	if opts.SeriesID != nil {
		q = q.Where("v.series_id = ?", *opts.SeriesID)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("v.status = ?", s)
			}
			return sq
		})
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return volumes, nil
}

func (svc *Service) UpdateVolume(ctx context.Context, volume *models.Volume, opts UpdateVolumeOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	volume.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(volume).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Volume")
		}
		return errors.WithStack(err)
	}
	return nil
}
