package series

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveSeriesOptions struct {
	ID   *int
	Name *string
}

type ListSeriesOptions struct {
	Limit  *int
	Offset *int

	includeTotal bool
}

type UpdateSeriesOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateSeries(ctx context.Context, series *models.Series) error {
	now := time.Now()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = series.CreatedAt

	if series.Status == "" {
		series.Status = models.SeriesStatusUnknown
	}

	_, err := svc.db.
		NewInsert().
		Model(series).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveSeries(ctx context.Context, opts RetrieveSeriesOptions) (*models.Series, error) {
	series := &models.Series{}

	q := svc.db.
		NewSelect().
		Model(series)

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		// Case-insensitive match
		q = q.Where("LOWER(s.name) = LOWER(?)", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Series")
		}
		return nil, errors.WithStack(err)
	}

	return series, nil
}

// FindOrCreateSeries finds an existing series or creates a new one
// (case-insensitive match). Series rows are created lazily the first time a
// book references the name.
func (svc *Service) FindOrCreateSeries(ctx context.Context, name string) (*models.Series, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errcodes.ValidationError("Series name can't be empty.")
	}

	series, err := svc.RetrieveSeries(ctx, RetrieveSeriesOptions{Name: &name})
	if err == nil {
		return series, nil
	}
	if !errors.Is(err, errcodes.NotFound("Series")) {
		return nil, err
	}

	series = &models.Series{
		Name:   name,
		Status: models.SeriesStatusUnknown,
	}
	err = svc.CreateSeries(ctx, series)
	if err != nil {
		// Handle race condition: if another goroutine created the same series
		// between our retrieve and create, retry the retrieve
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return svc.RetrieveSeries(ctx, RetrieveSeriesOptions{Name: &name})
		}
		return nil, err
	}
	return series, nil
}

func (svc *Service) ListSeries(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, error) {
	s, _, err := svc.listSeriesWithTotal(ctx, opts)
	return s, errors.WithStack(err)
}

func (svc *Service) ListSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	opts.includeTotal = true
	return svc.listSeriesWithTotal(ctx, opts)
}

func (svc *Service) listSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	var series []*models.Series
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&series).
		Order("s.name ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return series, total, nil
}

func (svc *Service) UpdateSeries(ctx context.Context, series *models.Series, opts UpdateSeriesOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	series.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(series).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Series")
		}
		return errors.WithStack(err)
	}
	return nil
}

// Totals loads the volume ledger for a series and computes its reconciled
// total and completion percentage. Read path convenience; the reconciler uses
// ComputeTotals directly against volumes it already holds.
func (svc *Service) Totals(ctx context.Context, seriesID int) (Totals, error) {
	series, err := svc.RetrieveSeries(ctx, RetrieveSeriesOptions{ID: &seriesID})
	if err != nil {
		return Totals{}, err
	}

	var volumes []*models.Volume
	err = svc.db.
		NewSelect().
		Model(&volumes).
		Where("v.series_id = ?", seriesID).
		Order("v.position ASC").
		Scan(ctx)
	if err != nil {
		return Totals{}, errors.WithStack(err)
	}

	return ComputeTotals(series.TotalBooks, volumes), nil
}
