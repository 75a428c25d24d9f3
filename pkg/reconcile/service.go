package reconcile

import (
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/shishobooks/hondana/pkg/books"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/jobs"
	"github.com/shishobooks/hondana/pkg/models"
	"github.com/shishobooks/hondana/pkg/series"
	"github.com/shishobooks/hondana/pkg/volumes"
	"github.com/uptrace/bun"
)

// Change kinds emitted in reconciliation reports.
const (
	ChangeVolumeCreated    = "volume_created"
	ChangeVolumeStatus     = "volume_status"
	ChangePositionAssigned = "position_assigned"
	ChangeTotalUpdated     = "total_updated"
)

// Change records one correction the reconciler made.
type Change struct {
	Series   string `json:"series"`
	Kind     string `json:"kind"`
	Position int    `json:"position,omitempty"`
	Old      string `json:"old,omitempty"`
	New      string `json:"new,omitempty"`
	Reason   string `json:"reason"`
}

// SeriesError is a per-series failure; it never aborts the rest of the batch.
type SeriesError struct {
	Series string `json:"series"`
	Error  string `json:"error"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Changes []Change      `json:"changes"`
	Errors  []SeriesError `json:"errors"`
}

// Service repairs the volume ledger and series totals so they agree with what
// the owned books imply. Running it twice with no intervening writes produces
// no changes on the second pass.
type Service struct {
	bookService   *books.Service
	seriesService *series.Service
	volumeService *volumes.Service
}

func NewService(db *bun.DB) *Service {
	return &Service{
		bookService:   books.NewService(db),
		seriesService: series.NewService(db),
		volumeService: volumes.NewService(db),
	}
}

// ReconcileSeries reconciles a single series by name. The series is created
// lazily if books reference a name with no series row yet.
func (svc *Service) ReconcileSeries(ctx context.Context, name string) (*Report, error) {
	s, err := svc.seriesService.FindOrCreateSeries(ctx, name)
	if err != nil {
		return nil, err
	}

	report := &Report{Changes: []Change{}, Errors: []SeriesError{}}
	svc.reconcileInto(ctx, report, s)
	return report, nil
}

// ReconcileAll reconciles every known series: those with rows and those only
// referenced by books so far. Series are processed in stable name order so
// change reports are reproducible.
func (svc *Service) ReconcileAll(ctx context.Context) (*Report, error) {
	report := &Report{Changes: []Change{}, Errors: []SeriesError{}}

	names, err := svc.collectSeriesNames(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		s, err := svc.seriesService.FindOrCreateSeries(ctx, name)
		if err != nil {
			report.Errors = append(report.Errors, SeriesError{Series: name, Error: err.Error()})
			continue
		}
		svc.reconcileInto(ctx, report, s)
	}

	return report, nil
}

// RunJob adapts a full reconciliation pass to the worker's job contract.
func (svc *Service) RunJob(ctx context.Context) (*jobs.Result, error) {
	report, err := svc.ReconcileAll(ctx)
	if err != nil {
		return nil, err
	}
	return &jobs.Result{
		Processed: len(report.Changes),
		Failed:    len(report.Errors),
	}, nil
}

func (svc *Service) collectSeriesNames(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	names := []string{}

	fromBooks, err := svc.bookService.ListSeriesNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range fromBooks {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	existing, err := svc.seriesService.ListSeries(ctx, series.ListSeriesOptions{})
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		if !seen[s.Name] {
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// reconcileInto runs one series and accumulates its changes or its error into
// the report. Malformed data in one series must not take down the batch.
func (svc *Service) reconcileInto(ctx context.Context, report *Report, s *models.Series) {
	changes, err := svc.reconcileOne(ctx, s)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("series reconciliation error", logger.Data{"series": s.Name})
		report.Errors = append(report.Errors, SeriesError{Series: s.Name, Error: err.Error()})
		return
	}
	report.Changes = append(report.Changes, changes...)
}

func (svc *Service) reconcileOne(ctx context.Context, s *models.Series) ([]Change, error) {
	changes := []Change{}

	owned, err := svc.bookService.ListBooks(ctx, books.ListBooksOptions{SeriesName: &s.Name})
	if err != nil {
		return nil, err
	}
	vols, err := svc.volumeService.ListVolumes(ctx, volumes.ListVolumesOptions{SeriesID: &s.ID})
	if err != nil {
		return nil, err
	}

	byPosition := map[int]*models.Volume{}
	maxPosition := 0
	for _, v := range vols {
		if v.Position <= 0 {
			return nil, errors.Errorf("volume %d has impossible position %d", v.ID, v.Position)
		}
		if byPosition[v.Position] != nil {
			return nil, errors.Errorf("duplicate volume rows at position %d", v.Position)
		}
		byPosition[v.Position] = v
		if v.Position > maxPosition {
			maxPosition = v.Position
		}
	}

	// Positioned books first: any owned book at a position with no ledger row
	// gets one, as owned.
	positioned := []*models.Book{}
	unpositioned := []*models.Book{}
	for _, b := range owned {
		if b.SeriesPosition == nil {
			unpositioned = append(unpositioned, b)
			continue
		}
		if *b.SeriesPosition <= 0 {
			return nil, errors.Errorf("book %d has impossible series position %d", b.ID, *b.SeriesPosition)
		}
		positioned = append(positioned, b)
	}
	sort.Slice(positioned, func(i, j int) bool {
		if *positioned[i].SeriesPosition != *positioned[j].SeriesPosition {
			return *positioned[i].SeriesPosition < *positioned[j].SeriesPosition
		}
		return positioned[i].ID < positioned[j].ID
	})

	for _, b := range positioned {
		pos := *b.SeriesPosition
		if pos > maxPosition {
			maxPosition = pos
		}
		if byPosition[pos] != nil {
			continue
		}
		v, err := svc.createOwnedVolume(ctx, s, b, pos)
		if err != nil {
			return nil, err
		}
		byPosition[pos] = v
		changes = append(changes, Change{
			Series:   s.Name,
			Kind:     ChangeVolumeCreated,
			Position: pos,
			New:      models.VolumeStatusOwned,
			Reason:   "owned book had no volume row",
		})
	}

	// Books with no position get the next unused one, lowest book ID first,
	// so repeated runs hand out identical assignments.
	sort.Slice(unpositioned, func(i, j int) bool { return unpositioned[i].ID < unpositioned[j].ID })
	for _, b := range unpositioned {
		pos := maxPosition + 1
		maxPosition = pos

		b.SeriesPosition = pointerutil.Int(pos)
		err := svc.bookService.UpdateBook(ctx, b, books.UpdateBookOptions{Columns: []string{"series_position"}})
		if err != nil {
			return nil, err
		}
		changes = append(changes, Change{
			Series:   s.Name,
			Kind:     ChangePositionAssigned,
			Position: pos,
			Reason:   "book had no series position",
		})

		if byPosition[pos] == nil {
			v, err := svc.createOwnedVolume(ctx, s, b, pos)
			if err != nil {
				return nil, err
			}
			byPosition[pos] = v
			changes = append(changes, Change{
				Series:   s.Name,
				Kind:     ChangeVolumeCreated,
				Position: pos,
				New:      models.VolumeStatusOwned,
				Reason:   "owned book had no volume row",
			})
		}
	}

	// Ownership flags are re-derived from a fresh read; books may have changed
	// between our earlier read and now, and the write phase must not act on
	// stale assumptions.
	statusChanges, err := svc.refreshStatuses(ctx, s)
	if err != nil {
		return nil, err
	}
	changes = append(changes, statusChanges...)

	// Finally bring the stored total into line with the policy.
	freshVols, err := svc.volumeService.ListVolumes(ctx, volumes.ListVolumesOptions{SeriesID: &s.ID})
	if err != nil {
		return nil, err
	}
	totals := series.ComputeTotals(s.TotalBooks, freshVols)
	if totals.Total != s.TotalBooks {
		old := s.TotalBooks
		s.TotalBooks = totals.Total
		err := svc.seriesService.UpdateSeries(ctx, s, series.UpdateSeriesOptions{Columns: []string{"total_books"}})
		if err != nil {
			return nil, err
		}
		changes = append(changes, Change{
			Series: s.Name,
			Kind:   ChangeTotalUpdated,
			Old:    strconv.Itoa(old),
			New:    strconv.Itoa(totals.Total),
			Reason: "volume ledger disagreed with stored total",
		})
	}

	return changes, nil
}

func (svc *Service) createOwnedVolume(ctx context.Context, s *models.Series, b *models.Book, pos int) (*models.Volume, error) {
	v := &models.Volume{
		SeriesID: s.ID,
		Position: pos,
		Title:    b.Title,
		ISBN13:   b.ISBN13,
		ISBN10:   b.ISBN10,
		Status:   models.VolumeStatusOwned,
		CoverURL: b.CoverURL,
	}
	err := svc.volumeService.CreateVolume(ctx, v)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// refreshStatuses flips each volume's status to match whether an owned book
// currently sits at its position. Volumes whose books disappeared become
// missing but stay on the ledger; the position itself is still a fact about
// the series.
func (svc *Service) refreshStatuses(ctx context.Context, s *models.Series) ([]Change, error) {
	changes := []Change{}

	currentBooks, err := svc.bookService.ListBooks(ctx, books.ListBooksOptions{SeriesName: &s.Name})
	if err != nil {
		return nil, err
	}
	ownedPositions := map[int]bool{}
	for _, b := range currentBooks {
		if b.SeriesPosition != nil && *b.SeriesPosition > 0 {
			ownedPositions[*b.SeriesPosition] = true
		}
	}

	vols, err := svc.volumeService.ListVolumes(ctx, volumes.ListVolumesOptions{SeriesID: &s.ID})
	if err != nil {
		return nil, err
	}
	for _, v := range vols {
		want := models.VolumeStatusMissing
		if ownedPositions[v.Position] {
			want = models.VolumeStatusOwned
		}
		if v.Status == want {
			continue
		}

		old := v.Status
		v.Status = want
		err := svc.volumeService.UpdateVolume(ctx, v, volumes.UpdateVolumeOptions{Columns: []string{"status"}})
		if err != nil {
			return nil, err
		}
		changes = append(changes, Change{
			Series:   s.Name,
			Kind:     ChangeVolumeStatus,
			Position: v.Position,
			Old:      old,
			New:      want,
			Reason:   "ownership re-derived from books",
		})
	}

	return changes, nil
}

// Totals recomputes a series' totals without mutating anything; exposed for
// the read path alongside ReconcileSeries.
func (svc *Service) Totals(ctx context.Context, name string) (series.Totals, error) {
	s, err := svc.seriesService.RetrieveSeries(ctx, series.RetrieveSeriesOptions{Name: &name})
	if err != nil {
		if errors.Is(err, errcodes.NotFound("Series")) {
			return series.Totals{}, err
		}
		return series.Totals{}, errors.WithStack(err)
	}
	return svc.seriesService.Totals(ctx, s.ID)
}
