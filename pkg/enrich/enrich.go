package enrich

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/hondana/pkg/books"
	"github.com/shishobooks/hondana/pkg/jobs"
	"github.com/shishobooks/hondana/pkg/metadata"
	"github.com/shishobooks/hondana/pkg/models"
)

// failureThreshold is how many consecutive no-update failures it takes to
// stop the run. It bounds the damage of a sustained source outage to roughly
// this many wasted lookups instead of the whole library.
const failureThreshold = 10

// Enricher fills gaps in book metadata from external sources. The secondary
// source is consulted only when the primary produced no update for a book.
type Enricher struct {
	bookService *books.Service
	primary     metadata.Source
	secondary   metadata.Source
	pacingDelay time.Duration
}

func New(bookService *books.Service, primary, secondary metadata.Source, pacingDelay time.Duration) *Enricher {
	return &Enricher{
		bookService: bookService,
		primary:     primary,
		secondary:   secondary,
		pacingDelay: pacingDelay,
	}
}

// RunJob walks every book with missing metadata fields and tries to fill
// them. Each book's update commits individually, so a mid-run stop keeps all
// prior progress.
func (e *Enricher) RunJob(ctx context.Context) (*jobs.Result, error) {
	log := logger.FromContext(ctx)

	allBooks, err := e.bookService.ListBooks(ctx, books.ListBooksOptions{})
	if err != nil {
		return nil, err
	}

	result := &jobs.Result{}
	consecutiveFailures := 0
	paced := false

	for _, b := range allBooks {
		missing := b.MissingMetadataFields()
		if len(missing) == 0 {
			continue
		}
		isbn := b.LookupISBN()
		if isbn == "" {
			// Nothing to look up with; not a source failure.
			continue
		}

		// Pace lookups so we stay friendly with external rate limits.
		if paced && e.pacingDelay > 0 {
			select {
			case <-ctx.Done():
				return result, errors.WithStack(ctx.Err())
			case <-time.After(e.pacingDelay):
			}
		}
		paced = true

		updated, err := e.enrichBook(ctx, b, isbn, missing)
		if ctx.Err() != nil {
			return result, errors.WithStack(ctx.Err())
		}

		switch {
		case updated > 0:
			result.Processed++
			consecutiveFailures = 0
		case err != nil:
			result.Failed++
			consecutiveFailures++
			if errors.Is(err, metadata.ErrRateLimited) {
				result.RateLimited = true
			}
			log.Warn("enrichment attempt failed", logger.Data{"book_id": b.ID, "error": err.Error()})

			if consecutiveFailures >= failureThreshold {
				// The sources are clearly struggling; stop burning lookups.
				result.StoppedEarly = true
				log.Warn("stopping enrichment run early", logger.Data{"consecutive_failures": consecutiveFailures})
				return result, nil
			}
		}
	}

	return result, nil
}

// enrichBook tries the primary source, then the secondary if the primary made
// no update, and commits whatever fields it filled. It returns the number of
// fields updated and an error only when a source misbehaved and the book
// ended the attempt with nothing filled; "no source knows this book" is not a
// failure.
func (e *Enricher) enrichBook(ctx context.Context, b *models.Book, isbn string, missing []string) (int, error) {
	updated, primaryErr := e.applyFromSource(ctx, e.primary, b, isbn, missing)
	if updated > 0 {
		return updated, nil
	}

	updated, secondaryErr := e.applyFromSource(ctx, e.secondary, b, isbn, missing)
	if updated > 0 {
		return updated, nil
	}

	for _, err := range []error{primaryErr, secondaryErr} {
		if err != nil && !errors.Is(err, metadata.ErrNotFound) {
			return 0, err
		}
	}
	return 0, nil
}

func (e *Enricher) applyFromSource(ctx context.Context, src metadata.Source, b *models.Book, isbn string, missing []string) (int, error) {
	fields, err := src.SearchByISBN(ctx, isbn)
	if err != nil {
		return 0, errors.Wrap(err, src.Name())
	}

	columns := []string{}
	for _, field := range missing {
		switch field {
		case models.FieldDescription:
			if fields.Description != nil {
				b.Description = fields.Description
				columns = append(columns, "description")
			}
		case models.FieldCoverURL:
			if fields.CoverURL != nil {
				b.CoverURL = fields.CoverURL
				columns = append(columns, "cover_url")
			}
		case models.FieldPublisher:
			if fields.Publisher != nil {
				b.Publisher = fields.Publisher
				columns = append(columns, "publisher")
			}
		case models.FieldPublishedDate:
			if fields.PublishedDate != nil {
				b.PublishedDate = fields.PublishedDate
				columns = append(columns, "published_date")
			}
		case models.FieldPageCount:
			if fields.PageCount != nil {
				b.PageCount = fields.PageCount
				columns = append(columns, "page_count")
			}
		case models.FieldCategories:
			if fields.Categories != nil {
				b.Categories = fields.Categories
				columns = append(columns, "categories")
			}
		}
	}
	if len(columns) == 0 {
		return 0, nil
	}

	// Commit this book on its own so a stop later in the run loses nothing.
	err = e.bookService.UpdateBook(ctx, b, books.UpdateBookOptions{Columns: columns})
	if err != nil {
		return 0, err
	}
	return len(columns), nil
}
