package metadata

import (
	"context"

	"github.com/pkg/errors"
)

// Lookup failures are classified so callers can tell "this book has no
// metadata anywhere" apart from "the source is struggling right now".
var (
	ErrNotFound    = errors.New("metadata: no result for isbn")
	ErrRateLimited = errors.New("metadata: rate limited")
	ErrTransient   = errors.New("metadata: transient source error")
)

// Fields is the metadata a source can return for one book. Nil means the
// source had nothing for that field, not that the field is empty.
type Fields struct {
	Description   *string
	CoverURL      *string
	Publisher     *string
	PublishedDate *string
	PageCount     *int
	Categories    *string
}

// Source is an external metadata provider queried by ISBN.
type Source interface {
	Name() string
	SearchByISBN(ctx context.Context, isbn string) (*Fields, error)
}
