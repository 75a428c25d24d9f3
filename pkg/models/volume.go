package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	VolumeStatusOwned   = "owned"
	VolumeStatusMissing = "missing"
)

// Volume is the ledger entry for one position within a series. A row exists
// for every position the series is known to have, whether or not the user
// owns a book at that position. Rows are never deleted; a volume whose book
// goes away flips to missing instead.
type Volume struct {
	bun.BaseModel `bun:"table:volumes,alias:v"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SeriesID  int       `bun:",nullzero" json:"series_id"`
	Series    *Series   `bun:"rel:belongs-to,join:series_id=id" json:"series,omitempty"`
	Position  int       `bun:",nullzero" json:"position"`
	Title     string    `json:"title"`
	ISBN13    *string   `bun:"isbn_13,nullzero" json:"isbn_13,omitempty"`
	ISBN10    *string   `bun:"isbn_10,nullzero" json:"isbn_10,omitempty"`
	Status    string    `bun:",nullzero" json:"status"`
	CoverURL  *string   `json:"cover_url,omitempty"`
}
