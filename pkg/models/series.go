package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	SeriesStatusOngoing   = "ongoing"
	SeriesStatusCompleted = "completed"
	SeriesStatusUnknown   = "unknown"
)

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `bun:",nullzero" json:"name"`
	Author    *string   `json:"author,omitempty"`
	// TotalBooks is the asserted book count for the series. It may come from
	// an external metadata source or a manual edit, and may lag behind the
	// volume ledger until the next reconciliation pass.
	TotalBooks int       `json:"total_books"`
	Status     string    `bun:",nullzero" json:"status"`
	Volumes    []*Volume `bun:"rel:has-many,join:id=series_id" json:"volumes,omitempty"`
}
