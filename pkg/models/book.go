package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Metadata field names reported by Book.MissingMetadataFields.
const (
	FieldDescription   = "description"
	FieldCoverURL      = "cover_url"
	FieldPublisher     = "publisher"
	FieldPublishedDate = "published_date"
	FieldPageCount     = "page_count"
	FieldCategories    = "categories"
)

// Book is an owned copy. A row existing means the user has the book; there is
// no separate ownership flag. SeriesName is a free-text link resolved during
// reconciliation, not a foreign key.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID             int       `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Title          string    `bun:",nullzero" json:"title"`
	SeriesName     *string   `json:"series_name,omitempty"`
	SeriesPosition *int      `json:"series_position,omitempty"`
	ISBN13         *string   `bun:"isbn_13,nullzero" json:"isbn_13,omitempty"`
	ISBN10         *string   `bun:"isbn_10,nullzero" json:"isbn_10,omitempty"`
	Description    *string   `json:"description,omitempty"`
	CoverURL       *string   `json:"cover_url,omitempty"`
	Publisher      *string   `json:"publisher,omitempty"`
	PublishedDate  *string   `json:"published_date,omitempty"`
	PageCount      *int      `json:"page_count,omitempty"`
	Categories     *string   `json:"categories,omitempty"`
}

// MissingMetadataFields returns the names of the metadata fields that have no
// value yet. Presence only; it does not validate contents.
func (b *Book) MissingMetadataFields() []string {
	missing := []string{}
	if b.Description == nil || *b.Description == "" {
		missing = append(missing, FieldDescription)
	}
	if b.CoverURL == nil || *b.CoverURL == "" {
		missing = append(missing, FieldCoverURL)
	}
	if b.Publisher == nil || *b.Publisher == "" {
		missing = append(missing, FieldPublisher)
	}
	if b.PublishedDate == nil || *b.PublishedDate == "" {
		missing = append(missing, FieldPublishedDate)
	}
	if b.PageCount == nil || *b.PageCount == 0 {
		missing = append(missing, FieldPageCount)
	}
	if b.Categories == nil || *b.Categories == "" {
		missing = append(missing, FieldCategories)
	}
	return missing
}

// LookupISBN returns the preferred ISBN for metadata lookups, or an empty
// string when the book has none.
func (b *Book) LookupISBN() string {
	if b.ISBN13 != nil && *b.ISBN13 != "" {
		return *b.ISBN13
	}
	if b.ISBN10 != nil && *b.ISBN10 != "" {
		return *b.ISBN10
	}
	return ""
}
