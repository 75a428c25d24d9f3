package metadata

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// GoogleBooks is the primary metadata source.
type GoogleBooks struct {
	client *resty.Client
}

func NewGoogleBooks(baseURL string) *GoogleBooks {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(15 * time.Second)

	return &GoogleBooks{client: client}
}

func (*GoogleBooks) Name() string { return "google_books" }

type googleBooksResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Description   string   `json:"description"`
			Publisher     string   `json:"publisher"`
			PublishedDate string   `json:"publishedDate"`
			PageCount     int      `json:"pageCount"`
			Categories    []string `json:"categories"`
			ImageLinks    struct {
				Thumbnail string `json:"thumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (g *GoogleBooks) SearchByISBN(ctx context.Context, isbn string) (*Fields, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("q", "isbn:"+isbn).
		Get("/volumes")
	if err != nil {
		return nil, errors.Wrap(ErrTransient, err.Error())
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}

	parsed := googleBooksResponse{}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, errors.Wrap(ErrTransient, err.Error())
	}
	if parsed.TotalItems == 0 || len(parsed.Items) == 0 {
		return nil, ErrNotFound
	}

	info := parsed.Items[0].VolumeInfo
	fields := &Fields{}
	if info.Description != "" {
		fields.Description = &info.Description
	}
	if info.ImageLinks.Thumbnail != "" {
		fields.CoverURL = &info.ImageLinks.Thumbnail
	}
	if info.Publisher != "" {
		fields.Publisher = &info.Publisher
	}
	if info.PublishedDate != "" {
		fields.PublishedDate = &info.PublishedDate
	}
	if info.PageCount > 0 {
		fields.PageCount = &info.PageCount
	}
	if len(info.Categories) > 0 {
		categories := strings.Join(info.Categories, ", ")
		fields.Categories = &categories
	}

	return fields, nil
}

// classifyStatus maps an HTTP status code onto the lookup error taxonomy.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= http.StatusInternalServerError:
		return ErrTransient
	default:
		return errors.Wrapf(ErrTransient, "unexpected status %d", code)
	}
}
