package metadata

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// OpenLibrary is the secondary metadata source, consulted only when the
// primary produced no update for a book.
type OpenLibrary struct {
	client *resty.Client
}

func NewOpenLibrary(baseURL string) *OpenLibrary {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(15 * time.Second)

	return &OpenLibrary{client: client}
}

func (*OpenLibrary) Name() string { return "open_library" }

type openLibraryResponse struct {
	Description   json.RawMessage `json:"description"`
	NumberOfPages int             `json:"number_of_pages"`
	PublishDate   string          `json:"publish_date"`
	Publishers    []string        `json:"publishers"`
	Subjects      []string        `json:"subjects"`
	Covers        []int64         `json:"covers"`
}

func (o *OpenLibrary) SearchByISBN(ctx context.Context, isbn string) (*Fields, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		Get("/isbn/" + isbn + ".json")
	if err != nil {
		return nil, errors.Wrap(ErrTransient, err.Error())
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}

	parsed := openLibraryResponse{}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, errors.Wrap(ErrTransient, err.Error())
	}

	fields := &Fields{}
	if desc := parseOpenLibraryDescription(parsed.Description); desc != "" {
		fields.Description = &desc
	}
	if len(parsed.Covers) > 0 {
		coverURL := "https://covers.openlibrary.org/b/id/" + strconv.FormatInt(parsed.Covers[0], 10) + "-L.jpg"
		fields.CoverURL = &coverURL
	}
	if len(parsed.Publishers) > 0 {
		fields.Publisher = &parsed.Publishers[0]
	}
	if parsed.PublishDate != "" {
		fields.PublishedDate = &parsed.PublishDate
	}
	if parsed.NumberOfPages > 0 {
		fields.PageCount = &parsed.NumberOfPages
	}
	if len(parsed.Subjects) > 0 {
		categories := strings.Join(parsed.Subjects, ", ")
		fields.Categories = &categories
	}

	return fields, nil
}

// parseOpenLibraryDescription handles both shapes the API returns: a bare
// string or {"type": "/type/text", "value": "..."}.
func parseOpenLibraryDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	wrapped := struct {
		Value string `json:"value"`
	}{}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Value
	}

	return ""
}
