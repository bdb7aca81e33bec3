package emapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mowtools/emsync/internal/errors"
)

const pagingCursorHeader = "em-paging-next-cursor"

// Page is one upstream page together with the marker to resume after it.
// Next is nil on the final page, an offset (int) for offset paging, or an
// opaque cursor (string) for cursor paging.
type Page struct {
	Next  interface{}
	Items []map[string]interface{}
}

// Pager yields pages in upstream order
type Pager interface {
	// Next returns the next page. ok is false once the final page has been
	// consumed; the final page itself is returned with ok true and Next nil.
	Next(ctx context.Context) (page Page, ok bool, err error)
}

// SearchQuery is the request body of the cursor-paged search endpoints
type SearchQuery struct {
	Size            int                    `json:"size"`
	Filters         map[string]interface{} `json:"filters"`
	OrderByProperty string                 `json:"orderByProperty,omitempty"`
	FromCursor      string                 `json:"fromCursor,omitempty"`
	Expansions      *Expansions            `json:"expansions,omitempty"`
}

// Expansions lists the expansion fields of a search query
type Expansions struct {
	Fields []string `json:"fields"`
}

type offsetResponse struct {
	From       int                      `json:"from"`
	Size       int                      `json:"size"`
	TotalCount int                      `json:"totalCount"`
	Data       []map[string]interface{} `json:"data"`
}

// OffsetPager iterates a resource with offset paging. Termination: once
// from+size reaches totalCount the page is yielded with a nil Next.
type OffsetPager struct {
	req    *Requester
	path   string
	size   int
	offset int
	done   bool
}

func newOffsetPager(req *Requester, path string, size int, start interface{}) *OffsetPager {
	return &OffsetPager{req: req, path: path, size: size, offset: toOffset(start)}
}

// Next fetches the next offset page
func (p *OffsetPager) Next(ctx context.Context) (Page, bool, error) {
	if p.done {
		return Page{}, false, nil
	}

	url := fmt.Sprintf("%s?from=%d&pagingMode=OFFSET&size=%d", p.path, p.offset, p.size)
	resp, err := p.req.Get(ctx, url)
	if err != nil {
		return Page{}, false, err
	}

	var body offsetResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Page{}, false, errors.NewProtocolError("decode offset page").WithCause(err).
			WithDetail("path", p.path)
	}

	next := body.From + body.Size
	if next >= body.TotalCount {
		p.done = true
		return Page{Next: nil, Items: body.Data}, true, nil
	}
	p.offset = next
	return Page{Next: next, Items: body.Data}, true, nil
}

// CursorPager iterates a search endpoint with cursor paging. The next cursor
// comes from the em-paging-next-cursor response header; absence terminates.
type CursorPager struct {
	req   *Requester
	path  string
	query SearchQuery
	done  bool
}

func newCursorPager(req *Requester, path string, size int, start interface{}, expansions []string) *CursorPager {
	query := SearchQuery{Size: size, Filters: map[string]interface{}{}}
	if cursor := toCursor(start); cursor != "" {
		query.FromCursor = cursor
	}
	if len(expansions) > 0 {
		query.Expansions = &Expansions{Fields: expansions}
	}
	return &CursorPager{req: req, path: path, query: query}
}

// Next fetches the next cursor page
func (p *CursorPager) Next(ctx context.Context) (Page, bool, error) {
	if p.done {
		return Page{}, false, nil
	}

	body, err := json.Marshal(p.query)
	if err != nil {
		return Page{}, false, err
	}
	resp, err := p.req.Post(ctx, p.path, body)
	if err != nil {
		return Page{}, false, err
	}

	var payload struct {
		Graph []map[string]interface{} `json:"@graph"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Page{}, false, errors.NewProtocolError("decode search page").WithCause(err).
			WithDetail("path", p.path)
	}

	cursor := resp.Header.Get(pagingCursorHeader)
	if cursor == "" {
		p.done = true
		return Page{Next: nil, Items: payload.Graph}, true, nil
	}
	p.query.FromCursor = cursor
	return Page{Next: cursor, Items: payload.Graph}, true, nil
}

// toOffset normalizes a persisted progress marker to an offset. Numbers read
// back from the document store arrive as float64.
func toOffset(v interface{}) int {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func toCursor(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
