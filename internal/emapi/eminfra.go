package emapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mowtools/emsync/internal/errors"
)

// Kenmerk type uuids used by the capability probes
const (
	kenmerkVPlan       = "9f12fd85-d4ae-4adc-952f-5fa6e9d0ffb7"
	kenmerkAansluiting = "87dff279-4162-4031-ba30-fb7ffd9c014b"
)

// FeedLink is one link of a feed page
type FeedLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// FeedEntry is one event entry of a feed page
type FeedEntry struct {
	ID      string                 `json:"id"`
	Updated string                 `json:"updated"`
	Content map[string]interface{} `json:"content"`
}

// FeedPage is a feedproxy page
type FeedPage struct {
	Links   []FeedLink  `json:"links"`
	Entries []FeedEntry `json:"entries"`
}

// InfraClient talks to the lower-level resource API
type InfraClient struct {
	req *Requester
}

// NewInfraClient creates a client rooted at the eminfra base path
func NewInfraClient(req *Requester) *InfraClient {
	return &InfraClient{req: req.WithBasePath("eminfra/")}
}

// ResourcePager returns an offset pager over core/api/<resource>
func (c *InfraClient) ResourcePager(resource string, pageSize int, start interface{}) Pager {
	return newOffsetPager(c.req, "core/api/"+resource, pageSize, start)
}

// IdentityResourcePager returns an offset pager over identiteit/api/<resource>
func (c *InfraClient) IdentityResourcePager(resource string, pageSize int, start interface{}) Pager {
	return newOffsetPager(c.req, "identiteit/api/"+resource, pageSize, start)
}

// SearchPager returns a cursor pager over core/api/otl/<resource>/search
func (c *InfraClient) SearchPager(resource string, pageSize int, start interface{}, expansions []string) Pager {
	return newCursorPager(c.req, "core/api/otl/"+resource+"/search", pageSize, start, expansions)
}

// LastFeedPage fetches the most recent feedproxy page of a feed
func (c *InfraClient) LastFeedPage(ctx context.Context, feedName string) (*FeedPage, error) {
	return c.feedPage(ctx, fmt.Sprintf("feedproxy/feed/%s", feedName))
}

// FeedPage fetches a specific feedproxy page
func (c *InfraClient) FeedPage(ctx context.Context, feedName string, pageNum, pageSize int) (*FeedPage, error) {
	return c.feedPage(ctx, fmt.Sprintf("feedproxy/feed/%s/%d/%d", feedName, pageNum, pageSize))
}

func (c *InfraClient) feedPage(ctx context.Context, path string) (*FeedPage, error) {
	resp, err := c.req.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var page FeedPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, errors.NewProtocolError("decode feed page").WithCause(err).
			WithDetail("path", path)
	}
	return &page, nil
}

// KenmerkTypes fetches the kenmerk types attached to an asset-type
func (c *InfraClient) KenmerkTypes(ctx context.Context, assettypeUUID string) ([]map[string]interface{}, error) {
	return c.dataList(ctx, fmt.Sprintf("core/api/assettypes/%s/kenmerktypes", assettypeUUID))
}

// VPlannen fetches the plan couplings of an asset
func (c *InfraClient) VPlannen(ctx context.Context, assetUUID string) ([]map[string]interface{}, error) {
	return c.dataList(ctx, fmt.Sprintf("core/api/assets/%s/kenmerken/%s/vplannen", assetUUID, kenmerkVPlan))
}

// Aansluiting fetches the electrical-connection kenmerk of an asset
func (c *InfraClient) Aansluiting(ctx context.Context, assetUUID string) (map[string]interface{}, error) {
	path := fmt.Sprintf("core/api/assets/%s/kenmerken/%s", assetUUID, kenmerkAansluiting)
	resp, err := c.req.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, errors.NewProtocolError("decode aansluiting").WithCause(err).
			WithDetail("path", path)
	}
	return doc, nil
}

// TestConnection probes the API with the current credentials
func (c *InfraClient) TestConnection(ctx context.Context) error {
	_, err := c.req.Get(ctx, "core/api/gebruikers/ik")
	return err
}

func (c *InfraClient) dataList(ctx context.Context, path string) ([]map[string]interface{}, error) {
	resp, err := c.req.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, errors.NewProtocolError("decode data list").WithCause(err).
			WithDetail("path", path)
	}
	return payload.Data, nil
}
