package emapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mowtools/emsync/internal/errors"
)

// SONClient talks to the higher-level linked-data API
type SONClient struct {
	req *Requester
}

// NewSONClient creates a client rooted at the emson base path
func NewSONClient(req *Requester) *SONClient {
	return &SONClient{req: req.WithBasePath("emson/")}
}

// SearchPager returns a cursor pager over api/otl/<resource>/search
func (c *SONClient) SearchPager(resource string, pageSize int, start interface{}) Pager {
	return newCursorPager(c.req, "api/otl/"+resource+"/search", pageSize, start, nil)
}

// AssetByUUID fetches a single asset record
func (c *SONClient) AssetByUUID(ctx context.Context, uuid string) (map[string]interface{}, error) {
	return c.record(ctx, fmt.Sprintf("api/otl/assets/%s", uuid))
}

// AssetRelatieByUUID fetches a single asset-relation record
func (c *SONClient) AssetRelatieByUUID(ctx context.Context, uuid string) (map[string]interface{}, error) {
	return c.record(ctx, fmt.Sprintf("api/otl/assetrelaties/%s", uuid))
}

// TestConnection probes the API with the current credentials
func (c *SONClient) TestConnection(ctx context.Context) error {
	_, err := c.req.Get(ctx, "api/otl/assetrelaties")
	return err
}

func (c *SONClient) record(ctx context.Context, path string) (map[string]interface{}, error) {
	resp, err := c.req.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, errors.NewProtocolError("decode record").WithCause(err).
			WithDetail("path", path)
	}
	return doc, nil
}
