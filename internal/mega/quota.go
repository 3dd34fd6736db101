package mega

import (
	"context"
	"fmt"
)

type quotaRequest struct {
	act
	Xfer int `json:"xfer"`
	Strg int `json:"strg"`
}

type quotaResponse struct {
	Used  *int64 `json:"cstrg"`
	Total *int64 `json:"mstrg"`
}

// Quota is the account storage usage. A nil field means the server did not
// report it.
type Quota struct {
	Used  *int64
	Total *int64
}

// Quota returns the account's storage usage and limit in bytes.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	c.logger.Info("fetching quota")

	if _, err := c.masterKey(); err != nil {
		return nil, err
	}

	req := quotaRequest{act: act{A: "uq"}, Xfer: 1, Strg: 1}

	raw, err := c.request(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("mega: fetching quota: %w", err)
	}

	var resp quotaResponse
	if err := decode(req.name(), raw, &resp); err != nil {
		return nil, err
	}

	return &Quota{Used: resp.Used, Total: resp.Total}, nil
}
