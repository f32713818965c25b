package gateway

import (
	"context"
	"net/http"
)

type Bank struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	USSDTemplate string `json:"ussdTemplate,omitempty"`
}

// ListBanks returns the banks the processor can pay out to.
func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	var banks []Bank
	if err := c.do(ctx, "banks.list", nil, http.MethodGet, "/api/v1/banks", nil, nil, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}
