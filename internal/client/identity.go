package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/questx-lab/rewards-engine/pkg/api"
)

type IdentityClient interface {
	VerificationExists(ctx context.Context, handle string) (bool, error)
}

type identityClient struct {
	generator api.Generator
}

func NewIdentityClient(endpoint string) *identityClient {
	return &identityClient{generator: api.NewGenerator(endpoint)}
}

func (c *identityClient) VerificationExists(ctx context.Context, handle string) (bool, error) {
	resp, err := c.generator.New("/v1/identity/verification").
		Query(api.Parameter{"handle": handle}).
		GET(ctx)
	if err != nil {
		return false, err
	}

	if resp.Code != http.StatusOK {
		return false, fmt.Errorf("unexpected status code %d", resp.Code)
	}

	var body struct {
		Exists bool `json:"exists"`
	}
	if err := resp.Decode(&body); err != nil {
		return false, err
	}

	return body.Exists, nil
}
