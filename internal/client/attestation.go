package client

import (
	"context"
	"net/http"

	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/pkg/api"
	"github.com/questx-lab/rewards-engine/pkg/enum"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

// ClaimRequest is the submission sent to the attestation network. The
// network aggregates attestations over the given endpoints itself; this
// client only talks to the aggregation layer.
type ClaimRequest struct {
	UserID           string   `json:"user_id"`
	ChallengeID      string   `json:"challenge_id"`
	Specifiers       []string `json:"specifiers"`
	Amount           uint64   `json:"amount"`
	RecipientAddress string   `json:"recipient_address"`
	OracleAddress    string   `json:"oracle_address"`
	QuorumSize       int      `json:"quorum_size"`
	Endpoints        []string `json:"endpoints"`
	MaxParallel      int      `json:"max_parallel"`
	IsFinalAttempt   bool     `json:"is_final_attempt"`
}

type ClaimResult struct {
	Success         bool
	Reason          entity.FailureReason
	OracleErrorCode string
}

type AttestationClient interface {
	SubmitClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error)
}

type attestationClient struct {
	generator api.Generator
}

func NewAttestationClient(endpoints ...string) *attestationClient {
	return &attestationClient{generator: api.NewGenerator(endpoints...)}
}

func (c *attestationClient) SubmitClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	resp, err := c.generator.New("/v1/claims").
		Body(api.NewJSONBody(req)).
		POST(ctx)
	if err != nil {
		return nil, err
	}

	var body struct {
		Success         bool   `json:"success"`
		Error           string `json:"error"`
		OracleErrorCode string `json:"oracle_error_code"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}

	if resp.Code == http.StatusOK && body.Success {
		return &ClaimResult{Success: true}, nil
	}

	reason, err := enum.ToEnum[entity.FailureReason](body.Error)
	if err != nil {
		xcontext.Logger(ctx).Warnf("Unknown failure reason %s, fall back to unknown error", body.Error)
		reason = entity.ReasonUnknownError
	}

	return &ClaimResult{
		Success:         false,
		Reason:          reason,
		OracleErrorCode: body.OracleErrorCode,
	}, nil
}
