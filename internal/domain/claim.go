package domain

import (
	"context"

	"github.com/questx-lab/rewards-engine/internal/client"
	"github.com/questx-lab/rewards-engine/internal/domain/attest"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/model"
	"github.com/questx-lab/rewards-engine/internal/repository"
	"github.com/questx-lab/rewards-engine/pkg/errorx"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

type ClaimDomain interface {
	ClaimReward(context.Context, *model.ClaimRewardRequest) (*model.ClaimRewardResponse, error)
	GetClaimStatus(context.Context, *model.GetClaimStatusRequest) (*model.GetClaimStatusResponse, error)
	CancelClaim(context.Context, *model.CancelClaimRequest) (*model.CancelClaimResponse, error)
	ResumeCaptcha(context.Context, *model.ResumeCaptchaRequest) (*model.ResumeCaptchaResponse, error)
	IdentityFlowClosed(context.Context, *model.IdentityFlowClosedRequest) (*model.IdentityFlowClosedResponse, error)
	GetRewardsFlags(context.Context, *model.GetRewardsFlagsRequest) (*model.GetRewardsFlagsResponse, error)
}

type claimDomain struct {
	challengeRepo repository.ChallengeRepository
	orchestrator  attest.Orchestrator
	remoteConfig  client.RemoteConfig
}

func NewClaimDomain(
	challengeRepo repository.ChallengeRepository,
	orchestrator attest.Orchestrator,
	remoteConfig client.RemoteConfig,
) *claimDomain {
	return &claimDomain{
		challengeRepo: challengeRepo,
		orchestrator:  orchestrator,
		remoteConfig:  remoteConfig,
	}
}

func (d *claimDomain) ClaimReward(
	ctx context.Context, req *model.ClaimRewardRequest,
) (*model.ClaimRewardResponse, error) {
	if req.ChallengeID == "" {
		return nil, errorx.New(errorx.BadRequest, "Require a challenge id")
	}

	if req.RecipientAddress == "" {
		return nil, errorx.New(errorx.BadRequest, "Require a recipient address")
	}

	userID := xcontext.RequestUserID(ctx)
	d.challengeRepo.RegisterSession(ctx, userID, xcontext.RequestUserHandle(ctx))

	attempt, err := d.orchestrator.Submit(
		ctx, userID, entity.ChallengeID(req.ChallengeID), req.RecipientAddress)
	if err != nil {
		return nil, err
	}

	return &model.ClaimRewardResponse{Status: string(attempt.Status)}, nil
}

func (d *claimDomain) GetClaimStatus(
	ctx context.Context, req *model.GetClaimStatusRequest,
) (*model.GetClaimStatusResponse, error) {
	attempt := d.orchestrator.Status(ctx, xcontext.RequestUserID(ctx))
	if attempt == nil {
		return &model.GetClaimStatusResponse{Status: string(entity.ClaimNone)}, nil
	}

	resp := &model.GetClaimStatusResponse{
		Status:        string(attempt.Status),
		ChallengeID:   string(attempt.ChallengeID),
		FailureReason: string(attempt.FailureReason),
		RetryCount:    attempt.RetryCount,
	}

	if attempt.OracleErrorCode.Valid {
		resp.OracleErrorCode = attempt.OracleErrorCode.String
	}

	return resp, nil
}

func (d *claimDomain) CancelClaim(
	ctx context.Context, req *model.CancelClaimRequest,
) (*model.CancelClaimResponse, error) {
	if err := d.orchestrator.Cancel(ctx, xcontext.RequestUserID(ctx)); err != nil {
		return nil, err
	}

	return &model.CancelClaimResponse{}, nil
}

func (d *claimDomain) ResumeCaptcha(
	ctx context.Context, req *model.ResumeCaptchaRequest,
) (*model.ResumeCaptchaResponse, error) {
	if req.Success && req.Token == "" {
		return nil, errorx.New(errorx.BadRequest, "Require a captcha token")
	}

	attempt, err := d.orchestrator.ResumeCaptcha(ctx, xcontext.RequestUserID(ctx), req.Success)
	if err != nil {
		return nil, err
	}

	return &model.ResumeCaptchaResponse{Status: string(attempt.Status)}, nil
}

// GetRewardsFlags dumps the effective remote flags, for support tooling.
func (d *claimDomain) GetRewardsFlags(
	ctx context.Context, req *model.GetRewardsFlagsRequest,
) (*model.GetRewardsFlagsResponse, error) {
	return &model.GetRewardsFlagsResponse{Flags: d.remoteConfig.All(ctx)}, nil
}

func (d *claimDomain) IdentityFlowClosed(
	ctx context.Context, req *model.IdentityFlowClosedRequest,
) (*model.IdentityFlowClosedResponse, error) {
	attempt, err := d.orchestrator.IdentityFlowClosed(ctx, xcontext.RequestUserID(ctx))
	if err != nil {
		return nil, err
	}

	return &model.IdentityFlowClosedResponse{Status: string(attempt.Status)}, nil
}
