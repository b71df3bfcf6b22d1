package domain

import (
	"context"

	"github.com/questx-lab/rewards-engine/internal/domain/optimistic"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/model"
	"github.com/questx-lab/rewards-engine/internal/repository"
	"github.com/questx-lab/rewards-engine/pkg/errorx"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

type ChallengeDomain interface {
	GetChallenges(context.Context, *model.GetChallengesRequest) (*model.GetChallengesResponse, error)
	SetStepOverride(context.Context, *model.SetStepOverrideRequest) (*model.SetStepOverrideResponse, error)
	SetForeground(context.Context, *model.SetForegroundRequest) (*model.SetForegroundResponse, error)
	SetRewardsScreen(context.Context, *model.SetRewardsScreenRequest) (*model.SetRewardsScreenResponse, error)
}

type challengeDomain struct {
	challengeRepo repository.ChallengeRepository
}

func NewChallengeDomain(challengeRepo repository.ChallengeRepository) *challengeDomain {
	return &challengeDomain{challengeRepo: challengeRepo}
}

func (d *challengeDomain) GetChallenges(
	ctx context.Context, req *model.GetChallengesRequest,
) (*model.GetChallengesResponse, error) {
	userID := xcontext.RequestUserID(ctx)
	d.registerSession(ctx, userID)

	if err := d.challengeRepo.LoadSnapshot(ctx, userID); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot load challenge snapshot: %v", err)
	}

	challenges := d.challengeRepo.GetAll(ctx, userID)
	undisbursed := d.challengeRepo.Undisbursed(ctx, userID)

	overrides := map[entity.ChallengeID]entity.ChallengeOverride{}
	for _, challenge := range challenges {
		if override, ok := d.challengeRepo.Override(ctx, userID, challenge.ChallengeID); ok {
			overrides[challenge.ChallengeID] = override
		}
	}

	views := optimistic.ReconcileAll(challenges, overrides, undisbursed)
	resp := &model.GetChallengesResponse{Challenges: []model.OptimisticChallenge{}}
	for _, view := range views {
		resp.Challenges = append(resp.Challenges, convertChallenge(view))
	}

	return resp, nil
}

func (d *challengeDomain) SetStepOverride(
	ctx context.Context, req *model.SetStepOverrideRequest,
) (*model.SetStepOverrideResponse, error) {
	if req.ChallengeID == "" {
		return nil, errorx.New(errorx.BadRequest, "Require a challenge id")
	}

	if req.StepCount < 0 {
		return nil, errorx.New(errorx.BadRequest, "Require a non-negative step count")
	}

	userID := xcontext.RequestUserID(ctx)
	d.registerSession(ctx, userID)

	stepCount := req.StepCount
	d.challengeRepo.SetOverride(ctx, userID, entity.ChallengeOverride{
		ChallengeID:      entity.ChallengeID(req.ChallengeID),
		CurrentStepCount: &stepCount,
	})

	return &model.SetStepOverrideResponse{}, nil
}

func (d *challengeDomain) SetForeground(
	ctx context.Context, req *model.SetForegroundRequest,
) (*model.SetForegroundResponse, error) {
	userID := xcontext.RequestUserID(ctx)
	d.registerSession(ctx, userID)
	d.challengeRepo.SetForeground(ctx, userID, req.Foreground)

	return &model.SetForegroundResponse{}, nil
}

func (d *challengeDomain) SetRewardsScreen(
	ctx context.Context, req *model.SetRewardsScreenRequest,
) (*model.SetRewardsScreenResponse, error) {
	userID := xcontext.RequestUserID(ctx)
	d.registerSession(ctx, userID)
	d.challengeRepo.SetRewardsScreen(ctx, userID, req.Active)

	return &model.SetRewardsScreenResponse{}, nil
}

func (d *challengeDomain) registerSession(ctx context.Context, userID string) {
	d.challengeRepo.RegisterSession(ctx, userID, xcontext.RequestUserHandle(ctx))
}

func convertChallenge(view optimistic.UserChallenge) model.OptimisticChallenge {
	converted := model.OptimisticChallenge{
		ChallengeID:           string(view.ChallengeID),
		ChallengeType:         string(view.Type),
		Specifier:             view.Specifier,
		Amount:                view.Amount,
		CurrentStepCount:      view.CurrentStepCount,
		IsComplete:            view.IsComplete,
		IsDisbursed:           view.IsDisbursed,
		IsActive:              view.IsActive,
		State:                 string(view.State),
		TotalAmount:           view.TotalAmount,
		ClaimableAmount:       view.ClaimableAmount,
		UndisbursedSpecifiers: view.UndisbursedSpecifiers,
	}

	if view.MaxSteps.Valid {
		maxSteps := view.MaxSteps.Int64
		converted.MaxSteps = &maxSteps
	}

	return converted
}
