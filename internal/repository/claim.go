package repository

import (
	"context"

	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

type ClaimRepository interface {
	Create(ctx context.Context, claim *entity.ClaimAttempt) error
	Update(ctx context.Context, claim *entity.ClaimAttempt) error
	DeleteByID(ctx context.Context, id string) error
	GetByUserID(ctx context.Context, userID string) (*entity.ClaimAttempt, error)
	GetPending(ctx context.Context) ([]entity.ClaimAttempt, error)
}

type claimRepository struct{}

func NewClaimRepository() *claimRepository {
	return &claimRepository{}
}

func (r *claimRepository) Create(ctx context.Context, claim *entity.ClaimAttempt) error {
	return xcontext.DB(ctx).Create(claim).Error
}

func (r *claimRepository) Update(ctx context.Context, claim *entity.ClaimAttempt) error {
	return xcontext.DB(ctx).Save(claim).Error
}

func (r *claimRepository) DeleteByID(ctx context.Context, id string) error {
	return xcontext.DB(ctx).Unscoped().
		Delete(&entity.ClaimAttempt{}, "id = ?", id).Error
}

func (r *claimRepository) GetByUserID(ctx context.Context, userID string) (*entity.ClaimAttempt, error) {
	result := &entity.ClaimAttempt{}
	err := xcontext.DB(ctx).
		First(result, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *claimRepository) GetPending(ctx context.Context) ([]entity.ClaimAttempt, error) {
	var result []entity.ClaimAttempt
	err := xcontext.DB(ctx).
		Where("status NOT IN ?", []entity.ClaimStatus{
			entity.ClaimSuccess, entity.ClaimFailure, entity.ClaimAlreadyClaimed,
		}).
		Find(&result).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}
