package repository

import (
	"testing"

	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/pkg/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClaimJournalLifecycle(t *testing.T) {
	ctx := testutil.MockContext()
	repo := NewClaimRepository()

	attempt := &entity.ClaimAttempt{
		Base:             entity.Base{ID: "claim-1"},
		UserID:           "user1",
		ChallengeID:      entity.ProfileCompletion,
		Specifiers:       []string{"spec-1"},
		Amount:           10,
		RecipientAddress: "addr",
		Status:           entity.ClaimSending,
	}
	require.NoError(t, repo.Create(ctx, attempt))

	stored, err := repo.GetByUserID(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, entity.ClaimSending, stored.Status)
	require.Equal(t, entity.Array[string]{"spec-1"}, stored.Specifiers)

	attempt.Status = entity.ClaimWaitingForRetry
	attempt.FailureReason = entity.ReasonUnknownError
	attempt.RetryCount = 2
	require.NoError(t, repo.Update(ctx, attempt))

	pending, err := repo.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 2, pending[0].RetryCount)

	require.NoError(t, repo.DeleteByID(ctx, "claim-1"))
	_, err = repo.GetByUserID(ctx, "user1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGetPendingSkipsTerminalAttempts(t *testing.T) {
	ctx := testutil.MockContext()
	repo := NewClaimRepository()

	require.NoError(t, repo.Create(ctx, &entity.ClaimAttempt{
		Base:        entity.Base{ID: "claim-1"},
		UserID:      "user1",
		ChallengeID: entity.ProfileCompletion,
		Status:      entity.ClaimSuccess,
	}))
	require.NoError(t, repo.Create(ctx, &entity.ClaimAttempt{
		Base:        entity.Base{ID: "claim-2"},
		UserID:      "user2",
		ChallengeID: entity.ListenStreak,
		Status:      entity.ClaimSending,
	}))

	pending, err := repo.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "claim-2", pending[0].ID)
}
