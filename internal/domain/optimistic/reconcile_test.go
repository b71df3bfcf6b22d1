package optimistic

import (
	"database/sql"
	"testing"

	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/stretchr/testify/require"
)

func steps(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: true}
}

func int64Ptr(n int64) *int64 {
	return &n
}

func TestReconcileServerWinsWhenComplete(t *testing.T) {
	challenge := entity.UserChallenge{
		ChallengeID:      entity.ProfileCompletion,
		Type:             entity.ChallengeNumeric,
		Amount:           10,
		CurrentStepCount: 7,
		MaxSteps:         steps(7),
		IsComplete:       true,
		IsActive:         true,
	}

	result := Reconcile(challenge, &entity.ChallengeOverride{
		ChallengeID:      entity.ProfileCompletion,
		CurrentStepCount: int64Ptr(3),
	}, nil)

	require.Equal(t, int64(7), result.CurrentStepCount)
	require.True(t, result.IsComplete)
	require.Equal(t, entity.StateCompleted, result.State)
}

func TestReconcileOverrideCompletesChallenge(t *testing.T) {
	challenge := entity.UserChallenge{
		ChallengeID:      entity.ListenStreak,
		Type:             entity.ChallengeNumeric,
		Amount:           1,
		CurrentStepCount: 5,
		MaxSteps:         steps(7),
		IsActive:         true,
	}

	result := Reconcile(challenge, &entity.ChallengeOverride{
		ChallengeID:      entity.ListenStreak,
		CurrentStepCount: int64Ptr(7),
	}, nil)

	require.Equal(t, int64(7), result.CurrentStepCount)
	require.True(t, result.IsComplete)
	require.Equal(t, entity.StateCompleted, result.State)
}

func TestReconcileNullMaxSteps(t *testing.T) {
	challenge := entity.UserChallenge{
		ChallengeID:      entity.ListenStreak,
		Type:             entity.ChallengeNumeric,
		Amount:           1,
		CurrentStepCount: 0,
		IsActive:         true,
	}

	result := Reconcile(challenge, &entity.ChallengeOverride{
		ChallengeID:      entity.ListenStreak,
		CurrentStepCount: int64Ptr(3),
	}, nil)

	require.Equal(t, int64(3), result.CurrentStepCount)
	require.False(t, result.IsComplete)
	require.Equal(t, entity.StateInProgress, result.State)
}

func TestStateDerivationPriority(t *testing.T) {
	testcases := []struct {
		name      string
		challenge entity.UserChallenge
		expected  entity.ChallengeState
	}{
		{
			name: "disbursed wins over completed",
			challenge: entity.UserChallenge{
				IsDisbursed: true,
				IsComplete:  true,
				IsActive:    true,
			},
			expected: entity.StateDisbursed,
		},
		{
			name: "completed by flag",
			challenge: entity.UserChallenge{
				IsComplete: true,
				IsActive:   true,
			},
			expected: entity.StateCompleted,
		},
		{
			name: "completed by step count",
			challenge: entity.UserChallenge{
				CurrentStepCount: 5,
				MaxSteps:         steps(5),
				IsActive:         true,
			},
			expected: entity.StateCompleted,
		},
		{
			name: "in progress",
			challenge: entity.UserChallenge{
				CurrentStepCount: 2,
				MaxSteps:         steps(5),
				IsActive:         true,
			},
			expected: entity.StateInProgress,
		},
		{
			name: "incomplete",
			challenge: entity.UserChallenge{
				MaxSteps: steps(5),
				IsActive: true,
			},
			expected: entity.StateIncomplete,
		},
		{
			name:      "inactive",
			challenge: entity.UserChallenge{MaxSteps: steps(5)},
			expected:  entity.StateInactive,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			result := Reconcile(tc.challenge, nil, nil)
			require.Equal(t, tc.expected, result.State)
		})
	}
}

func TestTotalAmount(t *testing.T) {
	aggregate := entity.UserChallenge{
		ChallengeID: entity.Referrals,
		Type:        entity.ChallengeAggregate,
		Amount:      1,
		MaxSteps:    steps(5),
		IsActive:    true,
	}
	require.Equal(t, uint64(5), Reconcile(aggregate, nil, nil).TotalAmount)

	numeric := entity.UserChallenge{
		ChallengeID: entity.ProfileCompletion,
		Type:        entity.ChallengeNumeric,
		Amount:      10,
		MaxSteps:    steps(7),
		IsActive:    true,
	}
	require.Equal(t, uint64(10), Reconcile(numeric, nil, nil).TotalAmount)
}

func TestClaimableAmountNonAggregate(t *testing.T) {
	challenge := entity.UserChallenge{
		ChallengeID:      entity.ProfileCompletion,
		Type:             entity.ChallengeNumeric,
		Amount:           10,
		CurrentStepCount: 7,
		MaxSteps:         steps(7),
		IsComplete:       true,
		IsActive:         true,
	}

	require.Equal(t, uint64(10), Reconcile(challenge, nil, nil).ClaimableAmount)

	challenge.IsComplete = false
	challenge.CurrentStepCount = 3
	require.Equal(t, uint64(0), Reconcile(challenge, nil, nil).ClaimableAmount)
}

func TestClaimableAmountAggregate(t *testing.T) {
	challenge := entity.UserChallenge{
		ChallengeID:      entity.Referrals,
		Type:             entity.ChallengeAggregate,
		Amount:           1,
		CurrentStepCount: 2,
		MaxSteps:         steps(5),
		IsActive:         true,
	}

	undisbursed := []entity.UndisbursedUserChallenge{
		{ChallengeID: entity.Referrals, Specifier: "ref-1", Amount: 1},
		{ChallengeID: entity.Referrals, Specifier: "ref-2", Amount: 1},
		{ChallengeID: entity.TrackUpload, Specifier: "other", Amount: 9},
	}

	result := Reconcile(challenge, nil, undisbursed)
	require.Equal(t, uint64(2), result.ClaimableAmount)
	require.Equal(t, []string{"ref-1", "ref-2"}, result.UndisbursedSpecifiers)
}

func TestReconcileAll(t *testing.T) {
	challenges := []entity.UserChallenge{
		{
			ChallengeID: entity.ProfileCompletion,
			Type:        entity.ChallengeNumeric,
			Amount:      10,
			MaxSteps:    steps(7),
			IsActive:    true,
		},
		{
			ChallengeID:      entity.ListenStreak,
			Type:             entity.ChallengeNumeric,
			Amount:           1,
			CurrentStepCount: 0,
			MaxSteps:         steps(7),
			IsActive:         true,
		},
	}

	overrides := map[entity.ChallengeID]entity.ChallengeOverride{
		entity.ListenStreak: {
			ChallengeID:      entity.ListenStreak,
			CurrentStepCount: int64Ptr(2),
		},
	}

	result := ReconcileAll(challenges, overrides, nil)
	require.Len(t, result, 2)
	require.Equal(t, entity.StateIncomplete, result[0].State)
	require.Equal(t, int64(2), result[1].CurrentStepCount)
	require.Equal(t, entity.StateInProgress, result[1].State)
}
