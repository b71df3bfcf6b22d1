package cron

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/repository"
	"github.com/questx-lab/rewards-engine/pkg/testutil"
	"github.com/stretchr/testify/require"
)

type refreshSuite struct {
	ctx           context.Context
	challengeRepo repository.ChallengeRepository
	challenges    *testutil.MockChallengeClient
	publisher     *testutil.MockPublisher
	job           *ChallengeRefreshCronJob
}

func newRefreshSuite(t *testing.T) *refreshSuite {
	suite := &refreshSuite{
		ctx:           testutil.MockContext(),
		challengeRepo: repository.NewChallengeRepository(),
		challenges:    &testutil.MockChallengeClient{},
		publisher:     &testutil.MockPublisher{},
	}

	suite.job = NewChallengeRefreshCronJob(
		suite.ctx,
		suite.challengeRepo,
		suite.challenges,
		testutil.NewMockRemoteConfig(),
		suite.publisher,
	)

	suite.challengeRepo.RegisterSession(suite.ctx, "user1", "handle1")
	return suite
}

func streakChallenge(count int64) entity.UserChallenge {
	return entity.UserChallenge{
		UserID:           "user1",
		ChallengeID:      entity.ListenStreak,
		Type:             entity.ChallengeNumeric,
		Amount:           1,
		CurrentStepCount: count,
		MaxSteps:         sql.NullInt64{Int64: 7, Valid: true},
		IsActive:         true,
	}
}

func (s *refreshSuite) serveChallenges(challenges ...entity.UserChallenge) {
	s.challenges.FetchUserChallengesFunc = func(
		ctx context.Context, userID string,
	) ([]entity.UserChallenge, error) {
		return challenges, nil
	}
}

func TestListenStreakOverrideReset(t *testing.T) {
	suite := newRefreshSuite(t)

	one := int64(1)
	suite.challengeRepo.SetOverride(suite.ctx, "user1", entity.ChallengeOverride{
		ChallengeID:      entity.ListenStreak,
		CurrentStepCount: &one,
	})

	// A server count of zero means the streak genuinely lapsed.
	suite.serveChallenges(streakChallenge(0))
	suite.job.Do(suite.ctx)

	_, ok := suite.challengeRepo.Override(suite.ctx, "user1", entity.ListenStreak)
	require.False(t, ok)
}

func TestListenStreakOverrideKeptOnNonZeroCount(t *testing.T) {
	suite := newRefreshSuite(t)

	one := int64(1)
	suite.challengeRepo.SetOverride(suite.ctx, "user1", entity.ChallengeOverride{
		ChallengeID:      entity.ListenStreak,
		CurrentStepCount: &one,
	})

	// A non-zero server count only means indexing is behind the override.
	suite.serveChallenges(streakChallenge(2))
	suite.job.Do(suite.ctx)

	override, ok := suite.challengeRepo.Override(suite.ctx, "user1", entity.ListenStreak)
	require.True(t, ok)
	require.Equal(t, int64(1), *override.CurrentStepCount)
}

func TestDisbursementDetection(t *testing.T) {
	suite := newRefreshSuite(t)

	challenge := entity.UserChallenge{
		UserID:      "user1",
		ChallengeID: entity.ProfileCompletion,
		Type:        entity.ChallengeNumeric,
		Specifier:   "spec-1",
		Amount:      10,
		IsComplete:  true,
		IsActive:    true,
	}

	suite.serveChallenges(challenge)
	suite.job.Do(suite.ctx)
	require.Empty(t, suite.publisher.Topics())

	challenge.IsDisbursed = true
	suite.serveChallenges(challenge)
	suite.job.Do(suite.ctx)

	topics := suite.publisher.Topics()
	require.Contains(t, topics, "rewards.balance_increased")
	require.Contains(t, topics, "rewards.celebration")
	require.Contains(t, topics, "rewards.claimed")

	// A second poll of the same snapshot must not celebrate again.
	count := len(suite.publisher.Published())
	suite.job.Do(suite.ctx)
	require.Len(t, suite.publisher.Published(), count)
}

func TestFirstPollSkipsExistingDisbursements(t *testing.T) {
	suite := newRefreshSuite(t)

	// The server already paid this challenge out in an earlier session.
	// The first fetch has no baseline to flip from, so nothing fires.
	suite.serveChallenges(entity.UserChallenge{
		UserID:      "user1",
		ChallengeID: entity.ProfileCompletion,
		Type:        entity.ChallengeNumeric,
		Specifier:   "spec-1",
		Amount:      10,
		IsComplete:  true,
		IsDisbursed: true,
		IsActive:    true,
	})
	suite.job.Do(suite.ctx)

	require.NotContains(t, suite.publisher.Topics(), "rewards.celebration")
	require.Empty(t, suite.publisher.Topics())
}

func TestDisbursementDetectionSkipsLocalClaims(t *testing.T) {
	suite := newRefreshSuite(t)

	challenge := entity.UserChallenge{
		UserID:      "user1",
		ChallengeID: entity.ProfileCompletion,
		Type:        entity.ChallengeNumeric,
		Specifier:   "spec-1",
		Amount:      10,
		IsComplete:  true,
		IsActive:    true,
	}

	suite.serveChallenges(challenge)
	suite.job.Do(suite.ctx)

	// The client already learned about this disbursement from its own
	// claim; the poller must not double-count it.
	err := suite.challengeRepo.MarkDisbursed(
		suite.ctx, "user1", entity.ProfileCompletion, []string{"spec-1"})
	require.NoError(t, err)

	challenge.IsDisbursed = true
	suite.serveChallenges(challenge)
	suite.job.Do(suite.ctx)

	for _, topic := range suite.publisher.Topics() {
		require.NotEqual(t, "rewards.celebration", topic)
	}
}

func TestBackgroundedUserIsSkipped(t *testing.T) {
	suite := newRefreshSuite(t)

	var fetched bool
	suite.challenges.FetchUserChallengesFunc = func(
		ctx context.Context, userID string,
	) ([]entity.UserChallenge, error) {
		fetched = true
		return nil, nil
	}

	suite.challengeRepo.SetForeground(suite.ctx, "user1", false)
	suite.job.Do(suite.ctx)
	require.False(t, fetched)

	suite.challengeRepo.SetForeground(suite.ctx, "user1", true)
	suite.job.Do(suite.ctx)
	require.True(t, fetched)
}

func TestPollErrorSurfacedOnlyWhenReachable(t *testing.T) {
	suite := newRefreshSuite(t)

	suite.challenges.FetchUserChallengesFunc = func(
		ctx context.Context, userID string,
	) ([]entity.UserChallenge, error) {
		return nil, errors.New("connection refused")
	}

	suite.challenges.HealthyFunc = func(ctx context.Context) bool { return false }
	suite.job.Do(suite.ctx)
	require.Empty(t, suite.publisher.Topics())

	suite.challenges.HealthyFunc = func(ctx context.Context) bool { return true }
	suite.job.Do(suite.ctx)
	require.Contains(t, suite.publisher.Topics(), "rewards.poll_error")
}
