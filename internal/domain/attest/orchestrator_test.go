package attest

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/questx-lab/rewards-engine/internal/client"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/repository"
	"github.com/questx-lab/rewards-engine/pkg/errorx"
	"github.com/questx-lab/rewards-engine/pkg/testutil"
	"github.com/stretchr/testify/require"
)

type orchestratorSuite struct {
	ctx           context.Context
	challengeRepo repository.ChallengeRepository
	claimRepo     repository.ClaimRepository
	attestation   *testutil.MockAttestationClient
	challenges    *testutil.MockChallengeClient
	identity      *testutil.MockIdentityClient
	publisher     *testutil.MockPublisher
	orchestrator  *claimOrchestrator
}

func newOrchestratorSuite(t *testing.T) *orchestratorSuite {
	suite := &orchestratorSuite{
		ctx:           testutil.MockContext(),
		challengeRepo: repository.NewChallengeRepository(),
		claimRepo:     repository.NewClaimRepository(),
		attestation:   &testutil.MockAttestationClient{},
		challenges:    &testutil.MockChallengeClient{},
		identity:      &testutil.MockIdentityClient{},
		publisher:     &testutil.MockPublisher{},
	}

	suite.orchestrator = NewClaimOrchestrator(
		suite.ctx,
		suite.challengeRepo,
		suite.claimRepo,
		suite.attestation,
		suite.challenges,
		suite.identity,
		testutil.NewMockRemoteConfig(),
		suite.publisher,
	)

	return suite
}

func (s *orchestratorSuite) storeChallenge(t *testing.T, challenge entity.UserChallenge) {
	_, err := s.challengeRepo.SetChallenges(s.ctx, challenge.UserID, []entity.UserChallenge{challenge})
	require.NoError(t, err)
}

func completedChallenge(userID string) entity.UserChallenge {
	return entity.UserChallenge{
		UserID:           userID,
		ChallengeID:      entity.ProfileCompletion,
		Type:             entity.ChallengeNumeric,
		Specifier:        "spec-1",
		Amount:           10,
		CurrentStepCount: 7,
		MaxSteps:         sql.NullInt64{Int64: 7, Valid: true},
		IsComplete:       true,
		IsActive:         true,
	}
}

func (s *orchestratorSuite) waitTerminal(t *testing.T, userID string) *entity.ClaimAttempt {
	var attempt *entity.ClaimAttempt
	require.Eventually(t, func() bool {
		attempt = s.orchestrator.Status(s.ctx, userID)
		return attempt != nil && attempt.Status.Terminal()
	}, time.Second, time.Millisecond)

	return attempt
}

func TestClaimSuccess(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		return &client.ClaimResult{Success: true}, nil
	}

	attempt, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)
	require.Equal(t, entity.ClaimSending, attempt.Status)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimSuccess, final.Status)

	// The balance and toast events and the disbursement stamp must already
	// be visible once the terminal status is observed.
	topics := suite.publisher.Topics()
	require.Contains(t, topics, "rewards.balance_increased")
	require.Contains(t, topics, "rewards.claimed")

	stored, err := suite.challengeRepo.GetByID(suite.ctx, "user1", entity.ProfileCompletion)
	require.NoError(t, err)
	require.True(t, stored.IsDisbursed)
}

func TestClaimBlockedIsTerminal(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		atomic.AddInt32(&calls, 1)
		return &client.ClaimResult{Reason: entity.ReasonBlocked}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimFailure, final.Status)
	require.Equal(t, entity.ReasonBlocked, final.FailureReason)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Empty(t, suite.publisher.Topics())
}

func TestClaimAlreadyDisbursed(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		return &client.ClaimResult{Reason: entity.ReasonAlreadyDisbursed}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimAlreadyClaimed, final.Status)
}

func TestClaimUnknownErrorRetries(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &client.ClaimResult{Reason: entity.ReasonUnknownError}, nil
		}

		return &client.ClaimResult{Success: true}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimSuccess, final.Status)
	require.Equal(t, 1, final.RetryCount)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClaimRetriesExhausted(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		atomic.AddInt32(&calls, 1)
		return &client.ClaimResult{Reason: entity.ReasonUnknownError}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimFailure, final.Status)
	require.Equal(t, 5, final.RetryCount)
	require.Equal(t, int32(6), atomic.LoadInt32(&calls))
}

func TestClaimOracleRejectionIsFinal(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		atomic.AddInt32(&calls, 1)
		return &client.ClaimResult{
			Reason:          entity.ReasonUnknownError,
			OracleErrorCode: "E042",
		}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimFailure, final.Status)
	require.Equal(t, "E042", final.OracleErrorCode.String)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAggregateClaimNotRetried(t *testing.T) {
	suite := newOrchestratorSuite(t)

	challenge := entity.UserChallenge{
		UserID:      "user1",
		ChallengeID: entity.Referrals,
		Type:        entity.ChallengeAggregate,
		Amount:      1,
		MaxSteps:    sql.NullInt64{Int64: 5, Valid: true},
		IsActive:    true,
	}
	suite.storeChallenge(t, challenge)
	suite.challengeRepo.SetUndisbursed(suite.ctx, "user1", []entity.UndisbursedUserChallenge{
		{UserID: "user1", ChallengeID: entity.Referrals, Specifier: "ref-1", Amount: 1},
		{UserID: "user1", ChallengeID: entity.Referrals, Specifier: "ref-2", Amount: 1},
	})

	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, []string{"ref-1", "ref-2"}, req.Specifiers)
		require.Equal(t, uint64(2), req.Amount)
		return &client.ClaimResult{Reason: entity.ReasonUnknownError}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.Referrals, "addr")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimFailure, final.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSingleClaimInFlight(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	release := make(chan struct{})
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		<-release
		return &client.ClaimResult{Success: true}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	_, err = suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	var errx errorx.Error
	require.ErrorAs(t, err, &errx)
	require.Equal(t, errorx.ClaimInFlight, errx.Code)

	close(release)
	suite.waitTerminal(t, "user1")
}

func TestCancelDiscardsLateResult(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	release := make(chan struct{})
	returned := make(chan struct{})
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		<-release
		defer close(returned)
		return &client.ClaimResult{Success: true}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	require.NoError(t, suite.orchestrator.Cancel(suite.ctx, "user1"))
	close(release)
	<-returned

	// The late success must not be applied: no events, no disbursement.
	time.Sleep(10 * time.Millisecond)
	require.Nil(t, suite.orchestrator.Status(suite.ctx, "user1"))
	require.Empty(t, suite.publisher.Topics())

	stored, err := suite.challengeRepo.GetByID(suite.ctx, "user1", entity.ProfileCompletion)
	require.NoError(t, err)
	require.False(t, stored.IsDisbursed)
}

func TestCaptchaFlow(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &client.ClaimResult{Reason: entity.ReasonHCaptcha}, nil
		}

		return &client.ClaimResult{Success: true}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		attempt := suite.orchestrator.Status(suite.ctx, "user1")
		return attempt != nil &&
			attempt.Status == entity.ClaimWaitingForRetry &&
			attempt.FailureReason == entity.ReasonHCaptcha
	}, time.Second, time.Millisecond)

	require.Contains(t, suite.publisher.Topics(), "rewards.user_action_required")

	_, err = suite.orchestrator.ResumeCaptcha(suite.ctx, "user1", true)
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimSuccess, final.Status)
}

func TestCaptchaFailureIsTerminal(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		return &client.ClaimResult{Reason: entity.ReasonHCaptcha}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		attempt := suite.orchestrator.Status(suite.ctx, "user1")
		return attempt != nil && attempt.Status == entity.ClaimWaitingForRetry
	}, time.Second, time.Millisecond)

	_, err = suite.orchestrator.ResumeCaptcha(suite.ctx, "user1", false)
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimFailure, final.Status)
}

func TestIdentityVerificationFlow(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))
	suite.challengeRepo.RegisterSession(suite.ctx, "user1", "handle1")

	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &client.ClaimResult{Reason: entity.ReasonIdentityVerification}, nil
		}

		return &client.ClaimResult{Success: true}, nil
	}

	suite.identity.VerificationExistsFunc = func(ctx context.Context, handle string) (bool, error) {
		require.Equal(t, "handle1", handle)
		return true, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		attempt := suite.orchestrator.Status(suite.ctx, "user1")
		return attempt != nil &&
			attempt.Status == entity.ClaimWaitingForRetry &&
			attempt.FailureReason == entity.ReasonIdentityVerification
	}, time.Second, time.Millisecond)

	_, err = suite.orchestrator.IdentityFlowClosed(suite.ctx, "user1")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimSuccess, final.Status)
}

func TestIdentityPollExhaustedStillSubmits(t *testing.T) {
	suite := newOrchestratorSuite(t)
	suite.storeChallenge(t, completedChallenge("user1"))

	var finalAttempt atomic.Bool
	var calls int32
	suite.attestation.SubmitClaimFunc = func(
		ctx context.Context, req client.ClaimRequest,
	) (*client.ClaimResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &client.ClaimResult{Reason: entity.ReasonIdentityVerification}, nil
		}

		finalAttempt.Store(req.IsFinalAttempt)
		return &client.ClaimResult{Success: true}, nil
	}

	_, err := suite.orchestrator.Submit(suite.ctx, "user1", entity.ProfileCompletion, "addr")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		attempt := suite.orchestrator.Status(suite.ctx, "user1")
		return attempt != nil && attempt.Status == entity.ClaimWaitingForRetry
	}, time.Second, time.Millisecond)

	_, err = suite.orchestrator.IdentityFlowClosed(suite.ctx, "user1")
	require.NoError(t, err)

	final := suite.waitTerminal(t, "user1")
	require.Equal(t, entity.ClaimSuccess, final.Status)
	require.True(t, finalAttempt.Load())
}

func TestClaimBackoff(t *testing.T) {
	suite := newOrchestratorSuite(t)

	flags := client.RewardsFlags{ClaimBackoffMs: 200, MaxClaimBackoffMs: 10000}
	require.Equal(t, 400*time.Millisecond, suite.orchestrator.backoff(flags, 0))
	require.Equal(t, 800*time.Millisecond, suite.orchestrator.backoff(flags, 1))
	require.Equal(t, 1600*time.Millisecond, suite.orchestrator.backoff(flags, 2))

	// The delay never exceeds the configured ceiling.
	require.Equal(t, 10*time.Second, suite.orchestrator.backoff(flags, 10))
}

func TestResumeCaptchaWithoutPendingStep(t *testing.T) {
	suite := newOrchestratorSuite(t)

	_, err := suite.orchestrator.ResumeCaptcha(suite.ctx, "user1", true)
	var errx errorx.Error
	require.ErrorAs(t, err, &errx)
	require.Equal(t, errorx.NotFound, errx.Code)
}
