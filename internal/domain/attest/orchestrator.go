package attest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/math"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/questx-lab/rewards-engine/internal/client"
	"github.com/questx-lab/rewards-engine/internal/common"
	"github.com/questx-lab/rewards-engine/internal/domain/optimistic"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/repository"
	"github.com/questx-lab/rewards-engine/pkg/errorx"
	"github.com/questx-lab/rewards-engine/pkg/pubsub"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
	"gorm.io/gorm"
)

// Orchestrator drives the attestation claim protocol for one user at a
// time. At most one claim may be in flight per user; a second one must wait
// for or cancel the first.
type Orchestrator interface {
	Submit(ctx context.Context, userID string, challengeID entity.ChallengeID, recipientAddress string) (*entity.ClaimAttempt, error)
	Cancel(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) *entity.ClaimAttempt
	ResumeCaptcha(ctx context.Context, userID string, success bool) (*entity.ClaimAttempt, error)
	IdentityFlowClosed(ctx context.Context, userID string) (*entity.ClaimAttempt, error)
	ResumePending(ctx context.Context) error
}

const (
	actionHCaptcha = "hcaptcha"
	actionIdentity = "identity_verification"
)

type claimSession struct {
	mutex sync.Mutex

	attempt entity.ClaimAttempt

	// cancel aborts the session's effect on state. The in-flight network
	// call still runs to completion; its result is discarded.
	ctx    context.Context
	cancel context.CancelFunc

	captchaCh  chan bool
	identityCh chan struct{}

	// retryOnFailure allows the local retry loop on unknown errors. It is
	// switched off for final attempts.
	retryOnFailure bool
}

func (s *claimSession) snapshot() *entity.ClaimAttempt {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	attempt := s.attempt
	return &attempt
}

type claimOrchestrator struct {
	rootCtx context.Context

	challengeRepo repository.ChallengeRepository
	claimRepo     repository.ClaimRepository

	attestationClient client.AttestationClient
	challengeClient   client.ChallengeClient
	identityClient    client.IdentityClient
	remoteConfig      client.RemoteConfig

	publisher pubsub.Publisher

	sessionsMutex sync.Mutex
	sessions      *xsync.MapOf[string, *claimSession]
}

func NewClaimOrchestrator(
	ctx context.Context,
	challengeRepo repository.ChallengeRepository,
	claimRepo repository.ClaimRepository,
	attestationClient client.AttestationClient,
	challengeClient client.ChallengeClient,
	identityClient client.IdentityClient,
	remoteConfig client.RemoteConfig,
	publisher pubsub.Publisher,
) *claimOrchestrator {
	return &claimOrchestrator{
		rootCtx:           ctx,
		challengeRepo:     challengeRepo,
		claimRepo:         claimRepo,
		attestationClient: attestationClient,
		challengeClient:   challengeClient,
		identityClient:    identityClient,
		remoteConfig:      remoteConfig,
		publisher:         publisher,
		sessions:          xsync.NewMapOf[*claimSession](),
	}
}

func (o *claimOrchestrator) Submit(
	ctx context.Context, userID string, challengeID entity.ChallengeID, recipientAddress string,
) (*entity.ClaimAttempt, error) {
	challenge, err := o.challengeRepo.GetByID(ctx, userID, challengeID)
	if err != nil {
		xcontext.Logger(ctx).Debugf("Cannot get challenge %s: %v", challengeID, err)
		return nil, errorx.New(errorx.NotFound, "Not found challenge %s", challengeID)
	}

	var override *entity.ChallengeOverride
	if stored, ok := o.challengeRepo.Override(ctx, userID, challengeID); ok {
		override = &stored
	}

	view := optimistic.Reconcile(*challenge, override, o.challengeRepo.Undisbursed(ctx, userID))
	if view.State == entity.StateDisbursed {
		return nil, errorx.New(errorx.NothingToClaim, "Challenge %s is already disbursed", challengeID)
	}

	specifiers := []string{challenge.Specifier}
	amount := view.TotalAmount
	if challenge.Type == entity.ChallengeAggregate {
		if len(view.UndisbursedSpecifiers) == 0 {
			return nil, errorx.New(errorx.NothingToClaim, "No undisbursed instance of challenge %s", challengeID)
		}

		specifiers = view.UndisbursedSpecifiers
		amount = view.ClaimableAmount
	}

	session := &claimSession{
		attempt: entity.ClaimAttempt{
			Base:             entity.Base{ID: uuid.NewString()},
			UserID:           userID,
			ChallengeID:      challengeID,
			Specifiers:       specifiers,
			Amount:           amount,
			RecipientAddress: recipientAddress,
			Status:           entity.ClaimSending,
		},
		captchaCh:      make(chan bool, 1),
		identityCh:     make(chan struct{}, 1),
		retryOnFailure: true,
	}
	session.ctx, session.cancel = context.WithCancel(o.rootCtx)

	if !o.tryStore(userID, session) {
		return nil, errorx.New(errorx.ClaimInFlight, "Another claim is already in flight")
	}

	if err := o.claimRepo.Create(ctx, &session.attempt); err != nil {
		o.sessions.Delete(userID)
		xcontext.Logger(ctx).Errorf("Cannot create claim journal: %v", err)
		return nil, errorx.Unknown
	}

	common.PromCounters[common.ClaimSubmissionTotal].
		WithLabelValues(string(challengeID)).Inc()

	go o.run(session, *challenge)

	return session.snapshot(), nil
}

// tryStore inserts the session unless a non-terminal one exists already. A
// session in a terminal state is replaced.
func (o *claimOrchestrator) tryStore(userID string, session *claimSession) bool {
	o.sessionsMutex.Lock()
	defer o.sessionsMutex.Unlock()

	if old, ok := o.sessions.Load(userID); ok && !old.snapshot().Status.Terminal() {
		return false
	}

	o.sessions.Store(userID, session)
	return true
}

func (o *claimOrchestrator) Cancel(ctx context.Context, userID string) error {
	session, ok := o.sessions.Load(userID)
	if !ok {
		return errorx.New(errorx.NotFound, "Not found any claim in flight")
	}

	if session.snapshot().Status.Terminal() {
		o.sessions.Delete(userID)
		return nil
	}

	session.cancel()
	o.sessions.Delete(userID)

	if err := o.claimRepo.DeleteByID(ctx, session.attempt.ID); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot delete claim journal on cancel: %v", err)
	}

	return nil
}

func (o *claimOrchestrator) Status(ctx context.Context, userID string) *entity.ClaimAttempt {
	session, ok := o.sessions.Load(userID)
	if !ok {
		return nil
	}

	return session.snapshot()
}

func (o *claimOrchestrator) ResumeCaptcha(
	ctx context.Context, userID string, success bool,
) (*entity.ClaimAttempt, error) {
	session, err := o.waitingSession(userID, entity.ReasonHCaptcha)
	if err != nil {
		return nil, err
	}

	select {
	case session.captchaCh <- success:
	default:
		return nil, errorx.New(errorx.NoPendingUserStep, "The captcha result was already delivered")
	}

	return session.snapshot(), nil
}

func (o *claimOrchestrator) IdentityFlowClosed(
	ctx context.Context, userID string,
) (*entity.ClaimAttempt, error) {
	session, err := o.waitingSession(userID, entity.ReasonIdentityVerification)
	if err != nil {
		return nil, err
	}

	select {
	case session.identityCh <- struct{}{}:
	default:
		return nil, errorx.New(errorx.NoPendingUserStep, "The identity flow was already closed")
	}

	return session.snapshot(), nil
}

func (o *claimOrchestrator) waitingSession(
	userID string, reason entity.FailureReason,
) (*claimSession, error) {
	session, ok := o.sessions.Load(userID)
	if !ok {
		return nil, errorx.New(errorx.NotFound, "Not found any claim in flight")
	}

	attempt := session.snapshot()
	if attempt.Status != entity.ClaimWaitingForRetry || attempt.FailureReason != reason {
		return nil, errorx.New(errorx.NoPendingUserStep, "The claim is not waiting for this step")
	}

	return session, nil
}

// ResumePending re-drives journal rows left by an interrupted process. Each
// row is re-driven at most once, as a final attempt without a local retry
// loop.
func (o *claimOrchestrator) ResumePending(ctx context.Context) error {
	pending, err := o.claimRepo.GetPending(ctx)
	if err != nil {
		return err
	}

	for _, attempt := range pending {
		challenge, err := o.challengeRepo.GetByID(ctx, attempt.UserID, attempt.ChallengeID)
		if err != nil {
			xcontext.Logger(ctx).Warnf(
				"Cannot resume claim of user %s: challenge %s not found",
				attempt.UserID, attempt.ChallengeID)

			if err := o.claimRepo.DeleteByID(ctx, attempt.ID); err != nil {
				xcontext.Logger(ctx).Warnf("Cannot delete stale claim journal: %v", err)
			}
			continue
		}

		attempt.Status = entity.ClaimSending
		attempt.FailureReason = ""
		session := &claimSession{
			attempt:        attempt,
			captchaCh:      make(chan bool, 1),
			identityCh:     make(chan struct{}, 1),
			retryOnFailure: false,
		}
		session.ctx, session.cancel = context.WithCancel(o.rootCtx)

		if !o.tryStore(attempt.UserID, session) {
			continue
		}

		xcontext.Logger(ctx).Infof(
			"Resuming interrupted claim of user %s for challenge %s",
			attempt.UserID, attempt.ChallengeID)

		go o.run(session, *challenge)
	}

	return nil
}

func (o *claimOrchestrator) run(session *claimSession, challenge entity.UserChallenge) {
	ctx := session.ctx
	flags := o.remoteConfig.Rewards(ctx)

	if challenge.Type != entity.ChallengeAggregate && !challenge.IsComplete {
		o.awaitCompletion(ctx, session, challenge)
		if ctx.Err() != nil {
			return
		}
	}

	finalAttempt := !session.retryOnFailure

	for {
		result, err := o.submitOnce(ctx, session, flags, finalAttempt)
		if ctx.Err() != nil {
			// A cancellation raced with the call; the late result is
			// discarded.
			return
		}

		if err != nil {
			xcontext.Logger(ctx).Warnf("Attestation call failed: %v", err)
			result = &client.ClaimResult{Reason: entity.ReasonUnknownError}
		}

		if result.Success {
			o.complete(ctx, session)
			return
		}

		switch result.Reason {
		case entity.ReasonHCaptcha:
			if !o.handleCaptcha(ctx, session) {
				return
			}
			finalAttempt = false

		case entity.ReasonIdentityVerification:
			confirmed, aborted := o.handleIdentity(ctx, session, flags)
			if aborted {
				return
			}
			// Retries exhausted without confirmation, submit one last time.
			finalAttempt = !confirmed

		case entity.ReasonAlreadyDisbursed, entity.ReasonAlreadySent:
			o.terminate(ctx, session, entity.ClaimAlreadyClaimed, result)
			return

		case entity.ReasonBlocked,
			entity.ReasonUnknownAttestation,
			entity.ReasonMissingChallenges,
			entity.ReasonChallengeIncomplete:
			o.terminate(ctx, session, entity.ClaimFailure, result)
			return

		default:
			if !o.handleUnknownError(ctx, session, flags, result) {
				return
			}
		}
	}
}

// awaitCompletion races the store observing completeness, a re-fetch loop,
// and an absolute timeout. It is best-effort: on timeout the claim proceeds
// anyway since the attestation network verifies completion itself.
func (o *claimOrchestrator) awaitCompletion(
	ctx context.Context, session *claimSession, challenge entity.UserChallenge,
) {
	cfg := xcontext.Configs(ctx).Rewards
	complete := o.challengeRepo.WaitComplete(ctx, session.attempt.UserID, challenge.ChallengeID)

	timeout := time.NewTimer(cfg.CompletionTimeout)
	defer timeout.Stop()

	ticker := time.NewTicker(cfg.CompletionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-complete:
			return

		case <-timeout.C:
			xcontext.Logger(ctx).Warnf(
				"Challenge %s still not complete after %s, claiming anyway",
				challenge.ChallengeID, cfg.CompletionTimeout)
			return

		case <-ticker.C:
			fetched, err := o.challengeClient.FetchUserChallenges(ctx, session.attempt.UserID)
			if err != nil {
				xcontext.Logger(ctx).Debugf("Cannot refresh challenges before claim: %v", err)
				continue
			}

			if _, err := o.challengeRepo.SetChallenges(ctx, session.attempt.UserID, fetched); err != nil {
				xcontext.Logger(ctx).Warnf("Cannot store refreshed challenges: %v", err)
			}
		}
	}
}

func (o *claimOrchestrator) submitOnce(
	ctx context.Context, session *claimSession, flags client.RewardsFlags, finalAttempt bool,
) (*client.ClaimResult, error) {
	attempt := session.snapshot()
	o.transition(ctx, session, func(a *entity.ClaimAttempt) {
		a.Status = entity.ClaimSending
	})

	return o.attestationClient.SubmitClaim(ctx, client.ClaimRequest{
		UserID:           attempt.UserID,
		ChallengeID:      string(attempt.ChallengeID),
		Specifiers:       attempt.Specifiers,
		Amount:           attempt.Amount,
		RecipientAddress: attempt.RecipientAddress,
		OracleAddress:    flags.OracleAddress,
		QuorumSize:       flags.QuorumSize,
		Endpoints:        flags.AttestationEndpoints,
		MaxParallel:      flags.MaxParallelRequests,
		IsFinalAttempt:   finalAttempt,
	})
}

// handleCaptcha parks the session until the user solves the captcha. It
// returns true when the claim should be resubmitted.
func (o *claimOrchestrator) handleCaptcha(ctx context.Context, session *claimSession) bool {
	o.transition(ctx, session, func(a *entity.ClaimAttempt) {
		a.Status = entity.ClaimWaitingForRetry
		a.FailureReason = entity.ReasonHCaptcha
	})

	o.notifyUserAction(ctx, session, actionHCaptcha)

	select {
	case <-ctx.Done():
		return false

	case success := <-session.captchaCh:
		if !success {
			o.terminate(ctx, session, entity.ClaimFailure,
				&client.ClaimResult{Reason: entity.ReasonHCaptcha})
			return false
		}

		return true
	}
}

// handleIdentity parks the session until the verification flow is closed,
// then polls the identity service a bounded number of times. confirmed
// reports whether the verification was observed; aborted reports a
// cancellation.
func (o *claimOrchestrator) handleIdentity(
	ctx context.Context, session *claimSession, flags client.RewardsFlags,
) (confirmed, aborted bool) {
	o.transition(ctx, session, func(a *entity.ClaimAttempt) {
		a.Status = entity.ClaimWaitingForRetry
		a.FailureReason = entity.ReasonIdentityVerification
	})

	o.notifyUserAction(ctx, session, actionIdentity)

	select {
	case <-ctx.Done():
		return false, true
	case <-session.identityCh:
	}

	handle := o.challengeRepo.Handle(ctx, session.attempt.UserID)
	for i := 0; i < flags.IdentityPollRetries; i++ {
		exists, err := o.identityClient.VerificationExists(ctx, handle)
		if err != nil {
			xcontext.Logger(ctx).Debugf("Cannot check identity verification: %v", err)
		} else if exists {
			return true, false
		}

		select {
		case <-ctx.Done():
			return false, true
		case <-time.After(flags.IdentityPollDelay()):
		}
	}

	return false, false
}

// handleUnknownError applies the retry policy for unstructured failures. It
// returns true when the claim should be resubmitted after backoff.
func (o *claimOrchestrator) handleUnknownError(
	ctx context.Context, session *claimSession, flags client.RewardsFlags, result *client.ClaimResult,
) bool {
	attempt := session.snapshot()

	// An oracle-provided code is a final rejection.
	if result.OracleErrorCode != "" {
		o.terminate(ctx, session, entity.ClaimFailure, result)
		return false
	}

	// Multi-specifier claims are retried by the aggregation layer already.
	if len(attempt.Specifiers) > 1 {
		o.terminate(ctx, session, entity.ClaimFailure, result)
		return false
	}

	if !session.retryOnFailure || attempt.RetryCount >= flags.MaxClaimRetries {
		o.terminate(ctx, session, entity.ClaimFailure, result)
		return false
	}

	backoff := o.backoff(flags, attempt.RetryCount)
	o.transition(ctx, session, func(a *entity.ClaimAttempt) {
		a.Status = entity.ClaimWaitingForRetry
		a.FailureReason = entity.ReasonUnknownError
		a.RetryCount++
	})

	select {
	case <-ctx.Done():
		return false
	case <-time.After(backoff):
		return true
	}
}

func (o *claimOrchestrator) backoff(flags client.RewardsFlags, retryCount int) time.Duration {
	ms := flags.ClaimBackoffMs * (1 << (retryCount + 1))
	return time.Duration(math.MinInt(ms, flags.MaxClaimBackoffMs)) * time.Millisecond
}

// complete applies the success side effects strictly before the terminal
// transition: the balance event and the disbursement stamp must be visible
// when the UI observes SUCCESS.
func (o *claimOrchestrator) complete(ctx context.Context, session *claimSession) {
	o.transition(ctx, session, func(a *entity.ClaimAttempt) {
		a.Status = entity.ClaimConverting
	})

	attempt := session.snapshot()

	common.PublishEvent(ctx, o.publisher, common.TopicBalanceIncreased,
		attempt.UserID, common.BalanceIncreasedEvent{
			EventID:     common.NextEventID(ctx),
			UserID:      attempt.UserID,
			ChallengeID: string(attempt.ChallengeID),
			Amount:      attempt.Amount,
		})

	err := o.challengeRepo.MarkDisbursed(ctx, attempt.UserID, attempt.ChallengeID, attempt.Specifiers)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot mark disbursed specifiers: %v", err)
	}

	common.PublishEvent(ctx, o.publisher, common.TopicRewardClaimed,
		attempt.UserID, common.RewardClaimedEvent{
			EventID:     common.NextEventID(ctx),
			UserID:      attempt.UserID,
			ChallengeID: string(attempt.ChallengeID),
			Specifiers:  attempt.Specifiers,
			Amount:      attempt.Amount,
		})

	o.terminate(ctx, session, entity.ClaimSuccess, &client.ClaimResult{Success: true})
}

func (o *claimOrchestrator) terminate(
	ctx context.Context, session *claimSession, status entity.ClaimStatus, result *client.ClaimResult,
) {
	session.mutex.Lock()
	session.attempt.Status = status
	if !result.Success {
		session.attempt.FailureReason = result.Reason
	}
	if result.OracleErrorCode != "" {
		session.attempt.OracleErrorCode.String = result.OracleErrorCode
		session.attempt.OracleErrorCode.Valid = true
	}
	id := session.attempt.ID
	session.mutex.Unlock()

	common.PromCounters[common.ClaimOutcomeTotal].
		WithLabelValues(string(status), string(result.Reason)).Inc()

	// The journal only exists to survive a crash mid-attempt. A terminal
	// attempt no longer needs it.
	if err := o.claimRepo.DeleteByID(ctx, id); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot delete claim journal: %v", err)
	}
}

// transition mutates the in-memory attempt and mirrors it to the journal.
// It is a no-op once the session is cancelled.
func (o *claimOrchestrator) transition(
	ctx context.Context, session *claimSession, mutate func(*entity.ClaimAttempt),
) {
	if ctx.Err() != nil {
		return
	}

	session.mutex.Lock()
	mutate(&session.attempt)
	attempt := session.attempt
	session.mutex.Unlock()

	if err := o.claimRepo.Update(ctx, &attempt); err != nil && err != gorm.ErrRecordNotFound {
		xcontext.Logger(ctx).Warnf("Cannot update claim journal: %v", err)
	}
}

func (o *claimOrchestrator) notifyUserAction(ctx context.Context, session *claimSession, action string) {
	attempt := session.snapshot()
	common.PublishEvent(ctx, o.publisher, common.TopicUserAction,
		attempt.UserID, common.UserActionRequiredEvent{
			EventID:     common.NextEventID(ctx),
			UserID:      attempt.UserID,
			ChallengeID: string(attempt.ChallengeID),
			Action:      action,
		})
}
