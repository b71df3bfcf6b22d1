package cron

import (
	"context"
	"time"

	"github.com/questx-lab/rewards-engine/internal/client"
	"github.com/questx-lab/rewards-engine/internal/common"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/repository"
	"github.com/questx-lab/rewards-engine/pkg/pubsub"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

// ChallengeRefreshCronJob periodically pulls the server challenge state of
// every registered session, detects fresh disbursements, and emits the
// balance, celebration, and toast notifications.
type ChallengeRefreshCronJob struct {
	rootCtx context.Context

	challengeRepo   repository.ChallengeRepository
	challengeClient client.ChallengeClient
	remoteConfig    client.RemoteConfig
	publisher       pubsub.Publisher
}

func NewChallengeRefreshCronJob(
	ctx context.Context,
	challengeRepo repository.ChallengeRepository,
	challengeClient client.ChallengeClient,
	remoteConfig client.RemoteConfig,
	publisher pubsub.Publisher,
) *ChallengeRefreshCronJob {
	return &ChallengeRefreshCronJob{
		rootCtx:         ctx,
		challengeRepo:   challengeRepo,
		challengeClient: challengeClient,
		remoteConfig:    remoteConfig,
		publisher:       publisher,
	}
}

func (job *ChallengeRefreshCronJob) Do(ctx context.Context) {
	cfg := xcontext.Configs(ctx).Rewards

	for _, userID := range job.challengeRepo.ActiveUsers(ctx) {
		foreground, _ := job.challengeRepo.UIState(ctx, userID)
		if !foreground && !cfg.IgnoreBackgroundSignal {
			continue
		}

		job.refreshUser(ctx, userID)
	}
}

func (job *ChallengeRefreshCronJob) refreshUser(ctx context.Context, userID string) {
	fetched, err := job.challengeClient.FetchUserChallenges(ctx, userID)
	if err != nil {
		job.reportFetchError(ctx, userID, err)
		return
	}

	previous, err := job.challengeRepo.SetChallenges(ctx, userID, fetched)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot store challenges of user %s: %v", userID, err)
		common.PromCounters[common.ChallengePollTotal].WithLabelValues("error").Inc()
		return
	}

	job.resetLapsedStreak(ctx, userID, fetched)

	// The stored snapshot carries local disbursement stamps, the raw fetch
	// does not. Compare against the stored version so a disbursement the
	// client already knows about is not celebrated twice. A nil previous
	// snapshot means this is the first fetch of the session: anything the
	// server already reports disbursed was claimed earlier, not now, so
	// there is no transition to celebrate.
	next := job.challengeRepo.GetAll(ctx, userID)
	if previous != nil {
		job.detectDisbursements(ctx, userID, previous, next)
	}

	if structurallyEqual(previous, next) {
		common.PromCounters[common.ChallengePollTotal].WithLabelValues("unchanged").Inc()
		return
	}

	undisbursed, err := job.challengeClient.FetchUndisbursed(ctx, userID)
	if err != nil {
		xcontext.Logger(ctx).Warnf("Cannot fetch undisbursed challenges of user %s: %v", userID, err)
	} else {
		job.challengeRepo.SetUndisbursed(ctx, userID, undisbursed)
	}

	common.PromCounters[common.ChallengePollTotal].WithLabelValues("changed").Inc()
}

// reportFetchError logs the failure and surfaces it only when the backend
// is confirmed reachable, so an offline device does not raise spurious
// error banners.
func (job *ChallengeRefreshCronJob) reportFetchError(ctx context.Context, userID string, err error) {
	xcontext.Logger(ctx).Warnf("Cannot fetch challenges of user %s: %v", userID, err)
	common.PromCounters[common.ChallengePollTotal].WithLabelValues("error").Inc()

	if !job.challengeClient.Healthy(ctx) {
		return
	}

	common.PublishEvent(ctx, job.publisher, common.TopicPollError, userID, common.PollErrorEvent{
		EventID: common.NextEventID(ctx),
		UserID:  userID,
		Message: err.Error(),
	})
}

// resetLapsedStreak clears a positive listen-streak override when the
// server reports a count of exactly zero. A non-zero server count means the
// override is simply ahead of indexing and must be kept.
func (job *ChallengeRefreshCronJob) resetLapsedStreak(
	ctx context.Context, userID string, fetched []entity.UserChallenge,
) {
	override, ok := job.challengeRepo.Override(ctx, userID, entity.ListenStreak)
	if !ok || override.CurrentStepCount == nil || *override.CurrentStepCount <= 0 {
		return
	}

	for _, challenge := range fetched {
		if challenge.ChallengeID != entity.ListenStreak {
			continue
		}

		if challenge.CurrentStepCount == 0 {
			xcontext.Logger(ctx).Infof("Listen streak of user %s lapsed, clearing override", userID)
			job.challengeRepo.ClearOverrideField(ctx, userID, entity.ListenStreak, entity.OverrideStepCount)
		}

		return
	}
}

func (job *ChallengeRefreshCronJob) detectDisbursements(
	ctx context.Context, userID string, previous, next []entity.UserChallenge,
) {
	prevDisbursed := map[string]bool{}
	for _, challenge := range previous {
		key := string(challenge.ChallengeID) + "|" + challenge.Specifier
		prevDisbursed[key] = challenge.IsDisbursed
	}

	for _, challenge := range next {
		if !challenge.IsDisbursed {
			continue
		}

		key := string(challenge.ChallengeID) + "|" + challenge.Specifier
		if prevDisbursed[key] {
			continue
		}

		// MarkNotified is the idempotency gate: it also returns false for
		// disbursements already stamped by a local claim.
		if !job.challengeRepo.MarkNotified(ctx, userID, challenge.ChallengeID, challenge.Specifier) {
			continue
		}

		common.PromCounters[common.DisbursementDetectedTotal].
			WithLabelValues(string(challenge.ChallengeID)).Inc()

		common.PublishEvent(ctx, job.publisher, common.TopicBalanceIncreased, userID, common.BalanceIncreasedEvent{
			EventID:     common.NextEventID(ctx),
			UserID:      userID,
			ChallengeID: string(challenge.ChallengeID),
			Amount:      challenge.Amount,
		})

		common.PublishEvent(ctx, job.publisher, common.TopicCelebration, userID, common.CelebrationEvent{
			EventID:     common.NextEventID(ctx),
			UserID:      userID,
			ChallengeID: string(challenge.ChallengeID),
		})

		common.PublishEvent(ctx, job.publisher, common.TopicRewardClaimed, userID, common.RewardClaimedEvent{
			EventID:     common.NextEventID(ctx),
			UserID:      userID,
			ChallengeID: string(challenge.ChallengeID),
			Specifiers:  []string{challenge.Specifier},
			Amount:      challenge.Amount,
		})
	}
}

// structurallyEqual is a cheap check to skip the undisbursed re-fetch when
// the snapshot did not change shape: same length and the same set of
// challenge id and specifier pairs.
func structurallyEqual(a, b []entity.UserChallenge) bool {
	if len(a) != len(b) {
		return false
	}

	keys := make(map[string]int, len(a))
	for _, challenge := range a {
		keys[string(challenge.ChallengeID)+"|"+challenge.Specifier]++
	}

	for _, challenge := range b {
		key := string(challenge.ChallengeID) + "|" + challenge.Specifier
		keys[key]--
		if keys[key] < 0 {
			return false
		}
	}

	return true
}

func (job *ChallengeRefreshCronJob) RunNow() bool {
	return true
}

// Next uses the shorter rewards-screen interval as soon as any active
// session is looking at the rewards screen.
func (job *ChallengeRefreshCronJob) Next() time.Time {
	ctx := job.rootCtx
	flags := job.remoteConfig.Rewards(ctx)

	interval := flags.PollingInterval()
	for _, userID := range job.challengeRepo.ActiveUsers(ctx) {
		if _, rewardsScreen := job.challengeRepo.UIState(ctx, userID); rewardsScreen {
			interval = flags.RewardsScreenPollingInterval()
			break
		}
	}

	return time.Now().Add(interval)
}
