package common

import (
	"context"
	"encoding/json"

	"github.com/questx-lab/rewards-engine/pkg/pubsub"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

// Topics of fire-and-forget notifications emitted to the surrounding
// application. Nothing in the engine waits for a response to these.
const (
	TopicBalanceIncreased = "rewards.balance_increased"
	TopicRewardClaimed    = "rewards.claimed"
	TopicCelebration      = "rewards.celebration"
	TopicUserAction       = "rewards.user_action_required"
	TopicPollError        = "rewards.poll_error"
)

type BalanceIncreasedEvent struct {
	EventID     int64  `json:"event_id"`
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
	Amount      uint64 `json:"amount"`
}

type RewardClaimedEvent struct {
	EventID     int64    `json:"event_id"`
	UserID      string   `json:"user_id"`
	ChallengeID string   `json:"challenge_id"`
	Specifiers  []string `json:"specifiers"`
	Amount      uint64   `json:"amount"`
}

type CelebrationEvent struct {
	EventID     int64  `json:"event_id"`
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
}

type UserActionRequiredEvent struct {
	EventID     int64  `json:"event_id"`
	UserID      string `json:"user_id"`
	ChallengeID string `json:"challenge_id"`
	Action      string `json:"action"`
}

type PollErrorEvent struct {
	EventID int64  `json:"event_id"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// PublishEvent serializes the event and publishes it keyed by user id. A
// publish failure is logged and swallowed; notifications are best-effort.
func PublishEvent(ctx context.Context, publisher pubsub.Publisher, topic, userID string, event any) {
	b, err := json.Marshal(event)
	if err != nil {
		xcontext.Logger(ctx).Errorf("Cannot marshal event of topic %s: %v", topic, err)
		return
	}

	err = publisher.Publish(ctx, topic, &pubsub.Pack{Key: []byte(userID), Msg: b})
	if err != nil {
		xcontext.Logger(ctx).Warnf("Cannot publish event of topic %s: %v", topic, err)
	}
}

func NextEventID(ctx context.Context) int64 {
	return xcontext.SnowFlake(ctx).Generate().Int64()
}
