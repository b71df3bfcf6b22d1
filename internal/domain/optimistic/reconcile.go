package optimistic

import (
	"github.com/questx-lab/rewards-engine/internal/entity"
)

// UserChallenge is the derived read-only view of a server challenge record
// with the local override applied. It owns no storage and is recomputed on
// every read.
type UserChallenge struct {
	entity.UserChallenge

	State                 entity.ChallengeState
	TotalAmount           uint64
	ClaimableAmount       uint64
	UndisbursedSpecifiers []string
}

// Reconcile merges a server challenge record with its local override and
// derives state and amounts. Once the server reports the challenge complete,
// any step-count override is ignored.
func Reconcile(
	challenge entity.UserChallenge,
	override *entity.ChallengeOverride,
	undisbursed []entity.UndisbursedUserChallenge,
) UserChallenge {
	merged := challenge

	if override != nil {
		if override.CurrentStepCount != nil && !challenge.IsComplete {
			merged.CurrentStepCount = *override.CurrentStepCount
			if challenge.MaxSteps.Valid {
				merged.IsComplete = merged.CurrentStepCount >= challenge.MaxSteps.Int64
			}
		}

		if override.IsDisbursed != nil {
			merged.IsDisbursed = *override.IsDisbursed
		}
	}

	result := UserChallenge{
		UserChallenge: merged,
		State:         deriveState(merged),
		TotalAmount:   totalAmount(merged),
	}

	if merged.Type == entity.ChallengeAggregate {
		for _, row := range undisbursed {
			if row.ChallengeID != merged.ChallengeID {
				continue
			}

			result.ClaimableAmount += row.Amount
			result.UndisbursedSpecifiers = append(result.UndisbursedSpecifiers, row.Specifier)
		}
	} else if result.State == entity.StateCompleted {
		result.ClaimableAmount = result.TotalAmount
	}

	return result
}

// ReconcileAll applies Reconcile over a full snapshot. The overrides map is
// keyed by challenge id.
func ReconcileAll(
	challenges []entity.UserChallenge,
	overrides map[entity.ChallengeID]entity.ChallengeOverride,
	undisbursed []entity.UndisbursedUserChallenge,
) []UserChallenge {
	result := make([]UserChallenge, 0, len(challenges))
	for _, challenge := range challenges {
		var override *entity.ChallengeOverride
		if o, ok := overrides[challenge.ChallengeID]; ok {
			override = &o
		}

		result = append(result, Reconcile(challenge, override, undisbursed))
	}

	return result
}

// deriveState classifies the merged record into exactly one state, in strict
// priority order. A null max_steps never completes a challenge by count.
func deriveState(c entity.UserChallenge) entity.ChallengeState {
	switch {
	case c.IsDisbursed:
		return entity.StateDisbursed
	case c.IsComplete || (c.MaxSteps.Valid && c.CurrentStepCount >= c.MaxSteps.Int64):
		return entity.StateCompleted
	case c.CurrentStepCount > 0:
		return entity.StateInProgress
	case c.IsActive:
		return entity.StateIncomplete
	default:
		return entity.StateInactive
	}
}

func totalAmount(c entity.UserChallenge) uint64 {
	if c.Type == entity.ChallengeAggregate && c.MaxSteps.Valid {
		return c.Amount * uint64(c.MaxSteps.Int64)
	}

	return c.Amount
}
