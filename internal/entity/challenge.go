package entity

import (
	"database/sql"
	"time"

	"github.com/questx-lab/rewards-engine/pkg/enum"
)

type ChallengeType string

var (
	// Numeric challenges complete once and pay a single amount.
	ChallengeNumeric = enum.New(ChallengeType("numeric"))

	// Aggregate challenges complete once per specifier (e.g. once per
	// referral) and pay per completed instance.
	ChallengeAggregate = enum.New(ChallengeType("aggregate"))

	// Boolean challenges are one-shot flags (e.g. mobile install).
	ChallengeBoolean = enum.New(ChallengeType("boolean"))
)

// ChallengeState is the derived, mutually exclusive progress class of a
// challenge. Exactly one state holds for any reconciled challenge.
type ChallengeState string

var (
	StateDisbursed  = enum.New(ChallengeState("disbursed"))
	StateCompleted  = enum.New(ChallengeState("completed"))
	StateInProgress = enum.New(ChallengeState("in_progress"))
	StateIncomplete = enum.New(ChallengeState("incomplete"))
	StateInactive   = enum.New(ChallengeState("inactive"))
)

type ChallengeID string

const (
	ProfileCompletion ChallengeID = "profile-completion"
	ListenStreak      ChallengeID = "listen-streak"
	TrackUpload       ChallengeID = "track-upload"
	Referrals         ChallengeID = "referrals"
	ReferralsVerified ChallengeID = "referrals-verified"
	Referred          ChallengeID = "referred"
	ConnectVerified   ChallengeID = "connect-verified"
	MobileInstall     ChallengeID = "mobile-install"
	FirstPlaylist     ChallengeID = "first-playlist"
)

// UserChallenge is the server-reported progress record. It is only created
// or updated by the periodic fetch, never originated locally.
type UserChallenge struct {
	Base

	UserID      string      `gorm:"index"`
	ChallengeID ChallengeID `gorm:"index"`
	Type        ChallengeType
	Specifier   string

	Amount           uint64
	CurrentStepCount int64
	MaxSteps         sql.NullInt64

	IsComplete  bool
	IsDisbursed bool
	IsActive    bool
}

// UndisbursedUserChallenge is one row per completed-but-unpaid specifier of
// an aggregate challenge.
type UndisbursedUserChallenge struct {
	UserID      string
	ChallengeID ChallengeID
	Specifier   string
	Amount      uint64
	CompletedAt time.Time
}

// OverrideField names a clearable field of a ChallengeOverride.
type OverrideField string

var (
	OverrideStepCount = enum.New(OverrideField("step_count"))
	OverrideDisbursed = enum.New(OverrideField("is_disbursed"))
)

// ChallengeOverride is a client-local, ephemeral partial override produced
// by optimistic local events before the server has indexed them. Nil fields
// mean "no override". It is never persisted.
type ChallengeOverride struct {
	ChallengeID      ChallengeID
	CurrentStepCount *int64
	IsDisbursed      *bool
}

// Merge applies the non-nil fields of other on top of o, keeping fields
// other does not specify.
func (o ChallengeOverride) Merge(other ChallengeOverride) ChallengeOverride {
	merged := o
	merged.ChallengeID = other.ChallengeID
	if other.CurrentStepCount != nil {
		merged.CurrentStepCount = other.CurrentStepCount
	}
	if other.IsDisbursed != nil {
		merged.IsDisbursed = other.IsDisbursed
	}

	return merged
}

func (o ChallengeOverride) IsZero() bool {
	return o.CurrentStepCount == nil && o.IsDisbursed == nil
}
