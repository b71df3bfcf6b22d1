package entity

import (
	"database/sql"

	"github.com/questx-lab/rewards-engine/pkg/enum"
)

type ClaimStatus string

var (
	ClaimNone            = enum.New(ClaimStatus("none"))
	ClaimWaitingForRetry = enum.New(ClaimStatus("waiting_for_retry"))
	ClaimSending         = enum.New(ClaimStatus("sending"))
	ClaimConverting      = enum.New(ClaimStatus("converting"))
	ClaimSuccess         = enum.New(ClaimStatus("success"))
	ClaimFailure         = enum.New(ClaimStatus("failure"))
	ClaimAlreadyClaimed  = enum.New(ClaimStatus("already_claimed"))
)

func (s ClaimStatus) Terminal() bool {
	return s == ClaimSuccess || s == ClaimFailure || s == ClaimAlreadyClaimed
}

// FailureReason is the closed enumeration of structured failures returned
// by the attestation network.
type FailureReason string

var (
	ReasonHCaptcha             = enum.New(FailureReason("hcaptcha_required"))
	ReasonIdentityVerification = enum.New(FailureReason("identity_verification_required"))
	ReasonAlreadyDisbursed     = enum.New(FailureReason("already_disbursed"))
	ReasonAlreadySent          = enum.New(FailureReason("already_sent"))
	ReasonBlocked              = enum.New(FailureReason("blocked"))
	ReasonUnknownAttestation   = enum.New(FailureReason("attestation_unknown_response"))
	ReasonMissingChallenges    = enum.New(FailureReason("missing_challenges"))
	ReasonChallengeIncomplete  = enum.New(FailureReason("challenge_incomplete"))
	ReasonUnknownError         = enum.New(FailureReason("unknown_error"))
)

// ClaimAttempt is the journal row of an in-flight claim. It exists only to
// support a single retry-resume cycle: it is deleted as soon as the attempt
// reaches a terminal status, and a row found on startup is re-driven at
// most once.
type ClaimAttempt struct {
	Base

	UserID      string      `gorm:"index"`
	ChallengeID ChallengeID `gorm:"index"`
	Specifiers  Array[string]
	Amount      uint64

	RecipientAddress string
	RetryCount       int
	Status           ClaimStatus
	FailureReason    FailureReason
	OracleErrorCode  sql.NullString
}
