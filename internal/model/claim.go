package model

type ClaimRewardRequest struct {
	ChallengeID      string `json:"challenge_id"`
	RecipientAddress string `json:"recipient_address"`
}

type ClaimRewardResponse struct {
	Status string `json:"status"`
}

type GetClaimStatusRequest struct{}

type GetClaimStatusResponse struct {
	Status          string `json:"status"`
	ChallengeID     string `json:"challenge_id,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	OracleErrorCode string `json:"oracle_error_code,omitempty"`
	RetryCount      int    `json:"retry_count"`
}

type CancelClaimRequest struct{}

type CancelClaimResponse struct{}

type ResumeCaptchaRequest struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
}

type ResumeCaptchaResponse struct {
	Status string `json:"status"`
}

type GetRewardsFlagsRequest struct{}

type GetRewardsFlagsResponse struct {
	Flags map[string]any `json:"flags"`
}

type IdentityFlowClosedRequest struct{}

type IdentityFlowClosedResponse struct {
	Status string `json:"status"`
}
