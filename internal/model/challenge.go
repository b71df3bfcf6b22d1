package model

type OptimisticChallenge struct {
	ChallengeID      string `json:"challenge_id"`
	ChallengeType    string `json:"challenge_type"`
	Specifier        string `json:"specifier"`
	Amount           uint64 `json:"amount"`
	CurrentStepCount int64  `json:"current_step_count"`
	MaxSteps         *int64 `json:"max_steps"`
	IsComplete       bool   `json:"is_complete"`
	IsDisbursed      bool   `json:"is_disbursed"`
	IsActive         bool   `json:"is_active"`

	State                 string   `json:"state"`
	TotalAmount           uint64   `json:"total_amount"`
	ClaimableAmount       uint64   `json:"claimable_amount"`
	UndisbursedSpecifiers []string `json:"undisbursed_specifiers"`
}

type GetChallengesRequest struct{}

type GetChallengesResponse struct {
	Challenges []OptimisticChallenge `json:"challenges"`
}

type SetStepOverrideRequest struct {
	ChallengeID string `json:"challenge_id"`
	StepCount   int64  `json:"step_count"`
}

type SetStepOverrideResponse struct{}

type SetForegroundRequest struct {
	Foreground bool `json:"foreground"`
}

type SetForegroundResponse struct{}

type SetRewardsScreenRequest struct {
	Active bool `json:"active"`
}

type SetRewardsScreenResponse struct{}
