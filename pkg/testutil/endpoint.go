package testutil

import (
	"context"
	"errors"

	"github.com/fatih/structs"
	"github.com/questx-lab/rewards-engine/internal/client"
	"github.com/questx-lab/rewards-engine/internal/entity"
)

type MockAttestationClient struct {
	SubmitClaimFunc func(context.Context, client.ClaimRequest) (*client.ClaimResult, error)
}

func (m *MockAttestationClient) SubmitClaim(
	ctx context.Context, req client.ClaimRequest,
) (*client.ClaimResult, error) {
	if m.SubmitClaimFunc != nil {
		return m.SubmitClaimFunc(ctx, req)
	}

	return nil, errors.New("not implemented")
}

type MockChallengeClient struct {
	FetchUserChallengesFunc func(context.Context, string) ([]entity.UserChallenge, error)
	FetchUndisbursedFunc    func(context.Context, string) ([]entity.UndisbursedUserChallenge, error)
	HealthyFunc             func(context.Context) bool
}

func (m *MockChallengeClient) FetchUserChallenges(
	ctx context.Context, userID string,
) ([]entity.UserChallenge, error) {
	if m.FetchUserChallengesFunc != nil {
		return m.FetchUserChallengesFunc(ctx, userID)
	}

	return nil, errors.New("not implemented")
}

func (m *MockChallengeClient) FetchUndisbursed(
	ctx context.Context, userID string,
) ([]entity.UndisbursedUserChallenge, error) {
	if m.FetchUndisbursedFunc != nil {
		return m.FetchUndisbursedFunc(ctx, userID)
	}

	return nil, nil
}

func (m *MockChallengeClient) Healthy(ctx context.Context) bool {
	if m.HealthyFunc != nil {
		return m.HealthyFunc(ctx)
	}

	return true
}

type MockIdentityClient struct {
	VerificationExistsFunc func(context.Context, string) (bool, error)
}

func (m *MockIdentityClient) VerificationExists(ctx context.Context, handle string) (bool, error) {
	if m.VerificationExistsFunc != nil {
		return m.VerificationExistsFunc(ctx, handle)
	}

	return false, nil
}

// MockRemoteConfig returns the static flags it was constructed with.
type MockRemoteConfig struct {
	Flags client.RewardsFlags
}

func NewMockRemoteConfig() *MockRemoteConfig {
	return &MockRemoteConfig{
		Flags: client.RewardsFlags{
			QuorumSize:           3,
			MaxParallelRequests:  5,
			OracleAddress:        "oracle",
			AttestationEndpoints: []string{"http://attestation"},

			MaxClaimRetries:   5,
			ClaimBackoffMs:    1,
			MaxClaimBackoffMs: 100,

			IdentityPollRetries: 2,
			IdentityPollDelayMs: 1,

			PollingIntervalMs:              30000,
			RewardsScreenPollingIntervalMs: 5000,
		},
	}
}

func (m *MockRemoteConfig) Rewards(ctx context.Context) client.RewardsFlags {
	return m.Flags
}

func (m *MockRemoteConfig) All(ctx context.Context) map[string]any {
	return structs.Map(m.Flags)
}
