package client

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/pkg/api"
	"github.com/questx-lab/rewards-engine/pkg/enum"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

type ChallengeClient interface {
	FetchUserChallenges(ctx context.Context, userID string) ([]entity.UserChallenge, error)
	FetchUndisbursed(ctx context.Context, userID string) ([]entity.UndisbursedUserChallenge, error)

	// Healthy reports whether the backend is reachable. It gates surfacing
	// polling failures so an offline device does not raise spurious errors.
	Healthy(ctx context.Context) bool
}

type userChallengeResponse struct {
	ChallengeID      string `json:"challenge_id"`
	ChallengeType    string `json:"challenge_type"`
	Specifier        string `json:"specifier"`
	Amount           uint64 `json:"amount"`
	CurrentStepCount int64  `json:"current_step_count"`
	MaxSteps         *int64 `json:"max_steps"`
	IsComplete       bool   `json:"is_complete"`
	IsDisbursed      bool   `json:"is_disbursed"`
	IsActive         bool   `json:"is_active"`
}

type undisbursedResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Specifier   string    `json:"specifier"`
	Amount      uint64    `json:"amount"`
	CompletedAt time.Time `json:"completed_at"`
}

type challengeClient struct {
	generator      api.Generator
	healthEndpoint string
}

func NewChallengeClient(endpoint, healthEndpoint string) *challengeClient {
	return &challengeClient{
		generator:      api.NewGenerator(endpoint),
		healthEndpoint: healthEndpoint,
	}
}

func (c *challengeClient) FetchUserChallenges(
	ctx context.Context, userID string,
) ([]entity.UserChallenge, error) {
	resp, err := c.generator.New("/v1/users/%s/challenges", userID).GET(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Code != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.Code)
	}

	var body struct {
		Data []userChallengeResponse `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}

	challenges := make([]entity.UserChallenge, 0, len(body.Data))
	for _, row := range body.Data {
		challengeType, err := enum.ToEnum[entity.ChallengeType](row.ChallengeType)
		if err != nil {
			xcontext.Logger(ctx).Warnf("Unknown challenge type %s: %v", row.ChallengeType, err)
			continue
		}

		challenge := entity.UserChallenge{
			UserID:           userID,
			ChallengeID:      entity.ChallengeID(row.ChallengeID),
			Type:             challengeType,
			Specifier:        row.Specifier,
			Amount:           row.Amount,
			CurrentStepCount: row.CurrentStepCount,
			IsComplete:       row.IsComplete,
			IsDisbursed:      row.IsDisbursed,
			IsActive:         row.IsActive,
		}

		if row.MaxSteps != nil {
			challenge.MaxSteps = sql.NullInt64{Int64: *row.MaxSteps, Valid: true}
		}

		challenges = append(challenges, challenge)
	}

	return challenges, nil
}

func (c *challengeClient) FetchUndisbursed(
	ctx context.Context, userID string,
) ([]entity.UndisbursedUserChallenge, error) {
	resp, err := c.generator.New("/v1/users/%s/challenges/undisbursed", userID).GET(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Code != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.Code)
	}

	var body struct {
		Data []undisbursedResponse `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}

	rows := make([]entity.UndisbursedUserChallenge, 0, len(body.Data))
	for _, row := range body.Data {
		rows = append(rows, entity.UndisbursedUserChallenge{
			UserID:      userID,
			ChallengeID: entity.ChallengeID(row.ChallengeID),
			Specifier:   row.Specifier,
			Amount:      row.Amount,
			CompletedAt: row.CompletedAt,
		})
	}

	return rows, nil
}

func (c *challengeClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthEndpoint, nil)
	if err != nil {
		return false
	}

	resp, err := xcontext.HTTPClient(ctx).Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
