package testutil

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/questx-lab/rewards-engine/config"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/model"
	"github.com/questx-lab/rewards-engine/pkg/authenticator"
	"github.com/questx-lab/rewards-engine/pkg/logger"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func MockContext() context.Context {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic(err)
	}

	cfg := config.Configs{
		Auth: config.AuthConfigs{
			AccessToken: config.TokenConfigs{
				Name:       "access_token",
				Secret:     "secret",
				Expiration: time.Minute,
			},
		},
		Rewards: config.RewardsConfigs{
			OracleAddress:        "oracle",
			AttestationEndpoints: []string{"http://attestation"},
			QuorumSize:           3,
			MaxParallelRequests:  5,

			MaxClaimRetries: 5,
			ClaimBackoff:    time.Millisecond,
			MaxClaimBackoff: 100 * time.Millisecond,

			CompletionTimeout:      100 * time.Millisecond,
			CompletionPollInterval: 10 * time.Millisecond,

			IdentityPollRetries: 2,
			IdentityPollDelay:   time.Millisecond,

			PollingInterval:              30 * time.Second,
			RewardsScreenPollingInterval: 5 * time.Second,
		},
	}

	node, err := snowflake.NewNode(0)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	ctx = xcontext.WithConfigs(ctx, cfg)
	ctx = xcontext.WithLogger(ctx, logger.NewLogger())
	ctx = xcontext.WithTokenEngine(ctx, authenticator.NewTokenEngine[model.AccessToken](cfg.Auth.AccessToken))
	ctx = xcontext.WithSnowFlake(ctx, node)
	ctx = xcontext.WithDB(ctx, db)

	if err := entity.MigrateTable(ctx); err != nil {
		panic(err)
	}

	return ctx
}

func MockContextWithUserID(userID string) context.Context {
	return xcontext.WithRequestUserID(MockContext(), userID)
}
