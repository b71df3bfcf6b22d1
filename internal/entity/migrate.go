package entity

import (
	"context"

	"github.com/questx-lab/rewards-engine/pkg/xcontext"
)

func MigrateTable(ctx context.Context) error {
	return xcontext.DB(ctx).AutoMigrate(
		&UserChallenge{},
		&ClaimAttempt{},
	)
}
