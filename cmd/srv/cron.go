package main

import (
	"github.com/questx-lab/rewards-engine/internal/domain/cron"
)

// The poller shares the in-memory challenge store with the api, so it runs
// inside the api process rather than as a separate service.
func (s *srv) loadCron() {
	s.cronManager = cron.NewCronJobManager()
	s.cronManager.Register(cron.NewChallengeRefreshCronJob(
		s.ctx,
		s.challengeRepo,
		s.challengeClient,
		s.remoteConfig,
		s.publisher,
	))

	go s.cronManager.Start(s.ctx)
}
