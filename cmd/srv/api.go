package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/questx-lab/rewards-engine/internal/middleware"
	"github.com/questx-lab/rewards-engine/pkg/prometheus"
	"github.com/questx-lab/rewards-engine/pkg/router"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
	"github.com/urfave/cli/v2"
)

func (s *srv) startApi(ct *cli.Context) error {
	s.loadConfig(ct)
	s.loadLogger()
	s.loadDatabase()
	s.loadAuth()
	s.loadRedis()
	s.loadPublisher()
	s.loadEndpoints()
	s.loadRepos()
	s.loadDomains()
	s.loadRouter()
	s.loadCron()

	if err := s.orchestrator.ResumePending(s.ctx); err != nil {
		xcontext.Logger(s.ctx).Errorf("Cannot resume pending claims: %v", err)
	}

	cfg := xcontext.Configs(s.ctx)
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ApiServer.Host, cfg.ApiServer.Port),
		Handler: s.router.Handler(),
	}

	xcontext.Logger(s.ctx).Infof("Starting api server on port %s", cfg.ApiServer.Port)
	if err := s.server.ListenAndServe(); err != nil {
		panic(err)
	}

	return nil
}

func (s *srv) loadRouter() {
	s.router = router.New(s.ctx)
	s.router.Before(middleware.WithStartTime())
	s.router.AddCloser(middleware.Logger())
	s.router.AddCloser(middleware.Prometheus())

	authRouter := s.router.Branch()
	authRouter.Before(middleware.Authenticate())
	{
		router.GET(authRouter, "/getChallenges", s.challengeDomain.GetChallenges)
		router.POST(authRouter, "/setStepOverride", s.challengeDomain.SetStepOverride)
		router.POST(authRouter, "/setForeground", s.challengeDomain.SetForeground)
		router.POST(authRouter, "/setRewardsScreen", s.challengeDomain.SetRewardsScreen)

		router.POST(authRouter, "/claimReward", s.claimDomain.ClaimReward)
		router.GET(authRouter, "/getClaimStatus", s.claimDomain.GetClaimStatus)
		router.POST(authRouter, "/cancelClaim", s.claimDomain.CancelClaim)
		router.POST(authRouter, "/resumeCaptcha", s.claimDomain.ResumeCaptcha)
		router.POST(authRouter, "/identityFlowClosed", s.claimDomain.IdentityFlowClosed)
		router.GET(authRouter, "/getRewardsFlags", s.claimDomain.GetRewardsFlags)
	}

	s.router.Inner.GET("/metrics", gin.WrapH(prometheus.NewHandler()))
}
