package main

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/questx-lab/rewards-engine/config"
	"github.com/questx-lab/rewards-engine/internal/client"
	"github.com/questx-lab/rewards-engine/internal/domain"
	"github.com/questx-lab/rewards-engine/internal/domain/attest"
	"github.com/questx-lab/rewards-engine/internal/domain/cron"
	"github.com/questx-lab/rewards-engine/internal/entity"
	"github.com/questx-lab/rewards-engine/internal/model"
	"github.com/questx-lab/rewards-engine/internal/repository"
	"github.com/questx-lab/rewards-engine/pkg/authenticator"
	"github.com/questx-lab/rewards-engine/pkg/kafka"
	"github.com/questx-lab/rewards-engine/pkg/logger"
	"github.com/questx-lab/rewards-engine/pkg/pubsub"
	"github.com/questx-lab/rewards-engine/pkg/router"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
	"github.com/questx-lab/rewards-engine/pkg/xredis"
	"github.com/urfave/cli/v2"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type srv struct {
	ctx context.Context
	app *cli.App

	publisher   pubsub.Publisher
	redisClient xredis.Client

	challengeRepo repository.ChallengeRepository
	claimRepo     repository.ClaimRepository

	challengeClient   client.ChallengeClient
	attestationClient client.AttestationClient
	identityClient    client.IdentityClient
	remoteConfig      client.RemoteConfig

	orchestrator    attest.Orchestrator
	challengeDomain domain.ChallengeDomain
	claimDomain     domain.ClaimDomain

	cronManager *cron.CronJobManager

	router *router.Router
	server *http.Server
}

func (s *srv) loadConfig(ct *cli.Context) {
	cfg, err := config.Load(ct.String("config"))
	if err != nil {
		panic(err)
	}

	s.ctx = xcontext.WithConfigs(context.Background(), cfg)
}

func (s *srv) loadLogger() {
	s.ctx = xcontext.WithLogger(s.ctx, logger.NewLogger())
}

func (s *srv) loadDatabase() {
	cfg := xcontext.Configs(s.ctx)
	db, err := gorm.Open(mysql.Open(cfg.Database.ConnectionString()), &gorm.Config{})
	if err != nil {
		panic(err)
	}

	s.ctx = xcontext.WithDB(s.ctx, db)
}

func (s *srv) loadAuth() {
	cfg := xcontext.Configs(s.ctx)
	s.ctx = xcontext.WithTokenEngine(s.ctx,
		authenticator.NewTokenEngine[model.AccessToken](cfg.Auth.AccessToken))

	node, err := snowflake.NewNode(0)
	if err != nil {
		panic(err)
	}
	s.ctx = xcontext.WithSnowFlake(s.ctx, node)
}

func (s *srv) loadRedis() {
	redisClient, err := xredis.NewClient(s.ctx)
	if err != nil {
		panic(err)
	}

	s.redisClient = redisClient
}

func (s *srv) loadPublisher() {
	cfg := xcontext.Configs(s.ctx)
	s.publisher = kafka.NewPublisher("rewards-engine", []string{cfg.Kafka.Addr})
}

func (s *srv) loadEndpoints() {
	cfg := xcontext.Configs(s.ctx)

	s.challengeClient = client.NewChallengeClient(cfg.Backend.Endpoint, cfg.Backend.HealthEndpoint)
	s.identityClient = client.NewIdentityClient(cfg.Backend.Endpoint)
	s.remoteConfig = client.NewRemoteConfig(cfg, s.redisClient)
	s.attestationClient = client.NewAttestationClient(cfg.Rewards.AttestationEndpoints...)
}

func (s *srv) loadRepos() {
	s.challengeRepo = repository.NewChallengeRepository()
	s.claimRepo = repository.NewClaimRepository()
}

func (s *srv) loadDomains() {
	s.orchestrator = attest.NewClaimOrchestrator(
		s.ctx,
		s.challengeRepo,
		s.claimRepo,
		s.attestationClient,
		s.challengeClient,
		s.identityClient,
		s.remoteConfig,
		s.publisher,
	)

	s.challengeDomain = domain.NewChallengeDomain(s.challengeRepo)
	s.claimDomain = domain.NewClaimDomain(s.challengeRepo, s.orchestrator, s.remoteConfig)
}

func (s *srv) migrateDB(ct *cli.Context) error {
	s.loadConfig(ct)
	s.loadLogger()
	s.loadDatabase()

	return entity.MigrateTable(s.ctx)
}
