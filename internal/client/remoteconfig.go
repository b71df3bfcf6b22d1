package client

import (
	"context"
	"net/http"
	"time"

	"github.com/fatih/structs"
	"github.com/mitchellh/mapstructure"
	"github.com/questx-lab/rewards-engine/config"
	"github.com/questx-lab/rewards-engine/pkg/api"
	"github.com/questx-lab/rewards-engine/pkg/xcontext"
	"github.com/questx-lab/rewards-engine/pkg/xredis"
)

const rewardsFlagsRedisKey = "remote_config:rewards"

// RewardsFlags are the runtime-tunable knobs of the engine. Values not
// present in the remote flag store keep their static defaults.
type RewardsFlags struct {
	QuorumSize           int      `mapstructure:"quorum_size" structs:"quorum_size" json:"quorum_size"`
	MaxParallelRequests  int      `mapstructure:"max_parallel_requests" structs:"max_parallel_requests" json:"max_parallel_requests"`
	OracleAddress        string   `mapstructure:"oracle_address" structs:"oracle_address" json:"oracle_address"`
	AttestationEndpoints []string `mapstructure:"attestation_endpoints" structs:"attestation_endpoints" json:"attestation_endpoints"`

	MaxClaimRetries   int `mapstructure:"max_claim_retries" structs:"max_claim_retries" json:"max_claim_retries"`
	ClaimBackoffMs    int `mapstructure:"claim_backoff_ms" structs:"claim_backoff_ms" json:"claim_backoff_ms"`
	MaxClaimBackoffMs int `mapstructure:"max_claim_backoff_ms" structs:"max_claim_backoff_ms" json:"max_claim_backoff_ms"`

	IdentityPollRetries int `mapstructure:"identity_poll_retries" structs:"identity_poll_retries" json:"identity_poll_retries"`
	IdentityPollDelayMs int `mapstructure:"identity_poll_delay_ms" structs:"identity_poll_delay_ms" json:"identity_poll_delay_ms"`

	PollingIntervalMs              int `mapstructure:"polling_interval_ms" structs:"polling_interval_ms" json:"polling_interval_ms"`
	RewardsScreenPollingIntervalMs int `mapstructure:"rewards_screen_polling_interval_ms" structs:"rewards_screen_polling_interval_ms" json:"rewards_screen_polling_interval_ms"`
}

func (f RewardsFlags) ClaimBackoff() time.Duration {
	return time.Duration(f.ClaimBackoffMs) * time.Millisecond
}

func (f RewardsFlags) MaxClaimBackoff() time.Duration {
	return time.Duration(f.MaxClaimBackoffMs) * time.Millisecond
}

func (f RewardsFlags) IdentityPollDelay() time.Duration {
	return time.Duration(f.IdentityPollDelayMs) * time.Millisecond
}

func (f RewardsFlags) PollingInterval() time.Duration {
	return time.Duration(f.PollingIntervalMs) * time.Millisecond
}

func (f RewardsFlags) RewardsScreenPollingInterval() time.Duration {
	return time.Duration(f.RewardsScreenPollingIntervalMs) * time.Millisecond
}

type RemoteConfig interface {
	Rewards(ctx context.Context) RewardsFlags
	All(ctx context.Context) map[string]any
}

type remoteConfig struct {
	generator   api.Generator
	redisClient xredis.Client
	cacheTTL    time.Duration
	defaults    RewardsFlags
}

func NewRemoteConfig(cfg config.Configs, redisClient xredis.Client) *remoteConfig {
	return &remoteConfig{
		generator:   api.NewGenerator(cfg.RemoteConfig.Endpoint),
		redisClient: redisClient,
		cacheTTL:    cfg.RemoteConfig.CacheTTL,
		defaults:    defaultFlags(cfg.Rewards),
	}
}

func defaultFlags(cfg config.RewardsConfigs) RewardsFlags {
	return RewardsFlags{
		QuorumSize:           cfg.QuorumSize,
		MaxParallelRequests:  cfg.MaxParallelRequests,
		OracleAddress:        cfg.OracleAddress,
		AttestationEndpoints: cfg.AttestationEndpoints,

		MaxClaimRetries:   cfg.MaxClaimRetries,
		ClaimBackoffMs:    int(cfg.ClaimBackoff / time.Millisecond),
		MaxClaimBackoffMs: int(cfg.MaxClaimBackoff / time.Millisecond),

		IdentityPollRetries: cfg.IdentityPollRetries,
		IdentityPollDelayMs: int(cfg.IdentityPollDelay / time.Millisecond),

		PollingIntervalMs:              int(cfg.PollingInterval / time.Millisecond),
		RewardsScreenPollingIntervalMs: int(cfg.RewardsScreenPollingInterval / time.Millisecond),
	}
}

// Rewards returns the effective flags. A failure of the flag store or the
// cache is not an error, the static defaults apply.
func (c *remoteConfig) Rewards(ctx context.Context) RewardsFlags {
	var cached RewardsFlags
	if err := c.redisClient.GetObj(ctx, rewardsFlagsRedisKey, &cached); err == nil {
		return cached
	}

	resp, err := c.generator.New("/v1/flags/rewards").GET(ctx)
	if err != nil {
		xcontext.Logger(ctx).Warnf("Cannot fetch remote config: %v", err)
		return c.defaults
	}

	if resp.Code != http.StatusOK {
		xcontext.Logger(ctx).Warnf("Remote config answered status %d", resp.Code)
		return c.defaults
	}

	var raw map[string]any
	if err := resp.Decode(&raw); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot decode remote config: %v", err)
		return c.defaults
	}

	flags := c.defaults
	if err := mapstructure.Decode(raw, &flags); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot map remote config to flags: %v", err)
		return c.defaults
	}

	if err := c.redisClient.SetObj(ctx, rewardsFlagsRedisKey, flags, c.cacheTTL); err != nil {
		xcontext.Logger(ctx).Warnf("Cannot cache remote config: %v", err)
	}

	return flags
}

func (c *remoteConfig) All(ctx context.Context) map[string]any {
	return structs.Map(c.Rewards(ctx))
}
