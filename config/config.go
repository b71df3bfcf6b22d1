package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Configs struct {
	Env string

	ApiServer    ServerConfigs
	Auth         AuthConfigs
	Database     DatabaseConfigs
	Redis        RedisConfigs
	Kafka        KafkaConfigs
	Backend      BackendConfigs
	RemoteConfig RemoteConfigConfigs
	Rewards      RewardsConfigs
}

type ServerConfigs struct {
	Host           string
	Port           string
	AllowedOrigins []string
}

type DatabaseConfigs struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

func (d *DatabaseConfigs) ConnectionString() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
	)
}

type AuthConfigs struct {
	AccessToken TokenConfigs
}

type TokenConfigs struct {
	Name       string
	Secret     string
	Expiration time.Duration
}

type RedisConfigs struct {
	Addr string
}

type KafkaConfigs struct {
	Addr string
}

type BackendConfigs struct {
	Endpoint       string
	HealthEndpoint string
	Timeout        time.Duration
}

type RemoteConfigConfigs struct {
	Endpoint string
	CacheTTL time.Duration
}

// RewardsConfigs are static defaults. Most of them can be overridden at
// runtime by the remote flag store.
type RewardsConfigs struct {
	OracleAddress        string
	AttestationEndpoints []string
	QuorumSize           int
	MaxParallelRequests  int

	MaxClaimRetries int
	ClaimBackoff    time.Duration
	MaxClaimBackoff time.Duration

	CompletionTimeout      time.Duration
	CompletionPollInterval time.Duration

	IdentityPollRetries int
	IdentityPollDelay   time.Duration

	PollingInterval              time.Duration
	RewardsScreenPollingInterval time.Duration

	// Platforms without a reliable backgrounding signal (wrapped desktop
	// apps) keep polling while the UI reports background.
	IgnoreBackgroundSignal bool
}

// Load reads configurations from a toml file. Secrets can be overridden by
// environment variables so they are not committed with the file.
func Load(path string) (Configs, error) {
	var cfg Configs
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Configs{}, err
	}

	if secret := os.Getenv("TOKEN_SECRET"); secret != "" {
		cfg.Auth.AccessToken.Secret = secret
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	return cfg, nil
}
