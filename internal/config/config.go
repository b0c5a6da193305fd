package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
)

type Config struct {
	Env       string `mapstructure:"YP_ENV"`
	HTTPAddr  string `mapstructure:"YP_HTTP_ADDR"`
	PublicURL string `mapstructure:"YP_PUBLIC_ORIGIN"`
	LogLevel  string `mapstructure:"YP_LOG_LEVEL"`

	Store    StoreConfig    `mapstructure:",squash"`
	Journal  JournalConfig  `mapstructure:",squash"`
	Vault    VaultConfig    `mapstructure:",squash"`
	Jobs     JobsConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

// StoreConfig selects the kv backend holding ledger state and the read cache.
type StoreConfig struct {
	Backend  kv.Backend    `mapstructure:"YP_STORE_BACKEND"`
	RedisURL string        `mapstructure:"YP_REDIS_URL"`
	CacheTTL time.Duration `mapstructure:"YP_CACHE_TTL"`
}

type JournalConfig struct {
	Backend     string `mapstructure:"YP_JOURNAL_BACKEND"` // "memory", "postgres"
	PostgresDSN string `mapstructure:"YP_POSTGRES_DSN"`
	MaxConns    int    `mapstructure:"YP_POSTGRES_MAX_CONNS"`
}

// VaultConfig seeds the ledger genesis. StakeCapForZeroFee is a raw 18-decimal
// integer string.
type VaultConfig struct {
	StableDecimals     uint8  `mapstructure:"YP_STABLE_DECIMALS"`
	FeeRateCapBps      uint64 `mapstructure:"YP_FEE_RATE_CAP_BPS"`
	StakeCapForZeroFee string `mapstructure:"YP_STAKE_CAP_FOR_ZERO_FEE"`
	AdminAddress       string `mapstructure:"YP_ADMIN_ADDRESS"`
}

type JobsConfig struct {
	PricePublishInterval time.Duration `mapstructure:"YP_PRICE_PUBLISH_INTERVAL"`
	SimDriftBps          uint64        `mapstructure:"YP_SIM_DRIFT_BPS"` // dev only
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"YP_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"YP_CORS_ALLOWED_ORIGINS"`
	// AuthMaxSkew bounds the age of a signed request's timestamp.
	AuthMaxSkew time.Duration `mapstructure:"YP_AUTH_MAX_SKEW"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // vars already set win
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("YP_ENV", "dev")
	v.SetDefault("YP_HTTP_ADDR", ":8080")
	v.SetDefault("YP_PUBLIC_ORIGIN", "http://localhost:3000")
	v.SetDefault("YP_LOG_LEVEL", "")
	v.SetDefault("YP_STORE_BACKEND", string(kv.BackendMemory))
	v.SetDefault("YP_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("YP_CACHE_TTL", "15s")
	v.SetDefault("YP_JOURNAL_BACKEND", "memory")
	v.SetDefault("YP_POSTGRES_DSN", "")
	v.SetDefault("YP_POSTGRES_MAX_CONNS", 10)
	v.SetDefault("YP_STABLE_DECIMALS", 6)
	v.SetDefault("YP_FEE_RATE_CAP_BPS", ledger.DefaultFeeRateCapBps)
	v.SetDefault("YP_STAKE_CAP_FOR_ZERO_FEE", ledger.HardStakeCapForZeroFee.String())
	v.SetDefault("YP_ADMIN_ADDRESS", "")
	v.SetDefault("YP_PRICE_PUBLISH_INTERVAL", "5s")
	v.SetDefault("YP_SIM_DRIFT_BPS", 0)
	v.SetDefault("YP_RATE_LIMIT_RPM", 120)
	v.SetDefault("YP_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("YP_AUTH_MAX_SKEW", "2m")
}

// Load reads .env files and the process environment.
func Load() (*Config, error) {
	loadDotEnvFiles()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if origins := v.GetString("YP_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("YP_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid YP_ENV %q (must be dev, test, or prod)", c.Env)
	}

	switch c.Store.Backend {
	case kv.BackendMemory:
	case kv.BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("YP_REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid YP_STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Journal.Backend {
	case "memory":
	case "postgres":
		if c.Journal.PostgresDSN == "" {
			return fmt.Errorf("YP_POSTGRES_DSN is required for the postgres journal")
		}
	default:
		return fmt.Errorf("invalid YP_JOURNAL_BACKEND %q", c.Journal.Backend)
	}

	if c.Vault.StableDecimals > 36 {
		return fmt.Errorf("YP_STABLE_DECIMALS %d out of range", c.Vault.StableDecimals)
	}
	if err := calc.ValidateBps(c.Vault.FeeRateCapBps, "YP_FEE_RATE_CAP_BPS"); err != nil {
		return err
	}
	stakeCap, err := calc.ParseAmount(c.Vault.StakeCapForZeroFee, "YP_STAKE_CAP_FOR_ZERO_FEE")
	if err != nil {
		return err
	}
	if stakeCap.Sign() == 0 || stakeCap.Cmp(ledger.HardStakeCapForZeroFee) > 0 {
		return fmt.Errorf("YP_STAKE_CAP_FOR_ZERO_FEE must be in (0, %s]", ledger.HardStakeCapForZeroFee)
	}
	if c.Vault.AdminAddress != "" && !common.IsHexAddress(c.Vault.AdminAddress) {
		return fmt.Errorf("YP_ADMIN_ADDRESS %q is not a hex address", c.Vault.AdminAddress)
	}
	if c.IsProd() && c.Vault.AdminAddress == "" {
		return fmt.Errorf("YP_ADMIN_ADDRESS is required in prod")
	}
	if c.IsProd() && c.Jobs.SimDriftBps > 0 {
		return fmt.Errorf("YP_SIM_DRIFT_BPS is dev only")
	}
	if c.Jobs.PricePublishInterval <= 0 {
		return fmt.Errorf("YP_PRICE_PUBLISH_INTERVAL must be positive")
	}
	if c.Security.AuthMaxSkew <= 0 || c.Security.AuthMaxSkew > 10*time.Minute {
		return fmt.Errorf("YP_AUTH_MAX_SKEW must be in (0, 10m]")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// StakeCap parses YP_STAKE_CAP_FOR_ZERO_FEE. validate has already accepted it.
func (v VaultConfig) StakeCap() *big.Int {
	amount, err := calc.ParseAmount(v.StakeCapForZeroFee, "stake cap")
	if err != nil {
		return new(big.Int).Set(ledger.HardStakeCapForZeroFee)
	}
	return amount
}

// Admin returns the configured admin, the zero address when unset.
func (v VaultConfig) Admin() common.Address {
	if v.AdminAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(v.AdminAddress)
}
