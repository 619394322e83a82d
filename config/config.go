package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-meeting/globals"
)

const (
	envPrefix = "LSMEET"

	defaultAddr            = "localhost:8000"
	defaultLogLevel        = "info"
	defaultGracePeriod     = 30 * time.Second
	defaultRoomIdleTimeout = 5 * time.Minute
	defaultSuccession      = "none"
	defaultSendBuffer      = 256
	defaultTokenCacheSize  = 1024
	defaultStatsCron       = "@every 1m"
	defaultPruneCron       = "@hourly"
	defaultRedisKeyPrefix  = "lsmeet:"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the global configuration object. It is filled from defaults, command-line flags, LSMEET_* environment
// variables and the TOML configuration file(s), in this order of increasing precedence for the file.
type Config struct {
	Addr               string             `mapstructure:"addr"`
	LogLevel           string             `mapstructure:"log_level"`
	AllowGuests        bool               `mapstructure:"allow_guests"`   // accept self-asserted identities and generate guest names
	TrustUpstream      bool               `mapstructure:"trust_upstream"` // accept identities set by an authenticating proxy
	TokenCacheSize     int                `mapstructure:"token_cache_size"`
	StatsCron          string             `mapstructure:"stats_cron"`
	OIDCConfigs        []OIDCConfig       `mapstructure:"oidc"`
	SessionConfig      SessionConfig      `mapstructure:"session"`
	NotificationConfig NotificationConfig `mapstructure:"notification"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

// SessionConfig configures the live session behaviour.
type SessionConfig struct {
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	RoomIdleTimeout time.Duration `mapstructure:"room_idle_timeout"`
	Succession      string        `mapstructure:"succession"`  // none, next_joiner or oldest
	SendBuffer      int           `mapstructure:"send_buffer"` // outbound messages queued per connection
}

// NotificationConfig configures where peer events are handed off. Type is one of "" (disabled), "buntdb", "sqlite",
// "postgres" or "redis". For buntdb DSN is the file name, for sqlite and postgres it is the gorm DSN.
type NotificationConfig struct {
	Type      string        `mapstructure:"type"`
	DSN       string        `mapstructure:"dsn"`
	Filter    string        `mapstructure:"filter"` // expr expression, see package filter
	Retention time.Duration `mapstructure:"retention"`
	PruneCron string        `mapstructure:"prune_cron"`
	FlockPath string        `mapstructure:"flock_path"` // buntdb only, guards the file against a second server
	Redis     RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	URI       string        `mapstructure:"uri"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("addr", defaultAddr, "service address (including port)")
	flagSet.String("log-level", defaultLogLevel, "log level (trace, debug, info, warn, error)")
	flagSet.Bool("allow-guests", false, "accept connections without identity as guests")
	flagSet.Duration("grace-period", defaultGracePeriod, "how long a disconnected participant keeps its place")
	flagSet.String("succession", defaultSuccession, "leader succession policy (none, next_joiner, oldest)")
	return flagSet
}

// flags which configure nested keys
var nestedFlags = map[string]string{
	"grace_period": "session.grace_period",
	"succession":   "session.succession",
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("allow_guests", false)
	v.SetDefault("trust_upstream", false)
	v.SetDefault("token_cache_size", defaultTokenCacheSize)
	v.SetDefault("stats_cron", defaultStatsCron)
	v.SetDefault("session.grace_period", defaultGracePeriod)
	v.SetDefault("session.room_idle_timeout", defaultRoomIdleTimeout)
	v.SetDefault("session.succession", defaultSuccession)
	v.SetDefault("session.send_buffer", defaultSendBuffer)
	v.SetDefault("notification.type", "")
	v.SetDefault("notification.dsn", "")
	v.SetDefault("notification.filter", "")
	v.SetDefault("notification.retention", time.Duration(0))
	v.SetDefault("notification.prune_cron", defaultPruneCron)
	v.SetDefault("notification.flock_path", "")
	v.SetDefault("notification.redis.uri", "")
	v.SetDefault("notification.redis.key_prefix", defaultRedisKeyPrefix)
	v.SetDefault("notification.redis.ttl", time.Duration(0))
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. flagSet may be nil.
// The result is validated.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		flagSet.VisitAll(func(f *pflag.Flag) {
			key := f.Name
			if nested, ok := nestedFlags[key]; ok {
				key = nested
			}
			if err := v.BindPFlag(key, f); err != nil {
				globals.AppLogger.Error("could not bind flag (ignored)", "flag", f.Name, "error", err)
			}
		})
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}

// Validate checks the values which cannot be corrected later on.
func (c *Config) Validate() error {
	s := c.SessionConfig
	if s.GracePeriod <= 0 {
		return fmt.Errorf("%w: session.grace_period must be positive, got %s", ErrInvalidConfig, s.GracePeriod)
	}
	if s.RoomIdleTimeout <= 0 {
		return fmt.Errorf("%w: session.room_idle_timeout must be positive, got %s", ErrInvalidConfig, s.RoomIdleTimeout)
	}
	if s.SendBuffer <= 0 {
		return fmt.Errorf("%w: session.send_buffer must be positive, got %d", ErrInvalidConfig, s.SendBuffer)
	}
	switch s.Succession {
	case "", "none", "next_joiner", "oldest":
	default:
		return fmt.Errorf("%w: unknown session.succession %q", ErrInvalidConfig, s.Succession)
	}
	if c.StatsCron != "" {
		if _, err := cron.ParseStandard(c.StatsCron); err != nil {
			return fmt.Errorf("%w: stats_cron: %s", ErrInvalidConfig, err)
		}
	}
	for _, oidcConfig := range c.OIDCConfigs {
		if oidcConfig.Name == "" || oidcConfig.ProviderUrl == "" {
			return fmt.Errorf("%w: every oidc provider needs a name and a provider_url", ErrInvalidConfig)
		}
	}

	n := c.NotificationConfig
	switch n.Type {
	case "":
		return nil
	case "buntdb", "sqlite", "postgres":
		if n.DSN == "" {
			return fmt.Errorf("%w: notification.dsn is required for type %s", ErrInvalidConfig, n.Type)
		}
	case "redis":
		if n.Redis.URI == "" {
			return fmt.Errorf("%w: notification.redis.uri is required for type redis", ErrInvalidConfig)
		}
		if n.Redis.TTL < 0 {
			return fmt.Errorf("%w: notification.redis.ttl must not be negative", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown notification.type %q", ErrInvalidConfig, n.Type)
	}
	if n.Retention < 0 {
		return fmt.Errorf("%w: notification.retention must not be negative", ErrInvalidConfig)
	}
	if n.Retention > 0 && n.PruneCron != "" {
		if _, err := cron.ParseStandard(n.PruneCron); err != nil {
			return fmt.Errorf("%w: notification.prune_cron: %s", ErrInvalidConfig, err)
		}
	}
	return nil
}
