// Package config loads the server configuration from YAML through viper.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Security  SecurityConfig  `mapstructure:"security"`
	Game      GameConfig      `mapstructure:"game"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`

	PostgresDSN     string        `mapstructure:"postgres_dsn"`
	PostgresMaxOpen int           `mapstructure:"postgres_max_open"`
	PostgresMaxIdle int           `mapstructure:"postgres_max_idle"`
	PostgresMaxLife time.Duration `mapstructure:"postgres_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AttemptRPS and AttemptBurst throttle activation and solve guesses per player and quest.
	AttemptRPS   float64 `mapstructure:"attempt_rps"`
	AttemptBurst int     `mapstructure:"attempt_burst"`
	// WebhookIPs restricts the SMS/voice webhooks to the provider's addresses.
	WebhookIPs []string `mapstructure:"webhook_ips"`
	// AllowedOrigins lists the browser origins permitted for REST and WebSocket.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GameConfig struct {
	ActivationCodeLength int           `mapstructure:"activation_code_length"`
	CatalogCacheTTL      time.Duration `mapstructure:"catalog_cache_ttl"`
	// CatalogSeedDir, when set, is imported into the catalog at startup.
	CatalogSeedDir string `mapstructure:"catalog_seed_dir"`
}

// MessagingConfig configures the SMS/voice transport and the reply texts.
// Voice templates may contain a single %d verb for the number of quests started.
type MessagingConfig struct {
	Provider         string        `mapstructure:"provider"` // log | twilio
	TwilioAccountSID string        `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string        `mapstructure:"twilio_auth_token"`
	TwilioBaseURL    string        `mapstructure:"twilio_base_url"`
	FromNumber       string        `mapstructure:"from_number"`
	SendDelay        time.Duration `mapstructure:"send_delay"`

	VoiceStarted        string `mapstructure:"voice_started"`
	VoiceNothingToStart string `mapstructure:"voice_nothing_to_start"`
	VoiceUnknownCaller  string `mapstructure:"voice_unknown_caller"`
	VoiceWithheldCaller string `mapstructure:"voice_withheld_caller"`
	SMSNotExpecting     string `mapstructure:"sms_not_expecting"`
}

type NotifyConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// AuditConfig bounds how long recorded attempts are kept.
// A zero Retention keeps them forever.
type AuditConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"` // cron spec
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/quests.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("database.postgres_max_open", 50)
	v.SetDefault("database.postgres_max_idle", 10)
	v.SetDefault("database.postgres_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
	v.SetDefault("security.attempt_rps", 0.5)
	v.SetDefault("security.attempt_burst", 5)
	v.SetDefault("game.activation_code_length", 6)
	v.SetDefault("game.catalog_cache_ttl", "5m")
	v.SetDefault("messaging.provider", "log")
	v.SetDefault("messaging.twilio_base_url", "")
	v.SetDefault("messaging.send_delay", "1s")
	v.SetDefault("messaging.voice_started", "Welcome, agent. %d quest(s) are now live. Check your messages for the first location.")
	v.SetDefault("messaging.voice_nothing_to_start", "Welcome back. There is nothing new to start right now.")
	v.SetDefault("messaging.voice_unknown_caller", "This number is not registered for any quest. Goodbye.")
	v.SetDefault("messaging.voice_withheld_caller", "Please call again without withholding your number. Goodbye.")
	v.SetDefault("messaging.sms_not_expecting", "Sorry, we were not expecting to hear from you.")
	v.SetDefault("notify.ping_interval", "30s")
	v.SetDefault("audit.retention", "720h")
	v.SetDefault("audit.prune_schedule", "@daily")
}
