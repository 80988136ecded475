// Package config loads the service's environment configuration via
// viper and validates it, in the same shape the rest of the platform
// uses for its services.
package config

import (
	"log"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RedisConfig holds connection and resilience tunables for the Redis
// client shared by the broker bridge and the durable fallback publisher.
type RedisConfig struct {
	Host                    string `mapstructure:"host" validate:"required"`
	Port                    int    `mapstructure:"port" validate:"required"`
	Password                string `mapstructure:"password"`
	DB                      int    `mapstructure:"db"`
	HealthCheckIntervalSecs int    `mapstructure:"health_check_interval_seconds"`
	RetryOnTimeout          bool   `mapstructure:"retry_on_timeout"`
}

// AppConfig is the full, validated runtime configuration.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	Redis RedisConfig `mapstructure:"redis" validate:"required"`

	// Conversational-AI provider.
	APIKey                  string `mapstructure:"api_key" validate:"required"`
	ConversationProfileName string `mapstructure:"conversation_profile_name" validate:"required"`
	GCPProjectID            string `mapstructure:"gcp_project_id" validate:"required"`

	// UIConnectorHost is the base URL of the agent-UI subscription hub. It
	// is loaded and validated but not read by any component; the hub
	// itself binds Host/Port above.
	UIConnectorHost string `mapstructure:"ui_connector" validate:"required"`

	HubJWTSecret string `mapstructure:"hub_jwt_secret" validate:"required"`

	// Tunables from spec.md §6.
	TimeoutSeconds     int     `mapstructure:"timeout"`
	SampleRateHz       int     `mapstructure:"rate"`
	ChunkSizeBytes     int     `mapstructure:"chunk_size"`
	MaxLookbackSeconds float64 `mapstructure:"max_lookback"`

	// Summarization ticker interval, spec.md §4.5.
	SummaryIntervalSeconds int `mapstructure:"summary_interval_seconds"`

	// Durable fallback stream name, spec.md §6 "durable topic".
	FallbackStreamName string `mapstructure:"fallback_stream_name" validate:"required"`

	// RoutingEntryTTLSeconds hardens the open question in spec.md §9
	// ("stale routing entries").
	RoutingEntryTTLSeconds int `mapstructure:"routing_entry_ttl_seconds"`

	// AwaitSubscriberCounter and AwaitSubscriberSecondPerCounter bound the
	// await-subscriber task's polling budget (spec.md §4.4): counter *
	// secondPerCounter = 1s by default.
	AwaitSubscriberCounter          int     `mapstructure:"await_redis_counter"`
	AwaitSubscriberSecondPerCounter float64 `mapstructure:"await_redis_second_per_counter"`
}

// locationPattern extracts the location segment from a conversation
// profile resource name, per spec.md §6.
var locationPattern = regexp.MustCompile(`^projects/[^/]+/locations/([^/]+)`)

// Location returns the location id embedded in ConversationProfileName,
// failing fast if the profile name does not match the documented shape
// (spec.md §9, "Regex-derived location").
func (c *AppConfig) Location() (string, error) {
	m := locationPattern.FindStringSubmatch(c.ConversationProfileName)
	if m == nil {
		return "", &LocationFormatError{ProfileName: c.ConversationProfileName}
	}
	return m[1], nil
}

// LocationFormatError signals a conversation profile resource name that
// does not carry a `/locations/{id}/` segment.
type LocationFormatError struct {
	ProfileName string
}

func (e *LocationFormatError) Error() string {
	return "conversation profile name does not match projects/{p}/locations/{l}/...: " + e.ProfileName
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxLookback returns MaxLookbackSeconds as a time.Duration.
func (c *AppConfig) MaxLookback() time.Duration {
	return time.Duration(c.MaxLookbackSeconds * float64(time.Second))
}

// SummaryInterval returns SummaryIntervalSeconds as a time.Duration.
func (c *AppConfig) SummaryInterval() time.Duration {
	return time.Duration(c.SummaryIntervalSeconds) * time.Second
}

// RoutingEntryTTL returns RoutingEntryTTLSeconds as a time.Duration.
func (c *AppConfig) RoutingEntryTTL() time.Duration {
	return time.Duration(c.RoutingEntryTTLSeconds) * time.Second
}

// AwaitSubscriberBudget returns the await-subscriber task's total polling
// budget (spec.md §4.4, "AWAIT_REDIS_COUNTER · AWAIT_REDIS_SECOND_PER_COUNTER").
func (c *AppConfig) AwaitSubscriberBudget() time.Duration {
	return time.Duration(float64(c.AwaitSubscriberCounter) * c.AwaitSubscriberSecondPerCounter * float64(time.Second))
}

// AwaitSubscriberPollInterval returns one polling tick's interval.
func (c *AppConfig) AwaitSubscriberPollInterval() time.Duration {
	return time.Duration(c.AwaitSubscriberSecondPerCounter * float64(time.Second))
}

// InitViper builds the viper instance: reads ./.env (or $ENV_PATH), then
// environment variables, with "__" as the nesting delimiter so
// REDIS__HOST maps to Redis.Host.
func InitViper() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	// AutomaticEnv alone does not make Unmarshal see keys that have no
	// default, so bind those explicitly. REDISHOST/REDISPORT are accepted
	// as aliases of REDIS__HOST/REDIS__PORT.
	for _, key := range []string{"API_KEY", "CONVERSATION_PROFILE_NAME", "GCP_PROJECT_ID", "UI_CONNECTOR", "HUB_JWT_SECRET", "REDIS__PASSWORD"} {
		_ = v.BindEnv(key)
	}
	_ = v.BindEnv("REDIS__HOST", "REDIS__HOST", "REDISHOST")
	_ = v.BindEnv("REDIS__PORT", "REDIS__PORT", "REDISPORT")

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("audiohook-bridge: no .env found, reading from environment variables only: %v", err)
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "audiohook-bridge")
	v.SetDefault("VERSION", "0.1.0")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9090)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__DB", 0)
	v.SetDefault("REDIS__HEALTH_CHECK_INTERVAL_SECONDS", 10)
	v.SetDefault("REDIS__RETRY_ON_TIMEOUT", true)

	v.SetDefault("TIMEOUT", 2)
	v.SetDefault("RATE", 8000)
	v.SetDefault("CHUNK_SIZE", 1600)
	v.SetDefault("MAX_LOOKBACK", 3)
	v.SetDefault("SUMMARY_INTERVAL_SECONDS", 60)
	v.SetDefault("ROUTING_ENTRY_TTL_SECONDS", 30)
	v.SetDefault("FALLBACK_STREAM_NAME", "conversation-event-stream")
	v.SetDefault("AWAIT_REDIS_COUNTER", 10)
	v.SetDefault("AWAIT_REDIS_SECOND_PER_COUNTER", 0.1)
}

// Load reads and validates the AppConfig from v.
func Load(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
