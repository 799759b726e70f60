package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	Log        LogConfig       `mapstructure:"log"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Webhooks   WebhooksConfig  `mapstructure:"webhooks"`
	Worker     WorkerConfig    `mapstructure:"worker"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// KafkaConnection is one named broker cluster. The routing tuple's
// "connection" selects an entry in KafkaConfig.Connections.
type KafkaConnection struct {
	Brokers []string `mapstructure:"brokers"`
}

type KafkaConfig struct {
	Connections    map[string]KafkaConnection `mapstructure:"connections"`
	GroupID        string                     `mapstructure:"group_id"`
	MinBytes       int                        `mapstructure:"min_bytes"`
	MaxBytes       int                        `mapstructure:"max_bytes"`
	CommitInterval int                        `mapstructure:"commit_interval_ms"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type WorkerConfig struct {
	Count     int           `mapstructure:"count"`
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// WebhooksConfig is the routing configuration surface: signing secrets by
// name, the replay tolerance, scope-level queue defaults, and per-type
// overrides for each scope. Override keys use the flattened event type
// ("payment_intent.succeeded" => "payment_intent_succeeded").
type WebhooksConfig struct {
	SignatureTolerance int                      `mapstructure:"signature_tolerance"` // seconds
	SigningSecrets     map[string]string        `mapstructure:"signing_secrets"`
	DefaultConnection  string                   `mapstructure:"default_connection"`
	DefaultQueue       string                   `mapstructure:"default_queue"`
	Account            map[string]webhook.Route `mapstructure:"account"`
	Connect            map[string]webhook.Route `mapstructure:"connect"`
}

// Tolerance returns the signature tolerance as a duration.
func (w WebhooksConfig) Tolerance() time.Duration {
	return time.Duration(w.SignatureTolerance) * time.Second
}

// Router builds the routing resolver from this configuration.
func (w WebhooksConfig) Router() *webhook.Router {
	return webhook.NewRouter(w.DefaultConnection, w.DefaultQueue, w.Account, w.Connect)
}

// Brokers returns the broker list for a named connection, falling back to the
// webhook default connection when name is empty.
func (k KafkaConfig) Brokers(name, fallback string) []string {
	if name == "" {
		name = fallback
	}
	return k.Connections[name].Brokers
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (STRIPEGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (STRIPEGW_*)
	v.SetEnvPrefix("STRIPEGW")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
