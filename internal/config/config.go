// Package config provides configuration loading for auditflow processes.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config holds all configuration for the worker, the ingress and the CLI.
type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Broker      BrokerConfig     `mapstructure:"broker"`
	Transformer TargetConfig     `mapstructure:"transformer"`
	Sink        TargetConfig     `mapstructure:"sink"`
	Discovery   DiscoveryConfig  `mapstructure:"discovery"`
	Dispatch    DispatchConfig   `mapstructure:"dispatch"`
	Processing  ProcessingConfig `mapstructure:"processing"`
	Ingress     IngressConfig    `mapstructure:"ingress"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Pipelines   []Pipeline       `mapstructure:"pipelines"`
}

// ServerConfig holds the worker HTTP server configuration (health and metrics).
type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format" validate:"oneof=json text"`
	File   LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig enables a rotating log file when Path is set.
type LoggingFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

// Broker types.
const (
	BrokerNATS  = "nats"
	BrokerKafka = "kafka"
)

// BrokerConfig selects and configures the ingestion transport.
type BrokerConfig struct {
	Type    string      `mapstructure:"type" validate:"oneof=nats kafka"`
	Subject string      `mapstructure:"subject" validate:"required"`
	NATS    NATSConfig  `mapstructure:"nats"`
	Kafka   KafkaConfig `mapstructure:"kafka"`

	// ConnectMaxElapsed bounds the startup connection retries.
	ConnectMaxElapsed time.Duration `mapstructure:"connect_max_elapsed"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Stream         string        `mapstructure:"stream"`
	Consumer       string        `mapstructure:"consumer"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AckWait        time.Duration `mapstructure:"ack_wait"`
	MaxAckPending  int           `mapstructure:"max_ack_pending"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Token          string        `mapstructure:"token"`
}

// KafkaConfig holds Kafka configuration. The topic is broker.subject.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	GroupID  string   `mapstructure:"group_id"`
	ClientID string   `mapstructure:"client_id"`
	Version  string   `mapstructure:"version"`
}

// Discovery modes.
const (
	DiscoveryLocal      = "local"
	DiscoveryCluster    = "cluster"
	DiscoveryKubernetes = "kubernetes"
)

// TargetConfig configures how one destination kind (transformer or sink) is located.
type TargetConfig struct {
	Discovery TargetDiscoveryConfig `mapstructure:"discovery"`
	Local     LocalTargetConfig     `mapstructure:"local"`
	Service   ServiceTargetConfig   `mapstructure:"service"`
}

// TargetDiscoveryConfig selects the discovery variant.
type TargetDiscoveryConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=local cluster kubernetes"`
}

// LocalTargetConfig is the static base URL used in local mode.
type LocalTargetConfig struct {
	URL string `mapstructure:"url"`
}

// ServiceTargetConfig names the cluster service registration.
// Port 0 selects the first declared port of the service.
type ServiceTargetConfig struct {
	Name      string `mapstructure:"name"`
	Namespace string `mapstructure:"namespace"`
	Port      int    `mapstructure:"port" validate:"min=0,max=65535"`
	Scheme    string `mapstructure:"scheme" validate:"oneof=http https"`
}

// IsCluster reports whether the target is resolved through the cluster API.
func (t TargetConfig) IsCluster() bool {
	mode := strings.ToLower(t.Discovery.Mode)
	return mode == DiscoveryCluster || mode == DiscoveryKubernetes
}

// DiscoveryConfig holds settings shared by both discovery targets.
type DiscoveryConfig struct {
	// CacheTTL of zero disables caching; every call re-resolves.
	CacheTTL   time.Duration `mapstructure:"cache_ttl" validate:"min=0"`
	Kubeconfig string        `mapstructure:"kubeconfig"`
}

// Status policies for non-2xx responses.
const (
	StatusPolicyForward = "forward"
	StatusPolicyFail    = "fail"
)

// DispatchConfig holds outbound HTTP settings.
type DispatchConfig struct {
	Timeout               time.Duration `mapstructure:"timeout" validate:"gt=0"`
	TransformStatusPolicy string        `mapstructure:"transform_status_policy" validate:"oneof=forward fail"`
	SinkStatusPolicy      string        `mapstructure:"sink_status_policy" validate:"oneof=forward fail"`
	MaxIdleConnsPerHost   int           `mapstructure:"max_idle_conns_per_host" validate:"min=0"`
}

// ProcessingConfig tunes the orchestrator.
type ProcessingConfig struct {
	// Parallelism is the number of pipelines run concurrently for one event.
	// 1 processes pipelines sequentially in declaration order.
	Parallelism int `mapstructure:"parallelism" validate:"min=1"`
}

// IngressConfig holds the HTTP ingress configuration.
type IngressConfig struct {
	Port         int             `mapstructure:"port" validate:"min=1,max=65535"`
	MaxEventSize int64           `mapstructure:"max_event_size" validate:"gt=0"`
	SchemaFile   string          `mapstructure:"schema_file"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-client ingress rate limiting.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests" validate:"min=1"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
}

// RedisConfig holds Redis configuration for shared rate limiting.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// EnvPrefix prefixes environment overrides (AUDITFLOW_SERVER_PORT, etc.).
const EnvPrefix = "AUDITFLOW"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("broker.type", BrokerNATS)
	v.SetDefault("broker.subject", "audit.events")
	v.SetDefault("broker.connect_max_elapsed", "1m")
	v.SetDefault("broker.nats.url", "nats://localhost:4222")
	v.SetDefault("broker.nats.stream", "AUDIT_EVENTS")
	v.SetDefault("broker.nats.consumer", "auditflow-worker")
	v.SetDefault("broker.nats.max_reconnects", -1)
	v.SetDefault("broker.nats.reconnect_wait", "2s")
	v.SetDefault("broker.nats.connect_timeout", "5s")
	v.SetDefault("broker.nats.ack_wait", "60s")
	v.SetDefault("broker.nats.max_ack_pending", 256)
	v.SetDefault("broker.nats.user", "")
	v.SetDefault("broker.nats.password", "")
	v.SetDefault("broker.nats.token", "")
	v.SetDefault("broker.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("broker.kafka.group_id", "auditflow")
	v.SetDefault("broker.kafka.client_id", "auditflow")
	v.SetDefault("broker.kafka.version", "")

	v.SetDefault("transformer.discovery.mode", DiscoveryLocal)
	v.SetDefault("transformer.local.url", "http://localhost:8081")
	v.SetDefault("transformer.service.name", "auditflow-transformer")
	v.SetDefault("transformer.service.namespace", "default")
	v.SetDefault("transformer.service.port", 0)
	v.SetDefault("transformer.service.scheme", "http")

	v.SetDefault("sink.discovery.mode", DiscoveryLocal)
	v.SetDefault("sink.local.url", "http://localhost:8082")
	v.SetDefault("sink.service.name", "auditflow-sink")
	v.SetDefault("sink.service.namespace", "default")
	v.SetDefault("sink.service.port", 0)
	v.SetDefault("sink.service.scheme", "http")

	v.SetDefault("discovery.cache_ttl", "0s")
	v.SetDefault("discovery.kubeconfig", "")

	v.SetDefault("dispatch.timeout", "10s")
	v.SetDefault("dispatch.transform_status_policy", StatusPolicyForward)
	v.SetDefault("dispatch.sink_status_policy", StatusPolicyFail)
	v.SetDefault("dispatch.max_idle_conns_per_host", 16)

	v.SetDefault("processing.parallelism", 1)

	v.SetDefault("ingress.port", 8090)
	v.SetDefault("ingress.max_event_size", 1048576)
	v.SetDefault("ingress.schema_file", "")
	v.SetDefault("ingress.rate_limit.enabled", false)
	v.SetDefault("ingress.rate_limit.requests", 1000)
	v.SetDefault("ingress.rate_limit.window", "1m")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
}

// Load reads configuration from file and environment variables, then
// validates it. Validation failures are returned as *ConfigurationError.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/auditflow")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		scalarToStringHookFunc(),
	)
}

// scalarToStringHookFunc keeps YAML scalars such as `value: true` or
// `value: 40` readable as the literal text the operator wrote.
func scalarToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to.Kind() != reflect.String {
			return data, nil
		}
		switch val := data.(type) {
		case bool:
			return strconv.FormatBool(val), nil
		case int:
			return strconv.Itoa(val), nil
		case int64:
			return strconv.FormatInt(val, 10), nil
		case uint64:
			return strconv.FormatUint(val, 10), nil
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64), nil
		}
		return data, nil
	}
}

func (c *Config) normalize() {
	c.Broker.Type = strings.ToLower(strings.TrimSpace(c.Broker.Type))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	for _, target := range []*TargetConfig{&c.Transformer, &c.Sink} {
		target.Discovery.Mode = strings.ToLower(strings.TrimSpace(target.Discovery.Mode))
		target.Service.Scheme = strings.ToLower(strings.TrimSpace(target.Service.Scheme))
		if target.Service.Scheme == "" {
			target.Service.Scheme = "http"
		}
	}
	c.Dispatch.TransformStatusPolicy = strings.ToLower(strings.TrimSpace(c.Dispatch.TransformStatusPolicy))
	c.Dispatch.SinkStatusPolicy = strings.ToLower(strings.TrimSpace(c.Dispatch.SinkStatusPolicy))
	for i := range c.Pipelines {
		c.Pipelines[i].normalize()
	}
}
