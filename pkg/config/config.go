// Package config loads the cnxstream settings from defaults, an optional YAML
// file, CNX_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/bqstore"
	"github.com/illmade-knight/go-cnxstream/pkg/cache"
	"github.com/illmade-knight/go-cnxstream/pkg/credential"
	"github.com/illmade-knight/go-cnxstream/pkg/enrichment"
	"github.com/illmade-knight/go-cnxstream/pkg/icestore"
	"github.com/illmade-knight/go-cnxstream/pkg/ingest"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/wsconnect"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, with dots in the key
// replaced by underscores: stream.tls_verify is read from CNX_STREAM_TLS_VERIFY.
const EnvPrefix = "CNX"

type Config struct {
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	TokenURL        string        `mapstructure:"token_url"`
	Scopes          []string      `mapstructure:"scopes"`
	TokenTimeout    time.Duration `mapstructure:"token_timeout"`
	TokenExpirySkew time.Duration `mapstructure:"token_expiry_skew"`
	WebsocketURL    string        `mapstructure:"websocket_url"`
	Endpoint        string        `mapstructure:"endpoint"`

	Stream     StreamConfig     `mapstructure:"stream"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Output     OutputConfig     `mapstructure:"output"`
	GCP        GCPConfig        `mapstructure:"gcp"`
	Pubsub     PubsubConfig     `mapstructure:"pubsub"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	IceStore   IceStoreConfig   `mapstructure:"icestore"`
	BigQuery   BigQueryConfig   `mapstructure:"bigquery"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
}

type StreamConfig struct {
	TLSVerify        bool          `mapstructure:"tls_verify"`
	CACertFile       string        `mapstructure:"ca_cert_file"`
	ClientCertFile   string        `mapstructure:"client_cert_file"`
	ClientKeyFile    string        `mapstructure:"client_key_file"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

type SupervisorConfig struct {
	Reconnect      bool          `mapstructure:"reconnect"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

// OutputConfig controls the console rendering of decoded events.
type OutputConfig struct {
	Console bool `mapstructure:"console"`
}

type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// PubsubConfig enables the Pub/Sub sink when TopicID is set. Records that
// fail to decode are also published to DeadLetterTopicID when it is set.
type PubsubConfig struct {
	TopicID           string        `mapstructure:"topic_id"`
	DeadLetterTopicID string        `mapstructure:"dead_letter_topic_id"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchDelay        time.Duration `mapstructure:"batch_delay"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type IceStoreConfig struct {
	Bucket        string        `mapstructure:"bucket"`
	Prefix        string        `mapstructure:"prefix"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type BigQueryConfig struct {
	DatasetID     string        `mapstructure:"dataset_id"`
	TableID       string        `mapstructure:"table_id"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// EnrichmentConfig selects where customer profiles come from. Source is one of
// "none", "static" (the Customers list) or "firestore", optionally fronted by
// Redis when RedisAddr is set. An in-memory LRU always sits in front.
type EnrichmentConfig struct {
	Source              string                       `mapstructure:"source"`
	FetchTimeout        time.Duration                `mapstructure:"fetch_timeout"`
	LRUSize             int                          `mapstructure:"lru_size"`
	LRUTTL              time.Duration                `mapstructure:"lru_ttl"`
	RedisAddr           string                       `mapstructure:"redis_addr"`
	RedisPassword       string                       `mapstructure:"redis_password"`
	RedisDB             int                          `mapstructure:"redis_db"`
	RedisTTL            time.Duration                `mapstructure:"redis_ttl"`
	FirestoreCollection string                       `mapstructure:"firestore_collection"`
	Customers           []enrichment.CustomerProfile `mapstructure:"customers"`
}

// Enrichment sources.
const (
	SourceNone      = "none"
	SourceStatic    = "static"
	SourceFirestore = "firestore"
)

// flagKeys maps each flag registered by RegisterFlags to its config key.
var flagKeys = map[string]string{
	"client-id":       "client_id",
	"client-secret":   "client_secret",
	"token-url":       "token_url",
	"websocket-url":   "websocket_url",
	"endpoint":        "endpoint",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"http-port":       "http.port",
	"reconnect":       "supervisor.reconnect",
	"console":         "output.console",
	"tls-verify":      "stream.tls_verify",
	"pubsub-topic":    "pubsub.topic_id",
	"kafka-topic":     "kafka.topic",
	"icestore-bucket": "icestore.bucket",
}

// RegisterFlags adds the command line overrides to fs. Their defaults match the
// config defaults so an unset flag never masks a file or environment value.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("client-id", "", "OAuth2 client ID")
	fs.String("client-secret", "", "OAuth2 client secret")
	fs.String("token-url", "", "OAuth2 token endpoint")
	fs.String("websocket-url", "", "base websocket URL of the streaming service")
	fs.String("endpoint", "", "stream endpoint path appended to the websocket URL")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json, console)")
	fs.String("http-port", ":8080", "listen address of the health and metrics server")
	fs.Bool("reconnect", true, "reconnect after the stream terminates")
	fs.Bool("console", true, "print decoded events to stdout")
	fs.Bool("tls-verify", true, "verify the server certificate")
	fs.String("pubsub-topic", "", "publish event records to this Pub/Sub topic")
	fs.String("kafka-topic", "", "write event records to this Kafka topic")
	fs.String("icestore-bucket", "", "archive raw envelopes to this GCS bucket")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("token_url", "")
	v.SetDefault("scopes", []string{})
	v.SetDefault("token_timeout", "30s")
	v.SetDefault("token_expiry_skew", "1m")
	v.SetDefault("websocket_url", "")
	v.SetDefault("endpoint", "")

	v.SetDefault("stream.tls_verify", true)
	v.SetDefault("stream.ca_cert_file", "")
	v.SetDefault("stream.client_cert_file", "")
	v.SetDefault("stream.client_key_file", "")
	v.SetDefault("stream.handshake_timeout", "30s")
	v.SetDefault("stream.ping_interval", "0s")
	v.SetDefault("stream.read_limit", wsconnect.DefaultReadLimit)
	v.SetDefault("stream.read_timeout", wsconnect.DefaultReadTimeout.String())

	v.SetDefault("supervisor.reconnect", true)
	v.SetDefault("supervisor.max_attempts", 10)
	v.SetDefault("supervisor.initial_backoff", "1s")
	v.SetDefault("supervisor.max_backoff", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", ":8080")

	v.SetDefault("output.console", true)

	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	v.SetDefault("pubsub.topic_id", "")
	v.SetDefault("pubsub.dead_letter_topic_id", "")
	v.SetDefault("pubsub.batch_size", 100)
	v.SetDefault("pubsub.batch_delay", "100ms")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "")

	v.SetDefault("icestore.bucket", "")
	v.SetDefault("icestore.prefix", "envelopes")
	v.SetDefault("icestore.batch_size", 100)
	v.SetDefault("icestore.flush_interval", "1m")

	v.SetDefault("bigquery.dataset_id", "")
	v.SetDefault("bigquery.table_id", "events")
	v.SetDefault("bigquery.batch_size", 500)
	v.SetDefault("bigquery.flush_interval", "5s")

	v.SetDefault("enrichment.source", SourceNone)
	v.SetDefault("enrichment.fetch_timeout", "2s")
	v.SetDefault("enrichment.lru_size", 1000)
	v.SetDefault("enrichment.lru_ttl", "5m")
	v.SetDefault("enrichment.redis_addr", "")
	v.SetDefault("enrichment.redis_password", "")
	v.SetDefault("enrichment.redis_db", 0)
	v.SetDefault("enrichment.redis_ttl", "1h")
	v.SetDefault("enrichment.firestore_collection", "customers")
}

// Load reads the configuration. configPath names an explicit file; when empty
// config.yaml is looked for in the working directory and /etc/cnxstream, and
// its absence is not an error. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cnxstream")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// EnvName returns the environment variable that sets key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate reports every missing or inconsistent value in one error, naming the
// environment variable that would supply it.
func (c *Config) Validate() error {
	var missing []string
	require := func(val, key string) {
		if val == "" {
			missing = append(missing, EnvName(key))
		}
	}

	require(c.ClientID, "client_id")
	require(c.ClientSecret, "client_secret")
	require(c.TokenURL, "token_url")
	require(c.WebsocketURL, "websocket_url")
	require(c.Endpoint, "endpoint")

	if c.Pubsub.TopicID != "" || c.Pubsub.DeadLetterTopicID != "" || c.BigQuery.DatasetID != "" ||
		c.Enrichment.Source == SourceFirestore {
		require(c.GCP.ProjectID, "gcp.project_id")
	}
	if c.BigQuery.DatasetID != "" {
		require(c.BigQuery.TableID, "bigquery.table_id")
	}
	if len(c.Kafka.Brokers) > 0 {
		require(c.Kafka.Topic, "kafka.topic")
	}
	if c.Kafka.Topic != "" && len(c.Kafka.Brokers) == 0 {
		missing = append(missing, EnvName("kafka.brokers"))
	}
	if c.Enrichment.Source == SourceFirestore {
		require(c.Enrichment.FirestoreCollection, "enrichment.firestore_collection")
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required configuration: "+strings.Join(missing, ", "))
	}
	switch c.Enrichment.Source {
	case SourceNone, SourceStatic, SourceFirestore:
	default:
		problems = append(problems, fmt.Sprintf("unknown enrichment source %q", c.Enrichment.Source))
	}
	if (c.Stream.ClientCertFile == "") != (c.Stream.ClientKeyFile == "") {
		problems = append(problems, "client certificate and key must be set together")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Credential returns the token fetcher settings.
func (c *Config) Credential() credential.Config {
	return credential.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
		Timeout:      c.TokenTimeout,
		ExpirySkew:   c.TokenExpirySkew,
	}
}

// Websocket returns the connection settings.
func (c *Config) Websocket() *wsconnect.Config {
	return &wsconnect.Config{
		URL:              c.WebsocketURL,
		Endpoint:         c.Endpoint,
		TLSVerify:        c.Stream.TLSVerify,
		CACertFile:       c.Stream.CACertFile,
		ClientCertFile:   c.Stream.ClientCertFile,
		ClientKeyFile:    c.Stream.ClientKeyFile,
		HandshakeTimeout: c.Stream.HandshakeTimeout,
		ReadLimit:        c.Stream.ReadLimit,
		PingInterval:     c.Stream.PingInterval,
		ReadTimeout:      c.Stream.ReadTimeout,
	}
}

// SupervisorPolicy returns the reconnect policy. Hooks are left for the caller.
func (c *Config) SupervisorPolicy() ingest.SupervisorConfig {
	return ingest.SupervisorConfig{
		Reconnect:      c.Supervisor.Reconnect,
		MaxAttempts:    c.Supervisor.MaxAttempts,
		InitialBackoff: c.Supervisor.InitialBackoff,
		MaxBackoff:     c.Supervisor.MaxBackoff,
	}
}

func (c *Config) PubsubProducer() *messagepipeline.GooglePubsubProducerConfig {
	cfg := messagepipeline.NewGooglePubsubProducerDefaults()
	cfg.ProjectID = c.GCP.ProjectID
	cfg.TopicID = c.Pubsub.TopicID
	if c.Pubsub.BatchSize > 0 {
		cfg.BatchSize = c.Pubsub.BatchSize
	}
	if c.Pubsub.BatchDelay > 0 {
		cfg.BatchDelay = c.Pubsub.BatchDelay
	}
	return cfg
}

func (c *Config) KafkaProducer() *messagepipeline.KafkaProducerConfig {
	cfg := messagepipeline.NewKafkaProducerDefaults()
	cfg.Brokers = c.Kafka.Brokers
	cfg.Topic = c.Kafka.Topic
	return cfg
}

func (c *Config) IceStoreUploader() icestore.GCSBatchUploaderConfig {
	return icestore.GCSBatchUploaderConfig{
		BucketName:   c.IceStore.Bucket,
		ObjectPrefix: c.IceStore.Prefix,
	}
}

func (c *Config) IceStoreBatcher() *icestore.BatcherConfig {
	cfg := icestore.NewBatcherDefaults()
	if c.IceStore.BatchSize > 0 {
		cfg.BatchSize = c.IceStore.BatchSize
	}
	if c.IceStore.FlushInterval > 0 {
		cfg.FlushInterval = c.IceStore.FlushInterval
	}
	return cfg
}

func (c *Config) BigQueryDataset() *bqstore.BigQueryDatasetConfig {
	return &bqstore.BigQueryDatasetConfig{
		ProjectID:       c.GCP.ProjectID,
		DatasetID:       c.BigQuery.DatasetID,
		TableID:         c.BigQuery.TableID,
		CredentialsFile: c.GCP.CredentialsFile,
	}
}

func (c *Config) BigQueryBatcher() *bqstore.BatchInserterConfig {
	cfg := bqstore.NewBatchInserterDefaults()
	if c.BigQuery.BatchSize > 0 {
		cfg.BatchSize = c.BigQuery.BatchSize
	}
	if c.BigQuery.FlushInterval > 0 {
		cfg.FlushInterval = c.BigQuery.FlushInterval
	}
	return cfg
}

func (c *Config) Redis() *cache.RedisConfig {
	cfg := cache.LoadRedisConfigFromEnv()
	cfg.Addr = c.Enrichment.RedisAddr
	cfg.Password = c.Enrichment.RedisPassword
	cfg.DB = c.Enrichment.RedisDB
	if c.Enrichment.RedisTTL > 0 {
		cfg.CacheTTL = c.Enrichment.RedisTTL
	}
	return cfg
}

func (c *Config) Firestore() *cache.FirestoreConfig {
	return &cache.FirestoreConfig{
		ProjectID:      c.GCP.ProjectID,
		CollectionName: c.Enrichment.FirestoreCollection,
	}
}
