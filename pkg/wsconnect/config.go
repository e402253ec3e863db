package wsconnect

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the websocket connection settings for the event stream.
type Config struct {
	// URL is the base websocket URL of the streaming service.
	// Example: "wss://streaming.example.com"
	URL string
	// Endpoint is the stream path appended to URL.
	Endpoint string
	// TLSVerify controls server certificate verification. Defaults to true.
	TLSVerify bool
	// CACertFile is an optional PEM file of CAs trusted for the server certificate.
	CACertFile string
	// ClientCertFile and ClientKeyFile optionally configure mTLS.
	ClientCertFile string
	ClientKeyFile  string
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// ReadLimit is the largest message accepted, in bytes. Zero means no limit.
	ReadLimit int64
	// PingInterval sends keep-alive pings when positive.
	PingInterval time.Duration
	// ReadTimeout fails a connection that delivers neither a message nor a
	// pong for this long. Zero waits forever.
	ReadTimeout time.Duration
}

// Env constants for the stream connection.
const (
	EnvWebsocketURL            = "CNX_WEBSOCKET_URL"
	EnvEndpoint                = "CNX_ENDPOINT"
	EnvTLSVerify               = "CNX_TLS_VERIFY"
	EnvCACertFile              = "CNX_CA_CERT_FILE"
	EnvHandshakeTimeoutSeconds = "CNX_HANDSHAKE_TIMEOUT_SECONDS"
	EnvPingIntervalSeconds     = "CNX_PING_INTERVAL_SECONDS"
	EnvReadTimeoutSeconds      = "CNX_READ_TIMEOUT_SECONDS"
)

// DefaultReadLimit is large enough for any heavyweight event seen on the stream.
const DefaultReadLimit = 16 << 20

// DefaultReadTimeout is how long a connection may stay silent before it is
// treated as failed.
const DefaultReadTimeout = 60 * time.Second

// LoadConfigFromEnv loads the connection settings from the environment, using
// defaults for anything unset or unparsable.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		URL:              os.Getenv(EnvWebsocketURL),
		Endpoint:         os.Getenv(EnvEndpoint),
		TLSVerify:        true,
		CACertFile:       os.Getenv(EnvCACertFile),
		HandshakeTimeout: 30 * time.Second,
		ReadLimit:        DefaultReadLimit,
		ReadTimeout:      DefaultReadTimeout,
	}
	if v := os.Getenv(EnvTLSVerify); strings.EqualFold(v, "false") {
		cfg.TLSVerify = false
	}
	if v := os.Getenv(EnvHandshakeTimeoutSeconds); v != "" {
		d, err := time.ParseDuration(v + "s")
		if err == nil {
			cfg.HandshakeTimeout = d
		} else {
			log.Warn().Err(err).Msg("wsconnect: invalid handshake timeout, using default")
		}
	}
	if v := os.Getenv(EnvPingIntervalSeconds); v != "" {
		d, err := time.ParseDuration(v + "s")
		if err == nil {
			cfg.PingInterval = d
		} else {
			log.Warn().Err(err).Msg("wsconnect: invalid ping interval, ignoring")
		}
	}
	if v := os.Getenv(EnvReadTimeoutSeconds); v != "" {
		d, err := time.ParseDuration(v + "s")
		if err == nil {
			cfg.ReadTimeout = d
		} else {
			log.Warn().Err(err).Msg("wsconnect: invalid read timeout, using default")
		}
	}
	return cfg
}

// StreamURL is the full URL dialled: the base URL with the endpoint appended.
func (c *Config) StreamURL() string {
	return c.URL + c.Endpoint
}
