// Package wsconnect opens authenticated websocket connections to the event
// stream and adapts them to the ingest.Connection interface.
package wsconnect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/illmade-knight/go-cnxstream/pkg/ingest"
	"github.com/rs/zerolog"
)

// Dialer opens stream connections using a fixed Config.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger zerolog.Logger
}

// NewDialer validates cfg and prepares the websocket dialer.
func NewDialer(cfg *Config, logger zerolog.Logger) (*Dialer, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("websocket URL is required")
	}
	u := strings.ToLower(cfg.URL)
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return nil, fmt.Errorf("websocket URL must use ws:// or wss://, got %q", cfg.URL)
	}

	ws := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if strings.HasPrefix(u, "wss://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		ws.TLSClientConfig = tlsConfig
	}

	l := logger.With().Str("component", "StreamDialer").Logger()
	if !cfg.TLSVerify {
		l.Warn().Msg("TLS certificate verification is disabled for the stream connection.")
	}
	return &Dialer{cfg: *cfg, ws: ws, logger: l}, nil
}

// Connect performs the opening handshake with an Authorization: Bearer header.
// A rejected handshake is returned as a *HandshakeError.
func (d *Dialer) Connect(ctx context.Context, bearerToken string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearerToken)

	target := d.cfg.StreamURL()
	d.logger.Info().Str("url", target).Msg("Connecting to event stream...")
	ws, resp, err := d.ws.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	if d.cfg.ReadLimit > 0 {
		ws.SetReadLimit(d.cfg.ReadLimit)
	}
	d.logger.Info().Str("url", target).Msg("Connected to event stream.")
	return newConn(ws, d.cfg.PingInterval, d.cfg.ReadTimeout, d.logger), nil
}

// Factory adapts the dialer to ingest.ConnectionFactory.
func (d *Dialer) Factory() ingest.ConnectionFactory {
	return ingest.ConnectionFactoryFunc(func(ctx context.Context, bearerToken string) (ingest.Connection, error) {
		c, err := d.Connect(ctx, bearerToken)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Conn is one open stream connection.
type Conn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
	logger      zerolog.Logger
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newConn(ws *websocket.Conn, pingInterval, readTimeout time.Duration, logger zerolog.Logger) *Conn {
	c := &Conn{ws: ws, readTimeout: readTimeout, logger: logger, done: make(chan struct{})}
	if readTimeout > 0 {
		// A pong proves the peer is alive even when no events are flowing.
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}
	if pingInterval > 0 {
		go c.keepAlive(pingInterval)
	}
	return c
}

// Receive blocks until a complete data message arrives. A normal close by the
// server is reported as an error wrapping ingest.ErrPeerClosed. When a read
// timeout is configured, silence beyond it is reported as a read error.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.readTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("%w: %v", ingest.ErrPeerClosed, err)
		}
		return nil, fmt.Errorf("read stream message: %w", err)
	}
	return data, nil
}

// Close sends a close frame, best effort, and closes the socket. It is safe to
// call more than once and concurrently with Receive.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			c.logger.Debug().Err(err).Msg("Could not send close frame.")
		}
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send keep-alive ping.")
				return
			}
		}
	}
}

func newTLSConfig(cfg *Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.TLSVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
