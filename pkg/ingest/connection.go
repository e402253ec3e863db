// Package ingest runs the receive/classify/decode/dispatch loop over a single
// streaming connection, and supervises reconnects across connections.
package ingest

import (
	"context"
	"errors"
)

// ErrPeerClosed is wrapped by a Connection's Receive error when the remote end
// closed the stream normally.
var ErrPeerClosed = errors.New("connection closed by peer")

// Connection is a message-oriented stream: each Receive yields one complete
// message. Close must be safe to call while a Receive is blocked and must make
// that Receive return.
type Connection interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// ConnectionFactory opens an authenticated Connection.
type ConnectionFactory interface {
	Connect(ctx context.Context, bearerToken string) (Connection, error)
}

// ConnectionFactoryFunc adapts a function to a ConnectionFactory.
type ConnectionFactoryFunc func(ctx context.Context, bearerToken string) (Connection, error)

func (f ConnectionFactoryFunc) Connect(ctx context.Context, bearerToken string) (Connection, error) {
	return f(ctx, bearerToken)
}

// TokenSource supplies bearer tokens. Invalidate discards any cached token so
// the next call to Token fetches a fresh one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}
