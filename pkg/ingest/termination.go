package ingest

import (
	"fmt"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/types"
)

// Reason says why a loop run ended.
type Reason int

const (
	// Cancelled means the caller's context was cancelled.
	Cancelled Reason = iota
	// PeerClosed means the remote end closed the stream normally.
	PeerClosed
	// ConnectionFailed means Receive returned a transport error.
	ConnectionFailed
	// FatalProtocolError means a received message was not a valid envelope.
	FatalProtocolError
)

func (r Reason) String() string {
	switch r {
	case Cancelled:
		return "cancelled"
	case PeerClosed:
		return "peer_closed"
	case ConnectionFailed:
		return "connection_failed"
	case FatalProtocolError:
		return "fatal_protocol_error"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Termination is the result of Loop.Run.
type Termination struct {
	Reason Reason
	// Err is the underlying cause. It is nil for Cancelled and PeerClosed.
	Err error
	// Received counts the messages read from the connection during the run.
	Received int
}

func (t Termination) String() string {
	if t.Err != nil {
		return fmt.Sprintf("%s after %d messages: %v", t.Reason, t.Received, t.Err)
	}
	return fmt.Sprintf("%s after %d messages", t.Reason, t.Received)
}

// Delivery is one received message after classification and decoding. The
// handler owns it once called.
type Delivery struct {
	ID         string
	ReceivedAt time.Time
	Size       int
	Tier       types.Tier
	Raw        []byte
	Envelope   *types.RawEnvelope
	Event      types.DecodedEvent
}
