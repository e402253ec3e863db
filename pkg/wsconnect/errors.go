package wsconnect

import (
	"fmt"
	"net/http"
)

// HandshakeError is returned when the server answered the opening handshake
// with a non-upgrade HTTP response.
type HandshakeError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake rejected: %s", e.Status)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Unauthorized reports whether the server rejected the bearer token.
func (e *HandshakeError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
