// Package auth implements the broker's pluggable authentication
// backends (§6): authfile (bcrypt secrets in SQLite or a JSON file),
// webauth (delegate to an HTTP endpoint), a single shared password, and
// an accept-all provider for brokers run without access control.
package auth

import (
	"github.com/pyr33x/goqttd/internal/session"
)

// Authenticator decides whether a CONNECT may proceed and, if so, what
// the resulting session is authorized to publish and subscribe to.
type Authenticator interface {
	Authenticate(clientID, username, password string) (session.Authorization, error)
}

// allAuthorization is granted by providers that don't model per-user
// publish/subscribe masks (password, none).
var allAuthorization = session.Authorization{PublishAll: true, SubscribeAll: true}
