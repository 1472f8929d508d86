// Package noop provides an authenticator that admits every request as the
// anonymous identity.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/tensorgate/pkg/auth"
)

// Authenticator always votes Yes.
type Authenticator struct{}

// Authenticate returns auth.Anonymous.
func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{Decision: auth.Yes, Identity: auth.Anonymous()}
}
