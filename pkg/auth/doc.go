// Package auth authenticates callers of the inference endpoints.
//
// Authenticators form a chain with three-outcome voting: each returns Yes
// (identity found), No (credentials invalid) or Abstain (cannot handle the
// credentials). The chain's default decision applies when everyone
// abstains.
//
// The HTTP middleware runs the chain, enforces per-identity model access
// and control scopes, applies an optional rate limit and stores the
// identity in the request context.
package auth
