// Package transport defines the inference handler contract and the
// middleware chain shared by the HTTP adapter.
//
// # Handler Interface
//
// Inferer is the contract between the transport layer and the inference
// runtime: it receives a decoded request and returns the runtime's
// response. The HTTP adapter decodes the wire body, calls the wrapped
// Inferer, and encodes the result.
//
// # Middleware
//
// The middleware chain wraps an Inferer with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured logging via log/slog.
//
// # Errors
//
// Handlers return *api.APIError values. HTTPStatusFromError maps error
// types to status codes and WriteAPIError writes the {"error": "..."} body.
package transport
