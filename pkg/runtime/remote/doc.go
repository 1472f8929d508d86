// Package remote implements a runtime that forwards every call to an
// upstream inference server speaking the v2 HTTP protocol.
//
// Inference requests are re-encoded with binary tensor data, so inputs
// borrowed from the inbound body or from local shared memory reach the
// upstream without a JSON round trip. Outputs are requested in binary form
// as well. Shared-memory regions are held by a local registry: the gateway
// reads inputs from and writes outputs to them itself, and the upstream
// never sees a region name.
package remote
