// Package api defines the canonical inference types shared by the wire
// decoder, the response encoder and the runtime.
//
// The types are format agnostic. The wire package turns HTTP bodies into an
// [InferRequest] and an [InferResponse] back into bytes; a runtime only ever
// sees these canonical values.
//
// Core types:
//   - [Tensor]: named input tensor with datatype, shape and a [DataLocation]
//   - [DataLocation]: tagged union over owned bytes, borrowed body ranges and shared memory
//   - [InferRequest]: canonical inference request with requested outputs
//   - [InferResponse]: ordered output tensors produced by the runtime
//   - [APIError]: structured error with type, param and message
//
// The package performs no I/O and has no dependencies outside the standard library.
package api
