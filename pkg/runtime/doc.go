// Package runtime defines the inference runtime the HTTP adapter dispatches
// to. The adapter decodes infer requests itself and hands every other route
// to the runtime unchanged. Two implementations live in subpackages: echo,
// an in-process runtime, and remote, a client for an upstream server that
// speaks the v2 inference protocol.
package runtime
