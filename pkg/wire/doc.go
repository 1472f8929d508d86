// Package wire translates between HTTP inference bodies and the canonical
// tensor types in pkg/api.
//
// A request body is a scatter list of byte segments ([Body]). The [Decoder]
// reads a JSON header from the front of the body and apportions the
// remaining bytes to the declared input with a [Cursor], borrowing body
// ranges instead of copying them. The [Encoder] turns runtime outputs into a
// response body: a JSON document followed by raw binary outputs in Standard
// format, or the concatenated element payloads in Record format.
//
// Two request encodings are supported:
//
//   - Standard: the header is read from the front of the body. Its length
//     comes from a pre-agreed [FixedHeader], the Inference-Header-Content-Length
//     HTTP header, or a little-endian uint32 trailer in the last 4 bytes of
//     the final segment, in that order of precedence.
//   - Record: the header is always the [FixedHeader]; every byte after it
//     belongs to the single input, without shape or size checks.
//
// Decoder and Encoder hold only immutable configuration and may be shared by
// concurrent requests.
package wire
