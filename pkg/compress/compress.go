// Package compress applies HTTP content codings to response bodies and
// removes them from request bodies.
//
// Response compression never fails a request: when a codec errors, the
// attempt is discarded, the failure is logged and counted, and the original
// body is returned with [CodecIdentity] as the effective codec. Callers must
// advertise the effective codec, not the requested one.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/rhuss/tensorgate/pkg/debug"
	"github.com/rhuss/tensorgate/pkg/observability"
)

// Codec identifies a content coding.
type Codec int

const (
	CodecIdentity Codec = iota
	CodecGzip
	CodecDeflate
	CodecZstd
	CodecUnknown
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case CodecIdentity:
		return "identity"
	case CodecGzip:
		return "gzip"
	case CodecDeflate:
		return "deflate"
	case CodecZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ContentEncoding returns the Content-Encoding header value for c, or ""
// when no header should be sent.
func (c Codec) ContentEncoding() string {
	switch c {
	case CodecGzip, CodecDeflate, CodecZstd:
		return c.String()
	default:
		return ""
	}
}

// ParseCodec maps a content-coding token to a Codec. The empty string is
// identity; unsupported tokens are CodecUnknown.
func ParseCodec(s string) Codec {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "identity", "none":
		return CodecIdentity
	case "gzip", "x-gzip":
		return CodecGzip
	case "deflate":
		return CodecDeflate
	case "zstd":
		return CodecZstd
	default:
		return CodecUnknown
	}
}

// Func writes the compressed form of body to dst.
type Func func(dst io.Writer, body [][]byte, level int) error

// Compressor compresses response bodies and decompresses request bodies.
// It holds only configuration and is safe for concurrent use.
type Compressor struct {
	level  int
	codecs map[Codec]Func
	logger *slog.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithLevel sets the compression level passed to every codec. Levels follow
// the flate convention (-1 default, 1 fastest, 9 best).
func WithLevel(level int) Option {
	return func(c *Compressor) { c.level = level }
}

// WithCodec replaces the implementation of one codec.
func WithCodec(codec Codec, fn Func) Option {
	return func(c *Compressor) { c.codecs[codec] = fn }
}

// WithLogger sets the logger used to report compression failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compressor) { c.logger = l }
}

// New creates a Compressor with the gzip, deflate and zstd codecs.
func New(opts ...Option) *Compressor {
	c := &Compressor{
		level: flate.DefaultCompression,
		codecs: map[Codec]Func{
			CodecGzip:    gzipBody,
			CodecDeflate: deflateBody,
			CodecZstd:    zstdBody,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress applies requested to body. It returns the bytes to transmit and
// the codec actually applied.
func (c *Compressor) Compress(body [][]byte, requested Codec) ([][]byte, Codec) {
	fn, ok := c.codecs[requested]
	if !ok {
		// Identity and unknown codings pass through unchanged.
		return body, identityFor(requested)
	}

	var buf bytes.Buffer
	if err := fn(&buf, body, c.level); err != nil {
		c.logger.Warn("unable to compress response",
			slog.String("codec", requested.String()),
			slog.String("error", err.Error()),
		)
		observability.CompressionFallbacksTotal.WithLabelValues(requested.String()).Inc()
		return body, CodecIdentity
	}

	debug.Log("compress", "response compressed",
		"codec", requested.String(), "in", totalSize(body), "out", buf.Len())
	return [][]byte{buf.Bytes()}, requested
}

func identityFor(c Codec) Codec {
	if c == CodecUnknown {
		return CodecUnknown
	}
	return CodecIdentity
}

// Decompress wraps r so that reads return the decoded body.
func (c *Compressor) Decompress(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecIdentity:
		return io.NopCloser(r), nil
	case CodecGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case CodecDeflate:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return zr, nil
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", codec)
	}
}

func gzipBody(dst io.Writer, body [][]byte, level int) error {
	w, err := gzip.NewWriterLevel(dst, level)
	if err != nil {
		return err
	}
	return writeAllAndClose(w, body)
}

// deflateBody produces the zlib-wrapped stream HTTP calls "deflate".
func deflateBody(dst io.Writer, body [][]byte, level int) error {
	w, err := zlib.NewWriterLevel(dst, level)
	if err != nil {
		return err
	}
	return writeAllAndClose(w, body)
}

func zstdBody(dst io.Writer, body [][]byte, level int) error {
	w, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return err
	}
	return writeAllAndClose(w, body)
}

// zstdLevel maps a flate-style level onto the zstd speed presets.
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level < 0:
		return zstd.SpeedDefault
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 8:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func writeAllAndClose(w io.WriteCloser, body [][]byte) error {
	for _, b := range body {
		if _, err := w.Write(b); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func totalSize(body [][]byte) int {
	n := 0
	for _, b := range body {
		n += len(b)
	}
	return n
}
