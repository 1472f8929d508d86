package compress

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rhuss/tensorgate/pkg/observability"
)

func sampleBody() [][]byte {
	return [][]byte{
		[]byte(`{"Response":[{"name":"out","datatype":"FP32","shape":[4],"data":[1,2,3,4]}]}`),
		bytes.Repeat([]byte{0, 1, 2, 3}, 256),
	}
}

func joined(body [][]byte) []byte {
	return bytes.Join(body, nil)
}

func TestCompressRoundTrip(t *testing.T) {
	c := New()
	for _, codec := range []Codec{CodecGzip, CodecDeflate, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			out, effective := c.Compress(sampleBody(), codec)
			if effective != codec {
				t.Fatalf("effective codec = %v, want %v", effective, codec)
			}
			if len(out) != 1 {
				t.Fatalf("compressed body has %d segments, want 1", len(out))
			}

			r, err := c.Decompress(bytes.NewReader(out[0]), codec)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, joined(sampleBody())) {
				t.Error("decompressed body does not match original")
			}
		})
	}
}

func TestCompressPassThrough(t *testing.T) {
	c := New()
	body := sampleBody()

	for _, tt := range []struct {
		requested Codec
		want      Codec
	}{
		{CodecIdentity, CodecIdentity},
		{CodecUnknown, CodecUnknown},
	} {
		out, effective := c.Compress(body, tt.requested)
		if effective != tt.want {
			t.Errorf("Compress(%v) effective = %v, want %v", tt.requested, effective, tt.want)
		}
		if len(out) != len(body) || &out[1][0] != &body[1][0] {
			t.Errorf("Compress(%v) should return the body segments untouched", tt.requested)
		}
	}
}

func TestCompressFallbackOnFailure(t *testing.T) {
	failing := func(io.Writer, [][]byte, int) error { return errors.New("deflate stream broke") }
	c := New(WithCodec(CodecGzip, failing))

	before := fallbackCount(t, "gzip")
	body := sampleBody()
	out, effective := c.Compress(body, CodecGzip)

	if effective != CodecIdentity {
		t.Errorf("effective codec = %v, want identity", effective)
	}
	if effective.ContentEncoding() != "" {
		t.Errorf("identity should send no Content-Encoding, got %q", effective.ContentEncoding())
	}
	if !bytes.Equal(joined(out), joined(body)) {
		t.Error("fallback body differs from the uncompressed body")
	}
	if after := fallbackCount(t, "gzip"); after-before != 1 {
		t.Errorf("fallback counter delta = %f, want 1", after-before)
	}
}

func TestCompressEmptyBody(t *testing.T) {
	c := New()
	out, effective := c.Compress(nil, CodecGzip)
	if effective != CodecGzip {
		t.Fatalf("effective codec = %v, want gzip", effective)
	}
	r, err := c.Decompress(bytes.NewReader(joined(out)), CodecGzip)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	got, _ := io.ReadAll(r)
	if len(got) != 0 {
		t.Errorf("decompressed %d bytes, want 0", len(got))
	}
}

func TestDecompressErrors(t *testing.T) {
	c := New()
	if _, err := c.Decompress(bytes.NewReader([]byte("not gzip")), CodecGzip); err == nil {
		t.Error("expected error for invalid gzip header")
	}
	if _, err := c.Decompress(bytes.NewReader(nil), CodecUnknown); err == nil {
		t.Error("expected error for unknown codec")
	}
	r, err := c.Decompress(bytes.NewReader([]byte("plain")), CodecIdentity)
	if err != nil {
		t.Fatalf("identity Decompress: %v", err)
	}
	if got, _ := io.ReadAll(r); string(got) != "plain" {
		t.Errorf("identity body = %q", got)
	}
}

func TestParseCodec(t *testing.T) {
	tests := map[string]Codec{
		"":         CodecIdentity,
		"identity": CodecIdentity,
		"GZIP":     CodecGzip,
		"x-gzip":   CodecGzip,
		"deflate":  CodecDeflate,
		"zstd":     CodecZstd,
		"br":       CodecUnknown,
	}
	for in, want := range tests {
		if got := ParseCodec(in); got != want {
			t.Errorf("ParseCodec(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		header string
		want   Codec
	}{
		{"", CodecIdentity},
		{"gzip", CodecGzip},
		{"deflate, gzip", CodecDeflate},
		{"deflate;q=0.5, gzip;q=0.8", CodecGzip},
		{"gzip;q=0, identity", CodecIdentity},
		{"br", CodecUnknown},
		{"br, zstd;q=0.1", CodecZstd},
		{"*", CodecGzip},
		{"gzip;q=abc, deflate", CodecDeflate},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := Negotiate(tt.header); got != tt.want {
				t.Errorf("Negotiate(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func fallbackCount(t *testing.T, codec string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := observability.CompressionFallbacksTotal.GetMetricWithLabelValues(codec)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
