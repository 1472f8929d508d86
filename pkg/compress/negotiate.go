package compress

import (
	"strconv"
	"strings"
)

// Negotiate picks the response codec from an Accept-Encoding header value.
// The supported coding with the highest q-value wins, earlier entries win
// ties. An empty header means identity. A header that accepts none of the
// supported codings yields CodecUnknown, which is transmitted as identity.
func Negotiate(acceptEncoding string) Codec {
	if strings.TrimSpace(acceptEncoding) == "" {
		return CodecIdentity
	}

	best, bestQ := CodecUnknown, 0.0
	for _, part := range strings.Split(acceptEncoding, ",") {
		token, q := parseCoding(part)
		if q <= 0 {
			continue
		}
		codec := CodecUnknown
		if token == "*" {
			codec = CodecGzip
		} else {
			codec = ParseCodec(token)
		}
		if codec == CodecUnknown || token == "" {
			continue
		}
		if q > bestQ {
			best, bestQ = codec, q
		}
	}
	return best
}

func parseCoding(part string) (string, float64) {
	fields := strings.Split(part, ";")
	token := strings.ToLower(strings.TrimSpace(fields[0]))
	q := 1.0
	for _, param := range fields[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return token, 0
		}
		q = parsed
	}
	return token, q
}
