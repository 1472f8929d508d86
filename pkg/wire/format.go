package wire

import (
	"fmt"
	"strings"
)

// Format selects the request and response encoding.
type Format int

const (
	// FormatStandard is JSON header plus binary tensor data.
	FormatStandard Format = iota

	// FormatRecord is the compact fixed-header encoding whose responses are
	// the concatenated payloads of length-prefixed records.
	FormatRecord
)

// String returns the format name used in config and metrics.
func (f Format) String() string {
	switch f {
	case FormatStandard:
		return "standard"
	case FormatRecord:
		return "record"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// ParseFormat parses a format name. The legacy names TRITON and
// ADSBRAIN_BOND are accepted for the standard and record formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "triton", "":
		return FormatStandard, nil
	case "record", "adsbrain_bond", "bond":
		return FormatRecord, nil
	default:
		return 0, fmt.Errorf("unknown wire format %q", s)
	}
}
