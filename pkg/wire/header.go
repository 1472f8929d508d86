package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/rhuss/tensorgate/pkg/api"
)

// Header is the JSON header at the front of a request body.
type Header struct {
	ID         string             `json:"id,omitempty"`
	Parameters *RequestParameters `json:"parameters,omitempty"`
	Inputs     []InputHeader      `json:"inputs"`
	Outputs    []OutputHeader     `json:"outputs,omitempty"`
}

// RequestParameters holds request level parameters.
type RequestParameters struct {
	// SequenceID is an unsigned integer or a string.
	SequenceID       json.RawMessage `json:"sequence_id,omitempty"`
	SequenceStart    bool            `json:"sequence_start,omitempty"`
	SequenceEnd      bool            `json:"sequence_end,omitempty"`
	Priority         uint64          `json:"priority,omitempty"`
	Timeout          uint64          `json:"timeout,omitempty"`
	BinaryDataOutput bool            `json:"binary_data_output,omitempty"`
}

// InputHeader describes one input tensor.
type InputHeader struct {
	Name       string           `json:"name"`
	DataType   string           `json:"datatype"`
	Shape      []int64          `json:"shape"`
	Parameters *InputParameters `json:"parameters,omitempty"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

// SharedMemoryParam points a tensor at a registered shared-memory region.
type SharedMemoryParam struct {
	Name     string `json:"name"`
	Offset   uint64 `json:"offset,omitempty"`
	ByteSize uint64 `json:"byte_size"`
}

// InputParameters holds per-input parameters. The flat
// shared_memory_region keys are accepted as an alternative to the nested
// shared_memory object.
type InputParameters struct {
	BinaryDataSize       *uint64            `json:"binary_data_size,omitempty"`
	SharedMemory         *SharedMemoryParam `json:"shared_memory,omitempty"`
	SharedMemoryRegion   string             `json:"shared_memory_region,omitempty"`
	SharedMemoryOffset   uint64             `json:"shared_memory_offset,omitempty"`
	SharedMemoryByteSize uint64             `json:"shared_memory_byte_size,omitempty"`
}

// sharedMemory returns the shared-memory reference in either form.
func (p *InputParameters) sharedMemory() *SharedMemoryParam {
	if p == nil {
		return nil
	}
	if p.SharedMemory != nil {
		return p.SharedMemory
	}
	if p.SharedMemoryRegion != "" {
		return &SharedMemoryParam{
			Name:     p.SharedMemoryRegion,
			Offset:   p.SharedMemoryOffset,
			ByteSize: p.SharedMemoryByteSize,
		}
	}
	return nil
}

// OutputHeader describes one requested output.
type OutputHeader struct {
	Name       string            `json:"name"`
	Parameters *OutputParameters `json:"parameters,omitempty"`
}

// OutputParameters holds per-output parameters.
type OutputParameters struct {
	BinaryData     *bool                    `json:"binary_data,omitempty"`
	Classification *ClassificationParameter `json:"classification,omitempty"`
	SharedMemory   *SharedMemoryParam       `json:"shared_memory,omitempty"`

	SharedMemoryRegion   string `json:"shared_memory_region,omitempty"`
	SharedMemoryOffset   uint64 `json:"shared_memory_offset,omitempty"`
	SharedMemoryByteSize uint64 `json:"shared_memory_byte_size,omitempty"`
}

func (p *OutputParameters) sharedMemory() *SharedMemoryParam {
	if p == nil {
		return nil
	}
	if p.SharedMemory != nil {
		return p.SharedMemory
	}
	if p.SharedMemoryRegion != "" {
		return &SharedMemoryParam{
			Name:     p.SharedMemoryRegion,
			Offset:   p.SharedMemoryOffset,
			ByteSize: p.SharedMemoryByteSize,
		}
	}
	return nil
}

// ClassificationParameter requests top-k classification of an output.
// It decodes from either {"count": k} or a bare integer k.
type ClassificationParameter struct {
	Count int `json:"count"`
}

// UnmarshalJSON accepts both the object and the integer form.
func (c *ClassificationParameter) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return json.Unmarshal(trimmed, &c.Count)
	}
	type plain ClassificationParameter
	return json.Unmarshal(trimmed, (*plain)(c))
}

// ParseHeader parses a JSON request header. Errors are InvalidArgument.
func ParseHeader(raw []byte) (*Header, error) {
	var h Header
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&h); err != nil {
		return nil, api.InvalidArgumentf("failed to parse the request JSON buffer: %v", err)
	}
	if dec.More() {
		return nil, api.InvalidArgumentf("failed to parse the request JSON buffer: trailing data after header")
	}
	return &h, nil
}

// correlationID converts the raw sequence_id. Integers that do not fit a
// uint64 fall back to their textual form.
func correlationID(raw json.RawMessage) (api.CorrelationID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return api.CorrelationID{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return api.CorrelationID{}, api.NewInvalidArgumentError("sequence_id", "sequence_id must be an unsigned integer or a string")
		}
		return api.StringCorrelationID(s), nil
	}
	if v, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
		return api.UintCorrelationID(v), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return api.CorrelationID{}, api.NewInvalidArgumentError("sequence_id", "sequence_id must be an unsigned integer or a string")
	}
	return api.StringCorrelationID(n.String()), nil
}

// FixedHeader is a header agreed with clients out of band. The first Length
// bytes of every request body are skipped and the parsed header is used in
// their place. A FixedHeader is immutable once created.
type FixedHeader struct {
	Length int
	header *Header
}

// NewFixedHeader parses raw once. A negative length means len(raw).
func NewFixedHeader(raw []byte, length int) (*FixedHeader, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("fixed header: %w", err)
	}
	if len(h.Inputs) != 1 {
		return nil, fmt.Errorf("fixed header: expected exactly 1 input, got %d", len(h.Inputs))
	}
	if length < 0 {
		length = len(raw)
	}
	return &FixedHeader{Length: length, header: h}, nil
}

// LoadFixedHeader reads and parses a fixed header from path.
func LoadFixedHeader(path string, length int) (*FixedHeader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixed header: %w", err)
	}
	return NewFixedHeader(raw, length)
}

// Header returns the parsed header. Callers must not modify it.
func (f *FixedHeader) Header() *Header { return f.header }
