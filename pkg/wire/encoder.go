package wire

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/debug"
)

// Encoded is a response body ready to be written, possibly as several
// buffers that alias runtime output memory.
type Encoded struct {
	Format Format
	Body   [][]byte

	// HeaderLength is the length of the leading JSON document, 0 if none.
	HeaderLength int

	// HasBinary reports whether raw bytes follow the JSON document.
	HasBinary bool

	// Size is the total body length.
	Size int
}

// outputJSON is one output in the JSON response document.
type outputJSON struct {
	Name     string  `json:"name"`
	DataType string  `json:"datatype"`
	Shape    []int64 `json:"shape"`
	Data     []any   `json:"data"`
}

type responseJSON struct {
	Response []outputJSON `json:"Response"`
}

// Encoder turns runtime responses into response bodies.
type Encoder struct {
	format Format
}

// NewEncoder returns an encoder for the given format.
func NewEncoder(format Format) *Encoder {
	return &Encoder{format: format}
}

// Encode builds the response body for resp. Errors are *api.APIError of
// type internal.
func (e *Encoder) Encode(resp *api.InferResponse) (*Encoded, error) {
	switch e.format {
	case FormatStandard:
		return e.encodeStandard(resp)
	case FormatRecord:
		return e.encodeRecord(resp)
	default:
		return nil, api.NewInternalError(fmt.Sprintf("unsupported response format %s", e.format))
	}
}

func (e *Encoder) encodeStandard(resp *api.InferResponse) (*Encoded, error) {
	var entries []outputJSON
	var binaries [][]byte
	binarySize := 0

	for i := range resp.Outputs {
		out := &resp.Outputs[i]
		if out.Tag != nil && out.Tag.ClassificationCount > 0 {
			classified, err := classify(out, out.Tag.ClassificationCount)
			if err != nil {
				return nil, err
			}
			out = &classified
		}

		switch out.Kind() {
		case api.OutputSharedMemory:
			continue
		case api.OutputBinary:
			if len(out.Data) > 0 {
				binaries = append(binaries, out.Data)
				binarySize += len(out.Data)
			}
		default:
			vals, err := jsonValues(out.DataType, out.Data)
			if err != nil {
				return nil, api.NewInternalError(fmt.Sprintf("output '%s': %v", out.Name, err))
			}
			shape := out.Shape
			if shape == nil {
				shape = []int64{}
			}
			entries = append(entries, outputJSON{
				Name:     out.Name,
				DataType: string(out.DataType),
				Shape:    shape,
				Data:     vals,
			})
		}
	}

	enc := &Encoded{Format: FormatStandard}
	if len(entries) > 0 {
		doc, err := json.Marshal(responseJSON{Response: entries})
		if err != nil {
			return nil, api.NewInternalError(fmt.Sprintf("failed to serialize response: %v", err))
		}
		enc.Body = append(enc.Body, doc)
		enc.HeaderLength = len(doc)
	}
	enc.Body = append(enc.Body, binaries...)
	enc.HasBinary = binarySize > 0
	enc.Size = enc.HeaderLength + binarySize

	debug.Log("wire", "response encoded",
		"model", resp.ModelName, "json_outputs", len(entries), "binary_outputs", len(binaries), "size", enc.Size)
	return enc, nil
}

// encodeRecord strips the length prefix of every element and concatenates
// the payloads of all outputs into one buffer.
func (e *Encoder) encodeRecord(resp *api.InferResponse) (*Encoded, error) {
	payloads := make([][][]byte, 0, len(resp.Outputs))
	total := 0
	for i := range resp.Outputs {
		out := &resp.Outputs[i]
		if out.Kind() == api.OutputSharedMemory {
			continue
		}
		parts, err := splitStrings(out.Data)
		if err != nil {
			return nil, api.NewInternalError(fmt.Sprintf("output '%s' has malformed record framing: %v", out.Name, err))
		}
		for _, p := range parts {
			total += len(p)
		}
		payloads = append(payloads, parts)
	}

	buf := make([]byte, 0, total)
	for _, parts := range payloads {
		for _, p := range parts {
			buf = append(buf, p...)
		}
	}

	debug.Log("wire", "record response encoded", "model", resp.ModelName, "size", total)
	return &Encoded{
		Format:    FormatRecord,
		Body:      [][]byte{buf},
		HasBinary: total > 0,
		Size:      total,
	}, nil
}

// classify replaces a numeric output with its top k elements rendered as
// "value:index" strings, highest value first.
func classify(out *api.OutputTensor, k int) (api.OutputTensor, error) {
	vals, err := numericValues(out.DataType, out.Data)
	if err != nil {
		return api.OutputTensor{}, api.NewInternalError(fmt.Sprintf("classification of output '%s': %v", out.Name, err))
	}

	order := make([]int, len(vals))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(vals[b], vals[a])
	})
	k = min(k, len(order))

	var data []byte
	for _, idx := range order[:k] {
		s := strconv.FormatFloat(vals[idx], 'f', 6, 64) + ":" + strconv.Itoa(idx)
		data = binary.LittleEndian.AppendUint32(data, uint32(len(s)))
		data = append(data, s...)
	}

	return api.OutputTensor{
		Name:       out.Name,
		DataType:   api.DataTypeBytes,
		Shape:      []int64{int64(k)},
		Data:       data,
		MemoryType: api.MemoryTypeCPU,
		Tag:        out.Tag,
	}, nil
}
