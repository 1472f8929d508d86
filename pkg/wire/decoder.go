package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/debug"
	"github.com/rhuss/tensorgate/pkg/shm"
)

// trailerSize is the width of the little-endian header length trailer.
const trailerSize = 4

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	Format Format

	// FixedHeader, when set, replaces the per-request header. It is
	// required in record format.
	FixedHeader *FixedHeader
}

// DecodeOptions carries per-request values from the transport.
type DecodeOptions struct {
	ModelName    string
	ModelVersion string

	// HeaderLength is the header length announced by the client, used
	// instead of the trailer when HasHeaderLength is set and no fixed
	// header is configured. The header may then fill the whole body.
	HeaderLength    int
	HasHeaderLength bool
}

// Decoder turns request bodies into canonical requests.
type Decoder struct {
	format   Format
	fixed    *FixedHeader
	resolver shm.Resolver
}

// NewDecoder creates a decoder. The resolver may be nil, in which case
// shared-memory references are rejected.
func NewDecoder(cfg DecoderConfig, resolver shm.Resolver) (*Decoder, error) {
	switch cfg.Format {
	case FormatStandard:
	case FormatRecord:
		if cfg.FixedHeader == nil {
			return nil, errors.New("record format requires a fixed header")
		}
	default:
		return nil, fmt.Errorf("unsupported wire format %s", cfg.Format)
	}
	return &Decoder{format: cfg.Format, fixed: cfg.FixedHeader, resolver: resolver}, nil
}

// Format returns the decoder's wire format.
func (d *Decoder) Format() Format { return d.format }

// Decode parses body into a request for the named model. The returned
// request may borrow ranges of body; body must stay unmodified until the
// response has been written. All errors are *api.APIError.
func (d *Decoder) Decode(body Body, opts DecodeOptions) (*api.InferRequest, error) {
	if d.format == FormatRecord {
		return d.decodeRecord(body, opts)
	}
	return d.decodeStandard(body, opts)
}

func (d *Decoder) decodeStandard(body Body, opts DecodeOptions) (*api.InferRequest, error) {
	avail := body
	headerLen := 0
	headerOnly := false

	switch {
	case d.fixed != nil:
		headerLen = d.fixed.Length
	case opts.HasHeaderLength:
		headerLen = opts.HeaderLength
		headerOnly = true
	default:
		last, idx := body.lastSegment()
		if len(last) < trailerSize {
			return nil, api.NewInvalidArgumentError("", "request body is too short to hold the header length")
		}
		headerLen = int(binary.LittleEndian.Uint32(last[len(last)-trailerSize:]))
		avail = body.withoutTail(idx, trailerSize)
	}

	total := avail.Len()
	if headerLen < 0 || headerLen > total || (headerLen == total && !headerOnly) {
		return nil, api.InvalidArgumentf("header length %d must be less than the %d bytes of request body", headerLen, total)
	}

	cur := NewCursor(avail)
	var h *Header
	if d.fixed != nil {
		h = d.fixed.Header()
	} else {
		raw := cur.Peek(headerLen)
		debug.Dump("wire", "request header", raw)
		parsed, err := ParseHeader(raw)
		if err != nil {
			return nil, err
		}
		h = parsed
	}
	cur.Take(headerLen)

	debug.Log("wire", "request header decoded",
		"model", opts.ModelName, "header_len", headerLen, "body_len", total, "fixed", d.fixed != nil)

	req, err := d.newRequest(h, opts)
	if err != nil {
		return nil, err
	}

	in, err := d.decodeInput(&h.Inputs[0], cur)
	if err != nil {
		req.Release()
		return nil, err
	}
	req.Inputs = []api.Tensor{in}
	if !cur.Done() {
		req.Release()
		return nil, api.InvalidArgumentf("unexpected additional input data for model '%s': %d bytes left", opts.ModelName, cur.Remaining())
	}
	return req, nil
}

func (d *Decoder) decodeRecord(body Body, opts DecodeOptions) (*api.InferRequest, error) {
	total := body.Len()
	if d.fixed.Length >= total {
		return nil, api.InvalidArgumentf("header length %d must be less than the %d bytes of request body", d.fixed.Length, total)
	}

	h := d.fixed.Header()
	req, err := d.newRequest(h, opts)
	if err != nil {
		return nil, err
	}

	in := &h.Inputs[0]
	dt, err := api.ParseDataType(in.DataType)
	if err != nil {
		req.Release()
		return nil, api.NewInvalidArgumentError("datatype", fmt.Sprintf("input '%s': %v", in.Name, err))
	}

	cur := NewCursor(body)
	cur.Take(d.fixed.Length)
	req.Inputs = []api.Tensor{{
		Name:     in.Name,
		DataType: dt,
		Shape:    slices.Clone(in.Shape),
		Data:     api.BorrowedData(cur.TakeAll()),
	}}

	debug.Log("wire", "record request decoded",
		"model", opts.ModelName, "input", in.Name, "data_len", total-d.fixed.Length)
	return req, nil
}

// newRequest fills the request level fields and the requested outputs.
func (d *Decoder) newRequest(h *Header, opts DecodeOptions) (*api.InferRequest, error) {
	if len(h.Inputs) != 1 {
		return nil, api.NewInvalidArgumentError("inputs", fmt.Sprintf("expected exactly 1 input, got %d", len(h.Inputs)))
	}

	req := &api.InferRequest{
		ModelName:    opts.ModelName,
		ModelVersion: opts.ModelVersion,
		ID:           h.ID,
	}

	if p := h.Parameters; p != nil {
		cid, err := correlationID(p.SequenceID)
		if err != nil {
			return nil, err
		}
		req.CorrelationID = cid
		if p.SequenceStart {
			req.Flags |= api.FlagSequenceStart
		}
		if p.SequenceEnd {
			req.Flags |= api.FlagSequenceEnd
		}
		req.Priority = p.Priority
		req.TimeoutMicros = p.Timeout
		if p.BinaryDataOutput {
			req.DefaultOutputKind = api.OutputBinary
		}
	}

	if len(h.Outputs) > 0 {
		req.Outputs = make([]api.RequestedOutput, 0, len(h.Outputs))
		seen := make(map[string]struct{}, len(h.Outputs))
		for i := range h.Outputs {
			out, err := d.decodeOutput(&h.Outputs[i], req.DefaultOutputKind)
			if err != nil {
				req.Release()
				return nil, err
			}
			if _, dup := seen[out.Name]; dup {
				out.SharedMemory.Release()
				req.Release()
				return nil, api.NewInvalidArgumentError("outputs", fmt.Sprintf("output '%s' requested more than once", out.Name))
			}
			seen[out.Name] = struct{}{}
			req.Outputs = append(req.Outputs, out)
		}
	}
	return req, nil
}

func (d *Decoder) decodeInput(in *InputHeader, cur *Cursor) (api.Tensor, error) {
	if in.Name == "" {
		return api.Tensor{}, api.NewInvalidArgumentError("name", "input is missing a name")
	}
	if in.DataType == "" {
		return api.Tensor{}, api.NewInvalidArgumentError("datatype", fmt.Sprintf("input '%s' is missing a datatype", in.Name))
	}
	dt, err := api.ParseDataType(in.DataType)
	if err != nil {
		return api.Tensor{}, api.NewInvalidArgumentError("datatype", fmt.Sprintf("input '%s': %v", in.Name, err))
	}
	if in.Shape == nil {
		return api.Tensor{}, api.NewInvalidArgumentError("shape", fmt.Sprintf("input '%s' is missing a shape", in.Name))
	}
	for _, dim := range in.Shape {
		if dim < 0 {
			return api.Tensor{}, api.NewInvalidArgumentError("shape", fmt.Sprintf("input '%s' has negative dimension %d", in.Name, dim))
		}
	}

	t := api.Tensor{Name: in.Name, DataType: dt, Shape: slices.Clone(in.Shape)}
	count := api.ElementCount(in.Shape)

	var binarySize *uint64
	var shmParam *SharedMemoryParam
	if in.Parameters != nil {
		binarySize = in.Parameters.BinaryDataSize
		shmParam = in.Parameters.sharedMemory()
	}

	switch {
	case binarySize != nil && shmParam != nil:
		return api.Tensor{}, api.InvalidArgumentf("input '%s' cannot use both binary data and shared memory", in.Name)

	case binarySize != nil:
		size := *binarySize
		if size == 0 {
			t.Data = api.OwnedData(nil)
			return t, nil
		}
		if es := dt.ElementSize(); es > 0 && uint64(count)*uint64(es) != size {
			return api.Tensor{}, api.InvalidArgumentf("input '%s' of shape %v and datatype %s expects %d bytes, binary_data_size is %d",
				in.Name, in.Shape, dt, uint64(count)*uint64(es), size)
		}
		if size > uint64(cur.Remaining()) {
			return api.Tensor{}, api.InvalidArgumentf("unexpected size for input '%s', expecting %d additional bytes", in.Name, size-uint64(cur.Remaining()))
		}
		ranges, _ := cur.Take(int(size))
		t.Data = api.BorrowedData(ranges)
		if debug.TraceIsEnabled("wire") {
			idx, off := cur.Position()
			debug.Trace("wire", "binary input consumed", "input", in.Name, "bytes", size, "ranges", len(ranges), "segment", idx, "offset", off)
		}
		return t, nil

	case shmParam != nil:
		ref, err := d.resolve("input", in.Name, shmParam)
		if err != nil {
			return api.Tensor{}, err
		}
		t.Data = api.SharedMemoryData(ref)
		return t, nil
	}

	if count == 0 {
		t.Data = api.OwnedData(nil)
		return t, nil
	}
	if len(in.Data) == 0 {
		return api.Tensor{}, api.NewInvalidArgumentError("data", fmt.Sprintf("input '%s' has no data", in.Name))
	}
	data, err := decodeJSONData(in.Name, dt, in.Data, count)
	if err != nil {
		return api.Tensor{}, err
	}
	t.Data = api.OwnedData(data)
	return t, nil
}

func (d *Decoder) decodeOutput(out *OutputHeader, defaultKind api.OutputKind) (api.RequestedOutput, error) {
	if out.Name == "" {
		return api.RequestedOutput{}, api.NewInvalidArgumentError("name", "output is missing a name")
	}
	ro := api.RequestedOutput{Name: out.Name, Kind: defaultKind}
	p := out.Parameters
	if p == nil {
		return ro, nil
	}

	if p.BinaryData != nil {
		if *p.BinaryData {
			ro.Kind = api.OutputBinary
		} else {
			ro.Kind = api.OutputJSON
		}
	}
	if p.Classification != nil {
		if p.Classification.Count <= 0 {
			return api.RequestedOutput{}, api.NewInvalidArgumentError("classification", fmt.Sprintf("output '%s' classification count must be positive", out.Name))
		}
		ro.ClassificationCount = p.Classification.Count
	}
	if sp := p.sharedMemory(); sp != nil {
		if ro.ClassificationCount > 0 {
			return api.RequestedOutput{}, api.InvalidArgumentf("output '%s' cannot use both classification and shared memory", out.Name)
		}
		ref, err := d.resolve("output", out.Name, sp)
		if err != nil {
			return api.RequestedOutput{}, err
		}
		ro.Kind = api.OutputSharedMemory
		ro.SharedMemory = ref
	}
	return ro, nil
}

func (d *Decoder) resolve(role, tensor string, p *SharedMemoryParam) (*api.SharedMemoryRef, error) {
	if d.resolver == nil {
		return nil, api.NewInvalidArgumentError("shared_memory", fmt.Sprintf("%s '%s': shared memory is not supported", role, tensor))
	}
	if p.Name == "" {
		return nil, api.NewInvalidArgumentError("shared_memory", fmt.Sprintf("%s '%s': shared memory region name is empty", role, tensor))
	}
	ref, err := d.resolver.Resolve(p.Name, p.Offset, p.ByteSize)
	if err != nil {
		msg := err.Error()
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Type != api.ErrorTypeInvalidArgument {
				return nil, err
			}
			msg = apiErr.Message
		}
		return nil, api.NewInvalidArgumentError("shared_memory", fmt.Sprintf("%s '%s': %s", role, tensor, msg))
	}
	return ref, nil
}
