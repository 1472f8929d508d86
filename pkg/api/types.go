package api

import "strconv"

// MemoryType identifies where tensor bytes live.
type MemoryType int

const (
	MemoryTypeCPU MemoryType = iota
	MemoryTypeCPUPinned
	MemoryTypeGPU
)

// String returns the memory type name used in logs.
func (m MemoryType) String() string {
	switch m {
	case MemoryTypeCPU:
		return "cpu"
	case MemoryTypeCPUPinned:
		return "cpu_pinned"
	case MemoryTypeGPU:
		return "gpu"
	default:
		return "unknown(" + strconv.Itoa(int(m)) + ")"
	}
}

// LocationKind tags the variant held by a DataLocation.
type LocationKind int

const (
	// LocationOwned holds bytes decoded by the gateway itself.
	LocationOwned LocationKind = iota

	// LocationBorrowed holds sub-slices of the inbound request body. The
	// caller must keep the body unmodified until the response is written.
	LocationBorrowed

	// LocationSharedMemory points into a registered shared-memory region.
	LocationSharedMemory
)

// SharedMemoryRef is a resolved reference into a shared-memory region.
// System regions expose Data; device regions expose Handle instead.
type SharedMemoryRef struct {
	Region     string
	Offset     uint64
	ByteSize   uint64
	MemoryType MemoryType
	DeviceID   int64
	Data       []byte
	Handle     []byte

	// Done, when set, drops the reference's hold on its region.
	Done func()
}

// Release drops the hold on the region. Data must not be used afterwards.
// It is safe to call more than once.
func (r *SharedMemoryRef) Release() {
	if r == nil || r.Done == nil {
		return
	}
	done := r.Done
	r.Done = nil
	done()
}

// DataLocation says where a tensor's bytes are. Exactly one of Owned,
// Ranges or SharedMemory is meaningful, selected by Kind.
type DataLocation struct {
	Kind         LocationKind
	Owned        []byte
	Ranges       [][]byte
	SharedMemory *SharedMemoryRef
}

// OwnedData returns a location holding b.
func OwnedData(b []byte) DataLocation {
	return DataLocation{Kind: LocationOwned, Owned: b}
}

// BorrowedData returns a location referencing ranges without copying them.
func BorrowedData(ranges [][]byte) DataLocation {
	return DataLocation{Kind: LocationBorrowed, Ranges: ranges}
}

// SharedMemoryData returns a location pointing at a shared-memory region.
func SharedMemoryData(ref *SharedMemoryRef) DataLocation {
	return DataLocation{Kind: LocationSharedMemory, SharedMemory: ref}
}

// ByteSize returns the total number of bytes at the location.
func (l DataLocation) ByteSize() uint64 {
	switch l.Kind {
	case LocationOwned:
		return uint64(len(l.Owned))
	case LocationBorrowed:
		var n uint64
		for _, r := range l.Ranges {
			n += uint64(len(r))
		}
		return n
	case LocationSharedMemory:
		if l.SharedMemory == nil {
			return 0
		}
		return l.SharedMemory.ByteSize
	default:
		return 0
	}
}

// Buffers returns the host-accessible buffers in order. Device memory has no
// host buffers and yields nil.
func (l DataLocation) Buffers() [][]byte {
	switch l.Kind {
	case LocationOwned:
		if len(l.Owned) == 0 {
			return nil
		}
		return [][]byte{l.Owned}
	case LocationBorrowed:
		return l.Ranges
	case LocationSharedMemory:
		if l.SharedMemory == nil || l.SharedMemory.Data == nil {
			return nil
		}
		return [][]byte{l.SharedMemory.Data}
	default:
		return nil
	}
}

// MemoryType returns the memory type of the bytes at the location.
func (l DataLocation) MemoryType() (MemoryType, int64) {
	if l.Kind == LocationSharedMemory && l.SharedMemory != nil {
		return l.SharedMemory.MemoryType, l.SharedMemory.DeviceID
	}
	return MemoryTypeCPU, 0
}

// Bytes returns the location's bytes as one contiguous slice, copying only
// when the data is split across several ranges.
func (l DataLocation) Bytes() []byte {
	bufs := l.Buffers()
	switch len(bufs) {
	case 0:
		return nil
	case 1:
		return bufs[0]
	}
	out := make([]byte, 0, l.ByteSize())
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

// Tensor is a named input tensor of a canonical request.
type Tensor struct {
	Name     string
	DataType DataType
	Shape    []int64
	Data     DataLocation
}

// OutputKind selects how an output is emitted in the response.
type OutputKind int

const (
	OutputJSON OutputKind = iota
	OutputBinary
	OutputSharedMemory
)

// String returns the kind name used in logs and metrics.
func (k OutputKind) String() string {
	switch k {
	case OutputJSON:
		return "json"
	case OutputBinary:
		return "binary"
	case OutputSharedMemory:
		return "shared_memory"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// RequestedOutput describes one output the client asked for.
type RequestedOutput struct {
	Name string
	Kind OutputKind

	// SharedMemory is the resolved target region when Kind is OutputSharedMemory.
	SharedMemory *SharedMemoryRef

	// ClassificationCount is the top-k count, 0 when classification is off.
	ClassificationCount int
}

// RequestFlags carries sequence control bits.
type RequestFlags uint32

const (
	FlagSequenceStart RequestFlags = 1 << iota
	FlagSequenceEnd
)

// CorrelationID identifies the sequence a request belongs to. It is either
// an unsigned integer or a string.
type CorrelationID struct {
	num   uint64
	str   string
	isStr bool
}

// UintCorrelationID returns an integer correlation ID.
func UintCorrelationID(v uint64) CorrelationID {
	return CorrelationID{num: v}
}

// StringCorrelationID returns a string correlation ID.
func StringCorrelationID(s string) CorrelationID {
	return CorrelationID{str: s, isStr: true}
}

// Uint returns the integer value and whether the ID is an integer.
func (c CorrelationID) Uint() (uint64, bool) {
	return c.num, !c.isStr
}

// IsString reports whether the ID is a string.
func (c CorrelationID) IsString() bool { return c.isStr }

// IsZero reports whether no correlation ID was set.
func (c CorrelationID) IsZero() bool {
	return !c.isStr && c.num == 0
}

// String returns the ID in textual form.
func (c CorrelationID) String() string {
	if c.isStr {
		return c.str
	}
	return strconv.FormatUint(c.num, 10)
}

// InferRequest is the canonical inference request handed to the runtime.
type InferRequest struct {
	ModelName     string
	ModelVersion  string
	ID            string
	CorrelationID CorrelationID
	Flags         RequestFlags
	Priority      uint64
	TimeoutMicros uint64
	Inputs        []Tensor

	// Outputs lists explicitly requested outputs. When empty the runtime
	// returns all outputs with DefaultOutputKind.
	Outputs           []RequestedOutput
	DefaultOutputKind OutputKind
}

// Release releases every shared-memory reference held by the request.
func (r *InferRequest) Release() {
	for _, in := range r.Inputs {
		if in.Data.Kind == LocationSharedMemory {
			in.Data.SharedMemory.Release()
		}
	}
	for _, out := range r.Outputs {
		out.SharedMemory.Release()
	}
}

// Output returns the requested output with the given name.
func (r *InferRequest) Output(name string) (*RequestedOutput, bool) {
	for i := range r.Outputs {
		if r.Outputs[i].Name == name {
			return &r.Outputs[i], true
		}
	}
	return nil, false
}

// OutputTensor is one tensor produced by the runtime.
type OutputTensor struct {
	Name       string
	DataType   DataType
	Shape      []int64
	Data       []byte
	MemoryType MemoryType
	DeviceID   int64

	// Tag is the requested output this tensor was allocated for. A nil tag
	// is emitted as JSON.
	Tag *RequestedOutput
}

// Kind returns the emit kind from the output tag.
func (o *OutputTensor) Kind() OutputKind {
	if o.Tag == nil {
		return OutputJSON
	}
	return o.Tag.Kind
}

// InferResponse is the canonical result of one runtime call.
type InferResponse struct {
	ID           string
	ModelName    string
	ModelVersion string
	Outputs      []OutputTensor
}
