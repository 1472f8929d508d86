package api

import (
	"bytes"
	"testing"
)

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in      string
		want    DataType
		size    int
		wantErr bool
	}{
		{"FP32", DataTypeFP32, 4, false},
		{"INT64", DataTypeInt64, 8, false},
		{"BF16", DataTypeBF16, 2, false},
		{"BOOL", DataTypeBool, 1, false},
		{"BYTES", DataTypeBytes, 0, false},
		{"fp32", "", 0, true},
		{"COMPLEX64", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataType(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDataType(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDataType(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDataType(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if got.ElementSize() != tt.size {
				t.Errorf("ElementSize() = %d, want %d", got.ElementSize(), tt.size)
			}
		})
	}
}

func TestElementCount(t *testing.T) {
	if got := ElementCount(nil); got != 1 {
		t.Errorf("ElementCount(nil) = %d, want 1", got)
	}
	if got := ElementCount([]int64{2, 3, 4}); got != 24 {
		t.Errorf("ElementCount([2 3 4]) = %d, want 24", got)
	}
	if got := ElementCount([]int64{5, 0}); got != 0 {
		t.Errorf("ElementCount([5 0]) = %d, want 0", got)
	}
}

func TestDataLocationBorrowed(t *testing.T) {
	a, b := []byte("abcd"), []byte("ef")
	loc := BorrowedData([][]byte{a, b})

	if loc.ByteSize() != 6 {
		t.Errorf("ByteSize() = %d, want 6", loc.ByteSize())
	}
	bufs := loc.Buffers()
	if len(bufs) != 2 || &bufs[0][0] != &a[0] || &bufs[1][0] != &b[0] {
		t.Error("Buffers() does not reference the borrowed ranges")
	}
	if got := loc.Bytes(); !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("Bytes() = %q, want abcdef", got)
	}
	if mt, _ := loc.MemoryType(); mt != MemoryTypeCPU {
		t.Errorf("MemoryType() = %v, want cpu", mt)
	}
}

func TestDataLocationSingleRangeNoCopy(t *testing.T) {
	a := []byte("xyz")
	if got := BorrowedData([][]byte{a}).Bytes(); &got[0] != &a[0] {
		t.Error("Bytes() copied a single range")
	}
}

func TestDataLocationSharedMemory(t *testing.T) {
	ref := &SharedMemoryRef{Region: "r", ByteSize: 64, MemoryType: MemoryTypeGPU, DeviceID: 2, Handle: []byte{1}}
	loc := SharedMemoryData(ref)
	if loc.ByteSize() != 64 {
		t.Errorf("ByteSize() = %d, want 64", loc.ByteSize())
	}
	if loc.Buffers() != nil {
		t.Error("device memory should have no host buffers")
	}
	mt, dev := loc.MemoryType()
	if mt != MemoryTypeGPU || dev != 2 {
		t.Errorf("MemoryType() = %v/%d, want gpu/2", mt, dev)
	}
}

func TestOwnedEmpty(t *testing.T) {
	loc := OwnedData(nil)
	if loc.ByteSize() != 0 || loc.Buffers() != nil || loc.Bytes() != nil {
		t.Error("empty owned location should report no bytes")
	}
}

func TestCorrelationID(t *testing.T) {
	u := UintCorrelationID(42)
	if v, ok := u.Uint(); !ok || v != 42 {
		t.Errorf("Uint() = %d/%v, want 42/true", v, ok)
	}
	if u.String() != "42" || u.IsString() || u.IsZero() {
		t.Errorf("unexpected uint correlation ID %+v", u)
	}

	s := StringCorrelationID("seq-a")
	if _, ok := s.Uint(); ok {
		t.Error("string ID reported as integer")
	}
	if s.String() != "seq-a" || !s.IsString() || s.IsZero() {
		t.Errorf("unexpected string correlation ID %+v", s)
	}

	if !(CorrelationID{}).IsZero() {
		t.Error("zero value should be IsZero")
	}
}

func TestOutputTensorKind(t *testing.T) {
	var untagged OutputTensor
	if untagged.Kind() != OutputJSON {
		t.Errorf("untagged Kind() = %v, want json", untagged.Kind())
	}
	tagged := OutputTensor{Tag: &RequestedOutput{Kind: OutputBinary}}
	if tagged.Kind() != OutputBinary {
		t.Errorf("tagged Kind() = %v, want binary", tagged.Kind())
	}
}

func TestInferRequestOutput(t *testing.T) {
	req := InferRequest{Outputs: []RequestedOutput{{Name: "a"}, {Name: "b", Kind: OutputBinary}}}
	out, ok := req.Output("b")
	if !ok || out.Kind != OutputBinary {
		t.Errorf("Output(b) = %+v/%v", out, ok)
	}
	if _, ok := req.Output("c"); ok {
		t.Error("Output(c) should not exist")
	}
}
