package shm

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/rhuss/tensorgate/pkg/api"
)

func TestResolveBuffer(t *testing.T) {
	reg := NewRegistry()
	buf := []byte("0123456789")
	if err := reg.RegisterBuffer("input0", buf); err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}

	ref, err := reg.Resolve("input0", 2, 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bytes.Equal(ref.Data, []byte("2345")) {
		t.Errorf("Data = %q, want 2345", ref.Data)
	}
	if &ref.Data[0] != &buf[2] {
		t.Error("Resolve copied region bytes")
	}
	if ref.MemoryType != api.MemoryTypeCPU {
		t.Errorf("MemoryType = %v, want cpu", ref.MemoryType)
	}
}

func TestResolveErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterBuffer("r", make([]byte, 8)); err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}

	tests := []struct {
		name     string
		region   string
		offset   uint64
		byteSize uint64
	}{
		{"unknown region", "missing", 0, 1},
		{"past end", "r", 4, 5},
		{"offset past end", "r", 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(tt.region, tt.offset, tt.byteSize)
			if !api.IsInvalidArgument(err) {
				t.Errorf("Resolve error = %v, want invalid_argument", err)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterBuffer("r", make([]byte, 8)); err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	if err := reg.RegisterBuffer("r", make([]byte, 8)); !api.IsInvalidArgument(err) {
		t.Errorf("duplicate register error = %v, want invalid_argument", err)
	}
	if err := reg.RegisterCUDA("r", []byte{1}, 0, 8); !api.IsInvalidArgument(err) {
		t.Errorf("duplicate cuda register error = %v, want invalid_argument", err)
	}
}

func TestCUDARegion(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterCUDA("gpu0", []byte{0xde, 0xad}, 1, 1024); err != nil {
		t.Fatalf("RegisterCUDA: %v", err)
	}

	ref, err := reg.Resolve("gpu0", 512, 256)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.MemoryType != api.MemoryTypeGPU || ref.DeviceID != 1 {
		t.Errorf("ref = %+v, want gpu device 1", ref)
	}
	if ref.Data != nil || !bytes.Equal(ref.Handle, []byte{0xde, 0xad}) {
		t.Errorf("device ref should carry the handle only, got %+v", ref)
	}

	st, err := reg.Status("gpu0", KindCUDA)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st) != 1 || st[0].DeviceID == nil || *st[0].DeviceID != 1 {
		t.Errorf("Status = %+v", st)
	}
}

func TestStatusAndUnregister(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterBuffer("b", make([]byte, 4))
	reg.RegisterBuffer("a", make([]byte, 4))
	reg.RegisterCUDA("c", []byte{1}, 0, 4)

	st, err := reg.Status("", KindSystem)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st) != 2 || st[0].Name != "a" || st[1].Name != "b" {
		t.Errorf("Status(all system) = %+v, want [a b]", st)
	}

	if _, err := reg.Status("zzz", KindSystem); err == nil {
		t.Error("Status(unknown) expected error")
	}

	if err := reg.Unregister("a", KindSystem); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := reg.Unregister("a", KindSystem); err != nil {
		t.Errorf("second Unregister should be a no-op, got %v", err)
	}
	if err := reg.Unregister("", KindSystem); err != nil {
		t.Fatalf("Unregister(all): %v", err)
	}
	st, _ = reg.Status("", KindSystem)
	if len(st) != 0 {
		t.Errorf("system regions left after unregister all: %+v", st)
	}
	if _, err := reg.Resolve("c", 0, 4); err != nil {
		t.Errorf("cuda region should survive system unregister: %v", err)
	}
}

func TestRegisterSystemMapsFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mmap not supported")
	}
	dir := t.TempDir()
	content := make([]byte, os.Getpagesize())
	copy(content, "shared bytes")
	if err := os.WriteFile(filepath.Join(dir, "key0"), content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reg := NewRegistry(WithDir(dir))
	defer reg.Close()

	if err := reg.RegisterSystem("region0", "/key0", 0, uint64(len(content))); err != nil {
		t.Fatalf("RegisterSystem: %v", err)
	}
	ref, err := reg.Resolve("region0", 0, 12)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(ref.Data) != "shared bytes" {
		t.Errorf("Data = %q, want %q", ref.Data, "shared bytes")
	}
	ref.Release()

	if err := reg.RegisterSystem("too-big", "key0", 0, uint64(len(content))+1); !api.IsInvalidArgument(err) {
		t.Errorf("oversized map error = %v, want invalid_argument", err)
	}
	if err := reg.RegisterSystem("missing", "nope", 0, 8); !api.IsInvalidArgument(err) {
		t.Errorf("missing key error = %v, want invalid_argument", err)
	}
}

func TestConcurrentResolve(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterBuffer("r", make([]byte, 64))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := reg.Resolve("r", uint64(i), 8); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func TestUnregisterWaitsForReferences(t *testing.T) {
	reg := NewRegistry()
	unmapped := 0
	if err := reg.add(&region{
		name: "mapped", kind: KindSystem, byteSize: 8, data: make([]byte, 8),
		release: func() error { unmapped++; return nil },
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	first, err := reg.Resolve("mapped", 0, 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := reg.Resolve("mapped", 4, 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := reg.Unregister("mapped", KindSystem); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := reg.Resolve("mapped", 0, 4); !api.IsInvalidArgument(err) {
		t.Errorf("Resolve after Unregister = %v, want invalid_argument", err)
	}
	if unmapped != 0 {
		t.Fatal("region unmapped with references outstanding")
	}

	first.Release()
	first.Release()
	if unmapped != 0 {
		t.Fatal("region unmapped while a reference is still held")
	}
	second.Release()
	if unmapped != 1 {
		t.Errorf("unmap calls = %d, want 1", unmapped)
	}
}

func TestCloseWaitsForReferences(t *testing.T) {
	reg := NewRegistry()
	unmapped := 0
	reg.add(&region{
		name: "mapped", kind: KindSystem, byteSize: 8, data: make([]byte, 8),
		release: func() error { unmapped++; return nil },
	})
	ref, err := reg.Resolve("mapped", 0, 8)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if unmapped != 0 {
		t.Fatal("Close unmapped a referenced region")
	}
	ref.Release()
	if unmapped != 1 {
		t.Errorf("unmap calls = %d, want 1", unmapped)
	}
}

func TestBufferReferencesNeedNoRelease(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterBuffer("buf", make([]byte, 4))
	ref, err := reg.Resolve("buf", 0, 4)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Done != nil {
		t.Error("caller-owned buffers should not be reference counted")
	}
	ref.Release()
}
