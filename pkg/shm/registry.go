package shm

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/debug"
)

// DefaultDir is where POSIX shared-memory objects appear on Linux.
const DefaultDir = "/dev/shm"

type region struct {
	name     string
	kind     Kind
	key      string
	offset   uint64
	byteSize uint64
	deviceID int64
	data     []byte
	handle   []byte
	release  func() error

	// refs counts resolved references still in use; removed marks a region
	// whose unmap waits for refs to drop to zero. Both are guarded by
	// Registry.mu.
	refs    int
	removed bool
}

// Registry is a concurrency-safe set of registered regions.
type Registry struct {
	mu      sync.RWMutex
	regions map[string]*region
	dir     string
}

// Option configures a Registry.
type Option func(*Registry)

// WithDir sets the directory system region keys are resolved against.
func WithDir(dir string) Option {
	return func(r *Registry) { r.dir = dir }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		regions: make(map[string]*region),
		dir:     DefaultDir,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSystem maps byteSize bytes at offset of the shared-memory object
// named key and registers them under name.
func (r *Registry) RegisterSystem(name, key string, offset, byteSize uint64) error {
	if byteSize == 0 {
		return api.NewInvalidArgumentError("byte_size", "shared memory region byte_size must be > 0")
	}
	if err := r.checkFree(name); err != nil {
		return err
	}

	data, release, err := mapRegion(filepath.Join(r.dir, filepath.Base(key)), offset, byteSize)
	if err != nil {
		return api.InvalidArgumentf("unable to map shared memory key %q: %v", key, err)
	}

	return r.add(&region{
		name: name, kind: KindSystem, key: key,
		offset: offset, byteSize: byteSize,
		data: data, release: release,
	})
}

// RegisterBuffer registers a caller-owned buffer as a system region.
func (r *Registry) RegisterBuffer(name string, buf []byte) error {
	if len(buf) == 0 {
		return api.NewInvalidArgumentError("byte_size", "shared memory region byte_size must be > 0")
	}
	return r.add(&region{
		name: name, kind: KindSystem,
		byteSize: uint64(len(buf)), data: buf,
	})
}

// RegisterCUDA registers a device region identified by its raw IPC handle.
func (r *Registry) RegisterCUDA(name string, rawHandle []byte, deviceID int64, byteSize uint64) error {
	if len(rawHandle) == 0 {
		return api.NewInvalidArgumentError("raw_handle", "cuda shared memory raw_handle is required")
	}
	if byteSize == 0 {
		return api.NewInvalidArgumentError("byte_size", "shared memory region byte_size must be > 0")
	}
	return r.add(&region{
		name: name, kind: KindCUDA,
		byteSize: byteSize, deviceID: deviceID,
		handle: append([]byte(nil), rawHandle...),
	})
}

func (r *Registry) checkFree(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.regions[name]; ok {
		return api.InvalidArgumentf("shared memory region %q already registered", name)
	}
	return nil
}

func (r *Registry) add(reg *region) error {
	if reg.name == "" {
		if reg.release != nil {
			reg.release()
		}
		return api.NewInvalidArgumentError("name", "shared memory region name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regions[reg.name]; ok {
		if reg.release != nil {
			reg.release()
		}
		return api.InvalidArgumentf("shared memory region %q already registered", reg.name)
	}
	r.regions[reg.name] = reg

	debug.Log("shm", "region registered",
		"name", reg.name, "kind", reg.kind.String(), "byte_size", reg.byteSize)
	return nil
}

// Unregister removes the named region of the given kind. An empty name
// removes every region of that kind. The name is free for reuse at once,
// but a mapped region stays mapped until every reference obtained from
// Resolve has been released.
func (r *Registry) Unregister(name string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if name == "" {
		for n, reg := range r.regions {
			if reg.kind == kind {
				errs = append(errs, r.removeLocked(n, reg))
			}
		}
		return errors.Join(errs...)
	}

	reg, ok := r.regions[name]
	if !ok || reg.kind != kind {
		// Unregistering an unknown region is not an error.
		return nil
	}
	return r.removeLocked(name, reg)
}

func (r *Registry) removeLocked(name string, reg *region) error {
	delete(r.regions, name)
	if reg.refs > 0 {
		reg.removed = true
		debug.Log("shm", "region unmap deferred", "name", name, "refs", reg.refs)
		return nil
	}
	return unmap(reg)
}

// unref drops one reference and performs a deferred unmap.
func (r *Registry) unref(reg *region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg.refs--
	if reg.refs == 0 && reg.removed {
		unmap(reg)
	}
}

func unmap(reg *region) error {
	if reg.release == nil {
		return nil
	}
	release := reg.release
	reg.release = nil
	if err := release(); err != nil {
		slog.Warn("failed to unmap shared memory region", "name", reg.name, "error", err)
		return fmt.Errorf("unmapping %s: %w", reg.name, err)
	}
	return nil
}

// Status reports the named region of the given kind, or all regions of that
// kind when name is empty. An unknown name is NotFound.
func (r *Registry) Status(name string, kind Kind) ([]RegionStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []RegionStatus
	for n, reg := range r.regions {
		if reg.kind != kind || (name != "" && n != name) {
			continue
		}
		st := RegionStatus{Name: n, Key: reg.key, Offset: reg.offset, ByteSize: reg.byteSize}
		if reg.kind == KindCUDA {
			id := reg.deviceID
			st.DeviceID = &id
		}
		out = append(out, st)
	}
	if name != "" && len(out) == 0 {
		return nil, api.NewNotFoundError(fmt.Sprintf("unable to find %s shared memory region: %q", kind, name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve implements Resolver. A reference into a mapped region holds the
// mapping until its Release is called.
func (r *Registry) Resolve(name string, offset, byteSize uint64) (*api.SharedMemoryRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regions[name]
	if !ok {
		return nil, api.InvalidArgumentf("unable to find shared memory region: %q", name)
	}

	if offset > reg.byteSize || byteSize > reg.byteSize-offset {
		return nil, api.InvalidArgumentf(
			"invalid offset + byte size for shared memory region: %q (offset %d, byte_size %d, region size %d)",
			name, offset, byteSize, reg.byteSize)
	}

	ref := &api.SharedMemoryRef{
		Region:   name,
		Offset:   offset,
		ByteSize: byteSize,
	}
	switch reg.kind {
	case KindCUDA:
		ref.MemoryType = api.MemoryTypeGPU
		ref.DeviceID = reg.deviceID
		ref.Handle = reg.handle
	default:
		ref.MemoryType = api.MemoryTypeCPU
		ref.Data = reg.data[offset : offset+byteSize : offset+byteSize]
		if reg.release != nil {
			reg.refs++
			ref.Done = func() { r.unref(reg) }
		}
	}
	return ref, nil
}

// Close unregisters every region. Mappings still referenced are unmapped
// when their last reference is released.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for n, reg := range r.regions {
		errs = append(errs, r.removeLocked(n, reg))
	}
	return errors.Join(errs...)
}
