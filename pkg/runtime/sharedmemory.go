package runtime

import (
	"context"
	"fmt"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/shm"
)

// LocalSharedMemory serves the shared-memory calls of the Runtime interface
// from an in-process registry. Runtimes embed it. A nil Registry makes every
// call fail as unavailable.
type LocalSharedMemory struct {
	Registry *shm.Registry
}

func (l LocalSharedMemory) registry() (*shm.Registry, error) {
	if l.Registry == nil {
		return nil, api.NewUnavailableError("shared memory is not enabled")
	}
	return l.Registry, nil
}

// SharedMemoryStatus reports registered regions.
func (l LocalSharedMemory) SharedMemoryStatus(_ context.Context, kind shm.Kind, region string) ([]shm.RegionStatus, error) {
	reg, err := l.registry()
	if err != nil {
		return nil, err
	}
	return reg.Status(region, kind)
}

// SharedMemoryRegister registers a region.
func (l LocalSharedMemory) SharedMemoryRegister(_ context.Context, kind shm.Kind, region string, body SharedMemoryRegistration) error {
	reg, err := l.registry()
	if err != nil {
		return err
	}
	if kind == shm.KindCUDA {
		var handle []byte
		if body.RawHandle != nil {
			handle = body.RawHandle.B64
		}
		return reg.RegisterCUDA(region, handle, body.DeviceID, body.ByteSize)
	}
	if body.Key == "" {
		return api.NewInvalidArgumentError("key", "system shared memory key is required")
	}
	return reg.RegisterSystem(region, body.Key, body.Offset, body.ByteSize)
}

// SharedMemoryUnregister removes regions.
func (l LocalSharedMemory) SharedMemoryUnregister(_ context.Context, kind shm.Kind, region string) error {
	reg, err := l.registry()
	if err != nil {
		return err
	}
	return reg.Unregister(region, kind)
}

// WriteShared copies out.Data into ref and repoints out at the region bytes.
// Device regions cannot be written from the host.
func WriteShared(out *api.OutputTensor, ref *api.SharedMemoryRef) error {
	if ref == nil {
		return api.NewInternalError(fmt.Sprintf("output '%s' has no shared memory target", out.Name))
	}
	if ref.MemoryType == api.MemoryTypeGPU || ref.Data == nil {
		return api.InvalidArgumentf("output '%s' targets device memory, which cannot be written from the host", out.Name)
	}
	if uint64(len(out.Data)) > ref.ByteSize {
		return api.InvalidArgumentf("shared memory region '%s' of %d bytes is too small for output '%s' of %d bytes",
			ref.Region, ref.ByteSize, out.Name, len(out.Data))
	}
	n := copy(ref.Data, out.Data)
	out.Data = ref.Data[:n]
	out.MemoryType = ref.MemoryType
	out.DeviceID = ref.DeviceID
	return nil
}
