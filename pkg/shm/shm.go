// Package shm resolves shared-memory references used by inference requests.
//
// The wire decoder and the runtime only consume the [Resolver] interface.
// [Registry] is the in-process implementation used by the server: it keeps
// system regions (memory-mapped /dev/shm objects or caller buffers) and
// device regions (opaque CUDA IPC handles) keyed by region name.
package shm

import "github.com/rhuss/tensorgate/pkg/api"

// Kind distinguishes system regions from device regions.
type Kind int

const (
	KindSystem Kind = iota
	KindCUDA
)

// String returns the kind name used in routes and logs.
func (k Kind) String() string {
	if k == KindCUDA {
		return "cuda"
	}
	return "system"
}

// Resolver looks up shared-memory regions. Implementations must be safe for
// concurrent use.
type Resolver interface {
	// Resolve returns a reference to byteSize bytes at offset within the
	// named region. System regions populate Data; device regions populate
	// Handle and DeviceID instead.
	Resolve(region string, offset, byteSize uint64) (*api.SharedMemoryRef, error)
}

// RegionStatus is the JSON status entry reported for a registered region.
type RegionStatus struct {
	Name     string `json:"name"`
	Key      string `json:"key,omitempty"`
	Offset   uint64 `json:"offset"`
	ByteSize uint64 `json:"byte_size"`
	DeviceID *int64 `json:"device_id,omitempty"`
}
