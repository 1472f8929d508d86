package runtime

import (
	"context"
	"encoding/json"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/shm"
)

// Runtime executes inference requests and answers control-plane queries.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Errors should be *api.APIError values; other errors are reported as
// internal server errors.
type Runtime interface {
	// Infer runs one request. Outputs whose tag requests shared memory are
	// written into the tagged region.
	Infer(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error)

	ServerLive(ctx context.Context) (bool, error)
	ServerReady(ctx context.Context) (bool, error)
	ServerMetadata(ctx context.Context) (*ServerMetadata, error)

	// Model-scoped calls take an empty version to mean the runtime's
	// default version policy.
	ModelReady(ctx context.Context, model, version string) (bool, error)
	ModelMetadata(ctx context.Context, model, version string) (*ModelMetadata, error)
	ModelConfig(ctx context.Context, model, version string) (json.RawMessage, error)

	// ModelStatistics returns statistics for one model, or for every model
	// when model is empty.
	ModelStatistics(ctx context.Context, model, version string) (*ModelStatistics, error)

	// TraceSetting reads the trace settings of model, or the global
	// settings when model is empty. A non-nil update is applied first.
	TraceSetting(ctx context.Context, model string, update TraceSettings) (TraceSettings, error)

	RepositoryIndex(ctx context.Context, repository string, readyOnly bool) ([]RepositoryModel, error)
	RepositoryLoad(ctx context.Context, repository, model string) error
	RepositoryUnload(ctx context.Context, repository, model string) error

	// SharedMemoryStatus reports one region, or all regions of kind when
	// region is empty.
	SharedMemoryStatus(ctx context.Context, kind shm.Kind, region string) ([]shm.RegionStatus, error)
	SharedMemoryRegister(ctx context.Context, kind shm.Kind, region string, reg SharedMemoryRegistration) error

	// SharedMemoryUnregister removes one region, or all regions of kind
	// when region is empty.
	SharedMemoryUnregister(ctx context.Context, kind shm.Kind, region string) error
}

// ServerMetadata is returned by the server metadata route.
type ServerMetadata struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Extensions []string `json:"extensions"`
}

// TensorMetadata describes one model input or output.
type TensorMetadata struct {
	Name     string  `json:"name"`
	DataType string  `json:"datatype"`
	Shape    []int64 `json:"shape"`
}

// ModelMetadata is returned by the model metadata route.
type ModelMetadata struct {
	Name     string           `json:"name"`
	Versions []string         `json:"versions,omitempty"`
	Platform string           `json:"platform"`
	Inputs   []TensorMetadata `json:"inputs"`
	Outputs  []TensorMetadata `json:"outputs"`
}

// Duration is a count and the total time spent, in nanoseconds.
type Duration struct {
	Count uint64 `json:"count"`
	Ns    uint64 `json:"ns"`
}

// InferenceStats splits inference time by outcome.
type InferenceStats struct {
	Success Duration `json:"success"`
	Fail    Duration `json:"fail"`
}

// ModelStat holds statistics for one model version.
type ModelStat struct {
	Name           string         `json:"name"`
	Version        string         `json:"version"`
	LastInference  uint64         `json:"last_inference"`
	InferenceCount uint64         `json:"inference_count"`
	ExecutionCount uint64         `json:"execution_count"`
	InferenceStats InferenceStats `json:"inference_stats"`
}

// ModelStatistics is returned by the statistics routes.
type ModelStatistics struct {
	ModelStats []ModelStat `json:"model_stats"`
}

// TraceSettings maps trace setting names to values. Values are strings or
// lists of strings.
type TraceSettings map[string]any

// RepositoryModel is one entry of a repository index.
type RepositoryModel struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	State   string `json:"state,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Repository model states.
const (
	StateReady       = "READY"
	StateUnavailable = "UNAVAILABLE"
)

// SharedMemoryRegistration is the body of a register call. System regions
// use Key and Offset; CUDA regions use RawHandle and DeviceID.
type SharedMemoryRegistration struct {
	Key       string     `json:"key,omitempty"`
	Offset    uint64     `json:"offset,omitempty"`
	ByteSize  uint64     `json:"byte_size"`
	DeviceID  int64      `json:"device_id,omitempty"`
	RawHandle *RawHandle `json:"raw_handle,omitempty"`
}

// RawHandle carries a base64 encoded device IPC handle.
type RawHandle struct {
	B64 []byte `json:"b64"`
}
