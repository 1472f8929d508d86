// Package echo implements an in-process runtime that returns its single
// input as every requested output. It serves a fixed model list, keeps
// per-model statistics and trace settings, and writes shared-memory outputs
// into regions held by an shm.Registry.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/debug"
	"github.com/rhuss/tensorgate/pkg/runtime"
	"github.com/rhuss/tensorgate/pkg/shm"
)

// DefaultOutput is the output name used when a model lists none.
const DefaultOutput = "OUTPUT0"

// Model describes one served model.
type Model struct {
	Name     string
	Versions []string
	Platform string
	Inputs   []runtime.TensorMetadata

	// Outputs are returned when a request names no outputs.
	Outputs []runtime.TensorMetadata
}

type modelState struct {
	def    Model
	loaded bool
	stats  map[string]*runtime.ModelStat
	trace  runtime.TraceSettings
}

// Runtime is the echo runtime.
type Runtime struct {
	runtime.LocalSharedMemory

	name    string
	version string
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	models map[string]*modelState
	order  []string
	trace  runtime.TraceSettings
}

var _ runtime.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithServerInfo sets the name and version reported by server metadata.
func WithServerInfo(name, version string) Option {
	return func(r *Runtime) {
		r.name = name
		r.version = version
	}
}

// WithClock overrides the time source used for statistics.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New creates an echo runtime serving models. All models start loaded.
// A nil registry disables the shared-memory routes.
func New(models []Model, registry *shm.Registry, opts ...Option) *Runtime {
	r := &Runtime{
		LocalSharedMemory: runtime.LocalSharedMemory{Registry: registry},

		name:    "tensorgate",
		version: "dev",
		logger:  slog.Default(),
		now:     time.Now,
		models:  make(map[string]*modelState, len(models)),
		trace:   defaultTraceSettings(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, m := range models {
		if len(m.Versions) == 0 {
			m.Versions = []string{"1"}
		}
		if m.Platform == "" {
			m.Platform = "echo"
		}
		if len(m.Outputs) == 0 {
			m.Outputs = []runtime.TensorMetadata{{Name: DefaultOutput, DataType: string(api.DataTypeBytes), Shape: []int64{-1}}}
		}
		if _, dup := r.models[m.Name]; !dup {
			r.order = append(r.order, m.Name)
		}
		r.models[m.Name] = &modelState{def: m, loaded: true, stats: make(map[string]*runtime.ModelStat)}
	}
	return r
}

func defaultTraceSettings() runtime.TraceSettings {
	return runtime.TraceSettings{
		"trace_level":   []any{"OFF"},
		"trace_rate":    "1000",
		"trace_count":   "-1",
		"log_frequency": "0",
		"trace_file":    "",
	}
}

// lookup returns the model and resolved version. Callers hold r.mu.
func (r *Runtime) lookup(name, version string) (*modelState, string, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, "", api.NewNotFoundError(fmt.Sprintf("request for unknown model: '%s' is not found", name))
	}
	if version == "" {
		return m, m.def.Versions[len(m.def.Versions)-1], nil
	}
	if !slices.Contains(m.def.Versions, version) {
		return nil, "", api.NewNotFoundError(fmt.Sprintf("request for unknown model: '%s' version %s is not found", name, version))
	}
	return m, version, nil
}

// Infer echoes the request's input into each output.
func (r *Runtime) Infer(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, api.NewUnavailableError(fmt.Sprintf("request cancelled: %v", err))
	}

	start := r.now()
	r.mu.RLock()
	m, version, err := r.lookup(req.ModelName, req.ModelVersion)
	var loaded bool
	var def Model
	if err == nil {
		loaded = m.loaded
		def = m.def
	}
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !loaded {
		return nil, api.NewUnavailableError(fmt.Sprintf("model '%s' is not ready", req.ModelName))
	}

	resp, err := r.echo(req, def, version)
	r.record(req.ModelName, version, start, err == nil)
	if err != nil {
		return nil, err
	}

	debug.Log("runtime", "echo inference complete",
		"model", req.ModelName, "version", version, "outputs", len(resp.Outputs))
	return resp, nil
}

func (r *Runtime) echo(req *api.InferRequest, def Model, version string) (*api.InferResponse, error) {
	if len(req.Inputs) != 1 {
		return nil, api.NewInvalidArgumentError("inputs", fmt.Sprintf("expected exactly 1 input, got %d", len(req.Inputs)))
	}
	in := req.Inputs[0]
	if mt, _ := in.Data.MemoryType(); mt == api.MemoryTypeGPU {
		return nil, api.InvalidArgumentf("input '%s' is in device memory, which the echo runtime cannot read", in.Name)
	}

	data := in.Data.Bytes()
	if in.DataType == api.DataTypeBytes {
		data, _ = runtime.FrameBytes(data)
	}

	tags := make([]*api.RequestedOutput, 0, len(req.Outputs))
	for i := range req.Outputs {
		tags = append(tags, &req.Outputs[i])
	}
	if len(tags) == 0 {
		for _, out := range def.Outputs {
			tags = append(tags, &api.RequestedOutput{Name: out.Name, Kind: req.DefaultOutputKind})
		}
	}

	resp := &api.InferResponse{
		ID:           req.ID,
		ModelName:    req.ModelName,
		ModelVersion: version,
		Outputs:      make([]api.OutputTensor, 0, len(tags)),
	}
	for _, tag := range tags {
		out := api.OutputTensor{
			Name:       tag.Name,
			DataType:   in.DataType,
			Shape:      slices.Clone(in.Shape),
			Data:       data,
			MemoryType: api.MemoryTypeCPU,
			Tag:        tag,
		}
		if tag.Kind == api.OutputSharedMemory {
			if err := runtime.WriteShared(&out, tag.SharedMemory); err != nil {
				return nil, err
			}
		}
		resp.Outputs = append(resp.Outputs, out)
	}
	return resp, nil
}

// record updates the per-version statistics for one inference.
func (r *Runtime) record(model, version string, start time.Time, ok bool) {
	end := r.now()
	ns := uint64(end.Sub(start).Nanoseconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.models[model]
	if !exists {
		return
	}
	st, exists := m.stats[version]
	if !exists {
		st = &runtime.ModelStat{Name: model, Version: version}
		m.stats[version] = st
	}
	st.LastInference = uint64(end.UnixMilli())
	if ok {
		st.InferenceCount++
		st.ExecutionCount++
		st.InferenceStats.Success.Count++
		st.InferenceStats.Success.Ns += ns
	} else {
		st.InferenceStats.Fail.Count++
		st.InferenceStats.Fail.Ns += ns
	}
}

// ServerLive always reports true.
func (r *Runtime) ServerLive(context.Context) (bool, error) { return true, nil }

// ServerReady reports true when at least one model is loaded.
func (r *Runtime) ServerReady(context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.loaded {
			return true, nil
		}
	}
	return len(r.models) == 0, nil
}

// ServerMetadata reports the server name, version and protocol extensions.
func (r *Runtime) ServerMetadata(context.Context) (*runtime.ServerMetadata, error) {
	ext := []string{"classification", "sequence", "model_repository", "model_configuration", "statistics", "trace", "binary_tensor_data"}
	if r.Registry != nil {
		ext = append(ext, "system_shared_memory", "cuda_shared_memory")
	}
	return &runtime.ServerMetadata{Name: r.name, Version: r.version, Extensions: ext}, nil
}

// ModelReady reports whether the model is loaded. Unknown models are not
// ready.
func (r *Runtime) ModelReady(_ context.Context, model, version string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, _, err := r.lookup(model, version)
	if err != nil {
		return false, nil
	}
	return m.loaded, nil
}

// ModelMetadata describes the model.
func (r *Runtime) ModelMetadata(_ context.Context, model, version string) (*runtime.ModelMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, _, err := r.lookup(model, version)
	if err != nil {
		return nil, err
	}
	return &runtime.ModelMetadata{
		Name:     m.def.Name,
		Versions: slices.Clone(m.def.Versions),
		Platform: m.def.Platform,
		Inputs:   slices.Clone(m.def.Inputs),
		Outputs:  slices.Clone(m.def.Outputs),
	}, nil
}

type configTensor struct {
	Name     string  `json:"name"`
	DataType string  `json:"data_type"`
	Dims     []int64 `json:"dims"`
}

type modelConfig struct {
	Name          string         `json:"name"`
	Platform      string         `json:"platform"`
	Backend       string         `json:"backend"`
	MaxBatchSize  int            `json:"max_batch_size"`
	Input         []configTensor `json:"input"`
	Output        []configTensor `json:"output"`
	VersionPolicy map[string]any `json:"version_policy"`
}

// ModelConfig returns the model configuration as JSON.
func (r *Runtime) ModelConfig(_ context.Context, model, version string) (json.RawMessage, error) {
	r.mu.RLock()
	m, _, err := r.lookup(model, version)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	toConfig := func(ts []runtime.TensorMetadata) []configTensor {
		out := make([]configTensor, 0, len(ts))
		for _, t := range ts {
			out = append(out, configTensor{Name: t.Name, DataType: "TYPE_" + t.DataType, Dims: t.Shape})
		}
		return out
	}
	cfg := modelConfig{
		Name:          m.def.Name,
		Platform:      m.def.Platform,
		Backend:       "echo",
		Input:         toConfig(m.def.Inputs),
		Output:        toConfig(m.def.Outputs),
		VersionPolicy: map[string]any{"specific": map[string]any{"versions": m.def.Versions}},
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, api.NewInternalError(fmt.Sprintf("failed to serialize model config: %v", err))
	}
	return raw, nil
}

// ModelStatistics returns statistics for one model or all of them.
func (r *Runtime) ModelStatistics(_ context.Context, model, version string) (*runtime.ModelStatistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.order
	if model != "" {
		if _, _, err := r.lookup(model, version); err != nil {
			return nil, err
		}
		names = []string{model}
	}

	out := &runtime.ModelStatistics{ModelStats: []runtime.ModelStat{}}
	for _, name := range names {
		m := r.models[name]
		for _, v := range m.def.Versions {
			if version != "" && v != version {
				continue
			}
			st := runtime.ModelStat{Name: name, Version: v}
			if s, ok := m.stats[v]; ok {
				st = *s
			}
			out.ModelStats = append(out.ModelStats, st)
		}
	}
	return out, nil
}

// TraceSetting reads or updates trace settings. Model settings inherit the
// global ones; a null value in an update clears the model override, or
// restores the default for global settings.
func (r *Runtime) TraceSetting(_ context.Context, model string, update runtime.TraceSettings) (runtime.TraceSettings, error) {
	for k, v := range update {
		if !validTraceValue(v) {
			return nil, api.NewInvalidArgumentError(k, fmt.Sprintf("trace setting '%s' must be a string or a list of strings", k))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if model == "" {
		defaults := defaultTraceSettings()
		for k, v := range update {
			if v == nil {
				r.trace[k] = defaults[k]
				continue
			}
			r.trace[k] = v
		}
		return copySettings(r.trace), nil
	}

	m, _, err := r.lookup(model, "")
	if err != nil {
		return nil, err
	}
	if len(update) > 0 && m.trace == nil {
		m.trace = runtime.TraceSettings{}
	}
	for k, v := range update {
		if v == nil {
			delete(m.trace, k)
			continue
		}
		m.trace[k] = v
	}

	merged := copySettings(r.trace)
	for k, v := range m.trace {
		merged[k] = v
	}
	return merged, nil
}

func validTraceValue(v any) bool {
	switch x := v.(type) {
	case nil, string:
		return true
	case []any:
		for _, e := range x {
			if _, ok := e.(string); !ok {
				return false
			}
		}
		return true
	case []string:
		return true
	default:
		return false
	}
}

func copySettings(s runtime.TraceSettings) runtime.TraceSettings {
	out := make(runtime.TraceSettings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// RepositoryIndex lists the served models. The echo runtime has a single
// repository, so the repository name is ignored.
func (r *Runtime) RepositoryIndex(_ context.Context, _ string, readyOnly bool) ([]runtime.RepositoryModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []runtime.RepositoryModel{}
	for _, name := range r.order {
		m := r.models[name]
		if readyOnly && !m.loaded {
			continue
		}
		for _, v := range m.def.Versions {
			entry := runtime.RepositoryModel{Name: name, Version: v, State: runtime.StateReady}
			if !m.loaded {
				entry.State = runtime.StateUnavailable
				entry.Reason = "unloaded"
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// RepositoryLoad marks a model loaded.
func (r *Runtime) RepositoryLoad(_ context.Context, _ string, model string) error {
	return r.setLoaded(model, true)
}

// RepositoryUnload marks a model unloaded. Inference against it fails until
// it is loaded again.
func (r *Runtime) RepositoryUnload(_ context.Context, _ string, model string) error {
	return r.setLoaded(model, false)
}

func (r *Runtime) setLoaded(model string, loaded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, _, err := r.lookup(model, "")
	if err != nil {
		return err
	}
	m.loaded = loaded
	r.logger.Info("model state changed", "model", model, "loaded", loaded)
	return nil
}
