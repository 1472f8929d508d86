package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/debug"
	"github.com/rhuss/tensorgate/pkg/runtime"
	"github.com/rhuss/tensorgate/pkg/shm"
	"github.com/rhuss/tensorgate/pkg/wire"
)

// DefaultTimeout bounds one upstream call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// Runtime forwards calls to an upstream server.
type Runtime struct {
	runtime.LocalSharedMemory

	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

var _ runtime.Runtime = (*Runtime)(nil)

// Option configures a Runtime.
type Option func(*Runtime)

// WithToken sends token as a bearer credential on every upstream call.
func WithToken(token string) Option {
	return func(r *Runtime) { r.token = token }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runtime) { r.httpClient = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New creates a runtime forwarding to baseURL. A nil registry disables the
// shared-memory routes.
func New(baseURL string, registry *shm.Registry, opts ...Option) *Runtime {
	r := &Runtime{
		LocalSharedMemory: runtime.LocalSharedMemory{Registry: registry},

		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close releases idle upstream connections.
func (r *Runtime) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

// Infer sends req to the upstream infer endpoint with binary tensor data.
func (r *Runtime) Infer(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error) {
	header, payload, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	size := int64(len(header))
	readers := make([]io.Reader, 0, len(payload)+1)
	readers = append(readers, bytes.NewReader(header))
	for _, b := range payload {
		size += int64(len(b))
		readers = append(readers, bytes.NewReader(b))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+modelPath(req.ModelName, req.ModelVersion)+"/infer", io.MultiReader(readers...))
	if err != nil {
		return nil, api.NewInternalError(fmt.Sprintf("failed to create upstream request: %v", err))
	}
	httpReq.ContentLength = size
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(headerContentLength, strconv.Itoa(len(header)))

	httpResp, err := r.send(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	resp, err := decodeResponse(req, body, httpResp.Header.Get(headerContentLength))
	if err != nil {
		return nil, err
	}

	debug.Log("runtime", "upstream inference complete",
		"model", req.ModelName, "outputs", len(resp.Outputs), "bytes", len(body))
	return resp, nil
}

// encodeRequest builds the JSON header and the binary payload of req.
func encodeRequest(req *api.InferRequest) ([]byte, [][]byte, error) {
	out := inferRequestJSON{
		ID:         req.ID,
		Parameters: requestParameters(req),
		Inputs:     make([]tensorJSON, 0, len(req.Inputs)),
	}

	var payload [][]byte
	for _, in := range req.Inputs {
		if mt, _ := in.Data.MemoryType(); mt == api.MemoryTypeGPU {
			return nil, nil, api.InvalidArgumentf("input '%s' is in device memory, which cannot be forwarded", in.Name)
		}
		size, bufs := in.Data.ByteSize(), in.Data.Buffers()
		if in.DataType == api.DataTypeBytes {
			if framed, added := runtime.FrameBytes(in.Data.Bytes()); added {
				size, bufs = uint64(len(framed)), [][]byte{framed}
			}
		}
		out.Inputs = append(out.Inputs, tensorJSON{
			Name:       in.Name,
			DataType:   string(in.DataType),
			Shape:      in.Shape,
			Parameters: &tensorParams{BinaryDataSize: &size},
		})
		payload = append(payload, bufs...)
	}

	if len(req.Outputs) == 0 {
		if out.Parameters == nil {
			out.Parameters = make(map[string]any, 1)
		}
		out.Parameters["binary_data_output"] = true
	}
	for _, o := range req.Outputs {
		out.Outputs = append(out.Outputs, outputRequestJSON{Name: o.Name, Parameters: outputParams{BinaryData: true}})
	}

	header, err := json.Marshal(out)
	if err != nil {
		return nil, nil, api.NewInternalError(fmt.Sprintf("failed to marshal upstream request: %v", err))
	}
	return header, payload, nil
}

func requestParameters(req *api.InferRequest) map[string]any {
	params := make(map[string]any)
	if !req.CorrelationID.IsZero() {
		if v, ok := req.CorrelationID.Uint(); ok {
			params["sequence_id"] = v
		} else {
			params["sequence_id"] = req.CorrelationID.String()
		}
	}
	if req.Flags&api.FlagSequenceStart != 0 {
		params["sequence_start"] = true
	}
	if req.Flags&api.FlagSequenceEnd != 0 {
		params["sequence_end"] = true
	}
	if req.Priority != 0 {
		params["priority"] = req.Priority
	}
	if req.TimeoutMicros != 0 {
		params["timeout"] = req.TimeoutMicros
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// decodeResponse parses an upstream response body and tags its outputs
// with the outputs of req.
func decodeResponse(req *api.InferRequest, body []byte, headerLen string) (*api.InferResponse, error) {
	header, rest := body, []byte(nil)
	if headerLen != "" {
		n, err := strconv.Atoi(headerLen)
		if err != nil || n < 0 || n > len(body) {
			return nil, api.NewUpstreamError(http.StatusBadGateway, fmt.Sprintf("upstream sent invalid header length %q", headerLen))
		}
		header, rest = body[:n], body[n:]
	}

	var parsed inferResponseJSON
	if err := json.Unmarshal(header, &parsed); err != nil {
		return nil, api.NewUpstreamError(http.StatusBadGateway, fmt.Sprintf("failed to parse upstream response: %v", err))
	}

	resp := &api.InferResponse{
		ID:           parsed.ID,
		ModelName:    parsed.ModelName,
		ModelVersion: parsed.ModelVersion,
		Outputs:      make([]api.OutputTensor, 0, len(parsed.Outputs)),
	}
	if resp.ModelName == "" {
		resp.ModelName = req.ModelName
	}

	for _, o := range parsed.Outputs {
		dt, err := api.ParseDataType(o.DataType)
		if err != nil {
			return nil, api.NewUpstreamError(http.StatusBadGateway, fmt.Sprintf("upstream output '%s': %v", o.Name, err))
		}
		out := api.OutputTensor{Name: o.Name, DataType: dt, Shape: o.Shape, MemoryType: api.MemoryTypeCPU}

		switch {
		case o.Parameters != nil && o.Parameters.BinaryDataSize != nil:
			n := *o.Parameters.BinaryDataSize
			if n > uint64(len(rest)) {
				return nil, api.NewUpstreamError(http.StatusBadGateway,
					fmt.Sprintf("upstream output '%s' announces %d bytes, %d remain", o.Name, n, len(rest)))
			}
			out.Data, rest = rest[:n], rest[n:]
		case len(o.Data) > 0:
			data, err := wire.DecodeTensorData(o.Name, dt, o.Shape, o.Data)
			if err != nil {
				return nil, api.NewUpstreamError(http.StatusBadGateway, err.Error())
			}
			out.Data = data
		}

		if tag, ok := req.Output(o.Name); ok {
			out.Tag = tag
		} else if len(req.Outputs) == 0 {
			out.Tag = &api.RequestedOutput{Name: o.Name, Kind: req.DefaultOutputKind}
		}
		if out.Tag != nil && out.Tag.Kind == api.OutputSharedMemory {
			if err := runtime.WriteShared(&out, out.Tag.SharedMemory); err != nil {
				return nil, err
			}
		}
		resp.Outputs = append(resp.Outputs, out)
	}
	return resp, nil
}

// ServerLive reports whether the upstream answers its liveness probe.
func (r *Runtime) ServerLive(ctx context.Context) (bool, error) {
	return r.probe(ctx, "/v2/health/live")
}

// ServerReady reports whether the upstream is ready.
func (r *Runtime) ServerReady(ctx context.Context) (bool, error) {
	return r.probe(ctx, "/v2/health/ready")
}

// ServerMetadata returns the upstream server metadata.
func (r *Runtime) ServerMetadata(ctx context.Context) (*runtime.ServerMetadata, error) {
	var md runtime.ServerMetadata
	if err := r.call(ctx, http.MethodGet, "/v2", nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// ModelReady reports whether the upstream model is ready. Models the
// upstream does not know are not ready.
func (r *Runtime) ModelReady(ctx context.Context, model, version string) (bool, error) {
	return r.probe(ctx, modelPath(model, version)+"/ready")
}

// ModelMetadata returns the upstream model metadata.
func (r *Runtime) ModelMetadata(ctx context.Context, model, version string) (*runtime.ModelMetadata, error) {
	var md runtime.ModelMetadata
	if err := r.call(ctx, http.MethodGet, modelPath(model, version), nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// ModelConfig returns the upstream model configuration unchanged.
func (r *Runtime) ModelConfig(ctx context.Context, model, version string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := r.call(ctx, http.MethodGet, modelPath(model, version)+"/config", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ModelStatistics returns upstream statistics for one model or all models.
func (r *Runtime) ModelStatistics(ctx context.Context, model, version string) (*runtime.ModelStatistics, error) {
	path := "/v2/models/stats"
	if model != "" {
		path = modelPath(model, version) + "/stats"
	}
	var stats runtime.ModelStatistics
	if err := r.call(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// TraceSetting reads, or updates then reads, upstream trace settings.
func (r *Runtime) TraceSetting(ctx context.Context, model string, update runtime.TraceSettings) (runtime.TraceSettings, error) {
	path := "/v2/trace/setting"
	if model != "" {
		path = modelPath(model, "") + "/trace/setting"
	}
	method, body := http.MethodGet, any(nil)
	if update != nil {
		method, body = http.MethodPost, update
	}
	var settings runtime.TraceSettings
	if err := r.call(ctx, method, path, body, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// RepositoryIndex lists the upstream repository.
func (r *Runtime) RepositoryIndex(ctx context.Context, repository string, readyOnly bool) ([]runtime.RepositoryModel, error) {
	var models []runtime.RepositoryModel
	err := r.call(ctx, http.MethodPost, repositoryPath(repository)+"/index", repositoryIndexRequest{Ready: readyOnly}, &models)
	if err != nil {
		return nil, err
	}
	return models, nil
}

// RepositoryLoad asks the upstream to load model.
func (r *Runtime) RepositoryLoad(ctx context.Context, repository, model string) error {
	return r.call(ctx, http.MethodPost, repositoryPath(repository)+"/models/"+url.PathEscape(model)+"/load", nil, nil)
}

// RepositoryUnload asks the upstream to unload model.
func (r *Runtime) RepositoryUnload(ctx context.Context, repository, model string) error {
	return r.call(ctx, http.MethodPost, repositoryPath(repository)+"/models/"+url.PathEscape(model)+"/unload", nil, nil)
}

// call sends a JSON control request and decodes the response into out,
// which may be nil.
func (r *Runtime) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return api.NewInternalError(fmt.Sprintf("failed to marshal upstream request: %v", err))
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return api.NewInternalError(fmt.Sprintf("failed to create upstream request: %v", err))
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := r.send(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return api.NewUpstreamError(http.StatusBadGateway, fmt.Sprintf("failed to parse upstream response: %v", err))
	}
	return nil
}

// probe reports whether a GET on path answers 200. Unreachable upstreams
// are reported as not ready rather than as errors.
func (r *Runtime) probe(ctx context.Context, path string) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return false, api.NewInternalError(fmt.Sprintf("failed to create upstream request: %v", err))
	}
	r.authorize(httpReq)
	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		r.logger.Warn("upstream probe failed", "path", path, "error", err)
		return false, nil
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, httpResp.Body)
	return httpResp.StatusCode == http.StatusOK, nil
}

// send performs httpReq and maps failures and non-2xx statuses to API
// errors. The caller closes the body of a successful response.
func (r *Runtime) send(httpReq *http.Request) (*http.Response, error) {
	r.authorize(httpReq)
	debug.Log("runtime", "upstream request", "method", httpReq.Method, "path", httpReq.URL.Path)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		apiErr := MapHTTPError(httpResp)
		r.logger.Debug("upstream error", "path", httpReq.URL.Path, "status", httpResp.StatusCode, "error", apiErr.Message)
		return nil, apiErr
	}
	return httpResp, nil
}

func (r *Runtime) authorize(httpReq *http.Request) {
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}
}

func modelPath(model, version string) string {
	p := "/v2/models/" + url.PathEscape(model)
	if version != "" {
		p += "/versions/" + url.PathEscape(version)
	}
	return p
}

func repositoryPath(repository string) string {
	if repository == "" {
		return "/v2/repository"
	}
	return "/v2/repository/" + url.PathEscape(repository)
}
