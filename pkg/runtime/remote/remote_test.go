package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/runtime"
	"github.com/rhuss/tensorgate/pkg/shm"
)

// upstream is a fake v2 server that records the last infer request.
type upstream struct {
	header  inferRequestJSON
	payload []byte
	auth    string
}

func (u *upstream) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v2/models/ranker/infer", func(w http.ResponseWriter, r *http.Request) {
		u.auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		n, err := strconv.Atoi(r.Header.Get(headerContentLength))
		if err != nil || n > len(body) {
			t.Errorf("bad header length %q for %d bytes", r.Header.Get(headerContentLength), len(body))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal(body[:n], &u.header); err != nil {
			t.Errorf("bad request header: %v", err)
		}
		u.payload = body[n:]

		// One binary output echoing the input, one JSON output.
		size := uint64(len(u.payload))
		resp, _ := json.Marshal(inferResponseJSON{
			ID:           u.header.ID,
			ModelName:    "ranker",
			ModelVersion: "1",
			Outputs: []tensorJSON{
				{Name: "OUT", DataType: "UINT8", Shape: []int64{int64(size)}, Parameters: &tensorParams{BinaryDataSize: &size}},
				{Name: "SCORE", DataType: "INT32", Shape: []int64{2}, Data: json.RawMessage(`[1, 2]`)},
			},
		})
		w.Header().Set(headerContentLength, strconv.Itoa(len(resp)))
		w.Write(resp)
		w.Write(u.payload)
	})

	mux.HandleFunc("POST /v2/models/missing/infer", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Request for unknown model: 'missing' is not found"}`))
	})
	mux.HandleFunc("POST /v2/models/broken/infer", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	mux.HandleFunc("POST /v2/models/short/infer", func(w http.ResponseWriter, r *http.Request) {
		size := uint64(100)
		resp, _ := json.Marshal(inferResponseJSON{Outputs: []tensorJSON{
			{Name: "OUT", DataType: "UINT8", Shape: []int64{100}, Parameters: &tensorParams{BinaryDataSize: &size}},
		}})
		w.Header().Set(headerContentLength, strconv.Itoa(len(resp)))
		w.Write(resp)
	})

	mux.HandleFunc("GET /v2/health/live", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /v2/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /v2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"triton","version":"2.40.0","extensions":["classification"]}`))
	})
	mux.HandleFunc("GET /v2/models/ranker/versions/1/ready", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /v2/models/ranker", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"ranker","versions":["1"],"platform":"onnxruntime_onnx","inputs":[],"outputs":[]}`))
	})
	mux.HandleFunc("GET /v2/models/ranker/config", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"ranker","max_batch_size":8}`))
	})
	mux.HandleFunc("GET /v2/models/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model_stats":[{"name":"ranker","version":"1","inference_count":3}]}`))
	})
	mux.HandleFunc("GET /v2/models/ranker/trace/setting", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"trace_level":["OFF"]}`))
	})
	mux.HandleFunc("POST /v2/models/ranker/trace/setting", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	mux.HandleFunc("POST /v2/repository/index", func(w http.ResponseWriter, r *http.Request) {
		var req repositoryIndexRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Ready {
			w.Write([]byte(`[{"name":"ranker","version":"1","state":"READY"}]`))
			return
		}
		w.Write([]byte(`[{"name":"ranker","version":"1","state":"READY"},{"name":"old","state":"UNAVAILABLE"}]`))
	})
	mux.HandleFunc("POST /v2/repository/models/ranker/load", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /v2/repository/models/ranker/unload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"model is busy"}`))
	})
	return mux
}

func newRemote(t *testing.T, reg *shm.Registry, opts ...Option) (*Runtime, *upstream) {
	t.Helper()
	u := &upstream{}
	srv := httptest.NewServer(u.handler(t))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", reg, opts...), u
}

func inferRequest(model string, data []byte, outputs ...api.RequestedOutput) *api.InferRequest {
	return &api.InferRequest{
		ModelName:     model,
		ID:            "r1",
		CorrelationID: api.UintCorrelationID(42),
		Flags:         api.FlagSequenceStart,
		Inputs: []api.Tensor{{
			Name: "IN", DataType: api.DataTypeUint8, Shape: []int64{int64(len(data))},
			Data: api.BorrowedData([][]byte{data[:2], data[2:]}),
		}},
		Outputs: outputs,
	}
}

func wantType(t *testing.T, err error, typ api.ErrorType) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", typ)
	}
	if got := api.AsAPIError(err).Type; got != typ {
		t.Fatalf("error type = %s, want %s (%v)", got, typ, err)
	}
}

func TestInfer_ForwardsBinaryTensors(t *testing.T) {
	rt, u := newRemote(t, nil, WithToken("tok-upstream"))
	req := inferRequest("ranker", []byte{1, 2, 3, 4},
		api.RequestedOutput{Name: "OUT", Kind: api.OutputBinary},
		api.RequestedOutput{Name: "SCORE", Kind: api.OutputJSON})

	resp, err := rt.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	if u.auth != "Bearer tok-upstream" {
		t.Errorf("Authorization = %q", u.auth)
	}
	if !bytes.Equal(u.payload, []byte{1, 2, 3, 4}) {
		t.Errorf("upstream payload = %v", u.payload)
	}
	in := u.header.Inputs[0]
	if in.Name != "IN" || in.DataType != "UINT8" || in.Parameters == nil || *in.Parameters.BinaryDataSize != 4 {
		t.Errorf("upstream input = %+v", in)
	}
	if len(u.header.Outputs) != 2 || !u.header.Outputs[0].Parameters.BinaryData {
		t.Errorf("upstream outputs = %+v", u.header.Outputs)
	}
	if u.header.Parameters["sequence_id"] != float64(42) || u.header.Parameters["sequence_start"] != true {
		t.Errorf("upstream parameters = %v", u.header.Parameters)
	}

	if resp.ID != "r1" || resp.ModelName != "ranker" || resp.ModelVersion != "1" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(resp.Outputs))
	}
	if out := resp.Outputs[0]; !bytes.Equal(out.Data, []byte{1, 2, 3, 4}) || out.Tag != &req.Outputs[0] {
		t.Errorf("OUT = %+v", out)
	}
	if out := resp.Outputs[1]; !bytes.Equal(out.Data, []byte{1, 0, 0, 0, 2, 0, 0, 0}) || out.Kind() != api.OutputJSON {
		t.Errorf("SCORE = %+v", out)
	}
}

func TestInfer_FramesRawBytes(t *testing.T) {
	rt, u := newRemote(t, nil)
	req := &api.InferRequest{
		ModelName: "ranker",
		Inputs: []api.Tensor{{Name: "QUERY", DataType: api.DataTypeBytes, Shape: []int64{1},
			Data: api.BorrowedData([][]byte{[]byte("raw record")})}},
	}
	if _, err := rt.Infer(context.Background(), req); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if string(u.payload) != "\x0a\x00\x00\x00raw record" {
		t.Errorf("upstream payload = %q", u.payload)
	}
	if got := *u.header.Inputs[0].Parameters.BinaryDataSize; got != 14 {
		t.Errorf("binary_data_size = %d, want 14", got)
	}
}

func TestInfer_DefaultOutputs(t *testing.T) {
	rt, u := newRemote(t, nil)
	req := inferRequest("ranker", []byte{5, 6, 7})
	req.DefaultOutputKind = api.OutputBinary

	resp, err := rt.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if u.header.Parameters["binary_data_output"] != true || len(u.header.Outputs) != 0 {
		t.Errorf("upstream header = %+v", u.header)
	}
	for _, out := range resp.Outputs {
		if out.Tag == nil || out.Kind() != api.OutputBinary {
			t.Errorf("output %s kind = %v", out.Name, out.Kind())
		}
	}
}

func TestInfer_SharedMemoryOutput(t *testing.T) {
	reg := shm.NewRegistry()
	region := make([]byte, 8)
	if err := reg.RegisterBuffer("out-region", region); err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	ref, err := reg.Resolve("out-region", 0, 8)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	rt, _ := newRemote(t, reg)

	resp, err := rt.Infer(context.Background(), inferRequest("ranker", []byte{1, 2, 3, 4},
		api.RequestedOutput{Name: "OUT", Kind: api.OutputSharedMemory, SharedMemory: ref}))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if !bytes.Equal(region[:4], []byte{1, 2, 3, 4}) {
		t.Errorf("region = %v", region)
	}
	if len(resp.Outputs) != 2 || resp.Outputs[1].Tag != nil {
		t.Errorf("unrequested output should carry no tag: %+v", resp.Outputs)
	}
}

func TestInfer_Errors(t *testing.T) {
	rt, _ := newRemote(t, nil)

	tests := []struct {
		name  string
		model string
		typ   api.ErrorType
	}{
		{"not found", "missing", api.ErrorTypeNotFound},
		{"upstream failure", "broken", api.ErrorTypeUpstream},
		{"truncated binary output", "short", api.ErrorTypeUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Infer(context.Background(), inferRequest(tt.model, []byte{1, 2, 3}))
			wantType(t, err, tt.typ)
		})
	}

	_, err := rt.Infer(context.Background(), inferRequest("missing", []byte{1, 2, 3}))
	if msg := api.AsAPIError(err).Message; msg != "Request for unknown model: 'missing' is not found" {
		t.Errorf("message = %q", msg)
	}

	req := inferRequest("ranker", []byte{1, 2, 3})
	req.Inputs[0].Data = api.SharedMemoryData(&api.SharedMemoryRef{Region: "gpu", MemoryType: api.MemoryTypeGPU, ByteSize: 3})
	_, err = rt.Infer(context.Background(), req)
	wantType(t, err, api.ErrorTypeInvalidArgument)
}

func TestInfer_UnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	rt := New(base, nil, WithTimeout(time.Second))
	_, err := rt.Infer(context.Background(), inferRequest("ranker", []byte{1, 2, 3}))
	wantType(t, err, api.ErrorTypeUnavailable)

	live, err := rt.ServerLive(context.Background())
	if err != nil || live {
		t.Errorf("ServerLive = %v, %v; want false, nil", live, err)
	}
}

func TestHealthAndMetadata(t *testing.T) {
	rt, _ := newRemote(t, nil)
	ctx := context.Background()

	if live, err := rt.ServerLive(ctx); err != nil || !live {
		t.Errorf("ServerLive = %v, %v", live, err)
	}
	if ready, err := rt.ServerReady(ctx); err != nil || ready {
		t.Errorf("ServerReady = %v, %v; want false", ready, err)
	}
	if ready, err := rt.ModelReady(ctx, "ranker", "1"); err != nil || !ready {
		t.Errorf("ModelReady = %v, %v", ready, err)
	}
	if ready, err := rt.ModelReady(ctx, "missing", ""); err != nil || ready {
		t.Errorf("ModelReady(missing) = %v, %v", ready, err)
	}

	md, err := rt.ServerMetadata(ctx)
	if err != nil || md.Name != "triton" || md.Extensions[0] != "classification" {
		t.Errorf("ServerMetadata = %+v, %v", md, err)
	}
	mm, err := rt.ModelMetadata(ctx, "ranker", "")
	if err != nil || mm.Platform != "onnxruntime_onnx" {
		t.Errorf("ModelMetadata = %+v, %v", mm, err)
	}
	cfg, err := rt.ModelConfig(ctx, "ranker", "")
	if err != nil || string(cfg) != `{"name":"ranker","max_batch_size":8}` {
		t.Errorf("ModelConfig = %s, %v", cfg, err)
	}
	_, err = rt.ModelMetadata(ctx, "missing", "")
	wantType(t, err, api.ErrorTypeNotFound)
}

func TestStatisticsAndTrace(t *testing.T) {
	rt, _ := newRemote(t, nil)
	ctx := context.Background()

	stats, err := rt.ModelStatistics(ctx, "", "")
	if err != nil || len(stats.ModelStats) != 1 || stats.ModelStats[0].InferenceCount != 3 {
		t.Errorf("ModelStatistics = %+v, %v", stats, err)
	}

	settings, err := rt.TraceSetting(ctx, "ranker", nil)
	if err != nil {
		t.Fatalf("TraceSetting: %v", err)
	}
	if levels, ok := settings["trace_level"].([]any); !ok || levels[0] != "OFF" {
		t.Errorf("trace settings = %v", settings)
	}

	settings, err = rt.TraceSetting(ctx, "ranker", runtime.TraceSettings{"trace_rate": "10"})
	if err != nil || settings["trace_rate"] != "10" {
		t.Errorf("updated trace settings = %v, %v", settings, err)
	}
}

func TestRepository(t *testing.T) {
	rt, _ := newRemote(t, nil)
	ctx := context.Background()

	all, err := rt.RepositoryIndex(ctx, "", false)
	if err != nil || len(all) != 2 {
		t.Errorf("RepositoryIndex = %+v, %v", all, err)
	}
	ready, err := rt.RepositoryIndex(ctx, "", true)
	if err != nil || len(ready) != 1 || ready[0].State != runtime.StateReady {
		t.Errorf("RepositoryIndex(ready) = %+v, %v", ready, err)
	}

	if err := rt.RepositoryLoad(ctx, "", "ranker"); err != nil {
		t.Errorf("RepositoryLoad: %v", err)
	}
	err = rt.RepositoryUnload(ctx, "", "ranker")
	wantType(t, err, api.ErrorTypeInvalidArgument)
	if msg := api.AsAPIError(err).Message; msg != "model is busy" {
		t.Errorf("message = %q", msg)
	}
}

func TestSharedMemoryIsLocal(t *testing.T) {
	rt, _ := newRemote(t, nil)
	_, err := rt.SharedMemoryStatus(context.Background(), shm.KindSystem, "")
	wantType(t, err, api.ErrorTypeUnavailable)

	rt, _ = newRemote(t, shm.NewRegistry())
	err = rt.SharedMemoryRegister(context.Background(), shm.KindCUDA, "gpu0",
		runtime.SharedMemoryRegistration{ByteSize: 16, RawHandle: &runtime.RawHandle{B64: []byte("handle")}})
	if err != nil {
		t.Fatalf("SharedMemoryRegister: %v", err)
	}
	status, err := rt.SharedMemoryStatus(context.Background(), shm.KindCUDA, "")
	if err != nil || len(status) != 1 {
		t.Errorf("SharedMemoryStatus = %+v, %v", status, err)
	}
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		typ     api.ErrorType
		message string
	}{
		{http.StatusBadRequest, `{"error":"bad shape"}`, api.ErrorTypeInvalidArgument, "bad shape"},
		{http.StatusNotFound, "", api.ErrorTypeNotFound, "upstream resource not found"},
		{http.StatusUnauthorized, "", api.ErrorTypeUpstream, "upstream authentication failed"},
		{http.StatusServiceUnavailable, "overloaded", api.ErrorTypeUnavailable, "overloaded"},
		{http.StatusTooManyRequests, "", api.ErrorTypeUpstream, "upstream returned status 429"},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			err := MapHTTPError(&http.Response{StatusCode: tt.status, Body: io.NopCloser(bytes.NewBufferString(tt.body))})
			if err.Type != tt.typ || err.Message != tt.message {
				t.Errorf("MapHTTPError = %s %q, want %s %q", err.Type, err.Message, tt.typ, tt.message)
			}
		})
	}

	if err := MapHTTPError(&http.Response{StatusCode: http.StatusForbidden, Body: http.NoBody}); err.Status != http.StatusBadGateway {
		t.Errorf("forbidden status = %d, want 502", err.Status)
	}
}

func TestMapNetworkError(t *testing.T) {
	for _, err := range []error{context.DeadlineExceeded, context.Canceled, io.ErrUnexpectedEOF} {
		if got := MapNetworkError(err); got.Type != api.ErrorTypeUnavailable {
			t.Errorf("MapNetworkError(%v) = %s", err, got.Type)
		}
	}
}
