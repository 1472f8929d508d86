// Command mock-upstream runs a deterministic v2 inference server for
// exercising the remote runtime. Every model echoes its first input into
// each requested output.
//
// Configuration:
//
//	MOCK_PORT   - Listen port (default: 9000)
//	MOCK_MODELS - Comma separated model names (default: "echo")
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const headerContentLength = "Inference-Header-Content-Length"

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9000"
	}
	models := []string{"echo"}
	if v := os.Getenv("MOCK_MODELS"); v != "" {
		models = strings.Split(v, ",")
	}

	srv := &http.Server{Addr: ":" + port, Handler: newMux(models)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock upstream starting", "port", port, "models", models)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock upstream failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock upstream shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// --- Wire types ---

type tensor struct {
	Name       string          `json:"name"`
	DataType   string          `json:"datatype"`
	Shape      []int64         `json:"shape"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type inferRequest struct {
	ID         string         `json:"id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Inputs     []tensor       `json:"inputs"`
	Outputs    []tensor       `json:"outputs,omitempty"`
}

type inferResponse struct {
	ID           string   `json:"id,omitempty"`
	ModelName    string   `json:"model_name"`
	ModelVersion string   `json:"model_version"`
	Outputs      []tensor `json:"outputs"`
}

// --- Handlers ---

func newMux(models []string) *http.ServeMux {
	known := func(name string) bool { return slices.Contains(models, name) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/health/live", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /v2/health/ready", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /v2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"name": "mock-upstream", "version": "1.0.0", "extensions": []string{"binary_tensor_data"},
		})
	})
	mux.HandleFunc("GET /v2/models/{model}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("model")
		if !known(name) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Request for unknown model: '%s' is not found", name))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name": name, "versions": []string{"1"}, "platform": "mock",
			"inputs": []any{}, "outputs": []any{},
		})
	})
	mux.HandleFunc("GET /v2/models/{model}/ready", func(w http.ResponseWriter, r *http.Request) {
		if !known(r.PathValue("model")) {
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("POST /v2/repository/index", func(w http.ResponseWriter, r *http.Request) {
		index := make([]map[string]string, 0, len(models))
		for _, m := range models {
			index = append(index, map[string]string{"name": m, "version": "1", "state": "READY"})
		}
		writeJSON(w, http.StatusOK, index)
	})
	infer := func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("model")
		if !known(name) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Request for unknown model: '%s' is not found", name))
			return
		}
		handleInfer(w, r, name)
	}
	mux.HandleFunc("POST /v2/models/{model}/infer", infer)
	mux.HandleFunc("POST /v2/models/{model}/versions/{version}/infer", infer)
	return mux
}

func handleInfer(w http.ResponseWriter, r *http.Request, model string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	header, rest := body, []byte(nil)
	if v := r.Header.Get(headerContentLength); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > len(body) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", headerContentLength, v))
			return
		}
		header, rest = body[:n], body[n:]
	}

	var req inferRequest
	if err := json.Unmarshal(header, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse the request JSON buffer: %v", err))
		return
	}
	if len(req.Inputs) == 0 {
		writeError(w, http.StatusBadRequest, "expected at least 1 input")
		return
	}

	in := req.Inputs[0]
	var data []byte
	if size, ok := in.Parameters["binary_data_size"].(float64); ok {
		if int(size) > len(rest) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("input '%s' needs %d bytes, %d remain", in.Name, int(size), len(rest)))
			return
		}
		data = rest[:int(size)]
	}

	names := []string{"OUTPUT0"}
	if len(req.Outputs) > 0 {
		names = names[:0]
		for _, o := range req.Outputs {
			names = append(names, o.Name)
		}
	}

	resp := inferResponse{ID: req.ID, ModelName: model, ModelVersion: "1"}
	var payload bytes.Buffer
	for _, name := range names {
		out := tensor{Name: name, DataType: in.DataType, Shape: in.Shape}
		if data != nil {
			out.Parameters = map[string]any{"binary_data_size": len(data)}
			payload.Write(data)
		} else {
			out.Data = in.Data
		}
		resp.Outputs = append(resp.Outputs, out)
	}

	doc, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if payload.Len() > 0 {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set(headerContentLength, strconv.Itoa(len(doc)))
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Write(doc)
	w.Write(payload.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
