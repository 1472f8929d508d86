package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/router"
	"github.com/rhuss/tensorgate/pkg/runtime"
	"github.com/rhuss/tensorgate/pkg/shm"
	"github.com/rhuss/tensorgate/pkg/transport"
)

// maxControlBody bounds the JSON bodies of control-plane requests.
const maxControlBody = 1 << 20

func (a *Adapter) handleServerMetadata(w http.ResponseWriter, r *http.Request) {
	md, err := a.runtime.ServerMetadata(r.Context())
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, md)
}

// handleHealth answers 200 when the server is live (or ready) and 503
// otherwise, with an empty body.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request, route router.Route) {
	check := a.runtime.ServerLive
	if route.Health == "ready" {
		check = a.runtime.ServerReady
	}
	ok, err := check(r.Context())
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeStatus(w, ok)
}

func (a *Adapter) handleModelReady(w http.ResponseWriter, r *http.Request, route router.Route) {
	ok, err := a.runtime.ModelReady(r.Context(), route.Model, route.Version)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeStatus(w, ok)
}

func writeStatus(w http.ResponseWriter, ok bool) {
	if ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

func (a *Adapter) handleModelMetadata(w http.ResponseWriter, r *http.Request, route router.Route) {
	md, err := a.runtime.ModelMetadata(r.Context(), route.Model, route.Version)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, md)
}

func (a *Adapter) handleModelConfig(w http.ResponseWriter, r *http.Request, route router.Route) {
	cfg, err := a.runtime.ModelConfig(r.Context(), route.Model, route.Version)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(cfg)
}

// handleModelStats serves /v2/models/stats (all models) and the
// model-scoped stats routes.
func (a *Adapter) handleModelStats(w http.ResponseWriter, r *http.Request, route router.Route) {
	stats, err := a.runtime.ModelStatistics(r.Context(), route.Model, route.Version)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, stats)
}

// handleTrace reads (GET) or updates (POST) global or model trace settings.
func (a *Adapter) handleTrace(w http.ResponseWriter, r *http.Request, route router.Route) {
	var update runtime.TraceSettings
	if r.Method == http.MethodPost {
		update = runtime.TraceSettings{}
		if err := decodeControlBody(r, &update); err != nil {
			transport.WriteError(w, err)
			return
		}
	}

	settings, err := a.runtime.TraceSetting(r.Context(), route.Model, update)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, settings)
}

type repositoryIndexRequest struct {
	Ready bool `json:"ready"`
}

func (a *Adapter) handleRepositoryIndex(w http.ResponseWriter, r *http.Request, route router.Route) {
	var req repositoryIndexRequest
	if err := decodeControlBody(r, &req); err != nil {
		transport.WriteError(w, err)
		return
	}

	models, err := a.runtime.RepositoryIndex(r.Context(), route.Repository, req.Ready)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if models == nil {
		models = []runtime.RepositoryModel{}
	}
	writeJSON(w, models)
}

func (a *Adapter) handleRepositoryControl(w http.ResponseWriter, r *http.Request, route router.Route) {
	var err error
	if route.Action == "load" {
		err = a.runtime.RepositoryLoad(r.Context(), route.Repository, route.Model)
	} else {
		err = a.runtime.RepositoryUnload(r.Context(), route.Repository, route.Model)
	}
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSharedMemory serves status, register and unregister for system and
// CUDA regions.
func (a *Adapter) handleSharedMemory(w http.ResponseWriter, r *http.Request, route router.Route) {
	kind := shm.KindSystem
	if route.Kind == router.KindCUDASharedMemory {
		kind = shm.KindCUDA
	}
	ctx := r.Context()

	switch route.Action {
	case "status":
		status, err := a.runtime.SharedMemoryStatus(ctx, kind, route.Region)
		if err != nil {
			transport.WriteError(w, err)
			return
		}
		if status == nil {
			status = []shm.RegionStatus{}
		}
		writeJSON(w, status)

	case "register":
		if route.Region == "" {
			transport.WriteAPIError(w, api.NewInvalidArgumentError("region", "register requires a region name"))
			return
		}
		var reg runtime.SharedMemoryRegistration
		if err := decodeControlBody(r, &reg); err != nil {
			transport.WriteError(w, err)
			return
		}
		if err := a.runtime.SharedMemoryRegister(ctx, kind, route.Region, reg); err != nil {
			transport.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)

	case "unregister":
		if err := a.runtime.SharedMemoryUnregister(ctx, kind, route.Region); err != nil {
			transport.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// decodeControlBody decodes an optional JSON body into v. An empty body
// leaves v unchanged.
func decodeControlBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxControlBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return api.NewInvalidArgumentError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
