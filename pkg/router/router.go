// Package router maps request paths onto inference route kinds.
//
// Matching is first-match-wins: exact literal paths, then the model-scoped
// pattern, then server-scoped patterns. Paths that match nothing resolve to
// KindBadRequest. A Router holds only immutable state and is safe for
// concurrent use.
package router

import (
	"regexp"

	"github.com/rhuss/tensorgate/pkg/debug"
)

// Kind identifies the handler a path dispatches to.
type Kind int

const (
	KindBadRequest Kind = iota
	KindServerMetadata
	KindHealth
	KindModelMetadata
	KindModelReady
	KindModelInfer
	KindModelConfig
	KindModelStats
	KindModelTrace
	KindTrace
	KindSystemSharedMemory
	KindCUDASharedMemory
	KindRepositoryIndex
	KindRepositoryControl
)

var kindNames = map[Kind]string{
	KindBadRequest:         "bad_request",
	KindServerMetadata:     "server_metadata",
	KindHealth:             "health",
	KindModelMetadata:      "model_metadata",
	KindModelReady:         "model_ready",
	KindModelInfer:         "infer",
	KindModelConfig:        "model_config",
	KindModelStats:         "model_stats",
	KindModelTrace:         "model_trace",
	KindTrace:              "trace",
	KindSystemSharedMemory: "system_shared_memory",
	KindCUDASharedMemory:   "cuda_shared_memory",
	KindRepositoryIndex:    "repository_index",
	KindRepositoryControl:  "repository_control",
}

// String returns the kind name used as a metric label.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Route is the result of matching a path. Only the fields relevant to Kind
// are set.
type Route struct {
	Kind    Kind
	Model   string
	Version string

	// Health is "live" or "ready" for KindHealth.
	Health string

	// Region is the shared-memory region, empty for all regions.
	Region string

	// Action is status, register or unregister for shared-memory routes and
	// load or unload for KindRepositoryControl.
	Action string

	Repository string
}

var (
	modelPattern      = regexp.MustCompile(`^/v2/models/([^/]+)(?:/versions/([0-9]+))?(?:/(infer|ready|config|stats|trace/setting))?$`)
	serverPattern     = regexp.MustCompile(`^/v2/?$`)
	healthPattern     = regexp.MustCompile(`^/v2/health/(live|ready)$`)
	systemShmPattern  = regexp.MustCompile(`^/v2/systemsharedmemory(?:/region/([^/]+))?/(status|register|unregister)$`)
	cudaShmPattern    = regexp.MustCompile(`^/v2/cudasharedmemory(?:/region/([^/]+))?/(status|register|unregister)$`)
	repositoryPattern = regexp.MustCompile(`^/v2/repository(?:/([^/]+))?/(?:(index)|models/([^/]+)/(load|unload))$`)
	tracePattern      = regexp.MustCompile(`^/v2/trace/setting$`)
)

// literals are matched before any pattern.
var literals = map[string]Route{
	"/v2/models/stats": {Kind: KindModelStats},
}

// Router matches paths. The zero value is not usable; call New.
type Router struct {
	entrypoint string
}

// New returns a router that rewrites the empty path and "/" to entrypoint.
func New(entrypoint string) *Router {
	return &Router{entrypoint: entrypoint}
}

// Entrypoint returns the path used for requests to the root.
func (r *Router) Entrypoint() string { return r.entrypoint }

// Match resolves path to a route.
func (r *Router) Match(path string) Route {
	if path == "" || path == "/" {
		path = r.entrypoint
	}
	route := match(path)
	debug.Log("router", "path matched", "path", path, "kind", route.Kind.String(), "model", route.Model, "version", route.Version)
	return route
}

func match(path string) Route {
	if route, ok := literals[path]; ok {
		return route
	}

	if m := modelPattern.FindStringSubmatch(path); m != nil {
		route := Route{Model: m[1], Version: m[2]}
		switch m[3] {
		case "":
			route.Kind = KindModelMetadata
		case "ready":
			route.Kind = KindModelReady
		case "infer":
			route.Kind = KindModelInfer
		case "config":
			route.Kind = KindModelConfig
		case "stats":
			route.Kind = KindModelStats
		case "trace/setting":
			// Trace settings are not versioned.
			if route.Version != "" {
				return Route{Kind: KindBadRequest}
			}
			route.Kind = KindModelTrace
		}
		return route
	}

	switch {
	case serverPattern.MatchString(path):
		return Route{Kind: KindServerMetadata}
	case tracePattern.MatchString(path):
		return Route{Kind: KindTrace}
	}

	if m := healthPattern.FindStringSubmatch(path); m != nil {
		return Route{Kind: KindHealth, Health: m[1]}
	}
	if m := systemShmPattern.FindStringSubmatch(path); m != nil {
		return Route{Kind: KindSystemSharedMemory, Region: m[1], Action: m[2]}
	}
	if m := cudaShmPattern.FindStringSubmatch(path); m != nil {
		return Route{Kind: KindCUDASharedMemory, Region: m[1], Action: m[2]}
	}
	if m := repositoryPattern.FindStringSubmatch(path); m != nil {
		if m[2] == "index" {
			return Route{Kind: KindRepositoryIndex, Repository: m[1]}
		}
		return Route{Kind: KindRepositoryControl, Repository: m[1], Model: m[3], Action: m[4]}
	}
	return Route{Kind: KindBadRequest}
}
