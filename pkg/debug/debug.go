// Package debug adds per-category debug logging on top of slog.
//
// Categories select what is logged (TENSORGATE_DEBUG or logging.debug, a
// comma separated list, "all" for everything). The slog level selects how
// much (TENSORGATE_LOG_LEVEL or logging.level, down to TRACE).
//
//	debug.Log("wire", "header parsed", "length", n)
package debug

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// LevelTrace sits below slog.LevelDebug. Raw wire bytes are only dumped at
// this level.
const LevelTrace = slog.LevelDebug - 4

const (
	envCategories = "TENSORGATE_DEBUG"
	envLevel      = "TENSORGATE_LOG_LEVEL"
)

// maxDump bounds the bytes written by Dump.
const maxDump = 512

// Known lists the categories used by tensorgate packages.
var Known = []string{"wire", "router", "compress", "shm", "runtime", "auth", "transport", "config"}

type set map[string]struct{}

var enabled atomic.Pointer[set]

func init() {
	s := parseCategories(os.Getenv(envCategories))
	enabled.Store(&s)
}

// Init installs the default slog handler and the enabled categories.
// Environment variables win over the config values. format is "json" or
// text. Unknown categories are kept and reported with a warning.
func Init(categories, level, format string) {
	if v := os.Getenv(envCategories); v != "" {
		categories = v
	}
	if v := os.Getenv(envLevel); v != "" {
		level = v
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	s := parseCategories(categories)
	enabled.Store(&s)
	for c := range s {
		if c != "all" && !slices.Contains(Known, c) {
			slog.Warn("unknown debug category", "category", c)
		}
	}
}

// Enabled reports whether category is switched on.
func Enabled(category string) bool {
	s := *enabled.Load()
	if _, ok := s["all"]; ok {
		return true
	}
	_, ok := s[category]
	return ok
}

// Log emits a debug record tagged with category, if enabled.
func Log(category, msg string, args ...any) {
	if Enabled(category) {
		slog.Debug(msg, append([]any{"debug", category}, args...)...)
	}
}

// Trace is Log at LevelTrace.
func Trace(category, msg string, args ...any) {
	if Enabled(category) {
		slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
	}
}

// TraceIsEnabled reports whether Trace output for category would be written.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// Dump writes up to 512 bytes of b as hex at trace level.
func Dump(category, msg string, b []byte) {
	if !TraceIsEnabled(category) {
		return
	}
	n := min(len(b), maxDump)
	slog.Log(context.Background(), LevelTrace, msg,
		"debug", category, "len", len(b), "truncated", n < len(b), "hex", hex.EncodeToString(b[:n]))
}

// ParseLevel maps TRACE, DEBUG, INFO, WARN and ERROR (any case) to slog
// levels. Anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseCategories(s string) set {
	cats := set{}
	for _, c := range strings.Split(s, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cats[c] = struct{}{}
		}
	}
	return cats
}
