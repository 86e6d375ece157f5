// Package debug provides category-scoped diagnostic logging for the
// gateway.
//
// Two independent knobs select the output: POLYGATE_DEBUG names the
// categories to trace (comma separated, "all" for everything) and
// POLYGATE_LOG_LEVEL sets the verbosity. Categories in use: providers,
// router, poll, codec, auth, storage, streaming, config.
//
//	debug.Log("providers", "request", "method", "POST", "url", url)
//	if debug.Enabled("providers") { /* expensive formatting */ }
package debug

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below slog.LevelDebug. At trace level the handlers emit
// full untruncated request and response bodies.
const LevelTrace = slog.LevelDebug - 4

// enabled is the category set selected at startup. It is written by
// configure during init and Init only, then read-only.
var (
	enabled map[string]struct{}
	allOn   bool
)

func init() {
	configure(os.Getenv("POLYGATE_DEBUG"))
}

// configure replaces the category set from a comma-separated list.
func configure(list string) {
	set := make(map[string]struct{})
	allOn = false
	for _, cat := range strings.Split(list, ",") {
		cat = strings.ToLower(strings.TrimSpace(cat))
		switch cat {
		case "":
		case "all":
			allOn = true
		default:
			set[cat] = struct{}{}
		}
	}
	enabled = set
}

// Init applies the configured categories and log level. Environment
// variables win over config file values so operators can flip diagnostics
// on a running deployment without editing config.
func Init(configCategories, configLevel string) {
	cats := os.Getenv("POLYGATE_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	configure(cats)

	level := os.Getenv("POLYGATE_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether the category is selected for diagnostics.
func Enabled(category string) bool {
	if allOn {
		return true
	}
	_, ok := enabled[category]
	return ok
}

// Log emits a debug record for the category. A no-op when the category is
// not selected.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"category", category}, args...)...)
}

// Trace emits a trace-level record for the category.
func Trace(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"category", category}, args...)...)
}

// Raw writes plain text to stderr with no slog framing, for copy-paste
// ready payloads such as full HTTP bodies. Emitted only when the category
// is selected and the level is trace.
func Raw(category, text string) {
	if !Enabled(category) || !slog.Default().Enabled(context.Background(), LevelTrace) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

var levelNames = map[string]slog.Level{
	"TRACE":   LevelTrace,
	"DEBUG":   slog.LevelDebug,
	"INFO":    slog.LevelInfo,
	"WARN":    slog.LevelWarn,
	"WARNING": slog.LevelWarn,
	"ERROR":   slog.LevelError,
}

// ParseLevel converts a level name to a slog.Level. Unknown names and the
// empty string mean info.
func ParseLevel(s string) slog.Level {
	if lvl, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// Truncate caps s at max runes, marking the cut with an ellipsis. Payloads
// logged outside trace level go through this so multibyte text is not
// split mid-character.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
