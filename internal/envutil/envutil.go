// Package envutil reads flag defaults from the environment.
package envutil

import (
	"log/slog"
	"os"
	"strconv"
)

// Bool returns the boolean value of the environment variable name, or def when
// it is unset or not a boolean.
func Bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Failed to parse environment variable as a boolean", "name", name, "value", v, "error", err)
		return def
	}
	return b
}

// Int returns the integer value of the environment variable name, or def when
// it is unset or not an integer.
func Int(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Failed to parse environment variable as an integer", "name", name, "value", v, "error", err)
		return def
	}
	return i
}
