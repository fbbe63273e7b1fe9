package internal

import (
	"strconv"
	"sync/atomic"
)

var (
	quietMode   atomic.Bool // Indicates whether quiet mode is enabled.
	debugMode   atomic.Bool // Indicates whether debug logging is enabled.
	verboseMode atomic.Bool // Indicates whether verbose logging is enabled.
	noColorMode atomic.Bool // Indicates whether coloured output is disabled.
)

// Parses the linker flags into usable runtime variables.
//
// The raw* variables are set via ldflags during the build process and default
// to "false". Unparseable values are ignored.
func init() {
	for raw, mode := range map[*string]*atomic.Bool{
		&rawQuiet:   &quietMode,
		&rawDebug:   &debugMode,
		&rawVerbose: &verboseMode,
		&rawNoColor: &noColorMode,
	} {
		if v, err := strconv.ParseBool(*raw); err == nil {
			mode.Store(v)
		}
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) {
	quietMode.Store(enabled)
}

// Returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode.Load()
}

// Enables or disables debug mode.
func SetDebug(enabled bool) {
	debugMode.Store(enabled)
}

// Returns true if debug mode is enabled.
func IsDebug() bool {
	return debugMode.Load()
}

// Enables or disables verbose logging.
func SetVerbose(enabled bool) {
	verboseMode.Store(enabled)
}

// Returns true if verbose logging is enabled.
func IsVerbose() bool {
	return verboseMode.Load()
}

// Enables or disables coloured log output.
func SetNoColor(enabled bool) {
	noColorMode.Store(enabled)
}

// Returns true if coloured log output is disabled.
func IsNoColor() bool {
	return noColorMode.Load()
}
