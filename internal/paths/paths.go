package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	programName = "cruxrel"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/cruxrel or /run/user/<uid>/cruxrel
//	macOS:   ~/Library/Caches/cruxrel/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, programName)
	}
	return filepath.Join(xdg.CacheHome, programName, "run")
}

// Default path to the Unix domain socket of the release daemon.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxrel/cruxrel.sock
//	macOS:   ~/Library/Caches/cruxrel/run/cruxrel.sock
func Socket() string {
	return filepath.Join(Runtime(), "cruxrel.sock")
}

// Default path to the daemon PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/cruxrel/cruxrel.pid
//	macOS:   ~/Library/Caches/cruxrel/run/cruxrel.pid
func PIDFile() string {
	return filepath.Join(Runtime(), "cruxrel.pid")
}

// Path to the cache directory.
//
//	Linux:   $XDG_CACHE_HOME/cruxrel or ~/.cache/cruxrel
//	macOS:   ~/Library/Caches/cruxrel
func Cache() string {
	return filepath.Join(xdg.CacheHome, programName)
}

// Path to the local release index, a cache of every release record written
// on this machine. Entries are disposable and subject to pruning.
//
//	Linux:   $XDG_CACHE_HOME/cruxrel/releases
func ReleaseIndex() string {
	return filepath.Join(Cache(), "releases")
}
