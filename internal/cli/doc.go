// Parses flags, configures logging and runs cruxrel commands.
//
// The following global flags are accepted:
//
//	-q, --quiet       Suppress informational output.
//	-v, --verbose     Enable verbose output.
//	-d, --debug       Enable debug output.
//	    --no-color    Disable coloured output.
//	-s, --socket      Unix socket path of the release daemon.
//
// Commands:
//
//	release [DIR]     Build, upload and record a package release.
//	serve             Run the release daemon.
//	status            Query a running daemon.
//	version           Print version information.
//
// Flags override build-time defaults set via linker flags. Most release
// flags can also be set through CRUXREL_* environment variables, which are
// read from a .env file in the working directory when present. After
// parsing, the global logger is rebuilt to reflect the final level.
package cli
