// Package server implements the cruxrel release daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries one request: the client sends a newline-delimited
// envelope, the server dispatches the command and writes envelopes back
// before closing the connection. Release commands stream progress envelopes
// ahead of the final answer.
//
// Releases are serialized. They share the container engine's local image
// tags, so a second release waits until the first one finishes, or until its
// client disconnects.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    Release: release,
//	    Index:   &release.Index{Dir: paths.ReleaseIndex()},
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
