// Package protocol defines the messages exchanged with the release daemon.
//
// Every message is a JSON envelope on its own line:
//
//	{"command":"release","payload":{"dir":"/src/foo","backend":"ipfs"}}
//
// A client opens a connection, writes one request envelope and reads
// envelopes until it receives "ok" or "error". Releases interleave
// "progress" envelopes before the final answer.
package protocol
