package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cruciblehq/cruxrel/internal/pipeline"
	"github.com/cruciblehq/cruxrel/internal/protocol"
	"github.com/cruciblehq/cruxrel/internal/release"
	"github.com/cruciblehq/cruxrel/internal/upload"
)

func start(t *testing.T, cfg Config) *Server {
	t.Helper()

	dir := t.TempDir()
	cfg.SocketPath = filepath.Join(dir, "s.sock")
	cfg.PIDPath = filepath.Join(dir, "s.pid")
	if cfg.Release == nil {
		cfg.Release = func(context.Context, *protocol.ReleaseRequest, func(upload.Progress)) (*pipeline.Context, error) {
			return &pipeline.Context{}, nil
		}
	}

	srv, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

// Sends one command and returns every envelope received until the server
// closes the connection.
func call(t *testing.T, srv *Server, cmd protocol.Command, payload any) []protocol.Envelope {
	t.Helper()

	conn, err := net.Dial("unix", srv.socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	send(t, conn, cmd, payload)

	var out []protocol.Envelope
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		env, _, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, *env)
	}
	return out
}

func send(t *testing.T, conn net.Conn, cmd protocol.Command, payload any) {
	t.Helper()
	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatal(err)
	}
}

// Sends a release and waits for the connection to close.
func releaseAndWait(srv *Server) error {
	conn, err := net.Dial("unix", srv.socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := protocol.Encode(protocol.CmdRelease, &protocol.ReleaseRequest{Dir: "/src/foo"})
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, conn)
	return err
}

func last(t *testing.T, envs []protocol.Envelope) protocol.Envelope {
	t.Helper()
	if len(envs) == 0 {
		t.Fatal("no response")
	}
	return envs[len(envs)-1]
}

func TestNewRequiresRelease(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrServer) {
		t.Errorf("error = %v, want %v", err, ErrServer)
	}
}

func TestStartWritesSocketAndPID(t *testing.T) {
	srv := start(t, Config{})

	info, err := os.Stat(srv.socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != socketMode {
		t.Errorf("socket mode = %v, want %v", info.Mode().Perm(), os.FileMode(socketMode))
	}
	if _, err := os.Stat(srv.pidPath); err != nil {
		t.Errorf("PID file: %v", err)
	}
}

func TestRelease(t *testing.T) {
	var got *protocol.ReleaseRequest
	srv := start(t, Config{
		Release: func(_ context.Context, req *protocol.ReleaseRequest, progress func(upload.Progress)) (*pipeline.Context, error) {
			got = req
			progress(upload.Progress{Backend: upload.IPFS, Sent: 1, Total: 2, Fraction: 0.5})
			progress(upload.Progress{Backend: upload.IPFS, Sent: 2, Total: 2, Fraction: 1})
			return &pipeline.Context{Name: "foo", Version: "1.0.0", ReleaseHash: "/ipfs/QmTest"}, nil
		},
	})

	envs := call(t, srv, protocol.CmdRelease, &protocol.ReleaseRequest{Dir: "/src/foo", Backend: "ipfs"})
	if len(envs) != 3 {
		t.Fatalf("received %d envelopes, want 3", len(envs))
	}
	for _, env := range envs[:2] {
		if env.Command != protocol.CmdProgress {
			t.Errorf("command = %q, want progress", env.Command)
		}
	}

	final := last(t, envs)
	if final.Command != protocol.CmdOK {
		t.Fatalf("command = %q, payload %s", final.Command, final.Payload)
	}
	res, err := protocol.DecodePayload[protocol.ReleaseResult](final.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.ReleaseHash != "/ipfs/QmTest" || res.Name != "foo" {
		t.Errorf("result = %+v", res)
	}
	if got == nil || got.Dir != "/src/foo" {
		t.Errorf("request = %+v", got)
	}
}

func TestReleaseError(t *testing.T) {
	srv := start(t, Config{
		Release: func(context.Context, *protocol.ReleaseRequest, func(upload.Progress)) (*pipeline.Context, error) {
			return nil, errors.New("build error: linux/arm64: exit status 1")
		},
	})

	final := last(t, call(t, srv, protocol.CmdRelease, &protocol.ReleaseRequest{Dir: "/src/foo"}))
	if final.Command != protocol.CmdError {
		t.Fatalf("command = %q", final.Command)
	}
	res, err := protocol.DecodePayload[protocol.ErrorResult](final.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "build error: linux/arm64: exit status 1" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestReleasesAreSerialized(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		highest int
	)
	srv := start(t, Config{
		Release: func(context.Context, *protocol.ReleaseRequest, func(upload.Progress)) (*pipeline.Context, error) {
			mu.Lock()
			active++
			highest = max(highest, active)
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return &pipeline.Context{}, nil
		},
	})

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := releaseAndWait(srv); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if highest != 1 {
		t.Errorf("concurrent releases = %d, want 1", highest)
	}

	final := last(t, call(t, srv, protocol.CmdStatus, nil))
	status, err := protocol.DecodePayload[protocol.StatusResult](final.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if status.Releases != 3 || status.Busy {
		t.Errorf("status = %+v", status)
	}
}

func TestDisconnectCancelsRelease(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{})
	srv := start(t, Config{
		Release: func(ctx context.Context, _ *protocol.ReleaseRequest, _ func(upload.Progress)) (*pipeline.Context, error) {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		},
	})

	conn, err := net.Dial("unix", srv.socketPath)
	if err != nil {
		t.Fatal(err)
	}
	send(t, conn, protocol.CmdRelease, &protocol.ReleaseRequest{Dir: "/src/foo"})
	<-started
	conn.Close()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("release not cancelled after disconnect")
	}
}

func TestStatus(t *testing.T) {
	index := &release.Index{Dir: t.TempDir()}
	uploaded := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := index.Put("foo", "1.0.0", release.Entry{Hash: "/ipfs/QmTest", Backend: "ipfs", UploadedAt: uploaded}); err != nil {
		t.Fatal(err)
	}

	srv := start(t, Config{Index: index})

	final := last(t, call(t, srv, protocol.CmdStatus, nil))
	if final.Command != protocol.CmdOK {
		t.Fatalf("command = %q", final.Command)
	}
	status, err := protocol.DecodePayload[protocol.StatusResult](final.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.Pid != os.Getpid() {
		t.Errorf("status = %+v", status)
	}
	if len(status.Recent) != 1 || status.Recent[0].Hash != "/ipfs/QmTest" || !status.Recent[0].UploadedAt.Equal(uploaded) {
		t.Errorf("recent = %+v", status.Recent)
	}
}

func TestUnknownCommand(t *testing.T) {
	srv := start(t, Config{})

	final := last(t, call(t, srv, protocol.Command("build"), nil))
	if final.Command != protocol.CmdError {
		t.Errorf("command = %q", final.Command)
	}
}

func TestShutdown(t *testing.T) {
	srv := start(t, Config{})

	final := last(t, call(t, srv, protocol.CmdShutdown, nil))
	if final.Command != protocol.CmdOK {
		t.Fatalf("command = %q", final.Command)
	}

	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	if _, err := os.Stat(srv.socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present: %v", err)
	}
}
