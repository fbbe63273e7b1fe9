package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/cruciblehq/cruxrel/internal"
	"github.com/cruciblehq/cruxrel/internal/protocol"
	"github.com/cruciblehq/cruxrel/internal/upload"
)

// Handles a release command.
//
// Waits for any running release to finish, then runs the pipeline, streaming
// progress envelopes to the client. A client that disconnects cancels the
// release, also while it is still waiting.
func (s *Server) handleRelease(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.ReleaseRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	select {
	case s.slot <- struct{}{}:
		defer func() { <-s.slot }()
	case <-ctx.Done():
		slog.Info("client left while waiting for a release slot", "dir", req.Dir)
		return
	case <-s.done:
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: ErrServer.Error() + ": shutting down"})
		return
	}

	progress := func(p upload.Progress) {
		s.respond(conn, protocol.CmdProgress, &protocol.ProgressResult{
			Backend:  string(p.Backend),
			Sent:     p.Sent,
			Total:    p.Total,
			Fraction: p.Fraction,
		})
	}

	c, err := s.release(ctx, req, progress)
	if err != nil {
		slog.Error("release failed", "dir", req.Dir, "error", err)
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.releases++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, &protocol.ReleaseResult{
		Name:           c.Name,
		Version:        c.Version,
		BuildDir:       c.BuildDir,
		Archives:       c.Archives,
		ContentAddress: c.ContentAddress,
		ReleaseHash:    c.ReleaseHash,
		Warnings:       c.Warnings,
	})
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	releases := s.releases
	s.mu.Unlock()

	status := &protocol.StatusResult{
		Running:  true,
		Version:  internal.VersionString(),
		Pid:      os.Getpid(),
		Uptime:   time.Since(s.startedAt).Truncate(time.Second).String(),
		Releases: releases,
		Busy:     len(s.slot) > 0,
	}

	if s.index != nil {
		recent, err := s.index.Recent(recentReleases)
		if err != nil {
			slog.Warn("failed to read release index", "error", err)
		}
		for _, r := range recent {
			status.Recent = append(status.Recent, protocol.RecentRelease{
				Name:       r.Name,
				Version:    r.Version,
				Hash:       r.Hash,
				UploadedAt: r.UploadedAt,
			})
		}
	}

	s.respond(conn, protocol.CmdOK, status)
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go s.Stop()
}
