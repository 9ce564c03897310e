// Package server implements CrabCache's TCP front end: one goroutine per
// accepted connection, each running its own decode/execute/encode loop
// against a shared executor.Executor. Grounded on the accept-loop shape in
// other_examples' Bug-Finderr-hld-key-value-cache main.go (bare
// net.Listen/Accept, goroutine-per-connection, per-connection TCP tuning),
// with graceful shutdown fan-in via golang.org/x/sync/errgroup the way
// rpcpool-yellowstone-faithful's grpc-server.go coordinates many
// in-flight RPCs against one cancellation.
package server

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crabcache/crabcache/internal/codec"
	"github.com/crabcache/crabcache/internal/config"
	"github.com/crabcache/crabcache/internal/executor"
)

// Server accepts TCP connections and drives each through the wire codec
// and the executor.
type Server struct {
	addr                string
	ex                  *executor.Executor
	limits              codec.Limits
	idleTimeout         time.Duration
	outboundBufferBytes int
	log                 *zap.Logger
}

// New builds a Server. ex must already be wired to a store.Index and
// (optionally) a wal.WAL.
func New(cfg config.Config, ex *executor.Executor, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		addr:                cfg.ListenAddr,
		ex:                  ex,
		limits:              codec.Limits{MaxKeyLen: cfg.MaxKeyLen, MaxValueLen: cfg.MaxValueLen},
		idleTimeout:         time.Duration(cfg.IdleTimeoutMS) * time.Millisecond,
		outboundBufferBytes: cfg.OutboundBufferBytes,
		log:                 log,
	}
}

// ListenAndServe binds s.addr and serves connections until ctx is
// canceled, at which point the listener and every open connection are
// closed and any in-flight handler is given the chance to unwind.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop against an already-bound listener, useful for
// tests that want an ephemeral port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return g.Wait()
			default:
				return err
			}
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		g.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}
}
