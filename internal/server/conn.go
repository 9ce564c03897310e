package server

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/crabcache/crabcache/internal/codec"
	"github.com/crabcache/crabcache/internal/executor"
)

const readChunkSize = 4096

// handleConn drives one connection's decode/execute/encode loop until the
// client disconnects, an unrecoverable protocol error occurs, a batch
// exceeds the configured limits, or a WAL write failure is discovered on
// this connection's batch (spec §4.1, §4.4).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer context.AfterFunc(ctx, func() { conn.Close() })()

	out := newOutboundWriter(conn, s.outboundBufferBytes)
	go out.run()
	defer out.close()

	dialect := codec.DialectUnknown
	var buf []byte
	tmp := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return
		}

		if dialect == codec.DialectUnknown {
			if len(buf) == 0 {
				continue
			}
			dialect = codec.DetectDialect(buf[0])
			if dialect == codec.DialectUnknown {
				out.enqueue(codec.Encode(codec.DialectText, codec.Response{Kind: codec.RespError, Message: "unrecognized dialect"}))
				return
			}
		}

		cmds, consumed, decodeErr := codec.Decode(dialect, buf, s.limits)
		buf = compact(buf, consumed)

		if decodeErr != nil {
			out.enqueue(codec.Encode(dialect, codec.Response{Kind: codec.RespError, Message: "protocol violation"}))
			return
		}
		if len(cmds) == 0 {
			continue
		}

		if err := executor.CheckBatchLimits(cmds, s.ex.MaxBatchSize(), s.ex.MaxBatchBytes()); err != nil {
			out.enqueue(codec.Encode(dialect, codec.Response{Kind: codec.RespError, Message: err.Error()}))
			return
		}

		responses, fatal := s.ex.Execute(ctx, cmds)
		var framed []byte
		for _, r := range responses {
			framed = append(framed, codec.Encode(dialect, r)...)
		}
		if !out.enqueue(framed) {
			s.log.Debug("outbound buffer full, closing connection")
			conn.Close()
			return
		}
		if fatal {
			return
		}
	}
}

// compact removes the first n consumed bytes from buf, reusing its
// backing array so a connection with a steady stream of complete frames
// never grows buf without bound.
func compact(buf []byte, n int) []byte {
	if n == 0 {
		return buf
	}
	remaining := len(buf) - n
	copy(buf, buf[n:])
	return buf[:remaining]
}

// outboundWriter serializes writes to conn through a bounded queue so a
// slow-reading client can't make the connection's handler block forever;
// once the queued bytes would exceed the configured bound, enqueue fails
// and the caller terminates the connection (spec §4.4: "write-back uses a
// bounded per-connection outbound buffer; if full, the connection is
// terminated").
type outboundWriter struct {
	conn    net.Conn
	queue   chan []byte
	pending int64
	limit   int64
	done    chan struct{}
}

func newOutboundWriter(conn net.Conn, limitBytes int) *outboundWriter {
	return &outboundWriter{
		conn:  conn,
		queue: make(chan []byte, 256),
		limit: int64(limitBytes),
		done:  make(chan struct{}),
	}
}

// enqueue reports false (and does not queue b) if doing so would exceed
// the configured outbound buffer bound.
func (w *outboundWriter) enqueue(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	if atomic.AddInt64(&w.pending, int64(len(b))) > w.limit {
		atomic.AddInt64(&w.pending, -int64(len(b)))
		return false
	}
	select {
	case w.queue <- b:
		return true
	default:
		atomic.AddInt64(&w.pending, -int64(len(b)))
		return false
	}
}

func (w *outboundWriter) run() {
	defer close(w.done)
	for b := range w.queue {
		atomic.AddInt64(&w.pending, -int64(len(b)))
		if _, err := w.conn.Write(b); err != nil {
			return
		}
	}
}

// close stops the queue and waits until run has written every frame already
// queued (or a write has failed), so a final ERROR reaches the client
// before the connection is closed.
func (w *outboundWriter) close() {
	close(w.queue)
	<-w.done
}
