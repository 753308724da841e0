package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jjsch-dev/go-swi/logger"
)

// maxLineSize bounds one request line; the original tool capped its input
// buffer the same way.
const maxLineSize = 64 * 1024

// Server carries the JSON command exchange over a byte stream: one request
// per line in, one response per line out.
type Server struct {
	dsp    *Dispatcher
	logger logger.Logger
}

// NewServer creates a server around the given dispatcher.
func NewServer(dsp *Dispatcher) (*Server, error) {
	if dsp == nil {
		return nil, errors.New("command: dispatcher is nil")
	}

	return &Server{dsp: dsp, logger: dsp.logger}, nil
}

// Serve reads newline-delimited requests from stream until EOF, the context
// is cancelled, or a write fails. Empty lines are skipped. Every request is
// answered, including unparsable ones.
//
// Serve does not close the stream; cancelling ctx only stops the loop at the
// next line boundary, so stream owners should close the stream to unblock a
// pending read.
func (s *Server) Serve(ctx context.Context, stream io.ReadWriter) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		rsp := s.dsp.Dispatch(line)

		out, err := rsp.Encode()
		if err != nil {
			s.logger.Error("response encode failed", "command", rsp.Command, "error", err)
			continue
		}

		out = append(out, '\n')
		if _, err := stream.Write(out); err != nil {
			return fmt.Errorf("command: write response: %w", err)
		}
	}

	return scanner.Err()
}

// ListenAndServe accepts TCP connections on addr and serves the command
// exchange on each of them concurrently. It returns when ctx is cancelled
// or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("command: listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	s.logger.Info("command server listening", "addr", lis.Addr().String())

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("command: accept: %w", err)
		}

		go func() {
			defer conn.Close()

			// Unblock the pending read when the context ends.
			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stop()

			s.logger.Info("client connected", "remote", conn.RemoteAddr().String())

			if err := s.Serve(ctx, conn); err != nil && ctx.Err() == nil {
				s.logger.Warn("client session ended", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}
