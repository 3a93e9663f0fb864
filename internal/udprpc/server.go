// Package udprpc implements the connectionless datagram transport shared by
// the manager's and disk's request/reply loops: a single UDP socket, a
// dispatch table keyed by command name, and a short read deadline so the
// serve loop can observe shutdown without blocking forever. Modeled on the
// teacher's RFC 1057 portmapper (internal/protocol/portmap.Server), trimmed
// to UDP-only (this protocol has no TCP record-marking variant) and to a
// JSON envelope instead of XDR.
package udprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/internal/wire"
)

// Handler processes one decoded request from addr and returns the reply
// payload to marshal back to the caller.
type Handler func(ctx context.Context, req wire.Request, addr *net.UDPAddr) any

// Server is a single-threaded (one recv goroutine) UDP JSON-RPC server:
// requests are read, dispatched, and replied to serially, which is what
// lets the manager's busy-flag guard reason about "no two long-running
// operations overlap" without extra locking.
type Server struct {
	name     string
	handlers map[string]Handler

	conn         *net.UDPConn
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a Server with an empty dispatch table. Use Handle to
// register command handlers before calling Serve.
func NewServer(name string) *Server {
	return &Server{
		name:     name,
		handlers: make(map[string]Handler),
		shutdown: make(chan struct{}),
	}
}

// Handle registers the handler for a command name. Calling it after Serve
// has started is not supported -- register every command up front.
func (s *Server) Handle(cmd string, h Handler) {
	s.handlers[cmd] = h
}

// Serve binds to 0.0.0.0:port and processes datagrams until ctx is
// cancelled or Stop is called. It blocks until the serve loop exits.
func (s *Server) Serve(ctx context.Context, port int) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%s: listen UDP :%d: %w", s.name, port, err)
	}
	s.conn = conn
	defer conn.Close()

	logger.Info("udprpc server listening", "role", s.name, "port", port)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	buf := make([]byte, 65535)
	for {
		select {
		case <-s.shutdown:
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			continue
		}

		n, clientAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return nil
			default:
				logger.Debug("udprpc read error", "role", s.name, "error", err)
				continue
			}
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		// Processed serially, in this same goroutine: both the manager and
		// the disk content port require strictly ordered, single-threaded
		// request handling (spec.md S5) so that the manager's busy-flag
		// guard and the disk's mode/store never race with a second
		// in-flight request.
		s.handleDatagram(ctx, msg, clientAddr)
	}
}

func (s *Server) handleDatagram(ctx context.Context, data []byte, from *net.UDPAddr) {
	var req wire.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(from, wire.Fail("bad json"))
		return
	}

	h, ok := s.handlers[req.Cmd]
	if !ok {
		s.reply(from, wire.Fail("unsupported command: "+req.Cmd))
		return
	}

	lc := logger.NewLogContext(from.IP.String(), from.Port).WithCmd(req.Cmd).WithReqID(req.ReqID)
	ctx = logger.WithContext(ctx, lc)

	result := h(ctx, req, from)
	s.reply(from, result)
}

func (s *Server) reply(to *net.UDPAddr, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		logger.Error("udprpc marshal reply failed", "role", s.name, "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, to); err != nil {
		logger.Debug("udprpc write reply failed", "role", s.name, "to", to.String(), "error", err)
	}
}

// Stop gracefully shuts the server down; Serve returns once the current
// batch of in-flight handlers has drained.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// LocalAddr returns the bound address, for tests.
func (s *Server) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
