package udprpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rgranger/stripefs/internal/wire"
)

// Client sends one JSON envelope per UDP socket round trip and decodes the
// reply into a caller-supplied type. A fresh ephemeral ListenUDP socket is
// created for each request (see Call) rather than sharing one socket across
// concurrent callers -- the design note in spec.md S5 requires either
// serialized recv on a shared socket or one socket per worker; one socket
// per call is the simplest way to get that right with net.UDPConn, and is
// what every one of the stripe engine's per-stripe workers uses.
type Client struct {
	Timeout time.Duration
}

// NewClient creates a Client with the given default per-call timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{Timeout: timeout}
}

// Call sends args as a command envelope to addr and decodes the reply into
// reply. It opens a new ephemeral UDP socket, sends once, and waits for one
// datagram back within the client's timeout.
func (c *Client) Call(ctx context.Context, addr *net.UDPAddr, cmd string, args any, reply any) error {
	return CallFromPort(ctx, 0, addr, c.Timeout, cmd, args, reply)
}

// CallFromPort is Call bound to a specific local port instead of an
// ephemeral one. The disk uses it for its one-shot register-disk call, and
// the user client for every call it makes to the manager, so that both go
// out from the process's own m_port (spec.md S6).
func CallFromPort(ctx context.Context, localPort int, addr *net.UDPAddr, timeout time.Duration, cmd string, args any, reply any) error {
	req, err := wire.NewRequest(cmd, uuid.NewString(), args)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", cmd, err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", cmd, err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: localPort})
	if err != nil {
		return fmt.Errorf("open socket on port %d: %w", localPort, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}

	buf := make([]byte, 65535)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrTimeout
		}
		return fmt.Errorf("recv %s reply: %w", cmd, err)
	}

	if reply != nil {
		if err := json.Unmarshal(buf[:n], reply); err != nil {
			return fmt.Errorf("decode %s reply: %w", cmd, err)
		}
	}
	return nil
}

// ErrTimeout is returned by Call when no reply arrives within the timeout.
// Per spec.md S5/S7, callers treat this as a missing block (read/write
// path) or a transport failure to surface to the operator (manager path).
var ErrTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "timeout" }
