/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	quicgo "github.com/quic-go/quic-go"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

// OutboundOpt configures the quic outbound transport.
type OutboundOpt func(c *OutboundClient)

// WithTLSConfig sets the client TLS configuration, its NextProtos is always overridden.
func WithTLSConfig(conf *tls.Config) OutboundOpt {
	return func(c *OutboundClient) {
		c.tlsBase = conf
	}
}

// WithInsecureSkipVerify accepts any server certificate, self-signed ones included.
func WithInsecureSkipVerify() OutboundOpt {
	return func(c *OutboundClient) {
		c.insecure = true
	}
}

// OutboundClient sends envelopes over QUIC. Connections are kept per host and every envelope opens a stream.
type OutboundClient struct {
	tlsBase  *tls.Config
	insecure bool

	mu    sync.Mutex
	conns map[string]*quicgo.Conn
}

// NewOutbound creates a quic outbound transport.
func NewOutbound(opts ...OutboundOpt) *OutboundClient {
	c := &OutboundClient{conns: map[string]*quicgo.Conn{}}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start the outbound transport.
func (c *OutboundClient) Start(transport.Provider) error {
	return nil
}

// Send writes envelope on a new stream to endpoint and returns the envelope the agent answered with on that
// stream, nil when there was none.
func (c *OutboundClient) Send(ctx context.Context, envelope []byte, endpoint string) ([]byte, error) {
	addr, err := hostPort(endpoint)
	if err != nil {
		return nil, err
	}

	stream, err := c.openStream(ctx, addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err = stream.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("quic stream deadline: %w", err)
		}
	}

	if _, err = stream.Write(envelope); err != nil {
		stream.CancelRead(0)

		return nil, fmt.Errorf("quic write to %s: %w", endpoint, err)
	}

	if err = stream.Close(); err != nil {
		return nil, fmt.Errorf("quic close stream to %s: %w", endpoint, err)
	}

	reply, err := io.ReadAll(io.LimitReader(stream, maxMessageSize))
	if err != nil {
		return nil, fmt.Errorf("quic read reply from %s: %w", endpoint, err)
	}

	if len(reply) == 0 {
		return nil, nil
	}

	return reply, nil
}

// openStream opens a stream on the kept connection to addr, dialing once more when that connection is gone.
func (c *OutboundClient) openStream(ctx context.Context, addr string) (*quicgo.Stream, error) {
	if conn := c.conn(addr); conn != nil {
		stream, err := conn.OpenStreamSync(ctx)
		if err == nil {
			return stream, nil
		}

		logger.Debugf("quic connection to %s unusable, redialing: %v", addr, err)
		c.drop(addr, conn)
	}

	conn, err := quicgo.DialAddr(ctx, addr, clientTLSConfig(c.tlsBase, c.insecure), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}

	c.mu.Lock()
	if old, ok := c.conns[addr]; ok && old != conn {
		_ = old.CloseWithError(0, "replaced") //nolint:errcheck
	}

	c.conns[addr] = conn
	c.mu.Unlock()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("quic open stream to %s: %w", addr, err)
	}

	return stream, nil
}

func (c *OutboundClient) conn(addr string) *quicgo.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[addr]
	if !ok {
		return nil
	}

	if conn.Context().Err() != nil {
		delete(c.conns, addr)

		return nil
	}

	return conn
}

func (c *OutboundClient) drop(addr string, conn *quicgo.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conns[addr] == conn {
		delete(c.conns, addr)
	}

	_ = conn.CloseWithError(0, "dropped") //nolint:errcheck
}

// Schemes handled by the transport.
func (c *OutboundClient) Schemes() []string {
	return []string{"quic"}
}

// Stop closes the kept connections.
func (c *OutboundClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, conn := range c.conns {
		_ = conn.CloseWithError(0, "closing") //nolint:errcheck
		delete(c.conns, addr)
	}

	return nil
}

func hostPort(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("quic endpoint %q: %w", endpoint, err)
	}

	if u.Scheme != "quic" || u.Host == "" || u.Port() == "" {
		return "", fmt.Errorf("quic endpoint %q: %w", endpoint, errInvalidEndpoint)
	}

	return u.Host, nil
}

var errInvalidEndpoint = errors.New("expected quic://host:port")
