/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

const (
	defaultDialRetries  = 3
	defaultDialInterval = 500 * time.Millisecond
)

// OutboundClient websocket outbound.
type OutboundClient struct {
	pool         *connPool
	httpClient   *http.Client
	dialRetries  uint64
	dialInterval time.Duration
}

// OutboundOpt configures the websocket outbound transport.
type OutboundOpt func(c *OutboundClient)

// WithHTTPClient sets the client used for the websocket handshake, for instance to trust a private CA.
func WithHTTPClient(client *http.Client) OutboundOpt {
	return func(c *OutboundClient) {
		c.httpClient = client
	}
}

// WithDialRetry sets how many times, and how far apart, a failed dial is retried.
func WithDialRetry(retries uint64, interval time.Duration) OutboundOpt {
	return func(c *OutboundClient) {
		c.dialRetries = retries
		c.dialInterval = interval
	}
}

// NewOutbound creates a client for Outbound WS transport.
func NewOutbound(opts ...OutboundOpt) *OutboundClient {
	c := &OutboundClient{
		pool:         newConnPool(),
		dialRetries:  defaultDialRetries,
		dialInterval: defaultDialInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start the outbound transport. Envelopes the other agents send back over the kept connections are handed to the
// inbound message handler of prov.
func (cs *OutboundClient) Start(prov transport.Provider) error {
	cs.pool.start(prov)

	return nil
}

// Send writes envelope over the connection to url, dialing it first when none is open. The connection stays
// open and replies read off it reach the inbound message handler, so Send never returns a reply itself.
func (cs *OutboundClient) Send(ctx context.Context, envelope []byte, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("url is mandatory")
	}

	if s := cs.pool.fetch(url); s != nil {
		err := s.Send(ctx, envelope)
		if err == nil {
			return nil, nil
		}

		logger.Debugf("pooled connection to %s failed, redialing: %v", url, err)
		s.close()
	}

	s, err := cs.dial(ctx, url)
	if err != nil {
		return nil, err
	}

	cs.pool.add(url, s)

	if err = s.Send(ctx, envelope); err != nil {
		return nil, err
	}

	return nil, nil
}

func (cs *OutboundClient) dial(ctx context.Context, url string) (*wsSession, error) {
	var conn *websocket.Conn

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cs.dialInterval), cs.dialRetries), ctx)

	err := backoff.RetryNotify(func() error {
		c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: cs.httpClient})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close() //nolint:errcheck
		}

		if err != nil {
			return err
		}

		conn = c

		return nil
	}, b, func(err error, wait time.Duration) {
		logger.Debugf("websocket dial %s failed, retrying in %s: %v", url, wait, err)
	})
	if err != nil {
		return nil, fmt.Errorf("websocket client : %w", err)
	}

	return newSession(conn), nil
}

// Schemes handled by the transport.
func (cs *OutboundClient) Schemes() []string {
	return []string{"ws", "wss"}
}

// Stop closes the kept connections.
func (cs *OutboundClient) Stop() error {
	cs.pool.close()

	return nil
}
