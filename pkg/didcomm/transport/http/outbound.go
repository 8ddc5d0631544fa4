/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

const defaultOutboundTimeout = 30 * time.Second

// outboundCommHTTPOpts holds options for the HTTP transport implementation of CommTransport
// it has an http.Client instance.
type outboundCommHTTPOpts struct {
	client  *http.Client
	timeout time.Duration
}

// OutboundHTTPOpt is an outbound HTTP transport option.
type OutboundHTTPOpt func(opts *outboundCommHTTPOpts)

// WithOutboundHTTPClient option is for creating an Outbound HTTP transport using an http.Client instance.
func WithOutboundHTTPClient(client *http.Client) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client = client
	}
}

// WithOutboundTimeout option is for creating an Outbound HTTP transport using a client timeout value.
func WithOutboundTimeout(timeout time.Duration) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.timeout = timeout
	}
}

// WithOutboundTLSConfig option is for creating an Outbound HTTP transport using a tls.Config instance.
func WithOutboundTLSConfig(tlsConfig *tls.Config) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}
	}
}

// OutboundHTTPClient represents the Outbound HTTP transport instance.
type OutboundHTTPClient struct {
	client *http.Client
}

// NewOutbound creates a new instance of Outbound HTTP transport to Post requests to other Agents.
// Without options it uses a default client with a 30s timeout.
func NewOutbound(opts ...OutboundHTTPOpt) (*OutboundHTTPClient, error) {
	clOpts := &outboundCommHTTPOpts{}

	for _, opt := range opts {
		opt(clOpts)
	}

	if clOpts.client == nil {
		clOpts.client = &http.Client{}
	}

	switch {
	case clOpts.timeout > 0:
		clOpts.client.Timeout = clOpts.timeout
	case clOpts.client.Timeout == 0:
		clOpts.client.Timeout = defaultOutboundTimeout
	}

	return &OutboundHTTPClient{client: clOpts.client}, nil
}

// Start the outbound transport.
func (cs *OutboundHTTPClient) Start(transport.Provider) error {
	return nil
}

// Send posts envelope to url and returns the envelope the agent answered with, nil when it accepted the
// message without one.
func (cs *OutboundHTTPClient) Send(ctx context.Context, envelope []byte, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return nil, errors.Wrapf(err, "build request to %s", url)
	}

	req.Header.Set("Content-Type", transport.MediaTypeSSIAgentWire)

	resp, err := cs.client.Do(req)
	if err != nil {
		logger.Errorf("posting DID envelope to agent failed [%s, %v]", url, err)

		return nil, errors.Wrapf(err, "post to %s", url)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Errorf("closing response body failed: %v", e)
		}
	}()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non success POST HTTP status from agent at [%s]: status : %v",
			url, resp.Status)
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}

	if resp.StatusCode != http.StatusOK || len(reply) == 0 {
		return nil, nil
	}

	return reply, nil
}

// Schemes handled by the transport.
func (cs *OutboundHTTPClient) Schemes() []string {
	return []string{"http", "https"}
}
