/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"nhooyr.io/websocket"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

var logger = log.New("didrelay/ws")

const readHeaderTimeout = 30 * time.Second

// Inbound http(ws) type.
type Inbound struct {
	externalAddr string
	server       *http.Server
	listener     net.Listener
	certFile     string
	keyFile      string
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewInbound creates a new WebSocket inbound transport instance. externalAddr defaults to "ws://" + internalAddr.
func NewInbound(internalAddr, externalAddr, certFile, keyFile string) (*Inbound, error) {
	if internalAddr == "" {
		return nil, errors.New("websocket address is mandatory")
	}

	if externalAddr == "" {
		scheme := "ws://"
		if certFile != "" && keyFile != "" {
			scheme = "wss://"
		}

		externalAddr = scheme + internalAddr
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Inbound{
		externalAddr: externalAddr,
		server:       &http.Server{Addr: internalAddr, ReadHeaderTimeout: readHeaderTimeout},
		certFile:     certFile,
		keyFile:      keyFile,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start the http(ws) server.
func (i *Inbound) Start(prov transport.Provider) error {
	handler, err := newInboundHandler(i.ctx, prov)
	if err != nil {
		return fmt.Errorf("websocket server start failed: %w", err)
	}

	i.server.Handler = handler

	i.listener, err = net.Listen("tcp", i.server.Addr)
	if err != nil {
		return fmt.Errorf("websocket listen on %s: %w", i.server.Addr, err)
	}

	go func() {
		var serveErr error
		if i.certFile != "" && i.keyFile != "" {
			serveErr = i.server.ServeTLS(i.listener, i.certFile, i.keyFile)
		} else {
			serveErr = i.server.Serve(i.listener)
		}

		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Errorf("websocket server start with address [%s] failed, cause:  %s", i.server.Addr, serveErr)
		}
	}()

	return nil
}

// Stop the http(ws) server. Open connections are closed.
func (i *Inbound) Stop() error {
	i.cancel()

	if err := i.server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("websocket server shutdown failed: %w", err)
	}

	return nil
}

// Endpoint provides the http(ws) connection details.
func (i *Inbound) Endpoint() string {
	return i.externalAddr
}

// Addr is the address the server listens on once started.
func (i *Inbound) Addr() string {
	if i.listener == nil {
		return i.server.Addr
	}

	return i.listener.Addr().String()
}

func newInboundHandler(ctx context.Context, prov transport.Provider) (http.Handler, error) {
	if prov == nil || prov.InboundMessageHandler() == nil {
		logger.Errorf("Error creating a new inbound handler: message handler function is nil")

		return nil, errors.New("creation of inbound handler failed")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processRequest(ctx, w, r, prov)
	}), nil
}

func processRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, prov transport.Provider) {
	// agents are not browsers, the origin is not checked.
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Errorf("failed to upgrade the connection : %v", err)

		return
	}

	s := newSession(c)

	logger.Debugf("websocket session %s opened from %s", s.ID(), r.RemoteAddr)

	// Shutdown does not close hijacked connections, Stop cancels ctx for that.
	s.listen(ctx, prov.InboundMessageHandler(), prov.SessionRemover())
}
