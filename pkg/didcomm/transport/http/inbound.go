/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	pkgerrors "github.com/pkg/errors"

	"github.com/didrelay/agent/pkg/didcomm/dispatcher/inbound"
	"github.com/didrelay/agent/pkg/didcomm/transport"
)

var logger = log.New("didrelay/http")

const (
	// SessionType of the sessions backed by a pending HTTP request.
	SessionType = "http-response"

	maxMessageSize = 8 << 20
	readTimeout    = 30 * time.Second
)

// httpSession carries at most one reply envelope back in the response of the request it was created for.
type httpSession struct {
	id    string
	reply chan []byte

	mu     sync.Mutex
	closed bool
}

func newHTTPSession() *httpSession {
	return &httpSession{id: uuid.New().String(), reply: make(chan []byte, 1)}
}

func (s *httpSession) ID() string { return s.id }

func (s *httpSession) Type() string { return SessionType }

func (s *httpSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.closed
}

func (s *httpSession) Send(_ context.Context, envelope []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrSessionClosed
	}

	select {
	case s.reply <- envelope:
		// the response can carry one envelope only.
		s.closed = true

		return nil
	default:
		return transport.ErrSessionClosed
	}
}

func (s *httpSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

func (s *httpSession) pending() []byte {
	select {
	case envelope := <-s.reply:
		return envelope
	default:
		return nil
	}
}

// NewInboundHandler returns the handler of DIDComm POST requests. Envelopes are handed to prov's inbound message
// handler along with a session for the response: a reply sent over it while the request is processed is written
// back with 200, otherwise the request is answered with 202.
func NewInboundHandler(prov transport.Provider) (http.Handler, error) {
	if prov == nil || prov.InboundMessageHandler() == nil {
		return nil, errors.New("failed to create NewInboundHandler: inbound message handler is mandatory")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processPOSTRequest(w, r, prov)
	}), nil
}

func processPOSTRequest(w http.ResponseWriter, r *http.Request, prov transport.Provider) {
	if valid := validateHTTPMethod(w, r); !valid {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		logger.Errorf("Error reading request body: %s - returning Code: %d", err, http.StatusInternalServerError)
		http.Error(w, "Failed to read payload", http.StatusInternalServerError)

		return
	}

	if len(body) == 0 {
		http.Error(w, "Empty payload", http.StatusBadRequest)

		return
	}

	s := newHTTPSession()

	defer func() {
		s.close()

		if remover := prov.SessionRemover(); remover != nil {
			remover.RemoveSession(s)
		}
	}()

	err = prov.InboundMessageHandler()(r.Context(), body, s)
	if err != nil {
		logger.Errorf("incoming msg processing failed: %s", err)

		status := http.StatusInternalServerError
		if errors.Is(err, inbound.ErrRejected) {
			status = http.StatusBadRequest
		}

		http.Error(w, http.StatusText(status), status)

		return
	}

	reply := s.pending()
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)

		return
	}

	w.Header().Set("Content-Type", transport.MediaTypeSSIAgentWire)
	w.WriteHeader(http.StatusOK)

	if _, err = w.Write(reply); err != nil {
		logger.Errorf("failed to write reply envelope: %s", err)
	}
}

// validateHTTPMethod validate HTTP method and content-type.
func validateHTTPMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "HTTP Method not allowed", http.StatusMethodNotAllowed)

		return false
	}

	ct := r.Header.Get("Content-Type")
	if !transport.IsEnvelopeMediaType(ct) {
		http.Error(w, fmt.Sprintf("Unsupported Content-type \"%s\"", ct), http.StatusUnsupportedMediaType)

		return false
	}

	return true
}

// Inbound is an HTTP listener feeding the agent.
type Inbound struct {
	externalAddr string
	server       *http.Server
	listener     net.Listener
	certFile     string
	keyFile      string
}

// NewInbound creates an inbound transport listening on internalAddr. externalAddr is the endpoint advertised to
// other agents and defaults to "http://" + internalAddr.
func NewInbound(internalAddr, externalAddr, certFile, keyFile string) (*Inbound, error) {
	if internalAddr == "" {
		return nil, errors.New("http address is mandatory")
	}

	if externalAddr == "" {
		scheme := "http://"
		if certFile != "" && keyFile != "" {
			scheme = "https://"
		}

		externalAddr = scheme + internalAddr
	}

	return &Inbound{
		externalAddr: externalAddr,
		server:       &http.Server{Addr: internalAddr, ReadHeaderTimeout: readTimeout},
		certFile:     certFile,
		keyFile:      keyFile,
	}, nil
}

// Start the http server.
func (i *Inbound) Start(prov transport.Provider) error {
	handler, err := NewInboundHandler(prov)
	if err != nil {
		return pkgerrors.Wrap(err, "http inbound transport initialization failed")
	}

	i.server.Handler = handler

	i.listener, err = net.Listen("tcp", i.server.Addr)
	if err != nil {
		return pkgerrors.Wrapf(err, "listen on %s", i.server.Addr)
	}

	go func() {
		var serveErr error
		if i.certFile != "" && i.keyFile != "" {
			serveErr = i.server.ServeTLS(i.listener, i.certFile, i.keyFile)
		} else {
			serveErr = i.server.Serve(i.listener)
		}

		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Errorf("http server start with address [%s] failed, cause:  %s", i.server.Addr, serveErr)
		}
	}()

	return nil
}

// Stop the http server.
func (i *Inbound) Stop() error {
	if err := i.server.Shutdown(context.Background()); err != nil {
		return pkgerrors.Wrap(err, "http server shutdown failed")
	}

	return nil
}

// Endpoint provides the http connection details.
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
