/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package quic carries DIDComm envelopes over QUIC. Every envelope travels on a stream of its own, closed by the
// sender once written. The receiving agent may answer with one envelope on the same stream.
package quic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	quicgo "github.com/quic-go/quic-go"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

var logger = log.New("didrelay/quic")

// SessionType of sessions backed by a QUIC stream.
const SessionType = "quic-stream"

const (
	maxMessageSize  = 8 << 20
	maxIdleTimeout  = 60 * time.Second
	keepAlivePeriod = 15 * time.Second
	readTimeout     = 30 * time.Second
)

func quicConfig() *quicgo.Config {
	return &quicgo.Config{MaxIdleTimeout: maxIdleTimeout, KeepAlivePeriod: keepAlivePeriod}
}

// streamSession is the stream an envelope arrived on, it can carry one reply back.
type streamSession struct {
	id     string
	stream *quicgo.Stream

	mu     sync.Mutex
	closed bool
}

func (s *streamSession) ID() string { return s.id }

func (s *streamSession) Type() string { return SessionType }

func (s *streamSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.closed
}

func (s *streamSession) Send(ctx context.Context, envelope []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrSessionClosed
	}

	s.closed = true

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.stream.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("quic reply: %w", err)
		}
	}

	if _, err := s.stream.Write(envelope); err != nil {
		return fmt.Errorf("quic reply: %w", err)
	}

	return nil
}

// close ends the write side of the stream, the reply is complete.
func (s *streamSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	if err := s.stream.Close(); err != nil {
		logger.Debugf("close stream: %v", err)
	}
}

// Inbound is a QUIC listener feeding the agent.
type Inbound struct {
	internalAddr string
	externalAddr string
	certFile     string
	keyFile      string
	listener     *quicgo.Listener
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewInbound creates an inbound transport listening on internalAddr, advertised as externalAddr which defaults to
// "quic://" + internalAddr.
func NewInbound(internalAddr, externalAddr, certFile, keyFile string) (*Inbound, error) {
	if internalAddr == "" {
		return nil, errors.New("quic address is mandatory")
	}

	if externalAddr == "" {
		externalAddr = "quic://" + internalAddr
	}

	return &Inbound{
		internalAddr: internalAddr,
		externalAddr: externalAddr,
		certFile:     certFile,
		keyFile:      keyFile,
	}, nil
}

// Start listening.
func (i *Inbound) Start(prov transport.Provider) error {
	if prov == nil || prov.InboundMessageHandler() == nil {
		return errors.New("quic inbound transport: inbound message handler is mandatory")
	}

	tlsConf, err := ServerTLSConfig(i.certFile, i.keyFile)
	if err != nil {
		return err
	}

	i.listener, err = quicgo.ListenAddr(i.internalAddr, tlsConf, quicConfig())
	if err != nil {
		return fmt.Errorf("quic listen on %s: %w", i.internalAddr, err)
	}

	i.ctx, i.cancel = context.WithCancel(context.Background())

	i.wg.Add(1)

	go i.accept(prov)

	logger.Infof("quic listening on %s", i.listener.Addr())

	return nil
}

func (i *Inbound) accept(prov transport.Provider) {
	defer i.wg.Done()

	for {
		conn, err := i.listener.Accept(i.ctx)
		if err != nil {
			if i.ctx.Err() == nil {
				logger.Errorf("quic accept: %v", err)
			}

			return
		}

		go i.acceptStreams(conn, prov)
	}
}

func (i *Inbound) acceptStreams(conn *quicgo.Conn, prov transport.Provider) {
	for {
		stream, err := conn.AcceptStream(i.ctx)
		if err != nil {
			logger.Debugf("quic connection from %s done: %v", conn.RemoteAddr(), err)

			if i.ctx.Err() != nil {
				_ = conn.CloseWithError(0, "shutting down") //nolint:errcheck
			}

			return
		}

		go i.serve(stream, prov)
	}
}

func (i *Inbound) serve(stream *quicgo.Stream, prov transport.Provider) {
	s := &streamSession{id: uuid.New().String(), stream: stream}

	defer func() {
		s.close()

		if remover := prov.SessionRemover(); remover != nil {
			remover.RemoveSession(s)
		}
	}()

	if err := stream.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		logger.Debugf("set read deadline: %v", err)
	}

	envelope, err := io.ReadAll(io.LimitReader(stream, maxMessageSize))
	if err != nil {
		logger.Errorf("quic read: %v", err)

		return
	}

	if len(envelope) == 0 {
		return
	}

	if err = prov.InboundMessageHandler()(i.ctx, envelope, s); err != nil {
		logger.Errorf("incoming msg processing failed: %v", err)
	}
}

// Stop closes the listener and the connections accepted on it.
func (i *Inbound) Stop() error {
	if i.listener == nil {
		return nil
	}

	i.cancel()

	err := i.listener.Close()
	i.wg.Wait()

	if err != nil {
		return fmt.Errorf("quic listener close: %w", err)
	}

	return nil
}

// Endpoint provides the quic connection details.
func (i *Inbound) Endpoint() string {
	return i.externalAddr
}

// Addr is the address the listener is bound to once started.
func (i *Inbound) Addr() string {
	if i.listener == nil {
		return i.internalAddr
	}

	return i.listener.Addr().String()
}
