/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

// SessionType of websocket sessions.
const SessionType = "ws"

const maxMessageSize = 8 << 20

// wsSession is one websocket connection. Envelopes are read off it until it closes and any envelope can be sent
// back over it in the meantime.
type wsSession struct {
	id     string
	conn   *websocket.Conn
	closed atomic.Bool
}

func newSession(conn *websocket.Conn) *wsSession {
	conn.SetReadLimit(maxMessageSize)

	return &wsSession{id: uuid.New().String(), conn: conn}
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) Type() string { return SessionType }

func (s *wsSession) IsOpen() bool { return !s.closed.Load() }

func (s *wsSession) Duplex() bool { return true }

func (s *wsSession) Send(ctx context.Context, envelope []byte) error {
	if s.closed.Load() {
		return transport.ErrSessionClosed
	}

	if err := s.conn.Write(ctx, websocket.MessageText, envelope); err != nil {
		return fmt.Errorf("websocket write message: %w", err)
	}

	return nil
}

func (s *wsSession) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "closing the connection")
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		logger.Debugf("failed to close connection: %v", err)
	}
}

// listen hands every envelope read off s to handler until the connection closes or ctx is done.
func (s *wsSession) listen(ctx context.Context, handler transport.InboundMessageHandler,
	remover transport.SessionRemover) {
	defer func() {
		s.close()

		if remover != nil {
			remover.RemoveSession(s)
		}
	}()

	for {
		_, message, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				logger.Errorf("Error reading request message: %v", err)
			}

			return
		}

		if err = handler(ctx, message, s); err != nil {
			logger.Errorf("incoming msg processing failed: %v", err)
		}
	}
}
