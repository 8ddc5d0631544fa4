/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
	"github.com/didrelay/agent/pkg/controller/rest"
)

// WSNotifier pushes topic messages to every connected websocket client.
type WSNotifier struct {
	conns     []*websocket.Conn
	connsLock sync.RWMutex
	handlers  []rest.Handler
}

// NewWSNotifier returns a WSNotifier accepting clients on path.
func NewWSNotifier(path string) *WSNotifier {
	n := &WSNotifier{}
	n.handlers = []rest.Handler{cmdutil.NewHTTPHandler(path, http.MethodGet, n.handleWS)}

	return n
}

// Notify writes the topic message to every client. Clients that fail are reported together.
func (n *WSNotifier) Notify(topic string, message []byte) error {
	if err := validate(topic, message); err != nil {
		return err
	}

	topicMsg, err := PrepareTopicMessage(topic, message)
	if err != nil {
		return fmt.Errorf(failedToCreateErrMsg, err)
	}

	n.connsLock.RLock()
	conns := append([]*websocket.Conn(nil), n.conns...)
	n.connsLock.RUnlock()

	var errs []error

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), notificationSendTimeout)
		err := conn.Write(ctx, websocket.MessageText, topicMsg)

		cancel()

		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (n *WSNotifier) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Infof("failed to upgrade websocket notification client: %s", err)

		return
	}

	n.connsLock.Lock()
	n.conns = append(n.conns, conn)
	n.connsLock.Unlock()

	logger.Debugf("websocket notification client connected")

	n.watch(r.Context(), conn)
}

// watch blocks until the client goes away. Clients only listen, so anything they send closes them.
func (n *WSNotifier) watch(ctx context.Context, conn *websocket.Conn) {
	defer n.removeConn(conn)

	if _, _, err := conn.Reader(ctx); err != nil {
		if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			logger.Debugf("websocket notification client read: %s", err)
		}
	}

	if err := conn.Close(websocket.StatusPolicyViolation, "unexpected message"); err != nil {
		logger.Debugf("close websocket notification client: %s", err)
	}
}

func (n *WSNotifier) removeConn(conn *websocket.Conn) {
	n.connsLock.Lock()
	defer n.connsLock.Unlock()

	for i, c := range n.conns {
		if c == conn {
			n.conns = append(n.conns[:i], n.conns[i+1:]...)

			break
		}
	}

	logger.Debugf("websocket notification client dropped")
}

// GetRESTHandlers returns the websocket subscription handler.
func (n *WSNotifier) GetRESTHandlers() []rest.Handler {
	return n.handlers
}
