/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"sync"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

// connPool keeps the outbound connections of one agent open, keyed by endpoint, so that later messages and the
// replies of the other agent travel over them.
type connPool struct {
	sync.RWMutex
	connMap map[string]*wsSession
	prov    transport.Provider
	ctx     context.Context
	cancel  context.CancelFunc
}

func newConnPool() *connPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &connPool{connMap: map[string]*wsSession{}, ctx: ctx, cancel: cancel}
}

func (d *connPool) start(prov transport.Provider) {
	d.Lock()
	defer d.Unlock()

	d.prov = prov
}

func (d *connPool) add(endpoint string, s *wsSession) {
	d.Lock()
	defer d.Unlock()

	if old, ok := d.connMap[endpoint]; ok && old != s {
		old.close()
	}

	d.connMap[endpoint] = s

	go d.listener(endpoint, s)
}

// fetch returns the open connection to endpoint.
func (d *connPool) fetch(endpoint string) *wsSession {
	d.RLock()
	defer d.RUnlock()

	s, ok := d.connMap[endpoint]
	if !ok || !s.IsOpen() {
		return nil
	}

	return s
}

func (d *connPool) remove(endpoint string, s *wsSession) {
	d.Lock()
	defer d.Unlock()

	if d.connMap[endpoint] == s {
		delete(d.connMap, endpoint)
	}
}

func (d *connPool) listener(endpoint string, s *wsSession) {
	defer d.remove(endpoint, s)

	d.RLock()
	prov := d.prov
	d.RUnlock()

	if prov == nil || prov.InboundMessageHandler() == nil {
		logger.Warnf("no inbound handler for replies from %s, they are dropped", endpoint)

		s.listen(d.ctx, func(context.Context, []byte, transport.Session) error { return nil }, nil)

		return
	}

	s.listen(d.ctx, prov.InboundMessageHandler(), prov.SessionRemover())
}

func (d *connPool) close() {
	d.cancel()

	d.Lock()
	defer d.Unlock()

	for endpoint, s := range d.connMap {
		s.close()
		delete(d.connMap, endpoint)
	}
}
