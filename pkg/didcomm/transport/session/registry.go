/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/didcomm/transport"
)

var logger = log.New("didrelay/session")

// Entry is a registered session together with the connection it is bound to and the return route requested by
// the peer on it.
type Entry struct {
	Session      transport.Session
	ConnectionID string
	ReturnRoute  string
}

// CanReply reports whether the peer asked for outbound messages to be returned over this session.
func (e *Entry) CanReply() bool {
	return e.ReturnRoute == decorator.TransportReturnRouteAll || e.ReturnRoute == decorator.TransportReturnRouteThread
}

// Registry tracks live transport sessions by id and by connection.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Entry
	byConn map[string]string
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Entry),
		byConn: make(map[string]string),
	}
}

// SaveSession registers s, or updates the return route if it is already known. An empty returnRoute keeps the
// previously recorded value.
func (r *Registry) SaveSession(s transport.Session, returnRoute string) {
	if s == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[s.ID()]; ok {
		if returnRoute != "" {
			e.ReturnRoute = returnRoute
		}

		return
	}

	r.byID[s.ID()] = &Entry{Session: s, ReturnRoute: returnRoute}

	logger.Debugf("saved %s session %s", s.Type(), s.ID())
}

// BindConnection associates the session with connectionID. The latest bound session wins.
func (r *Registry) BindConnection(sessionID, connectionID string) {
	if sessionID == "" || connectionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[sessionID]
	if !ok {
		return
	}

	if e.ConnectionID != "" && e.ConnectionID != connectionID && r.byConn[e.ConnectionID] == sessionID {
		delete(r.byConn, e.ConnectionID)
	}

	e.ConnectionID = connectionID
	r.byConn[connectionID] = sessionID
}

// FindSession returns the open session bound to connectionID. Sessions found closed are purged.
func (r *Registry) FindSession(connectionID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[connectionID]
	if !ok {
		return Entry{}, false
	}

	e, ok := r.byID[id]
	if !ok {
		delete(r.byConn, connectionID)

		return Entry{}, false
	}

	if !e.Session.IsOpen() {
		r.removeLocked(e.Session)

		return Entry{}, false
	}

	return *e, true
}

// RemoveSession forgets s. Removing an unknown session is a no-op.
func (r *Registry) RemoveSession(s transport.Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(s)
}

func (r *Registry) removeLocked(s transport.Session) {
	e, ok := r.byID[s.ID()]
	if !ok {
		return
	}

	delete(r.byID, s.ID())

	if e.ConnectionID != "" && r.byConn[e.ConnectionID] == s.ID() {
		delete(r.byConn, e.ConnectionID)
	}

	logger.Debugf("removed %s session %s", s.Type(), s.ID())
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}
