/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cmdutil

import (
	"net/http"

	"github.com/didrelay/agent/pkg/controller/command"
)

// endpoint binds a handle function to a key (a path or a command name) and a method.
type endpoint[H any] struct {
	key    string
	method string
	handle H
}

// Method of the endpoint: an http method or a command method.
func (e *endpoint[H]) Method() string {
	return e.method
}

// Handle returns the handle function.
func (e *endpoint[H]) Handle() H {
	return e.handle
}

// HTTPHandler is a REST API endpoint.
type HTTPHandler struct {
	endpoint[http.HandlerFunc]
}

// NewHTTPHandler returns the REST endpoint method path served by handle.
func NewHTTPHandler(path, method string, handle http.HandlerFunc) *HTTPHandler {
	return &HTTPHandler{endpoint[http.HandlerFunc]{key: path, method: method, handle: handle}}
}

// Path of the endpoint, in gorilla/mux template syntax.
func (h *HTTPHandler) Path() string {
	return h.key
}

// CommandHandler is a controller command.
type CommandHandler struct {
	endpoint[command.Exec]
}

// NewCommandHandler returns the command name/method run by exec.
func NewCommandHandler(name, method string, exec command.Exec) *CommandHandler {
	return &CommandHandler{endpoint[command.Exec]{key: name, method: method, handle: exec}}
}

// Name of the command group.
func (c *CommandHandler) Name() string {
	return c.key
}
