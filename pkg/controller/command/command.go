/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hyperledger/aries-framework-go/spi/log"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
)

// Exec runs a command: req holds the JSON arguments, the JSON result is written to rw.
type Exec func(rw io.Writer, req io.Reader) Error

// Handler is a named command of a command group.
type Handler interface {
	// Name of the command group, for instance "connection".
	Name() string
	// Method of the command inside its group, for instance "CreateInvitation".
	Method() string
	Handle() Exec
}

// MessageHandler is the registry of the application message services, changed at runtime through the
// messaging commands.
type MessageHandler interface {
	Services() []service.DIDComm
	Register(msgSvcs ...service.DIDComm) error
	Unregister(name string) error
}

// Notifier publishes events under a topic.
type Notifier interface {
	Notify(topic string, message []byte) error
}

// ErrUnknownCommand is returned by Lookup when no handler has the requested name and method.
var ErrUnknownCommand = errors.New("unknown command")

// Lookup finds the command name/method among handlers.
func Lookup(handlers []Handler, name, method string) (Exec, error) {
	for _, h := range handlers {
		if h.Name() == name && h.Method() == method {
			return h.Handle(), nil
		}
	}

	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCommand, name, method)
}

// DecodeRequest reads the JSON arguments of a command into v. An empty request leaves v untouched when the
// arguments are optional and is an error otherwise.
func DecodeRequest(req io.Reader, v interface{}, optional bool) error {
	err := json.NewDecoder(req).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}

	return err
}

// WriteNillableResponse writes v to w as JSON, an empty object when v is nil.
func WriteNillableResponse(w io.Writer, v interface{}, l log.Logger) {
	if v == nil {
		v = struct{}{}
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		l.Errorf("Unable to send error response, %s", err)
	}
}
