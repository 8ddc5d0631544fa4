/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"context"
	"errors"
)

// ErrChannelRegistered throws when channel is already registered.
var ErrChannelRegistered = errors.New("channel is already registered for the action event")

// ErrNilChannel throws when channel is nil.
var ErrNilChannel = errors.New("cannot pass nil channel")

// ErrInvalidChannel throws when channel is invalid.
var ErrInvalidChannel = errors.New("invalid channel passed to unregister the action event")

// InboundHandler is handler for inbound messages.
type InboundHandler interface {
	// HandleInbound processes an unpacked message and returns its thread id.
	HandleInbound(ctx context.Context, msg DIDCommMsgMap, didCommCtx DIDCommContext) (string, error)
}

// DIDComm defines service APIs.
type DIDComm interface {
	InboundHandler
	// Name of the protocol service.
	Name() string
	// Accept reports whether the service handles msgType.
	Accept(msgType string) bool
}
