/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/store/connection"
)

// ErrNotDeliverable is returned when an envelope would have to be queued but the send did not allow it.
var ErrNotDeliverable = errors.New("no live session or endpoint to deliver to")

// Outbound interface.
type Outbound interface {
	// SendToConnection sends msg to the peer of rec.
	SendToConnection(ctx context.Context, msg interface{}, rec *connection.Record, opts ...SendOption) error

	// Send sends msg to dest outside of any connection.
	Send(ctx context.Context, msg interface{}, senderKey string, dest *service.Destination, opts ...SendOption) error

	// Relay hands an already packed envelope to the peer of rec.
	Relay(ctx context.Context, envelope []byte, rec *connection.Record) (DeliveryTarget, error)
}

// SendOption configures a single send.
type SendOption func(opts *SendOptions)

// SendOptions holds the options of a single send.
type SendOptions struct {
	NoQueue bool
}

// WithoutQueue fails the send with ErrNotDeliverable instead of queuing the envelope in the mailbox.
func WithoutQueue() SendOption {
	return func(opts *SendOptions) {
		opts.NoQueue = true
	}
}

// TargetKind tells how an outbound envelope is delivered.
type TargetKind int

const (
	// TargetSession delivers over a live transport session of the connection.
	TargetSession TargetKind = iota
	// TargetEndpoint delivers to a service endpoint through an outbound transport.
	TargetEndpoint
	// TargetMailbox queues the envelope until the peer picks it up.
	TargetMailbox
)

func (k TargetKind) String() string {
	switch k {
	case TargetSession:
		return "session"
	case TargetEndpoint:
		return "endpoint"
	case TargetMailbox:
		return "mailbox"
	default:
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
}

// DeliveryTarget is the resolved delivery path of one outbound envelope. Exactly one of Session, Endpoint and
// MailboxKey is set, according to Kind.
type DeliveryTarget struct {
	Kind       TargetKind
	Session    transport.Session
	Endpoint   string
	MailboxKey string
}

func (t DeliveryTarget) String() string {
	switch t.Kind {
	case TargetSession:
		return "session(" + t.Session.ID() + ")"
	case TargetEndpoint:
		return "endpoint(" + t.Endpoint + ")"
	default:
		return "mailbox(" + t.MailboxKey + ")"
	}
}
