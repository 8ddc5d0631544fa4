/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/didrelay/agent/pkg/didcomm/common/model"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/didcomm/transport/session"
	"github.com/didrelay/agent/pkg/store/connection"
	"github.com/didrelay/agent/pkg/store/mailbox"
)

// DefaultSessionTimeout bounds a send over a reused transport session.
const DefaultSessionTimeout = 5 * time.Second

var logger = log.New("didrelay/outbound")

// ErrNoTransport is returned when no outbound transport handles the scheme of an endpoint.
var ErrNoTransport = errors.New("no outbound transport for endpoint")

var _ dispatcher.Outbound = (*Dispatcher)(nil)

type provider interface {
	Packager() transport.Packager
	OutboundTransports() []transport.OutboundTransport
	SessionRegistry() *session.Registry
	Mailbox() *mailbox.Mailbox
	InboundMessageHandler() transport.InboundMessageHandler
	TransportReturnRoute() string
	SessionTimeout() time.Duration
}

// Dispatcher is the message sender of the agent. It packs outbound messages and delivers them over a live
// transport session, to the peer's service endpoint, or into the mailbox the peer picks its messages up from.
type Dispatcher struct {
	packager       transport.Packager
	transports     map[string]transport.OutboundTransport
	sessions       *session.Registry
	mailbox        *mailbox.Mailbox
	inbound        func() transport.InboundMessageHandler
	returnRoute    string
	sessionTimeout time.Duration
}

// NewOutbound return new dispatcher outbound instance.
func NewOutbound(prov provider) (*Dispatcher, error) {
	o := &Dispatcher{
		packager:       prov.Packager(),
		transports:     map[string]transport.OutboundTransport{},
		sessions:       prov.SessionRegistry(),
		mailbox:        prov.Mailbox(),
		inbound:        prov.InboundMessageHandler,
		returnRoute:    prov.TransportReturnRoute(),
		sessionTimeout: prov.SessionTimeout(),
	}

	if o.packager == nil {
		return nil, errors.New("outbound dispatcher: packager is mandatory")
	}

	if o.sessionTimeout <= 0 {
		o.sessionTimeout = DefaultSessionTimeout
	}

	for _, t := range prov.OutboundTransports() {
		for _, scheme := range t.Schemes() {
			if _, ok := o.transports[scheme]; ok {
				return nil, fmt.Errorf("outbound dispatcher: more than one transport for scheme %q", scheme)
			}

			o.transports[scheme] = t
		}
	}

	return o, nil
}

// delivery is one outbound envelope on its way to a peer.
type delivery struct {
	payload      []byte
	senderKey    string
	dest         *service.Destination
	connectionID string
	mailboxKey   string
	returnRoute  bool
}

// SendToConnection sends msg to the peer of rec, packed with the connection's keys.
func (o *Dispatcher) SendToConnection(ctx context.Context, msg interface{}, rec *connection.Record,
	opts ...dispatcher.SendOption) error {
	dest, err := DestinationFor(rec)
	if err != nil {
		return fmt.Errorf("outboundDispatcher.SendToConnection: %w", err)
	}

	payload, returnRoute, err := o.encode(msg)
	if err != nil {
		return fmt.Errorf("outboundDispatcher.SendToConnection: %w", err)
	}

	mailboxKey := rec.TheirKey
	if mailboxKey == "" {
		mailboxKey = dest.RecipientKeys[0]
	}

	return o.deliver(ctx, &delivery{
		payload:      payload,
		senderKey:    rec.MyKey,
		dest:         dest,
		connectionID: rec.ConnectionID,
		mailboxKey:   mailboxKey,
		returnRoute:  returnRoute,
	}, opts)
}

// Send sends msg to dest outside of any connection. An empty senderKey produces an anonymous envelope.
func (o *Dispatcher) Send(ctx context.Context, msg interface{}, senderKey string, dest *service.Destination,
	opts ...dispatcher.SendOption) error {
	if dest == nil || len(dest.RecipientKeys) == 0 {
		return errors.New("outboundDispatcher.Send: destination has no recipient keys")
	}

	payload, returnRoute, err := o.encode(msg)
	if err != nil {
		return fmt.Errorf("outboundDispatcher.Send: %w", err)
	}

	return o.deliver(ctx, &delivery{
		payload:     payload,
		senderKey:   senderKey,
		dest:        dest,
		mailboxKey:  dest.RecipientKeys[0],
		returnRoute: returnRoute,
	}, opts)
}

// Relay hands an envelope packed by someone else to the peer of rec, over a live duplex session when the peer keeps
// one open for replies and through the mailbox otherwise. Single reply sessions are left to the reply of the
// request they were opened for. The envelope is never modified.
func (o *Dispatcher) Relay(ctx context.Context, envelope []byte,
	rec *connection.Record) (dispatcher.DeliveryTarget, error) {
	if entry, ok := o.findSession(rec.ConnectionID, false); ok && transport.IsDuplex(entry.Session) {
		err := o.sendSession(ctx, entry.Session, envelope)
		if err == nil {
			return dispatcher.DeliveryTarget{Kind: dispatcher.TargetSession, Session: entry.Session}, nil
		}

		logger.Warnf("relay over session %s of connection %s failed, queuing: %s",
			entry.Session.ID(), rec.ConnectionID, err)
		o.sessions.RemoveSession(entry.Session)
	}

	target := dispatcher.DeliveryTarget{Kind: dispatcher.TargetMailbox, MailboxKey: rec.TheirKey}

	if err := o.queue(target.MailboxKey, envelope); err != nil {
		return target, fmt.Errorf("outboundDispatcher.Relay: %w", err)
	}

	return target, nil
}

func (o *Dispatcher) deliver(ctx context.Context, d *delivery, options []dispatcher.SendOption) error {
	opts := &dispatcher.SendOptions{}
	for _, opt := range options {
		opt(opts)
	}

	if entry, ok := o.findSession(d.connectionID, d.returnRoute); ok {
		err := o.deliverSession(ctx, entry.Session, d)
		if err == nil {
			return nil
		}

		// the session may have closed between lookup and use: drop it and resolve once more without it.
		logger.Warnf("send over session %s of connection %s failed, falling back: %s",
			entry.Session.ID(), d.connectionID, err)
		o.sessions.RemoveSession(entry.Session)
	}

	if !queued(d.dest.ServiceEndpoint) {
		return o.deliverEndpoint(ctx, d)
	}

	if opts.NoQueue {
		return fmt.Errorf("outboundDispatcher: connection %q: %w", d.connectionID, dispatcher.ErrNotDeliverable)
	}

	packed, err := o.pack(d.payload, d.senderKey, d.dest.RecipientKeys)
	if err != nil {
		return fmt.Errorf("outboundDispatcher: %w", err)
	}

	if err = o.queue(d.mailboxKey, packed); err != nil {
		return fmt.Errorf("outboundDispatcher: %w", err)
	}

	return nil
}

// findSession returns the live session of connectionID when it can carry a message: the peer asked for replies
// on it, or the message itself asks for a synchronous reply.
func (o *Dispatcher) findSession(connectionID string, returnRoute bool) (session.Entry, bool) {
	if o.sessions == nil || connectionID == "" {
		return session.Entry{}, false
	}

	entry, ok := o.sessions.FindSession(connectionID)
	if !ok || !(entry.CanReply() || returnRoute) {
		return session.Entry{}, false
	}

	return entry, true
}

func (o *Dispatcher) deliverSession(ctx context.Context, s transport.Session, d *delivery) error {
	// the peer is on the other end of the session, routing keys do not apply.
	packed, err := o.pack(d.payload, d.senderKey, d.dest.RecipientKeys)
	if err != nil {
		return err
	}

	return o.sendSession(ctx, s, packed)
}

func (o *Dispatcher) sendSession(ctx context.Context, s transport.Session, envelope []byte) error {
	if !s.IsOpen() {
		return transport.ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(ctx, o.sessionTimeout)
	defer cancel()

	return s.Send(ctx, envelope)
}

func (o *Dispatcher) deliverEndpoint(ctx context.Context, d *delivery) error {
	endpoint := d.dest.ServiceEndpoint

	ot, ok := o.transports[transport.Scheme(endpoint)]
	if !ok {
		return fmt.Errorf("outboundDispatcher: %s: %w", endpoint, ErrNoTransport)
	}

	packed, err := o.pack(d.payload, d.senderKey, d.dest.RecipientKeys)
	if err != nil {
		return fmt.Errorf("outboundDispatcher: %w", err)
	}

	packed, err = o.createForwardMessage(packed, d.dest)
	if err != nil {
		return fmt.Errorf("outboundDispatcher: failed to create forward msg: %w", err)
	}

	reply, err := ot.Send(ctx, packed, endpoint)
	if err != nil {
		return fmt.Errorf("outboundDispatcher: failed to send msg using outbound transport: %w", err)
	}

	if len(reply) > 0 {
		o.handleReply(reply)
	}

	return nil
}

// handleReply feeds an envelope received synchronously on an outbound transport to the inbound handler. It runs
// on its own goroutine since the sender may still hold locks the reply handler needs.
func (o *Dispatcher) handleReply(reply []byte) {
	handler := o.inbound()
	if handler == nil {
		logger.Warnf("dropping reply envelope: no inbound message handler")

		return
	}

	go func() {
		if err := handler(context.Background(), reply, nil); err != nil {
			logger.Errorf("failed to handle reply envelope: %s", err)
		}
	}()
}

func (o *Dispatcher) queue(key string, envelope []byte) error {
	if o.mailbox == nil {
		return fmt.Errorf("no mailbox to queue for %s: %w", key, dispatcher.ErrNotDeliverable)
	}

	if err := o.mailbox.Add(key, envelope); err != nil {
		return fmt.Errorf("queue for %s: %w", key, err)
	}

	logger.Debugf("queued envelope for %s", key)

	return nil
}

// encode serializes msg and applies the agent wide return route, if any. It also reports whether the message asks
// for replies over the transport it travels on.
func (o *Dispatcher) encode(msg interface{}) ([]byte, bool, error) {
	msgMap, err := service.NewDIDCommMsgMap(msg)
	if err != nil {
		return nil, false, err
	}

	if msgMap.ReturnRoute() == "" && decorator.IsReturnRoute(o.returnRoute) {
		msgMap.SetReturnRoute(o.returnRoute)
	}

	payload, err := json.Marshal(msgMap)
	if err != nil {
		return nil, false, fmt.Errorf("failed marshal to bytes: %w", err)
	}

	return payload, decorator.IsReturnRoute(msgMap.ReturnRoute()), nil
}

func (o *Dispatcher) pack(payload []byte, senderKey string, recipientKeys []string) ([]byte, error) {
	packed, err := o.packager.PackMessage(&transport.Envelope{
		Message: payload,
		FromKey: senderKey,
		ToKeys:  recipientKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack msg: %w", err)
	}

	return packed, nil
}

// createForwardMessage wraps msg in one forward per routing key, the first routing key being the innermost hop.
func (o *Dispatcher) createForwardMessage(msg []byte, dest *service.Destination) ([]byte, error) {
	if len(dest.RoutingKeys) == 0 {
		return msg, nil
	}

	to := dest.RecipientKeys[0]

	for _, routingKey := range dest.RoutingKeys {
		fwd, err := json.Marshal(&model.Forward{
			Type: model.ForwardMsgType,
			ID:   uuid.New().String(),
			To:   to,
			Msg:  msg,
		})
		if err != nil {
			return nil, fmt.Errorf("failed marshal to bytes: %w", err)
		}

		msg, err = o.pack(fwd, "", []string{routingKey})
		if err != nil {
			return nil, fmt.Errorf("forward to %s: %w", routingKey, err)
		}

		to = routingKey
	}

	return msg, nil
}
