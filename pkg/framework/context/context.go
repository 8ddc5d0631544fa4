/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package context creates a framework Provider context to add optional (non default) framework services and provides
// simple accessor methods to those same services.
package context

import (
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/didcomm/messaging/msghandler"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/didcomm/transport/session"
	"github.com/didrelay/agent/pkg/kms"
	"github.com/didrelay/agent/pkg/store/connection"
	"github.com/didrelay/agent/pkg/store/mailbox"
	"github.com/didrelay/agent/pkg/store/routing"
)

// ErrSvcNotFound is returned when no service of the requested name is known.
var ErrSvcNotFound = errors.New("service not found")

// Provider supplies the framework configuration to client objects.
type Provider struct {
	services               []service.DIDComm
	msgRegistrar           *msghandler.Registrar
	storeProvider          storage.Provider
	kms                    kms.KeyManager
	packager               transport.Packager
	serviceEndpoint        string
	routerEndpoint         string
	label                  string
	autoAccept             bool
	autoGrantMediation     bool
	outboundDispatcher     dispatcher.Outbound
	outboundTransports     []transport.OutboundTransport
	transportReturnRoute   string
	sessionTimeout         time.Duration
	sessions               *session.Registry
	connectionRecorder     *connection.Recorder
	routingTable           *routing.Table
	mailbox                *mailbox.Mailbox
	inboundEnvelopeHandler InboundEnvelopeHandler
}

// InboundEnvelopeHandler handles inbound envelopes, processing then dispatching to a protocol service based on the
// message type.
type InboundEnvelopeHandler interface {
	// HandlerFunc provides the transport.InboundMessageHandler of the given InboundEnvelopeHandler.
	HandlerFunc() transport.InboundMessageHandler
}

// New instantiates a new context provider. The connection store is opened on the storage provider when none
// is given.
func New(opts ...ProviderOption) (*Provider, error) {
	ctxProvider := Provider{}

	for _, opt := range opts {
		err := opt(&ctxProvider)
		if err != nil {
			return nil, fmt.Errorf("option failed: %w", err)
		}
	}

	if ctxProvider.connectionRecorder == nil && ctxProvider.storeProvider != nil {
		recorder, err := connection.NewRecorder(ctxProvider.storeProvider)
		if err != nil {
			return nil, fmt.Errorf("initialize context connection recorder: %w", err)
		}

		ctxProvider.connectionRecorder = recorder
	}

	return &ctxProvider, nil
}

// ConnectionLookup returns a connection.Lookup initialized on this context's stores.
func (p *Provider) ConnectionLookup() *connection.Lookup {
	if p.connectionRecorder == nil {
		return nil
	}

	return p.connectionRecorder.Lookup
}

// ConnectionRecorder returns the connection store.
func (p *Provider) ConnectionRecorder() *connection.Recorder {
	return p.connectionRecorder
}

// OutboundDispatcher returns an outbound dispatcher.
func (p *Provider) OutboundDispatcher() dispatcher.Outbound {
	return p.outboundDispatcher
}

// OutboundTransports returns an outbound transports.
func (p *Provider) OutboundTransports() []transport.OutboundTransport {
	return p.outboundTransports
}

// Service returns the built in or registered service named id.
func (p *Provider) Service(id string) (interface{}, error) {
	for _, v := range p.AllServices() {
		if v.Name() == id {
			return v, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", id, ErrSvcNotFound)
}

// AllServices returns the built in protocol services followed by the registered message services.
func (p *Provider) AllServices() []service.DIDComm {
	ret := make([]service.DIDComm, len(p.services))
	copy(ret, p.services)

	if p.msgRegistrar != nil {
		ret = append(ret, p.msgRegistrar.Services()...)
	}

	return ret
}

// MessageServiceRegistrar returns the registrar of application message services.
func (p *Provider) MessageServiceRegistrar() *msghandler.Registrar {
	return p.msgRegistrar
}

// KMS returns a Key Management Service.
func (p *Provider) KMS() kms.KeyManager {
	return p.kms
}

// Packager returns a packager service.
func (p *Provider) Packager() transport.Packager {
	return p.packager
}

// ServiceEndpoint returns an service endpoint. This endpoint is used in connection invitations
// and DID documents.
func (p *Provider) ServiceEndpoint() string {
	return p.serviceEndpoint
}

// RouterEndpoint returns the endpoint granted to the recipients this agent mediates for.
func (p *Provider) RouterEndpoint() string {
	return p.routerEndpoint
}

// Label is the name the agent presents in its invitations and requests.
func (p *Provider) Label() string {
	return p.label
}

// AutoAcceptConnections tells whether connection requests and responses are accepted without an action event.
func (p *Provider) AutoAcceptConnections() bool {
	return p.autoAccept
}

// AutoGrantMediation tells whether mediation requests are granted without an action event.
func (p *Provider) AutoGrantMediation() bool {
	return p.autoGrantMediation
}

// StorageProvider return a storage provider.
func (p *Provider) StorageProvider() storage.Provider {
	return p.storeProvider
}

// TransportReturnRoute returns transport return route.
func (p *Provider) TransportReturnRoute() string {
	return p.transportReturnRoute
}

// SessionTimeout bounds sends over reused transport sessions.
func (p *Provider) SessionTimeout() time.Duration {
	return p.sessionTimeout
}

// SessionRegistry returns the registry of live transport sessions.
func (p *Provider) SessionRegistry() *session.Registry {
	return p.sessions
}

// SessionRemover lets inbound transports drop their closed sessions from the registry.
func (p *Provider) SessionRemover() transport.SessionRemover {
	if p.sessions == nil {
		return nil
	}

	return p.sessions
}

// RoutingTable returns the recipient key routes of the agents this agent mediates for.
func (p *Provider) RoutingTable() *routing.Table {
	return p.routingTable
}

// Mailbox returns the store of envelopes waiting to be picked up.
func (p *Provider) Mailbox() *mailbox.Mailbox {
	return p.mailbox
}

// InboundMessageHandler return an inbound message handler.
func (p *Provider) InboundMessageHandler() transport.InboundMessageHandler {
	if p.inboundEnvelopeHandler == nil {
		return nil
	}

	return p.inboundEnvelopeHandler.HandlerFunc()
}

// ProviderOption configures the framework.
type ProviderOption func(opts *Provider) error

// WithOutboundTransports injects an outbound transports into the context.
func WithOutboundTransports(transports ...transport.OutboundTransport) ProviderOption {
	return func(opts *Provider) error {
		opts.outboundTransports = transports
		return nil
	}
}

// WithOutboundDispatcher injects an outbound dispatcher into the context.
func WithOutboundDispatcher(outboundDispatcher dispatcher.Outbound) ProviderOption {
	return func(opts *Provider) error {
		opts.outboundDispatcher = outboundDispatcher
		return nil
	}
}

// WithProtocolServices injects protocol services into the context.
func WithProtocolServices(services ...service.DIDComm) ProviderOption {
	return func(opts *Provider) error {
		opts.services = services
		return nil
	}
}

// WithMessageServiceRegistrar injects the registrar of application message services into the context.
func WithMessageServiceRegistrar(registrar *msghandler.Registrar) ProviderOption {
	return func(opts *Provider) error {
		opts.msgRegistrar = registrar
		return nil
	}
}

// WithKMS injects a kms service into the context.
func WithKMS(k kms.KeyManager) ProviderOption {
	return func(opts *Provider) error {
		opts.kms = k
		return nil
	}
}

// WithPackager injects a packager into the context.
func WithPackager(p transport.Packager) ProviderOption {
	return func(opts *Provider) error {
		opts.packager = p
		return nil
	}
}

// WithServiceEndpoint injects an service transport endpoint into the context.
func WithServiceEndpoint(endpoint string) ProviderOption {
	return func(opts *Provider) error {
		opts.serviceEndpoint = endpoint
		return nil
	}
}

// WithRouterEndpoint injects the endpoint granted to mediated recipients into the context.
func WithRouterEndpoint(routerEndpoint string) ProviderOption {
	return func(opts *Provider) error {
		opts.routerEndpoint = routerEndpoint
		return nil
	}
}

// WithLabel injects the agent label into the context.
func WithLabel(label string) ProviderOption {
	return func(opts *Provider) error {
		opts.label = label
		return nil
	}
}

// WithAutoAccept makes the connection service accept requests and responses on its own.
func WithAutoAccept(autoAccept bool) ProviderOption {
	return func(opts *Provider) error {
		opts.autoAccept = autoAccept
		return nil
	}
}

// WithAutoGrantMediation makes the mediator grant every mediation request.
func WithAutoGrantMediation(autoGrant bool) ProviderOption {
	return func(opts *Provider) error {
		opts.autoGrantMediation = autoGrant
		return nil
	}
}

// WithStorageProvider injects a storage provider into the context.
func WithStorageProvider(s storage.Provider) ProviderOption {
	return func(opts *Provider) error {
		opts.storeProvider = s
		return nil
	}
}

// WithTransportReturnRoute injects transport return route option into the context.
func WithTransportReturnRoute(transportReturnRoute string) ProviderOption {
	return func(opts *Provider) error {
		opts.transportReturnRoute = transportReturnRoute
		return nil
	}
}

// WithSessionTimeout injects the bound of sends over reused sessions into the context.
func WithSessionTimeout(timeout time.Duration) ProviderOption {
	return func(opts *Provider) error {
		opts.sessionTimeout = timeout
		return nil
	}
}

// WithSessionRegistry injects the transport session registry into the context.
func WithSessionRegistry(registry *session.Registry) ProviderOption {
	return func(opts *Provider) error {
		opts.sessions = registry
		return nil
	}
}

// WithConnectionRecorder injects the connection store into the context.
func WithConnectionRecorder(recorder *connection.Recorder) ProviderOption {
	return func(opts *Provider) error {
		opts.connectionRecorder = recorder
		return nil
	}
}

// WithRoutingTable injects the routing table into the context.
func WithRoutingTable(table *routing.Table) ProviderOption {
	return func(opts *Provider) error {
		opts.routingTable = table
		return nil
	}
}

// WithMailbox injects the mailbox into the context.
func WithMailbox(m *mailbox.Mailbox) ProviderOption {
	return func(opts *Provider) error {
		opts.mailbox = m
		return nil
	}
}

// WithInboundEnvelopeHandler injects a handler for inbound envelopes.
func WithInboundEnvelopeHandler(handler InboundEnvelopeHandler) ProviderOption {
	return func(opts *Provider) error {
		opts.inboundEnvelopeHandler = handler
		return nil
	}
}
