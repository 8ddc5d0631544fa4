/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package agent wires the stores, transports and protocol services of a DIDComm agent together.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher/inbound"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher/outbound"
	"github.com/didrelay/agent/pkg/didcomm/messaging/msghandler"
	"github.com/didrelay/agent/pkg/didcomm/packer/legacy"
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/didcomm/transport/session"
	"github.com/didrelay/agent/pkg/doc/did"
	"github.com/didrelay/agent/pkg/framework/context"
	"github.com/didrelay/agent/pkg/kms"
	"github.com/didrelay/agent/pkg/store/connection"
	"github.com/didrelay/agent/pkg/store/mailbox"
	"github.com/didrelay/agent/pkg/store/routing"
)

var logger = log.New("didrelay/agent")

// Agent provides access to the context being managed by the framework. The context can be used to create clients.
type Agent struct {
	id                     string
	storeProvider          storage.Provider
	kms                    kms.KeyManager
	packager               transport.Packager
	outboundDispatcher     *outbound.Dispatcher
	outboundTransports     []transport.OutboundTransport
	inboundTransports      []transport.InboundTransport
	protocolSvcCreators    []protocolSvcCreator
	services               []service.DIDComm
	msgServices            []service.DIDComm
	msgRegistrar           *msghandler.Registrar
	label                  string
	serviceEndpoint        string
	routerEndpoint         string
	autoAccept             bool
	autoGrantMediation     bool
	transportReturnRoute   string
	sessionTimeout         time.Duration
	sessions               *session.Registry
	connectionRecorder     *connection.Recorder
	routingTable           *routing.Table
	mailbox                *mailbox.Mailbox
	inboundEnvelopeHandler inbound.MessageHandler
}

// Option configures the framework.
type Option func(opts *Agent) error

// New initializes the agent based on the set of options provided. The transports are started once every
// service is loaded.
func New(opts ...Option) (*Agent, error) {
	frameworkOpts := &Agent{}

	for _, option := range opts {
		err := option(frameworkOpts)
		if err != nil {
			closeErr := frameworkOpts.Close()
			return nil, fmt.Errorf("close err: %v Error in option passed to New: %w", closeErr, err)
		}
	}

	frameworkOpts.id = uuid.New().String()

	err := defFrameworkOpts(frameworkOpts)
	if err != nil {
		return nil, fmt.Errorf("default option initialization failed: %w", err)
	}

	return initializeServices(frameworkOpts)
}

func initializeServices(frameworkOpts *Agent) (*Agent, error) {
	// Order of initializing service is important
	if e := createKMS(frameworkOpts); e != nil {
		return nil, e
	}

	frameworkOpts.packager = legacy.New(frameworkOpts.kms)

	if e := createStores(frameworkOpts); e != nil {
		return nil, e
	}

	if e := createOutboundDispatcher(frameworkOpts); e != nil {
		return nil, e
	}

	if e := loadServices(frameworkOpts); e != nil {
		return nil, e
	}

	if e := startTransports(frameworkOpts); e != nil {
		return nil, e
	}

	logger.Infof("agent %s started, endpoint %s", frameworkOpts.id, serviceEndpoint(frameworkOpts))

	return frameworkOpts, nil
}

// WithOutboundTransports injects an outbound transports to the agent.
func WithOutboundTransports(outboundTransports ...transport.OutboundTransport) Option {
	return func(opts *Agent) error {
		opts.outboundTransports = append(opts.outboundTransports, outboundTransports...)
		return nil
	}
}

// WithInboundTransport injects an inbound transport to the agent.
func WithInboundTransport(inboundTransport ...transport.InboundTransport) Option {
	return func(opts *Agent) error {
		opts.inboundTransports = append(opts.inboundTransports, inboundTransport...)
		return nil
	}
}

// WithTransportReturnRoute injects transport return route option to the agent. Acceptable values - "none" or
// "all". RFC - https://github.com/hyperledger/aries-rfcs/tree/master/features/0092-transport-return-route.
func WithTransportReturnRoute(transportReturnRoute string) Option {
	return func(opts *Agent) error {
		if transportReturnRoute != decorator.TransportReturnRouteNone &&
			transportReturnRoute != decorator.TransportReturnRouteAll {
			return fmt.Errorf("invalid transport return route option : %s", transportReturnRoute)
		}

		opts.transportReturnRoute = transportReturnRoute

		return nil
	}
}

// WithStoreProvider injects a storage provider to the agent.
func WithStoreProvider(prov storage.Provider) Option {
	return func(opts *Agent) error {
		opts.storeProvider = prov
		return nil
	}
}

// WithAutoAccept makes the agent accept connection requests and responses without waiting for an action.
func WithAutoAccept(autoAccept bool) Option {
	return func(opts *Agent) error {
		opts.autoAccept = autoAccept
		return nil
	}
}

// WithAutoGrantMediation makes the agent grant every mediation request it receives.
func WithAutoGrantMediation(autoGrant bool) Option {
	return func(opts *Agent) error {
		opts.autoGrantMediation = autoGrant
		return nil
	}
}

// WithSessionTimeout bounds how long a send over a reused transport session may take before the message is
// sent to the endpoint instead.
func WithSessionTimeout(timeout time.Duration) Option {
	return func(opts *Agent) error {
		if timeout <= 0 {
			return errors.New("session timeout must be positive")
		}

		opts.sessionTimeout = timeout

		return nil
	}
}

// WithLabel sets the name the agent presents in its invitations.
func WithLabel(label string) Option {
	return func(opts *Agent) error {
		opts.label = label
		return nil
	}
}

// WithServiceEndpoint overrides the endpoint advertised to other agents. It defaults to the endpoint of the first
// inbound transport, and to the queue endpoint when there is none.
func WithServiceEndpoint(endpoint string) Option {
	return func(opts *Agent) error {
		opts.serviceEndpoint = endpoint
		return nil
	}
}

// WithRouterEndpoint overrides the endpoint granted to the agents this agent mediates for. It defaults to the
// service endpoint.
func WithRouterEndpoint(endpoint string) Option {
	return func(opts *Agent) error {
		opts.routerEndpoint = endpoint
		return nil
	}
}

// WithMessageHandler registers application message services, dispatched to after the built in protocols.
func WithMessageHandler(msgServices ...service.DIDComm) Option {
	return func(opts *Agent) error {
		opts.msgServices = append(opts.msgServices, msgServices...)
		return nil
	}
}

// ID of this agent instance.
func (a *Agent) ID() string {
	return a.id
}

// Context provides a handle to the framework context.
func (a *Agent) Context() (*context.Provider, error) {
	return context.New(a.contextOpts()...)
}

func (a *Agent) contextOpts() []context.ProviderOption {
	return []context.ProviderOption{
		context.WithStorageProvider(a.storeProvider),
		context.WithKMS(a.kms),
		context.WithPackager(a.packager),
		context.WithOutboundDispatcher(a.outboundDispatcher),
		context.WithOutboundTransports(a.outboundTransports...),
		context.WithProtocolServices(a.services...),
		context.WithMessageServiceRegistrar(a.msgRegistrar),
		context.WithServiceEndpoint(serviceEndpoint(a)),
		context.WithRouterEndpoint(routingEndpoint(a)),
		context.WithLabel(a.label),
		context.WithAutoAccept(a.autoAccept),
		context.WithAutoGrantMediation(a.autoGrantMediation),
		context.WithTransportReturnRoute(a.transportReturnRoute),
		context.WithSessionTimeout(a.sessionTimeout),
		context.WithSessionRegistry(a.sessions),
		context.WithConnectionRecorder(a.connectionRecorder),
		context.WithRoutingTable(a.routingTable),
		context.WithMailbox(a.mailbox),
		context.WithInboundEnvelopeHandler(&a.inboundEnvelopeHandler),
	}
}

type stopper interface {
	Stop() error
}

// Close stops the transports and frees the store.
func (a *Agent) Close() error {
	var errs []error

	for _, in := range a.inboundTransports {
		if err := in.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("inbound transport close failed: %w", err))
		}
	}

	if n := a.sessionCount(); n > 0 {
		logger.Warnf("%d transport sessions still registered after stopping the inbound transports", n)
	}

	for _, out := range a.outboundTransports {
		if s, ok := out.(stopper); ok {
			if err := s.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("outbound transport close failed: %w", err))
			}
		}
	}

	for _, svc := range a.services {
		if s, ok := svc.(interface{ StopPickupPoller() }); ok {
			s.StopPickupPoller()
		}
	}

	if a.storeProvider != nil {
		if err := a.storeProvider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close the store: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (a *Agent) sessionCount() int {
	if a.sessions == nil {
		return 0
	}

	return a.sessions.Len()
}

func createKMS(frameworkOpts *Agent) error {
	k, err := kms.New(frameworkOpts.storeProvider)
	if err != nil {
		return fmt.Errorf("create KMS failed: %w", err)
	}

	frameworkOpts.kms = k

	return nil
}

func createStores(frameworkOpts *Agent) error {
	var err error

	frameworkOpts.connectionRecorder, err = connection.NewRecorder(frameworkOpts.storeProvider)
	if err != nil {
		return fmt.Errorf("create connection store failed: %w", err)
	}

	frameworkOpts.routingTable, err = routing.NewTable(frameworkOpts.storeProvider)
	if err != nil {
		return fmt.Errorf("create routing table failed: %w", err)
	}

	frameworkOpts.mailbox, err = mailbox.New(frameworkOpts.storeProvider)
	if err != nil {
		return fmt.Errorf("create mailbox failed: %w", err)
	}

	frameworkOpts.sessions = session.NewRegistry()
	frameworkOpts.msgRegistrar = msghandler.NewRegistrar()

	if err = frameworkOpts.msgRegistrar.Register(frameworkOpts.msgServices...); err != nil {
		return fmt.Errorf("register message services failed: %w", err)
	}

	return nil
}

func createOutboundDispatcher(frameworkOpts *Agent) error {
	ctx, err := context.New(frameworkOpts.contextOpts()...)
	if err != nil {
		return fmt.Errorf("context creation failed: %w", err)
	}

	frameworkOpts.outboundDispatcher, err = outbound.NewOutbound(ctx)
	if err != nil {
		return fmt.Errorf("failed to init outbound dispatcher: %w", err)
	}

	return nil
}

func loadServices(frameworkOpts *Agent) error {
	ctx, err := context.New(frameworkOpts.contextOpts()...)
	if err != nil {
		return fmt.Errorf("create context failed: %w", err)
	}

	for _, v := range frameworkOpts.protocolSvcCreators {
		svc, svcErr := v.create(ctx)
		if svcErr != nil {
			return fmt.Errorf("new protocol service failed: %w", svcErr)
		}

		frameworkOpts.services = append(frameworkOpts.services, svc)
		// later services look the earlier ones up through the context.
		if e := context.WithProtocolServices(frameworkOpts.services...)(ctx); e != nil {
			return e
		}
	}

	// after adding all protocol services to the context, we can initialize the handler properly.
	frameworkOpts.inboundEnvelopeHandler.Initialize(ctx)

	return nil
}

func startTransports(frameworkOpts *Agent) error {
	ctx, err := context.New(frameworkOpts.contextOpts()...)
	if err != nil {
		return fmt.Errorf("context creation failed: %w", err)
	}

	for _, in := range frameworkOpts.inboundTransports {
		if err = in.Start(ctx); err != nil {
			return fmt.Errorf("inbound transport start failed: %w", err)
		}
	}

	for _, out := range frameworkOpts.outboundTransports {
		if err = out.Start(ctx); err != nil {
			return fmt.Errorf("outbound transport start failed: %w", err)
		}
	}

	return nil
}

func serviceEndpoint(frameworkOpts *Agent) string {
	if frameworkOpts.serviceEndpoint != "" {
		return frameworkOpts.serviceEndpoint
	}

	if len(frameworkOpts.inboundTransports) > 0 {
		return frameworkOpts.inboundTransports[0].Endpoint()
	}

	return did.QueueEndpoint
}

func routingEndpoint(frameworkOpts *Agent) string {
	if frameworkOpts.routerEndpoint != "" {
		return frameworkOpts.routerEndpoint
	}

	return serviceEndpoint(frameworkOpts)
}
