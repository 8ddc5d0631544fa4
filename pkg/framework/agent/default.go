/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/protocol/connection"
	"github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/didcomm/protocol/messagepickup"
	"github.com/didrelay/agent/pkg/didcomm/transport/http"
	"github.com/didrelay/agent/pkg/framework/context"
)

// protocolSvcCreator creates a built in protocol service from the context holding the services created before it.
type protocolSvcCreator struct {
	create func(prv *context.Provider) (service.DIDComm, error)
}

// defFrameworkOpts provides default framework options.
func defFrameworkOpts(frameworkOpts *Agent) error {
	if len(frameworkOpts.outboundTransports) == 0 {
		outbound, err := http.NewOutbound()
		if err != nil {
			return fmt.Errorf("http outbound transport initialization failed: %w", err)
		}

		frameworkOpts.outboundTransports = append(frameworkOpts.outboundTransports, outbound)
	}

	if frameworkOpts.storeProvider == nil {
		frameworkOpts.storeProvider = mem.NewProvider()
	}

	if frameworkOpts.transportReturnRoute == "" {
		frameworkOpts.transportReturnRoute = defaultReturnRoute(frameworkOpts)
	}

	// order is important:
	// - Mediator depends on MessagePickup
	// - Connections depends on Mediator
	frameworkOpts.protocolSvcCreators = append(frameworkOpts.protocolSvcCreators,
		newMessagePickupSvc(), newMediatorSvc(), newConnectionSvc())

	return nil
}

// defaultReturnRoute asks for replies over the transport when the agent cannot be reached at an endpoint of its own.
func defaultReturnRoute(frameworkOpts *Agent) string {
	if len(frameworkOpts.inboundTransports) == 0 && frameworkOpts.serviceEndpoint == "" {
		return "all"
	}

	return "none"
}

func newMessagePickupSvc() protocolSvcCreator {
	return protocolSvcCreator{
		create: func(prv *context.Provider) (service.DIDComm, error) {
			return messagepickup.New(prv)
		},
	}
}

func newMediatorSvc() protocolSvcCreator {
	return protocolSvcCreator{
		create: func(prv *context.Provider) (service.DIDComm, error) {
			return mediator.New(prv)
		},
	}
}

func newConnectionSvc() protocolSvcCreator {
	return protocolSvcCreator{
		create: func(prv *context.Provider) (service.DIDComm, error) {
			return connection.New(prv)
		},
	}
}
