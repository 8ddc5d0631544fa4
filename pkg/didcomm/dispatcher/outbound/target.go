/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbound

import (
	"errors"
	"fmt"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/doc/did"
	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/store/connection"
)

// ErrNoDestination is returned when a connection record carries neither a service nor a peer key.
var ErrNoDestination = errors.New("connection has no destination")

// DestinationFor resolves where messages of rec go: the DIDComm service of the peer's DID document, or the
// invitation's service while an invitee has no document yet. Without either, the destination only names the peer
// key and carries no endpoint, which queues messages in the mailbox.
func DestinationFor(rec *connection.Record) (*service.Destination, error) {
	if rec.TheirDIDDoc != nil {
		svc, err := rec.TheirDIDDoc.DIDCommService()
		if err == nil {
			return &service.Destination{
				RecipientKeys:   svc.RecipientKeys,
				ServiceEndpoint: svc.ServiceEndpoint,
				RoutingKeys:     svc.RoutingKeys,
			}, nil
		}

		if !errors.Is(err, did.ErrNoDIDCommService) {
			return nil, fmt.Errorf("connection %s: %w", rec.ConnectionID, err)
		}
	}

	if rec.Role == connection.RoleInvitee && rec.Invitation != nil && len(rec.Invitation.RecipientKeys) > 0 {
		recipientKeys, err := didkey.NormalizeAll(rec.Invitation.RecipientKeys)
		if err != nil {
			return nil, fmt.Errorf("connection %s: invitation keys: %w", rec.ConnectionID, err)
		}

		routingKeys, err := didkey.NormalizeAll(rec.Invitation.RoutingKeys)
		if err != nil {
			return nil, fmt.Errorf("connection %s: invitation routing keys: %w", rec.ConnectionID, err)
		}

		return &service.Destination{
			RecipientKeys:   recipientKeys,
			ServiceEndpoint: rec.Invitation.ServiceEndpoint,
			RoutingKeys:     routingKeys,
		}, nil
	}

	if rec.TheirKey != "" {
		return &service.Destination{RecipientKeys: []string{rec.TheirKey}}, nil
	}

	return nil, fmt.Errorf("connection %s: %w", rec.ConnectionID, ErrNoDestination)
}

// queued reports whether endpoint means the peer picks its messages up from us.
func queued(endpoint string) bool {
	return endpoint == "" || endpoint == did.QueueEndpoint
}
