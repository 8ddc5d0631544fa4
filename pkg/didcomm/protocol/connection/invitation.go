/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/doc/did"
	"github.com/didrelay/agent/pkg/doc/didkey"
)

const invitationQueryParam = "c_i"

// InvitationURL encodes inv into the c_i query parameter of endpoint.
func InvitationURL(endpoint string, inv *Invitation) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invitation url: %w", err)
	}

	invBytes, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("marshal invitation: %w", err)
	}

	q := u.Query()
	q.Set(invitationQueryParam, base64.URLEncoding.EncodeToString(invBytes))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ParseInvitationURL decodes the invitation carried in the c_i query parameter of rawURL.
func ParseInvitationURL(rawURL string) (*Invitation, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}

	encoded := u.Query().Get(invitationQueryParam)
	if encoded == "" {
		return nil, fmt.Errorf("%w: no %s parameter", ErrInvalidInvitation, invitationQueryParam)
	}

	invBytes, err := decodeBase64URL(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}

	return ParseInvitation(invBytes)
}

// ParseInvitation decodes a JSON invitation. Legacy message type prefixes are normalized.
func ParseInvitation(data []byte) (*Invitation, error) {
	inv := &Invitation{}

	if err := json.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}

	inv.Type = service.NormalizeType(inv.Type)

	return inv, nil
}

// validateInvitation checks inv has a recipient key and a service endpoint a message can be sent to, and returns
// its keys as base58 verkeys.
func validateInvitation(inv *Invitation) (recipientKeys, routingKeys []string, err error) {
	if inv == nil {
		return nil, nil, fmt.Errorf("%w: missing invitation", ErrInvalidInvitation)
	}

	if inv.Type != "" && inv.Type != InvitationMsgType {
		return nil, nil, fmt.Errorf("%w: unexpected type %s", ErrInvalidInvitation, inv.Type)
	}

	if len(inv.RecipientKeys) == 0 {
		return nil, nil, fmt.Errorf("%w: no recipient keys", ErrInvalidInvitation)
	}

	if err = validateEndpoint(inv.ServiceEndpoint); err != nil {
		return nil, nil, err
	}

	if recipientKeys, err = didkey.NormalizeAll(inv.RecipientKeys); err != nil {
		return nil, nil, fmt.Errorf("%w: recipient keys: %v", ErrInvalidInvitation, err)
	}

	if routingKeys, err = didkey.NormalizeAll(inv.RoutingKeys); err != nil {
		return nil, nil, fmt.Errorf("%w: routing keys: %v", ErrInvalidInvitation, err)
	}

	return recipientKeys, routingKeys, nil
}

// validateEndpoint accepts absolute URLs. The queue endpoint cannot be sent to.
func validateEndpoint(endpoint string) error {
	if endpoint == "" || endpoint == did.QueueEndpoint {
		return fmt.Errorf("%w: no reachable service endpoint", ErrInvalidInvitation)
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("%w: service endpoint %q", ErrInvalidInvitation, endpoint)
	}

	return nil
}
