/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

// Package did implements the DID document format exchanged by the connections protocol.
package did

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"

	"github.com/didrelay/agent/pkg/doc/didkey"
)

const (
	// Context of the DID document
	Context = "https://w3id.org/did/v1"

	// Ed25519VerificationKey2018 public key type.
	Ed25519VerificationKey2018 = "Ed25519VerificationKey2018"

	// IndyAgentServiceType legacy DIDComm service type.
	IndyAgentServiceType = "IndyAgent"

	// DIDCommServiceType DIDComm service type.
	DIDCommServiceType = "did-communication"

	// QueueEndpoint is the endpoint advertised by agents that cannot be reached directly.
	QueueEndpoint = "didcomm:transport/queue"

	didIDLength = 16
)

// ErrNoDIDCommService is returned when a DID document has no usable DIDComm service.
var ErrNoDIDCommService = errors.New("did document has no DIDComm service")

// Doc DID Document definition.
type Doc struct {
	Context        interface{}          `json:"@context,omitempty"`
	ID             string               `json:"id"`
	PublicKey      []PublicKey          `json:"publicKey,omitempty"`
	Service        []Service            `json:"service,omitempty"`
	Authentication []VerificationMethod `json:"authentication,omitempty"`
}

// PublicKey DID doc public key.
type PublicKey struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller,omitempty"`
	PublicKeyBase58 string `json:"publicKeyBase58,omitempty"`
}

// Service DID doc service.
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Priority        int      `json:"priority,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
}

// VerificationMethod authentication verification method.
type VerificationMethod struct {
	Type      string `json:"type"`
	PublicKey string `json:"publicKey"`
}

// DocOption provides options to build DID Doc.
type DocOption func(opts *Doc)

// WithService DID doc services.
func WithService(svc ...Service) DocOption {
	return func(opts *Doc) {
		opts.Service = append(opts.Service, svc...)
	}
}

// CreateDID derives the unqualified DID of an ed25519 verkey (base58 of the first 16 bytes of the key).
func CreateDID(verKey string) (string, error) {
	pub := base58.Decode(verKey)
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("verkey %q: invalid public key size %d", verKey, len(pub))
	}

	return base58.Encode(pub[:didIDLength]), nil
}

// BuildDoc creates the DID doc of did controlled by verKey.
func BuildDoc(did, verKey string, opts ...DocOption) *Doc {
	keyID := did + "#1"

	doc := &Doc{
		Context: Context,
		ID:      did,
		PublicKey: []PublicKey{{
			ID:              keyID,
			Type:            Ed25519VerificationKey2018,
			Controller:      did,
			PublicKeyBase58: verKey,
		}},
		Authentication: []VerificationMethod{{
			Type:      "Ed25519SignatureAuthentication2018",
			PublicKey: keyID,
		}},
	}

	for _, opt := range opts {
		opt(doc)
	}

	return doc
}

// NewDIDCommService creates the DIDComm service entry of did.
func NewDIDCommService(did, endpoint string, recipientKeys, routingKeys []string) Service {
	return Service{
		ID:              did + ";indy",
		Type:            IndyAgentServiceType,
		RecipientKeys:   recipientKeys,
		RoutingKeys:     routingKeys,
		ServiceEndpoint: endpoint,
	}
}

// ParseDocument creates an instance of DIDDocument by reading a JSON document from bytes.
func ParseDocument(data []byte) (*Doc, error) {
	doc := &Doc{}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("unmarshal did doc: %w", err)
	}

	if doc.ID == "" {
		return nil, errors.New("did doc: missing id")
	}

	return doc, nil
}

// DIDCommService returns the first service of the document that can carry DIDComm messages: a service of a
// DIDComm type listing at least one recipient key. Keys are normalized to base58 verkeys.
func (doc *Doc) DIDCommService() (*Service, error) {
	for i := range doc.Service {
		svc := doc.Service[i]

		if svc.Type != IndyAgentServiceType && svc.Type != DIDCommServiceType {
			continue
		}

		if len(svc.RecipientKeys) == 0 {
			continue
		}

		recipientKeys, err := didkey.NormalizeAll(svc.RecipientKeys)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.ID, err)
		}

		routingKeys, err := didkey.NormalizeAll(svc.RoutingKeys)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.ID, err)
		}

		svc.RecipientKeys = recipientKeys
		svc.RoutingKeys = routingKeys

		return &svc, nil
	}

	return nil, ErrNoDIDCommService
}

// VerKey returns the first base58 public key of the document.
func (doc *Doc) VerKey() (string, error) {
	for _, pk := range doc.PublicKey {
		if pk.PublicKeyBase58 != "" {
			return pk.PublicKeyBase58, nil
		}
	}

	svc, err := doc.DIDCommService()
	if err != nil {
		return "", fmt.Errorf("did doc %s: no public key", doc.ID)
	}

	return svc.RecipientKeys[0], nil
}
