/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import "strings"

const (
	// MediaTypeSSIAgentWire is the legacy media type of DIDComm V1 envelopes.
	MediaTypeSSIAgentWire = "application/ssi-agent-wire"
	// MediaTypeV1EncryptedEnvelope is the media type for DIDComm V1 encrypted envelopes as per Aries RFC 0044.
	MediaTypeV1EncryptedEnvelope = "application/didcomm-envelope-enc"
)

// IsEnvelopeMediaType reports whether contentType (parameters are ignored) carries a DIDComm envelope.
func IsEnvelopeMediaType(contentType string) bool {
	mt := strings.TrimSpace(strings.Split(contentType, ";")[0])

	return mt == MediaTypeSSIAgentWire || mt == MediaTypeV1EncryptedEnvelope
}
