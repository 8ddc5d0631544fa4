/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

// Envelope for the DIDComm transport messages. Protected is the base64url encoded JSON header listing the
// recipients; it is also the additional authenticated data of the ciphertext.
type Envelope struct {
	Protected  string `json:"protected,omitempty"`
	IV         string `json:"iv,omitempty"`
	CipherText string `json:"ciphertext,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

// IsComplete reports whether every envelope field is set.
func (e *Envelope) IsComplete() bool {
	return e.Protected != "" && e.IV != "" && e.CipherText != "" && e.Tag != ""
}
