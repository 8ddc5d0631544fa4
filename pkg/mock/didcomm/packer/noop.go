/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package packer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/didrelay/agent/pkg/didcomm/transport"
)

type envelope struct {
	Header     string   `json:"protected,omitempty"`
	Sender     string   `json:"spk,omitempty"`
	Recipients []string `json:"kids,omitempty"`
	Message    string   `json:"msg,omitempty"`
}

type header struct {
	Type string `json:"typ,omitempty"`
}

// encodingType is the `typ` string identifier in a message that identifies the format as being plaintext.
const encodingType = "NOOP"

// Packer encodes messages using the NO-OP format - sending them as-is, with only a header to indicate message format.
// Never use this in production.
type Packer struct {
	// PackErr and UnpackErr force failures.
	PackErr   error
	UnpackErr error
}

// New will create a Packer that transmits messages IN PLAINTEXT.
func New() *Packer {
	return &Packer{}
}

// PackMessage wraps the payload in a bit of JSON.
func (p *Packer) PackMessage(env *transport.Envelope) ([]byte, error) {
	if p.PackErr != nil {
		return nil, p.PackErr
	}

	if len(env.ToKeys) == 0 {
		return nil, errors.New("no recipients")
	}

	headerBytes, err := json.Marshal(&header{Type: encodingType})
	if err != nil {
		return nil, err
	}

	return json.Marshal(&envelope{
		Header:     base64.URLEncoding.EncodeToString(headerBytes),
		Sender:     env.FromKey,
		Recipients: env.ToKeys,
		Message:    string(env.Message),
	})
}

// UnpackMessage decodes an envelope produced by PackMessage. The first recipient is reported as ToKey.
func (p *Packer) UnpackMessage(message []byte) (*transport.Envelope, error) {
	if p.UnpackErr != nil {
		return nil, p.UnpackErr
	}

	var env envelope

	err := json.Unmarshal(message, &env)
	if err != nil {
		return nil, err
	}

	headerBytes, err := base64.URLEncoding.DecodeString(env.Header)
	if err != nil {
		return nil, err
	}

	var head header

	err = json.Unmarshal(headerBytes, &head)
	if err != nil {
		return nil, err
	}

	if head.Type != encodingType || len(env.Recipients) == 0 {
		return nil, fmt.Errorf("not a %s envelope", encodingType)
	}

	return &transport.Envelope{
		Message: []byte(env.Message),
		FromKey: env.Sender,
		ToKey:   env.Recipients[0],
	}, nil
}
