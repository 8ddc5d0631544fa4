/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	jsonID             = "@id"
	jsonType           = "@type"
	jsonThread         = "~thread"
	jsonThreadID       = "thid"
	jsonParentThreadID = "pthid"
	jsonTransport      = "~transport"
	jsonReturnRoute    = "return_route"
	jsonTagName        = "json"

	// DIDCommPrefix is the message type prefix of the protocols implemented by the agent.
	DIDCommPrefix = "https://didcomm.org/"

	// LegacyDIDCommPrefix is the message type prefix used by older agents.
	LegacyDIDCommPrefix = "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/"
)

// ErrThreadIDNotFound is returned when a message has neither a thread id nor an id.
var ErrThreadIDNotFound = errors.New("threadID not found")

// ErrInvalidMessage is returned when a payload is not a DIDComm message.
var ErrInvalidMessage = errors.New("invalid DIDComm message")

// DIDCommMsgMap is a generic DIDComm message.
type DIDCommMsgMap map[string]interface{}

// ParseDIDCommMsgMap parses a DIDComm message. The payload must be a JSON object carrying an @type.
func ParseDIDCommMsgMap(payload []byte) (DIDCommMsgMap, error) {
	var msg DIDCommMsgMap

	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if msg.Type() == "" {
		return nil, fmt.Errorf("%w: missing @type", ErrInvalidMessage)
	}

	return msg, nil
}

// NewDIDCommMsgMap converts a typed message into a DIDCommMsgMap.
func NewDIDCommMsgMap(v interface{}) (DIDCommMsgMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	msg := DIDCommMsgMap{}

	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	return msg, nil
}

// NormalizeType rewrites legacy message type prefixes to DIDCommPrefix.
func NormalizeType(t string) string {
	if strings.HasPrefix(t, LegacyDIDCommPrefix) {
		return DIDCommPrefix + strings.TrimPrefix(t, LegacyDIDCommPrefix)
	}

	return t
}

// ID returns the message id.
func (m DIDCommMsgMap) ID() string {
	if m == nil {
		return ""
	}

	res, _ := m[jsonID].(string) // nolint: errcheck

	return res
}

// Type returns the normalized message type.
func (m DIDCommMsgMap) Type() string {
	if m == nil {
		return ""
	}

	res, _ := m[jsonType].(string) // nolint: errcheck

	return NormalizeType(res)
}

// ThreadID returns the message thread id, which is the id of the message when it opens a thread.
func (m DIDCommMsgMap) ThreadID() (string, error) {
	if m == nil {
		return "", ErrThreadIDNotFound
	}

	if thread, ok := m[jsonThread].(map[string]interface{}); ok {
		if thid, ok := thread[jsonThreadID].(string); ok && thid != "" {
			return thid, nil
		}
	}

	if id := m.ID(); id != "" {
		return id, nil
	}

	return "", ErrThreadIDNotFound
}

// ParentThreadID returns the parent thread id.
func (m DIDCommMsgMap) ParentThreadID() string {
	if m == nil {
		return ""
	}

	thread, ok := m[jsonThread].(map[string]interface{})
	if !ok {
		return ""
	}

	pthid, _ := thread[jsonParentThreadID].(string) // nolint: errcheck

	return pthid
}

// ReturnRoute returns the value of the ~transport return_route decorator.
func (m DIDCommMsgMap) ReturnRoute() string {
	if m == nil {
		return ""
	}

	trans, ok := m[jsonTransport].(map[string]interface{})
	if !ok {
		return ""
	}

	rr, _ := trans[jsonReturnRoute].(string) // nolint: errcheck

	return rr
}

// SetReturnRoute sets the ~transport return_route decorator.
func (m DIDCommMsgMap) SetReturnRoute(value string) {
	m[jsonTransport] = map[string]interface{}{jsonReturnRoute: value}
}

// Decode converts the message into the given typed structure.
func (m DIDCommMsgMap) Decode(v interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook,
		WeaklyTypedInput: true,
		Squash:           true,
		Result:           v,
		TagName:          jsonTagName,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(m)
}

func decodeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	switch {
	case to == reflect.TypeOf(json.RawMessage{}):
		return json.Marshal(data)
	case to == reflect.TypeOf(time.Time{}) && from.Kind() == reflect.String:
		return time.Parse(time.RFC3339Nano, data.(string))
	case to.Kind() == reflect.Slice && to.Elem().Kind() == reflect.Uint8 && from.Kind() == reflect.String:
		return base64.StdEncoding.DecodeString(data.(string))
	}

	return data, nil
}
