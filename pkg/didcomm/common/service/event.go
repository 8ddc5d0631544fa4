/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

// StateMsgType state msg type.
type StateMsgType int

const (
	// PreState pre state.
	PreState StateMsgType = iota

	// PostState post state.
	PostState
)

// String returns the name of the state msg type.
func (t StateMsgType) String() string {
	if t == PreState {
		return "pre_state"
	}

	return "post_state"
}

// StateMsg is used in MsgEvent to pass the state details to the consumer. PostState messages are sent only after
// the new state has been persisted.
type StateMsg struct {
	// Name of the protocol.
	ProtocolName string

	// type of the message (pre or post), refer service.StateMsgType
	Type StateMsgType

	// current state.
	StateID string

	// DIDComm message that caused the transition, nil for transitions caused by an API call.
	Msg DIDCommMsgMap

	// Properties contains value based on specific protocol.
	Properties EventProperties
}

// DIDCommAction message type to pass events in go channels.
type DIDCommAction struct {
	// Name of the protocol.
	ProtocolName string

	// DIDComm message
	Message DIDCommMsgMap

	// Continue function to be called by the consumer for further processing the message.
	Continue func(args interface{})

	// Stop invocation notifies the service that the consumer action event processing has failed or the consumer wants
	// to stop the processing.
	Stop func(err error)

	// Properties contains value based on specific protocol.
	Properties EventProperties
}

// EventProperties type for event related data.
// NOTE: Properties always should be serializable.
type EventProperties interface {
	All() map[string]interface{}
}

// Event event related apis.
type Event interface {
	// RegisterActionEvent on protocol messages. The consumer need to invoke the callback to resume processing.
	// Only one channel can be registered for the action events.
	RegisterActionEvent(ch chan<- DIDCommAction) error

	// UnregisterActionEvent on protocol messages. Refer RegisterActionEvent().
	UnregisterActionEvent(ch chan<- DIDCommAction) error

	// RegisterMsgEvent on protocol messages. Service will not expect any callback on these events unlike Action
	// event.
	RegisterMsgEvent(ch chan<- StateMsg) error

	// UnregisterMsgEvent on protocol messages. Refer RegisterMsgEvent().
	UnregisterMsgEvent(ch chan<- StateMsg) error
}

// AutoExecuteActionEvent is a utility function to execute Action events automatically. This is a blocking function
// and use this function with a goroutine.
func AutoExecuteActionEvent(ch chan DIDCommAction) {
	for msg := range ch {
		msg.Continue(&Empty{})
	}
}

// Empty is used if there are no arguments to Continue.
type Empty struct{}
