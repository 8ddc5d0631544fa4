/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"fmt"

	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

const (
	stateNameNull = "null"
	// StateIDInvited marks the invited phase of the connection protocol.
	StateIDInvited = connectionstore.StateInvited
	// StateIDRequested marks the requested phase of the connection protocol.
	StateIDRequested = connectionstore.StateRequested
	// StateIDResponded marks the responded phase of the connection protocol.
	StateIDResponded = connectionstore.StateResponded
	// StateIDCompleted marks the completed phase of the connection protocol.
	StateIDCompleted = connectionstore.StateComplete
	// StateIDAbandoned marks a connection given up before completion.
	StateIDAbandoned = connectionstore.StateAbandoned
)

// The connection protocol's state.
type state interface {
	// Name of this state.
	Name() string

	// CanTransitionTo Whether this state allows transitioning into the next state.
	CanTransitionTo(next state) bool
}

// Returns the state representing the name. A record without state is in the null state.
func stateFromName(name string) (state, error) {
	switch name {
	case stateNameNull, "":
		return &null{}, nil
	case StateIDInvited:
		return &invited{}, nil
	case StateIDRequested:
		return &requested{}, nil
	case StateIDResponded:
		return &responded{}, nil
	case StateIDCompleted:
		return &completed{}, nil
	case StateIDAbandoned:
		return &abandoned{}, nil
	default:
		return nil, fmt.Errorf("invalid state name %s", name)
	}
}

// null state. A record of a multi-use invitation starts from here straight into requested.
type null struct{}

func (s *null) Name() string {
	return stateNameNull
}

func (s *null) CanTransitionTo(next state) bool {
	return StateIDInvited == next.Name() || StateIDRequested == next.Name()
}

// invited state.
type invited struct{}

func (s *invited) Name() string {
	return StateIDInvited
}

func (s *invited) CanTransitionTo(next state) bool {
	return StateIDRequested == next.Name() || StateIDAbandoned == next.Name()
}

// requested state.
type requested struct{}

func (s *requested) Name() string {
	return StateIDRequested
}

func (s *requested) CanTransitionTo(next state) bool {
	return StateIDResponded == next.Name() || StateIDAbandoned == next.Name()
}

// responded state.
type responded struct{}

func (s *responded) Name() string {
	return StateIDResponded
}

func (s *responded) CanTransitionTo(next state) bool {
	return StateIDCompleted == next.Name() || StateIDAbandoned == next.Name()
}

// completed state.
type completed struct{}

func (s *completed) Name() string {
	return StateIDCompleted
}

func (s *completed) CanTransitionTo(_ state) bool {
	return false
}

// abandoned state.
type abandoned struct{}

func (s *abandoned) Name() string {
	return StateIDAbandoned
}

func (s *abandoned) CanTransitionTo(_ state) bool {
	return false
}

// terminal reports whether a record in state name can no longer change.
func terminal(name string) bool {
	return name == StateIDCompleted || name == StateIDAbandoned
}
