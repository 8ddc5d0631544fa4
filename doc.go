/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didrelay is a DIDComm v1 agent able to act as an edge agent, a mediator, or both.
//
// Packages for end developer usage
//
// pkg/framework/agent: creates an agent from options (transports, storage, label, auto accept) and exposes its
// context to the layers above.
//
// pkg/controller: the admin API. GetRESTHandlers serves connections, mediation, routing and messaging over HTTP,
// GetCommandHandlers exposes the same operations to in-process callers.
//
// cmd/didrelay-agent: the agent daemon.
//
// Basic workflow
//
//  1. Create an agent with agent.New.
//  2. Get its context with Agent.Context.
//  3. Register the controller handlers, or call the protocol services from the context directly.
//  4. Call Agent.Close to stop the transports and release the store.
package didrelay
