/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	mocktransport "github.com/didrelay/agent/pkg/mock/didcomm/transport"
)

func TestDeliveryTarget_String(t *testing.T) {
	require.Equal(t, "session", TargetSession.String())
	require.Equal(t, "endpoint", TargetEndpoint.String())
	require.Equal(t, "mailbox", TargetMailbox.String())
	require.Equal(t, "TargetKind(7)", TargetKind(7).String())

	s := mocktransport.NewMockSession()
	require.Equal(t, "session("+s.ID()+")", DeliveryTarget{Kind: TargetSession, Session: s}.String())
	require.Equal(t, "endpoint(http://x)", DeliveryTarget{Kind: TargetEndpoint, Endpoint: "http://x"}.String())
	require.Equal(t, "mailbox(k)", DeliveryTarget{Kind: TargetMailbox, MailboxKey: "k"}.String())
}

func TestWithoutQueue(t *testing.T) {
	opts := &SendOptions{}
	WithoutQueue()(opts)
	require.True(t, opts.NoQueue)
}
