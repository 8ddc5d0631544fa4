/*
Copyright Scoir Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messagepickup

import (
	"context"
)

// ProtocolService service interface for message pickup.
type ProtocolService interface {
	// StatusRequest asks the mediator of connectionID how many messages it holds for us.
	StatusRequest(ctx context.Context, connectionID string) (*Status, error)

	// BatchPickup fetches up to size queued messages from the mediator of connectionID and hands each of them to
	// the inbound handler. It returns the number of messages processed.
	BatchPickup(ctx context.Context, connectionID string, size int) (int, error)
}
