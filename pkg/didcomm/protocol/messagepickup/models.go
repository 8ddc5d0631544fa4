/*
Copyright Scoir Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messagepickup

import (
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/store/mailbox"
)

// header is common to every pickup message.
type header struct {
	Type   string            `json:"@type,omitempty"`
	ID     string            `json:"@id,omitempty"`
	Thread *decorator.Thread `json:"~thread,omitempty"`
}

// StatusRequest asks the mediator how many messages it holds for the sender.
// https://github.com/hyperledger/aries-rfcs/tree/master/features/0212-pickup#statusrequest
type StatusRequest struct {
	header
	Transport *decorator.ReturnRoute `json:"~transport,omitempty"`
}

// Status is the mailbox status of the requester, DurationWaited being the seconds since the last delivery.
// https://github.com/hyperledger/aries-rfcs/tree/master/features/0212-pickup#status
type Status struct {
	header
	mailbox.Status
	DurationWaited int `json:"duration_waited,omitempty"`
}

// BatchPickup asks for up to BatchSize queued messages, all of them when BatchSize is 0.
// https://github.com/hyperledger/aries-rfcs/tree/master/features/0212-pickup#batch-pickup
type BatchPickup struct {
	header
	BatchSize int                    `json:"batch_size"`
	Transport *decorator.ReturnRoute `json:"~transport,omitempty"`
}

// Batch carries drained envelopes, oldest first.
// https://github.com/hyperledger/aries-rfcs/tree/master/features/0212-pickup#batch
type Batch struct {
	header
	Messages []*mailbox.Message `json:"messages~attach"`
}

// Noop tells the recipient that nothing is waiting.
// https://github.com/hyperledger/aries-rfcs/tree/master/features/0212-pickup#noop
type Noop struct {
	header
}
