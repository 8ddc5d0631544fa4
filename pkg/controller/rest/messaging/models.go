/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messaging

import "github.com/didrelay/agent/pkg/controller/command/messaging"

// registeredServicesResponse model
//
// swagger:response registeredServicesResponse
type registeredServicesResponse struct { // nolint: unused,deadcode
	// in: body
	Response messaging.RegisteredServicesResponse
}

// registerMsgSvcRequest model
//
// swagger:parameters registerMsgSvc
type registerMsgSvcRequest struct { // nolint: unused,deadcode
	// in: body
	Params messaging.RegisterMsgSvcArgs
}

// unregisterMsgSvcRequest model
//
// swagger:parameters unregisterMsgSvc
type unregisterMsgSvcRequest struct { // nolint: unused,deadcode
	// in: body
	Params messaging.UnregisterMsgSvcArgs
}

// sendNewMessageRequest model
//
// swagger:parameters sendNewMessage
type sendNewMessageRequest struct { // nolint: unused,deadcode
	// in: body
	Params messaging.SendNewMessageArgs
}

// sendBasicMessageRequest model
//
// swagger:parameters sendBasicMessage
type sendBasicMessageRequest struct { // nolint: unused,deadcode
	// in: body
	Params messaging.SendBasicMessageArgs
}

// sendMessageResponse model
//
// swagger:response sendMessageResponse
type sendMessageResponse struct { // nolint: unused,deadcode
	// in: body
	Response messaging.SendMessageResponse
}
