/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didrelay-agent (DIDComm relay agent REST server).
//
//
// Terms Of Service:
//
//
//     Schemes: http, https
//     Version: 0.1.0
//     License: SPDX-License-Identifier: Apache-2.0
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
// swagger:meta
package main

import (
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/spf13/cobra"

	"github.com/didrelay/agent/cmd/didrelay-agent/startcmd"
)

// Starts a DIDComm agent with its admin REST API.
func main() {
	rootCmd := &cobra.Command{
		Use: "didrelay-agent",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	logger := log.New("didrelay/agent-cli")

	rootCmd.AddCommand(startcmd.Cmd(&startcmd.HTTPServer{}))

	if err := rootCmd.Execute(); err != nil {
		logger.Fatalf("Failed to run didrelay-agent: %s", err)
	}
}
