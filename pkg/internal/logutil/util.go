/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logutil formats the log lines of the controller commands as key=[value] pairs.
package logutil

import (
	"strings"

	"github.com/hyperledger/aries-framework-go/component/log"
)

// LogError logs a failed command.
func LogError(logger *log.Log, command, action, errMsg string, data ...string) {
	logger.Errorf("%s", line(command, action, "errMsg", errMsg, data))
}

// LogDebug logs the progress of a command.
func LogDebug(logger *log.Log, command, action, msg string, data ...string) {
	logger.Debugf("%s", line(command, action, "msg", msg, data))
}

// LogInfo logs a rejected command request.
func LogInfo(logger *log.Log, command, action, msg string, data ...string) {
	logger.Infof("%s", line(command, action, "msg", msg, data))
}

// CreateKeyValueString formats a key=[value] pair for the data of the Log functions.
func CreateKeyValueString(key, val string) string {
	return key + "=[" + val + "]"
}

func line(command, action, msgKey, msg string, data []string) string {
	fields := make([]string, 0, len(data)+3)

	fields = append(fields, CreateKeyValueString("command", command), CreateKeyValueString("action", action))
	fields = append(fields, data...)
	fields = append(fields, CreateKeyValueString(msgKey, msg))

	return strings.Join(fields, " ")
}
