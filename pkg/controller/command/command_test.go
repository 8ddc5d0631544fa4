/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package command_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/internal/cmdutil"
)

func TestErrors(t *testing.T) {
	cause := errors.New("no such connection")

	validation := command.NewValidationError(command.Code(command.Connection)+1, cause)
	require.Equal(t, command.ValidationError, validation.Type())
	require.Equal(t, command.Code(2001), validation.Code())
	require.EqualError(t, validation, "no such connection")
	require.ErrorIs(t, validation, cause)
	require.Equal(t, "validation", validation.Type().String())

	execute := command.NewExecuteError(command.UnknownStatus, cause)
	require.Equal(t, command.ExecuteError, execute.Type())
	require.Equal(t, "execute", execute.Type().String())
}

func TestLookup(t *testing.T) {
	called := false
	handlers := []command.Handler{
		cmdutil.NewCommandHandler("connection", "GetConnection", func(io.Writer, io.Reader) command.Error {
			called = true
			return nil
		}),
	}

	exec, err := command.Lookup(handlers, "connection", "GetConnection")
	require.NoError(t, err)
	require.Nil(t, exec(&bytes.Buffer{}, nil))
	require.True(t, called)

	_, err = command.Lookup(handlers, "connection", "Delete")
	require.ErrorIs(t, err, command.ErrUnknownCommand)
	require.Contains(t, err.Error(), "connection/Delete")
}

func TestDecodeRequest(t *testing.T) {
	type args struct {
		ID string `json:"id"`
	}

	t.Run("arguments", func(t *testing.T) {
		var a args
		require.NoError(t, command.DecodeRequest(strings.NewReader(`{"id":"c1"}`), &a, false))
		require.Equal(t, "c1", a.ID)
	})

	t.Run("empty optional", func(t *testing.T) {
		a := args{ID: "kept"}
		require.NoError(t, command.DecodeRequest(strings.NewReader(""), &a, true))
		require.Equal(t, "kept", a.ID)
	})

	t.Run("empty mandatory", func(t *testing.T) {
		var a args
		require.ErrorIs(t, command.DecodeRequest(strings.NewReader(""), &a, false), io.EOF)
	})

	t.Run("malformed", func(t *testing.T) {
		var a args
		require.Error(t, command.DecodeRequest(strings.NewReader("{"), &a, true))
	})
}

func TestWriteNillableResponse(t *testing.T) {
	logger := log.New("didrelay/command/test")

	var buf bytes.Buffer
	command.WriteNillableResponse(&buf, nil, logger)
	require.Equal(t, "{}\n", buf.String())

	buf.Reset()
	command.WriteNillableResponse(&buf, map[string]int{"count": 2}, logger)
	require.JSONEq(t, `{"count":2}`, buf.String())
}
