/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/controller/command"
	cmdconn "github.com/didrelay/agent/pkg/controller/command/connection"
	"github.com/didrelay/agent/pkg/didcomm/protocol/connection"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

type mockProvider struct {
	svc interface{}
}

func (p *mockProvider) Service(string) (interface{}, error) {
	if p.svc == nil {
		return nil, errors.New("service not found")
	}

	return p.svc, nil
}

// mockService keeps one connection per id and records the label passed on accept.
type mockService struct {
	records map[string]*connectionstore.Record
	labels  int
}

func (s *mockService) CreateConnection(context.Context, ...connection.Opt) (*connection.Invitation,
	*connectionstore.Record, error) {
	rec := &connectionstore.Record{ConnectionID: "created", State: connectionstore.StateInvited}
	s.records[rec.ConnectionID] = rec

	return &connection.Invitation{
		ID: "inv", Type: connection.InvitationMsgType,
		RecipientKeys: []string{"key"}, ServiceEndpoint: "http://example.com",
	}, rec, nil
}

func (s *mockService) ReceiveInvitation(_ context.Context, inv *connection.Invitation,
	_ ...connection.Opt) (*connectionstore.Record, error) {
	rec := &connectionstore.Record{ConnectionID: "received-" + inv.ID, State: connectionstore.StateInvited}
	s.records[rec.ConnectionID] = rec

	return rec, nil
}

func (s *mockService) AcceptInvitation(_ context.Context, id string,
	opts ...connection.Opt) (*connectionstore.Record, error) {
	s.labels = len(opts)

	return s.move(id, connectionstore.StateInvited, connectionstore.StateRequested)
}

func (s *mockService) AcceptRequest(_ context.Context, id string) (*connectionstore.Record, error) {
	return s.move(id, connectionstore.StateRequested, connectionstore.StateResponded)
}

func (s *mockService) AcceptResponse(_ context.Context, id string) (*connectionstore.Record, error) {
	return s.move(id, connectionstore.StateResponded, connectionstore.StateComplete)
}

func (s *mockService) AbandonConnection(id string) (*connectionstore.Record, error) {
	rec, err := s.GetConnection(id)
	if err != nil {
		return nil, err
	}

	return s.move(id, rec.State, connectionstore.StateAbandoned)
}

func (s *mockService) GetConnection(id string) (*connectionstore.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, connectionstore.ErrConnectionNotFound)
	}

	return rec, nil
}

func (s *mockService) QueryConnections(state string) ([]*connectionstore.Record, error) {
	var records []*connectionstore.Record

	for _, rec := range s.records {
		if state == "" || rec.State == state {
			records = append(records, rec)
		}
	}

	return records, nil
}

func (s *mockService) move(id, from, to string) (*connectionstore.Record, error) {
	rec, err := s.GetConnection(id)
	if err != nil {
		return nil, err
	}

	if rec.State != from {
		return nil, &connection.ProtocolError{Op: to, ConnectionID: id, Err: errors.New("out of order")}
	}

	rec.State = to

	return rec, nil
}

func newOperation(t *testing.T) (*Operation, *mockService) {
	t.Helper()

	svc := &mockService{records: map[string]*connectionstore.Record{}}

	op, err := New(&mockProvider{svc: svc})
	require.NoError(t, err)

	return op, svc
}

func TestNew(t *testing.T) {
	op, _ := newOperation(t)
	require.Len(t, op.GetRESTHandlers(), 8)

	_, err := New(&mockProvider{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "create connection command")
}

func TestOperation_Handshake(t *testing.T) {
	op, svc := newOperation(t)

	buf, code := serve(t, op, http.MethodPost, CreateInvitationPath, `{"label":"alice"}`)
	require.Equal(t, http.StatusOK, code)

	var created cmdconn.CreateInvitationResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &created))
	require.Equal(t, "created", created.ConnectionID)
	require.NotEmpty(t, created.InvitationURL)

	request, err := json.Marshal(cmdconn.ReceiveInvitationArgs{InvitationURL: created.InvitationURL})
	require.NoError(t, err)

	buf, code = serve(t, op, http.MethodPost, ReceiveInvitationPath, string(request))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "received-inv", result(t, buf).ConnectionID)

	buf, code = serve(t, op, http.MethodPost, "/connections/received-inv/accept-invitation?label=bob", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, connectionstore.StateRequested, result(t, buf).State)
	require.Equal(t, 1, svc.labels)

	buf, code = serve(t, op, http.MethodPost, "/connections/received-inv/accept-request", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, connectionstore.StateResponded, result(t, buf).State)

	buf, code = serve(t, op, http.MethodPost, "/connections/received-inv/accept-response", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, connectionstore.StateComplete, result(t, buf).State)

	buf, code = serve(t, op, http.MethodGet, "/connections/received-inv", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, connectionstore.StateComplete, result(t, buf).State)

	buf, code = serve(t, op, http.MethodPost, "/connections/created/abandon", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, connectionstore.StateAbandoned, result(t, buf).State)
}

func TestOperation_QueryConnections(t *testing.T) {
	op, svc := newOperation(t)

	svc.records["a"] = &connectionstore.Record{ConnectionID: "a", State: connectionstore.StateComplete}
	svc.records["b"] = &connectionstore.Record{ConnectionID: "b", State: connectionstore.StateInvited}

	buf, code := serve(t, op, http.MethodGet, OperationID+"?state=complete", "")
	require.Equal(t, http.StatusOK, code)

	var res cmdconn.QueryConnectionsResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	require.Len(t, res.Results, 1)
	require.Equal(t, "a", res.Results[0].ConnectionID)

	buf, code = serve(t, op, http.MethodGet, OperationID, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	require.Len(t, res.Results, 2)

	buf, code = serve(t, op, http.MethodGet, OperationID+"?state=bogus", "")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, cmdconn.InvalidRequestErrorCode, buf.Bytes())
}

func TestOperation_Errors(t *testing.T) {
	op, svc := newOperation(t)

	svc.records["done"] = &connectionstore.Record{ConnectionID: "done", State: connectionstore.StateComplete}

	buf, code := serve(t, op, http.MethodGet, "/connections/unknown", "")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, cmdconn.ConnectionNotFoundErrorCode, buf.Bytes())

	buf, code = serve(t, op, http.MethodPost, "/connections/done/accept-request", "")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, cmdconn.ProtocolErrorCode, buf.Bytes())

	buf, code = serve(t, op, http.MethodPost, ReceiveInvitationPath, "{")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, cmdconn.InvalidRequestErrorCode, buf.Bytes())
}

func TestOperation_MissingID(t *testing.T) {
	op, _ := newOperation(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, AbandonPath, nil)

	op.Abandon(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	verifyError(t, cmdconn.InvalidRequestErrorCode, rr.Body.Bytes())
}

func result(t *testing.T, buf *bytes.Buffer) *connectionstore.Record {
	t.Helper()

	var res cmdconn.ConnectionResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))

	return res.Result
}

// serve routes one request through every handler of op.
func serve(t *testing.T, op *Operation, method, target, body string) (*bytes.Buffer, int) {
	t.Helper()

	router := mux.NewRouter()

	for _, h := range op.GetRESTHandlers() {
		router.HandleFunc(h.Path(), h.Handle()).Methods(h.Method())
	}

	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, reader))

	return rr.Body, rr.Code
}

func verifyError(t *testing.T, expectedCode command.Code, data []byte) {
	t.Helper()

	errResponse := struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{}
	require.NoError(t, json.Unmarshal(data, &errResponse))

	require.EqualValues(t, expectedCode, errResponse.Code)
	require.NotEmpty(t, errResponse.Message)
}
