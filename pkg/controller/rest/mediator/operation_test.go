/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

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
	"time"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/controller/command"
	"github.com/didrelay/agent/pkg/controller/command/mediator"
	mediatorsvc "github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/didcomm/protocol/messagepickup"
	"github.com/didrelay/agent/pkg/store/mailbox"
	"github.com/didrelay/agent/pkg/store/routing"
)

type mockProvider struct {
	services map[string]interface{}
	table    *routing.Table
	mailbox  *mailbox.Mailbox
}

func (p *mockProvider) Service(id string) (interface{}, error) {
	svc, ok := p.services[id]
	if !ok {
		return nil, errors.New("service not found")
	}

	return svc, nil
}

func (p *mockProvider) RoutingTable() *routing.Table { return p.table }

func (p *mockProvider) Mailbox() *mailbox.Mailbox { return p.mailbox }

// mockMediation grants and denies requested records and keeps one default.
type mockMediation struct {
	records map[string]*mediatorsvc.Record
	def     string
	updates []string
}

func (m *mockMediation) RequestMediation(_ context.Context, connectionID string) (*mediatorsvc.Record, error) {
	rec := &mediatorsvc.Record{ID: "med-" + connectionID, ConnectionID: connectionID, State: mediatorsvc.StateRequested}
	m.records[rec.ID] = rec

	return rec, nil
}

func (m *mockMediation) RequestMediationAndAwait(ctx context.Context, connectionID string,
	_ time.Duration) (*mediatorsvc.Record, error) {
	return m.RequestMediation(ctx, connectionID)
}

func (m *mockMediation) GrantMediation(_ context.Context, id string) error {
	return m.decide(id, mediatorsvc.StateGranted)
}

func (m *mockMediation) DenyMediation(_ context.Context, id string) error {
	return m.decide(id, mediatorsvc.StateDenied)
}

func (m *mockMediation) decide(id, state string) error {
	rec, err := m.GetMediation(id)
	if err != nil {
		return err
	}

	if rec.State != mediatorsvc.StateRequested {
		return mediatorsvc.ErrInvalidState
	}

	rec.State = state

	return nil
}

func (m *mockMediation) GetMediation(id string) (*mediatorsvc.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, mediatorsvc.ErrMediationNotFound)
	}

	return rec, nil
}

func (m *mockMediation) ListMediations() ([]*mediatorsvc.Record, error) {
	records := make([]*mediatorsvc.Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}

	return records, nil
}

func (m *mockMediation) SetDefaultMediator(id string) (*mediatorsvc.Record, error) {
	rec, err := m.GetMediation(id)
	if err != nil {
		return nil, err
	}

	m.def = id

	return rec, nil
}

func (m *mockMediation) GetDefaultMediator() (*mediatorsvc.Record, error) {
	if m.def == "" {
		return nil, mediatorsvc.ErrNoDefaultMediator
	}

	return m.GetMediation(m.def)
}

func (m *mockMediation) ClearDefaultMediator() error {
	m.def = ""

	return nil
}

func (m *mockMediation) UpdateKeylist(_ context.Context, id, action, recipientKey string) error {
	if _, err := m.GetMediation(id); err != nil {
		return err
	}

	m.updates = append(m.updates, action+":"+recipientKey)

	return nil
}

func (m *mockMediation) QueryKeylist(_ context.Context, id string) ([]string, error) {
	if _, err := m.GetMediation(id); err != nil {
		return nil, err
	}

	return []string{"key-1"}, nil
}

func (m *mockMediation) Pickup(context.Context, string) (int, error) {
	return 3, nil
}

func (m *mockMediation) PickupFromDefault(ctx context.Context) (int, error) {
	if _, err := m.GetDefaultMediator(); err != nil {
		return 0, err
	}

	return m.Pickup(ctx, m.def)
}

type mockPickup struct{}

func (mockPickup) StatusRequest(context.Context, string) (*messagepickup.Status, error) {
	return &messagepickup.Status{Status: mailbox.Status{MessageCount: 5}}, nil
}

func (mockPickup) BatchPickup(context.Context, string, int) (int, error) {
	return 0, nil
}

func newOperation(t *testing.T) (*Operation, *mockMediation, *mockProvider) {
	t.Helper()

	table, err := routing.NewTable(mem.NewProvider())
	require.NoError(t, err)

	box, err := mailbox.New(mem.NewProvider())
	require.NoError(t, err)

	med := &mockMediation{records: map[string]*mediatorsvc.Record{}}
	prov := &mockProvider{
		services: map[string]interface{}{
			mediatorsvc.Coordination:    med,
			messagepickup.MessagePickup: mockPickup{},
		},
		table:   table,
		mailbox: box,
	}

	op, err := New(prov)
	require.NoError(t, err)

	return op, med, prov
}

func TestNew(t *testing.T) {
	op, _, _ := newOperation(t)
	require.Len(t, op.GetRESTHandlers(), 14)

	_, err := New(&mockProvider{services: map[string]interface{}{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "create mediator command")
}

func TestOperation_MediationLifecycle(t *testing.T) {
	op, med, _ := newOperation(t)

	buf, code := serve(t, op, http.MethodPost, RequestPath, `{"connectionID":"conn-1"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "med-conn-1", record(t, buf).ID)

	buf, code = serve(t, op, http.MethodPost, "/mediation/med-conn-1/grant", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, mediatorsvc.StateGranted, record(t, buf).State)

	buf, code = serve(t, op, http.MethodPost, "/mediation/med-conn-1/deny", "")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, mediator.GrantMediationErrorCode, buf.Bytes())

	buf, code = serve(t, op, http.MethodGet, "/mediation/med-conn-1", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "conn-1", record(t, buf).ConnectionID)

	buf, code = serve(t, op, http.MethodGet, MediationOperationID, "")
	require.Equal(t, http.StatusOK, code)

	var list mediator.MediationsResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &list))
	require.Len(t, list.Results, 1)

	buf, code = serve(t, op, http.MethodGet, "/mediation/unknown", "")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, mediator.MediationNotFoundCode, buf.Bytes())

	require.Empty(t, med.def)
}

func TestOperation_DefaultAndPickup(t *testing.T) {
	op, med, _ := newOperation(t)

	med.records["m"] = &mediatorsvc.Record{ID: "m", State: mediatorsvc.StateGranted}

	buf, code := serve(t, op, http.MethodGet, DefaultPath, "")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, mediator.MediationNotFoundCode, buf.Bytes())

	_, code = serve(t, op, http.MethodPost, "/mediation/m/default", "")
	require.Equal(t, http.StatusOK, code)

	buf, code = serve(t, op, http.MethodGet, DefaultPath, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "m", record(t, buf).ID)

	buf, code = serve(t, op, http.MethodPost, PickupPath, "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"message_count":3}`, buf.String())

	_, code = serve(t, op, http.MethodDelete, DefaultPath, "")
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, med.def)

	buf, code = serve(t, op, http.MethodPost, StatusPath, `{"connectionID":"conn"}`)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, buf.String(), `"message_count":5`)
}

func TestOperation_Keylist(t *testing.T) {
	op, med, _ := newOperation(t)

	med.records["m"] = &mediatorsvc.Record{ID: "m", State: mediatorsvc.StateGranted}

	_, code := serve(t, op, http.MethodPost, "/mediation/m/keylist", `{"action":"add","recipient_key":"key-1"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []string{"add:key-1"}, med.updates)

	buf, code := serve(t, op, http.MethodPost, "/mediation/m/keylist", `{"action":"swap","recipient_key":"key-1"}`)
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, mediator.InvalidRequestErrorCode, buf.Bytes())

	buf, code = serve(t, op, http.MethodPost, "/mediation/m/keylist", "{")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, mediator.InvalidRequestErrorCode, buf.Bytes())

	buf, code = serve(t, op, http.MethodGet, "/mediation/m/keylist", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"keys":["key-1"]}`, buf.String())
}

func TestOperation_Routing(t *testing.T) {
	op, _, prov := newOperation(t)

	require.NoError(t, prov.table.SaveRoute("conn-1", "key-a"))
	require.NoError(t, prov.mailbox.Add("key-a", []byte("envelope")))

	buf, code := serve(t, op, http.MethodGet, RoutesPath+"?connectionID=conn-1", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"keys":["key-a"]}`, buf.String())

	buf, code = serve(t, op, http.MethodGet, RoutesPath, "")
	require.Equal(t, http.StatusBadRequest, code)
	verifyError(t, mediator.MissingConnIDCode, buf.Bytes())

	buf, code = serve(t, op, http.MethodPost, MailboxStatusPath, `{"keys":["key-a"]}`)
	require.Equal(t, http.StatusOK, code)

	var res mediator.MailboxStatusResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	require.Equal(t, 1, res.Status["key-a"].MessageCount)
}

func TestOperation_MissingID(t *testing.T) {
	op, _, _ := newOperation(t)

	rr := httptest.NewRecorder()
	op.GrantMediation(rr, httptest.NewRequest(http.MethodPost, GrantPath, nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	verifyError(t, mediator.MissingMediationIDCode, rr.Body.Bytes())
}

func record(t *testing.T, buf *bytes.Buffer) *mediatorsvc.Record {
	t.Helper()

	var res mediator.MediationResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))

	return res.Result
}

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
