/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/didcomm/common/model"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher"
	"github.com/didrelay/agent/pkg/didcomm/dispatcher/outbound"
	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	"github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/doc/did"
	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/kms"
	mockdispatcher "github.com/didrelay/agent/pkg/mock/didcomm/dispatcher"
	connectionstore "github.com/didrelay/agent/pkg/store/connection"
)

const aliceEndpoint = "http://alice.example.com"

type mockProvider struct {
	outbound   dispatcher.Outbound
	recorder   *connectionstore.Recorder
	kms        kms.KeyManager
	endpoint   string
	autoAccept bool
	routeSvc   mediator.ProtocolService
}

func (p *mockProvider) OutboundDispatcher() dispatcher.Outbound { return p.outbound }
func (p *mockProvider) ConnectionRecorder() *connectionstore.Recorder { return p.recorder }
func (p *mockProvider) KMS() kms.KeyManager { return p.kms }
func (p *mockProvider) ServiceEndpoint() string { return p.endpoint }
func (p *mockProvider) Label() string { return "agent " + p.endpoint }
func (p *mockProvider) AutoAcceptConnections() bool { return p.autoAccept }

func (p *mockProvider) Service(id string) (interface{}, error) {
	if id != mediator.Coordination || p.routeSvc == nil {
		return nil, errors.New("service not found")
	}

	return p.routeSvc, nil
}

type mockRouteSvc struct {
	mu        sync.Mutex
	route     *mediator.Route
	configErr error
	addKeyErr error
	keys      []string
}

func (m *mockRouteSvc) AddKey(_ context.Context, recKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.addKeyErr != nil {
		return m.addKeyErr
	}

	m.keys = append(m.keys, recKey)

	return nil
}

func (m *mockRouteSvc) DefaultRoute() (*mediator.Route, error) {
	if m.configErr != nil {
		return nil, m.configErr
	}

	if m.route == nil {
		return nil, mediator.ErrRouterNotRegistered
	}

	return m.route, nil
}

type agent struct {
	svc      *Service
	outbound *mockdispatcher.MockOutbound
	recorder *connectionstore.Recorder
	kms      *kms.LocalKMS
	events   chan service.StateMsg
}

func newAgent(t *testing.T, endpoint string, autoAccept bool, routeSvc ...mediator.ProtocolService) *agent {
	t.Helper()

	p := mem.NewProvider()

	recorder, err := connectionstore.NewRecorder(p)
	require.NoError(t, err)

	km, err := kms.New(p)
	require.NoError(t, err)

	a := &agent{
		outbound: &mockdispatcher.MockOutbound{},
		recorder: recorder,
		kms:      km,
		events:   make(chan service.StateMsg, 50),
	}

	prov := &mockProvider{
		outbound:   a.outbound,
		recorder:   recorder,
		kms:        km,
		endpoint:   endpoint,
		autoAccept: autoAccept,
	}

	if len(routeSvc) > 0 {
		prov.routeSvc = routeSvc[0]
	}

	a.svc, err = New(prov)
	require.NoError(t, err)

	require.NoError(t, a.svc.RegisterMsgEvent(a.events))

	return a
}

func (a *agent) owns(key string) bool {
	_, err := a.kms.GetKeyPair(key)

	return err == nil
}

func (a *agent) state(t *testing.T, id string) string {
	t.Helper()

	rec, err := a.svc.GetConnection(id)
	require.NoError(t, err)

	return rec.State
}

// link wires the outbound dispatchers of agents so that every sent message is handled by the agent owning the
// key it is addressed to, the way the inbound dispatcher would attribute it.
func link(agents ...*agent) {
	for _, a := range agents {
		a.outbound.SendFunc = func(msg service.DIDCommMsgMap, rec *connectionstore.Record) error {
			dest, err := outbound.DestinationFor(rec)
			if err != nil {
				return err
			}

			for _, to := range agents {
				if to == a || !to.owns(dest.RecipientKeys[0]) {
					continue
				}

				var connID string

				if peer, e := to.recorder.GetConnectionRecordByTheirKey(rec.MyKey); e == nil {
					connID = peer.ConnectionID
				}

				_, err = to.svc.HandleInbound(context.Background(), msg,
					service.NewDIDCommContext(dest.RecipientKeys[0], rec.MyKey, connID, nil))

				return err
			}

			return errors.New("no agent owns the destination key")
		}
	}
}

func msgMap(t *testing.T, v interface{}) service.DIDCommMsgMap {
	t.Helper()

	msg, err := service.NewDIDCommMsgMap(v)
	require.NoError(t, err)

	return msg
}

func requireMutual(t *testing.T, inviter, invitee *connectionstore.Record) {
	t.Helper()

	require.Equal(t, StateIDCompleted, inviter.State)
	require.Equal(t, StateIDCompleted, invitee.State)
	require.Equal(t, inviter.MyKey, invitee.TheirKey)
	require.Equal(t, invitee.MyKey, inviter.TheirKey)
	require.Equal(t, inviter.MyDID, invitee.TheirDID)
	require.Equal(t, invitee.MyDID, inviter.TheirDID)
	require.Equal(t, inviter.ThreadID, invitee.ThreadID)
}

func TestService_Initialize(t *testing.T) {
	t.Run("second init is a no-op", func(t *testing.T) {
		a := newAgent(t, aliceEndpoint, true)
		require.Equal(t, Protocol, a.svc.Name())
		require.NoError(t, a.svc.Initialize("not a provider"))
	})

	t.Run("not given a valid provider", func(t *testing.T) {
		err := (&Service{}).Initialize("not a provider")
		require.Error(t, err)
		require.Contains(t, err.Error(), "expected provider of type")
	})
}

func TestService_Accept(t *testing.T) {
	svc := &Service{}

	for _, msgType := range []string{
		RequestMsgType, ResponseMsgType, AckMsgType, ProblemReportMsgType, TrustPingMsgType, TrustPingResponseMsgType,
	} {
		require.True(t, svc.Accept(msgType), msgType)
	}

	require.False(t, svc.Accept(InvitationMsgType))
	require.False(t, svc.Accept(mediator.RequestMsgType))
}

func TestService_AutoAccept(t *testing.T) {
	inviter := newAgent(t, aliceEndpoint, true)
	invitee := newAgent(t, "http://bob.example.com", true)
	link(inviter, invitee)

	inv, tmpl, err := inviter.svc.CreateConnection(context.Background(), WithAlias("bob"))
	require.NoError(t, err)
	require.Equal(t, StateIDInvited, tmpl.State)
	require.Equal(t, aliceEndpoint, inv.ServiceEndpoint)
	require.Equal(t, []string{tmpl.MyKey}, inv.RecipientKeys)
	require.Equal(t, "agent "+aliceEndpoint, inv.Label)

	rec, err := invitee.svc.ReceiveInvitation(context.Background(), inv)
	require.NoError(t, err)

	inviterRec, err := inviter.svc.GetConnection(tmpl.ConnectionID)
	require.NoError(t, err)

	inviteeRec, err := invitee.svc.GetConnection(rec.ConnectionID)
	require.NoError(t, err)

	requireMutual(t, inviterRec, inviteeRec)
	require.Equal(t, "bob", inviterRec.Alias)
	require.Equal(t, connectionstore.RoleInviter, inviterRec.Role)
	require.Equal(t, connectionstore.RoleInvitee, inviteeRec.Role)
	require.Equal(t, "agent http://bob.example.com", inviterRec.TheirLabel)
	require.Equal(t, inv.Label, inviteeRec.TheirLabel)
	require.NotNil(t, inviterRec.TheirDIDDoc)
	require.NotNil(t, inviteeRec.TheirDIDDoc)

	t.Run("state events follow the transitions", func(t *testing.T) {
		var states []string

		for len(invitee.events) > 0 {
			e := <-invitee.events
			require.Equal(t, Protocol, e.ProtocolName)
			require.Equal(t, service.PostState, e.Type)
			require.Equal(t, rec.ConnectionID, e.Properties.All()["connectionID"])
			states = append(states, e.StateID)
		}

		require.Equal(t, []string{StateIDInvited, StateIDRequested, StateIDResponded, StateIDCompleted}, states)
	})

	t.Run("messages carry the protocol threading", func(t *testing.T) {
		sent := invitee.outbound.Sent()
		require.Len(t, sent, 2)

		request, ack := sent[0].Msg, sent[1].Msg
		require.Equal(t, RequestMsgType, request.Type())
		require.Equal(t, inv.ID, request.ParentThreadID())
		require.Equal(t, AckMsgType, ack.Type())

		thID, err := ack.ThreadID()
		require.NoError(t, err)
		require.Equal(t, request.ID(), thID)

		response := inviter.outbound.Last().Msg
		require.Equal(t, ResponseMsgType, response.Type())

		thID, err = response.ThreadID()
		require.NoError(t, err)
		require.Equal(t, request.ID(), thID)
	})

	t.Run("queries", func(t *testing.T) {
		completed, err := inviter.svc.QueryConnections(StateIDCompleted)
		require.NoError(t, err)
		require.Len(t, completed, 1)

		invited, err := inviter.svc.QueryConnections(StateIDInvited)
		require.NoError(t, err)
		require.Empty(t, invited)
	})
}

func TestService_QueueEndpoint(t *testing.T) {
	inviter := newAgent(t, aliceEndpoint, true)
	invitee := newAgent(t, "", true)
	link(inviter, invitee)

	inv, _, err := inviter.svc.CreateConnection(context.Background())
	require.NoError(t, err)

	_, err = invitee.svc.ReceiveInvitation(context.Background(), inv)
	require.NoError(t, err)

	request := invitee.outbound.Sent()[0].Msg
	require.True(t, decorator.IsReturnRoute(request.ReturnRoute()))

	inviterRec := inviter.outbound.Last().Record
	svc, err := inviterRec.TheirDIDDoc.DIDCommService()
	require.NoError(t, err)
	require.Equal(t, did.QueueEndpoint, svc.ServiceEndpoint)
}

func TestService_ManualAccept(t *testing.T) {
	t.Run("actions continue", func(t *testing.T) {
		inviter := newAgent(t, aliceEndpoint, false)
		invitee := newAgent(t, "http://bob.example.com", false)
		link(inviter, invitee)

		inviterActions := make(chan service.DIDCommAction, 1)
		require.NoError(t, inviter.svc.RegisterActionEvent(inviterActions))

		inviteeActions := make(chan service.DIDCommAction, 1)
		require.NoError(t, invitee.svc.RegisterActionEvent(inviteeActions))

		inv, tmpl, err := inviter.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		rec, err := invitee.svc.ReceiveInvitation(context.Background(), inv)
		require.NoError(t, err)
		require.Equal(t, StateIDInvited, rec.State)
		require.Empty(t, invitee.outbound.Sent())

		rec, err = invitee.svc.AcceptInvitation(context.Background(), rec.ConnectionID)
		require.NoError(t, err)
		require.Equal(t, StateIDRequested, rec.State)
		require.Equal(t, StateIDRequested, inviter.state(t, tmpl.ConnectionID))

		select {
		case action := <-inviterActions:
			require.Equal(t, RequestMsgType, action.Message.Type())
			require.Equal(t, tmpl.ConnectionID, action.Properties.All()["connectionID"])
			action.Continue(nil)
		case <-time.After(time.Second):
			require.Fail(t, "no request action")
		}

		require.Equal(t, StateIDResponded, inviter.state(t, tmpl.ConnectionID))
		require.Equal(t, StateIDResponded, invitee.state(t, rec.ConnectionID))

		select {
		case action := <-inviteeActions:
			require.Equal(t, ResponseMsgType, action.Message.Type())
			action.Continue(nil)
		case <-time.After(time.Second):
			require.Fail(t, "no response action")
		}

		inviterRec, err := inviter.svc.GetConnection(tmpl.ConnectionID)
		require.NoError(t, err)

		inviteeRec, err := invitee.svc.GetConnection(rec.ConnectionID)
		require.NoError(t, err)

		requireMutual(t, inviterRec, inviteeRec)
	})

	t.Run("action stop abandons", func(t *testing.T) {
		inviter := newAgent(t, aliceEndpoint, false)
		invitee := newAgent(t, "http://bob.example.com", true)
		link(inviter, invitee)

		actions := make(chan service.DIDCommAction, 1)
		require.NoError(t, inviter.svc.RegisterActionEvent(actions))

		inv, tmpl, err := inviter.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		_, err = invitee.svc.ReceiveInvitation(context.Background(), inv)
		require.NoError(t, err)

		select {
		case action := <-actions:
			action.Stop(errors.New("not now"))
		case <-time.After(time.Second):
			require.Fail(t, "no request action")
		}

		require.Equal(t, StateIDAbandoned, inviter.state(t, tmpl.ConnectionID))
	})

	t.Run("explicit calls without action listener", func(t *testing.T) {
		inviter := newAgent(t, aliceEndpoint, false)
		invitee := newAgent(t, "http://bob.example.com", false)
		link(inviter, invitee)

		inv, tmpl, err := inviter.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		rec, err := invitee.svc.ReceiveInvitation(context.Background(), inv)
		require.NoError(t, err)

		_, err = invitee.svc.AcceptInvitation(context.Background(), rec.ConnectionID)
		require.NoError(t, err)

		_, err = inviter.svc.AcceptRequest(context.Background(), tmpl.ConnectionID)
		require.NoError(t, err)

		_, err = invitee.svc.AcceptResponse(context.Background(), rec.ConnectionID)
		require.NoError(t, err)

		require.Equal(t, StateIDCompleted, inviter.state(t, tmpl.ConnectionID))
		require.Equal(t, StateIDCompleted, invitee.state(t, rec.ConnectionID))
	})

	t.Run("accept in the wrong state", func(t *testing.T) {
		inviter := newAgent(t, aliceEndpoint, false)

		_, tmpl, err := inviter.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		_, err = inviter.svc.AcceptRequest(context.Background(), tmpl.ConnectionID)
		require.ErrorIs(t, err, ErrInvalidTransition)

		_, err = inviter.svc.AcceptInvitation(context.Background(), tmpl.ConnectionID)
		require.ErrorIs(t, err, ErrInvalidTransition)

		_, err = inviter.svc.AcceptResponse(context.Background(), tmpl.ConnectionID)
		require.ErrorIs(t, err, ErrInvalidTransition)

		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		require.Equal(t, tmpl.ConnectionID, protoErr.ConnectionID)

		require.Equal(t, StateIDInvited, inviter.state(t, tmpl.ConnectionID))

		_, err = inviter.svc.AcceptRequest(context.Background(), "unknown")
		require.ErrorIs(t, err, connectionstore.ErrConnectionNotFound)
	})
}

func TestService_MultiUse(t *testing.T) {
	inviter := newAgent(t, aliceEndpoint, true)
	bob := newAgent(t, "http://bob.example.com", true)
	carol := newAgent(t, "http://carol.example.com", true)
	link(inviter, bob, carol)

	inv, tmpl, err := inviter.svc.CreateConnection(context.Background(), WithMultiUse())
	require.NoError(t, err)
	require.True(t, tmpl.MultiUse)

	bobRec, err := bob.svc.ReceiveInvitation(context.Background(), inv)
	require.NoError(t, err)

	carolRec, err := carol.svc.ReceiveInvitation(context.Background(), inv)
	require.NoError(t, err)

	require.Equal(t, StateIDInvited, inviter.state(t, tmpl.ConnectionID))

	completed, err := inviter.svc.QueryConnections(StateIDCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 2)

	for _, rec := range completed {
		require.NotEqual(t, tmpl.ConnectionID, rec.ConnectionID)
		require.NotEqual(t, tmpl.MyKey, rec.MyKey)
		require.Equal(t, tmpl.InvitationKey, rec.InvitationKey)
	}

	bobRec, err = bob.svc.GetConnection(bobRec.ConnectionID)
	require.NoError(t, err)

	carolRec, err = carol.svc.GetConnection(carolRec.ConnectionID)
	require.NoError(t, err)

	require.Equal(t, StateIDCompleted, bobRec.State)
	require.Equal(t, StateIDCompleted, carolRec.State)
	require.NotEqual(t, bobRec.TheirKey, carolRec.TheirKey)
}

func TestService_ReceiveInvitation(t *testing.T) {
	a := newAgent(t, aliceEndpoint, true)

	key, err := a.kms.CreateKey()
	require.NoError(t, err)

	for name, inv := range map[string]*Invitation{
		"missing":           nil,
		"no recipient keys": {Type: InvitationMsgType, ServiceEndpoint: aliceEndpoint},
		"no endpoint":       {Type: InvitationMsgType, RecipientKeys: []string{key}},
		"queue endpoint":    {Type: InvitationMsgType, RecipientKeys: []string{key}, ServiceEndpoint: did.QueueEndpoint},
		"wrong type":        {Type: RequestMsgType, RecipientKeys: []string{key}, ServiceEndpoint: aliceEndpoint},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.svc.ReceiveInvitation(context.Background(), inv)
			require.ErrorIs(t, err, ErrInvalidInvitation)

			var protoErr *ProtocolError
			require.ErrorAs(t, err, &protoErr)
		})
	}

	recs, err := a.svc.QueryConnections("")
	require.NoError(t, err)
	require.Empty(t, recs)

	t.Run("did:key recipient key is normalized", func(t *testing.T) {
		b := newAgent(t, "http://bob.example.com", false)

		didKey, err := didkey.FromVerKey(key)
		require.NoError(t, err)

		rec, err := b.svc.ReceiveInvitation(context.Background(), &Invitation{
			ID:              uuid.New().String(),
			RecipientKeys:   []string{didKey},
			ServiceEndpoint: aliceEndpoint,
		})
		require.NoError(t, err)
		require.Equal(t, key, rec.InvitationKey)
		require.Equal(t, StateIDInvited, rec.State)
	})
}

func TestService_InvalidRequest(t *testing.T) {
	inviter := newAgent(t, aliceEndpoint, true)

	_, tmpl, err := inviter.svc.CreateConnection(context.Background())
	require.NoError(t, err)

	didCommCtx := service.NewDIDCommContext(tmpl.MyKey, "", "", nil)

	t.Run("missing connection", func(t *testing.T) {
		_, err := inviter.svc.HandleInbound(context.Background(),
			msgMap(t, &Request{Type: RequestMsgType, ID: uuid.New().String()}), didCommCtx)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("DID document without DIDComm service", func(t *testing.T) {
		_, err := inviter.svc.HandleInbound(context.Background(), msgMap(t, &Request{
			Type:       RequestMsgType,
			ID:         uuid.New().String(),
			Connection: &Connection{DID: "did", DIDDoc: did.BuildDoc("did", tmpl.MyKey)},
		}), didCommCtx)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("unknown invitation key", func(t *testing.T) {
		_, err := inviter.svc.HandleInbound(context.Background(), msgMap(t, &Request{
			Type:       RequestMsgType,
			ID:         uuid.New().String(),
			Connection: &Connection{DID: "did"},
		}), service.NewDIDCommContext("unknown", "their", "", nil))
		require.ErrorIs(t, err, connectionstore.ErrConnectionNotFound)
	})

	require.Equal(t, StateIDInvited, inviter.state(t, tmpl.ConnectionID))
	require.Empty(t, inviter.outbound.Sent())
}

func TestService_InvalidResponse(t *testing.T) {
	setup := func(t *testing.T) (*agent, *agent, *connectionstore.Record, service.DIDCommMsgMap) {
		t.Helper()

		inviter := newAgent(t, aliceEndpoint, true)
		invitee := newAgent(t, "http://bob.example.com", true)

		inv, _, err := inviter.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		rec, err := invitee.svc.ReceiveInvitation(context.Background(), inv)
		require.NoError(t, err)
		require.Equal(t, StateIDRequested, rec.State)

		// the request is delivered by hand and the response is only captured
		_, err = inviter.svc.HandleInbound(context.Background(), invitee.outbound.Last().Msg,
			service.NewDIDCommContext(inv.RecipientKeys[0], rec.MyKey, "", nil))
		require.NoError(t, err)

		response := inviter.outbound.Last().Msg
		require.Equal(t, ResponseMsgType, response.Type())

		return inviter, invitee, rec, response
	}

	t.Run("signer mismatch", func(t *testing.T) {
		_, invitee, rec, response := setup(t)

		other, err := invitee.kms.CreateKey()
		require.NoError(t, err)

		response["connection~sig"].(map[string]interface{})["signer"] = other

		_, err = invitee.svc.HandleInbound(context.Background(), response,
			service.NewDIDCommContext(rec.MyKey, "", "", nil))
		require.ErrorIs(t, err, ErrInvalidResponse)
		require.ErrorIs(t, err, ErrSignerMismatch)
		require.Equal(t, StateIDRequested, invitee.state(t, rec.ConnectionID))
	})

	t.Run("tampered signed data", func(t *testing.T) {
		_, invitee, rec, response := setup(t)

		sig := response["connection~sig"].(map[string]interface{})

		data, err := decodeBase64URL(sig["sig_data"].(string))
		require.NoError(t, err)

		data[len(data)-2] ^= 0x01
		sig["sig_data"] = base64.URLEncoding.EncodeToString(data)

		_, err = invitee.svc.HandleInbound(context.Background(), response,
			service.NewDIDCommContext(rec.MyKey, "", "", nil))
		require.ErrorIs(t, err, ErrInvalidResponse)
		require.ErrorIs(t, err, kms.ErrInvalidSignature)
		require.Equal(t, StateIDRequested, invitee.state(t, rec.ConnectionID))
	})

	t.Run("unknown thread", func(t *testing.T) {
		_, invitee, _, response := setup(t)

		response["~thread"] = map[string]interface{}{"thid": "unknown"}

		_, err := invitee.svc.HandleInbound(context.Background(), response, service.DIDCommContext{})
		require.ErrorIs(t, err, connectionstore.ErrConnectionNotFound)
	})
}

func TestService_TrustPing(t *testing.T) {
	inviter := newAgent(t, aliceEndpoint, true)
	invitee := newAgent(t, "http://bob.example.com", false)
	link(inviter, invitee)

	inv, tmpl, err := inviter.svc.CreateConnection(context.Background())
	require.NoError(t, err)

	rec, err := invitee.svc.ReceiveInvitation(context.Background(), inv)
	require.NoError(t, err)

	_, err = invitee.svc.AcceptInvitation(context.Background(), rec.ConnectionID)
	require.NoError(t, err)

	require.Equal(t, StateIDResponded, inviter.state(t, tmpl.ConnectionID))
	require.Equal(t, StateIDResponded, invitee.state(t, rec.ConnectionID))

	inviter.outbound.SendFunc = nil

	ping := &TrustPing{Type: TrustPingMsgType, ID: uuid.New().String(), ResponseRequested: true}

	_, err = inviter.svc.HandleInbound(context.Background(), msgMap(t, ping),
		service.NewDIDCommContext(tmpl.MyKey, "", tmpl.ConnectionID, nil))
	require.NoError(t, err)
	require.Equal(t, StateIDCompleted, inviter.state(t, tmpl.ConnectionID))

	reply := inviter.outbound.Last().Msg
	require.Equal(t, TrustPingResponseMsgType, reply.Type())

	thID, err := reply.ThreadID()
	require.NoError(t, err)
	require.Equal(t, ping.ID, thID)

	t.Run("ping on a completed connection", func(t *testing.T) {
		sent := len(inviter.outbound.Sent())

		_, err = inviter.svc.HandleInbound(context.Background(),
			msgMap(t, &TrustPing{Type: TrustPingMsgType, ID: uuid.New().String()}),
			service.NewDIDCommContext(tmpl.MyKey, "", tmpl.ConnectionID, nil))
		require.NoError(t, err)
		require.Len(t, inviter.outbound.Sent(), sent)
	})

	t.Run("ping response", func(t *testing.T) {
		_, err = invitee.svc.HandleInbound(context.Background(), reply,
			service.NewDIDCommContext(rec.MyKey, "", rec.ConnectionID, nil))
		require.NoError(t, err)
	})
}

func TestService_Ack(t *testing.T) {
	inviter := newAgent(t, aliceEndpoint, true)

	_, tmpl, err := inviter.svc.CreateConnection(context.Background())
	require.NoError(t, err)

	ack := &model.Ack{
		Type:   AckMsgType,
		ID:     uuid.New().String(),
		Status: model.AckStatusOK,
		Thread: &decorator.Thread{ID: "thread"},
	}

	_, err = inviter.svc.HandleInbound(context.Background(), msgMap(t, ack),
		service.NewDIDCommContext(tmpl.MyKey, "", tmpl.ConnectionID, nil))
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StateIDInvited, inviter.state(t, tmpl.ConnectionID))
}

func TestService_Abandon(t *testing.T) {
	t.Run("problem report", func(t *testing.T) {
		inviter := newAgent(t, aliceEndpoint, false)
		invitee := newAgent(t, "http://bob.example.com", true)
		link(inviter, invitee)

		inv, tmpl, err := inviter.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		rec, err := invitee.svc.ReceiveInvitation(context.Background(), inv)
		require.NoError(t, err)

		report := &model.ProblemReport{
			Type:        ProblemReportMsgType,
			ID:          uuid.New().String(),
			Description: model.Code{Code: "request_not_accepted"},
			Thread:      &decorator.Thread{ID: rec.ThreadID},
		}

		_, err = inviter.svc.HandleInbound(context.Background(), msgMap(t, report), service.DIDCommContext{})
		require.NoError(t, err)
		require.Equal(t, StateIDAbandoned, inviter.state(t, tmpl.ConnectionID))

		// a second report leaves the terminal state alone
		_, err = inviter.svc.HandleInbound(context.Background(), msgMap(t, report), service.DIDCommContext{})
		require.NoError(t, err)
	})

	t.Run("abandon connection", func(t *testing.T) {
		a := newAgent(t, aliceEndpoint, true)

		_, tmpl, err := a.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		rec, err := a.svc.AbandonConnection(tmpl.ConnectionID)
		require.NoError(t, err)
		require.Equal(t, StateIDAbandoned, rec.State)

		_, err = a.svc.AbandonConnection(tmpl.ConnectionID)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("concurrent transition", func(t *testing.T) {
		a := newAgent(t, aliceEndpoint, true)

		_, tmpl, err := a.svc.CreateConnection(context.Background())
		require.NoError(t, err)

		a.svc.locks.Lock(tmpl.ConnectionID)

		_, err = a.svc.AbandonConnection(tmpl.ConnectionID)
		require.ErrorIs(t, err, ErrConcurrentTransition)

		a.svc.locks.Unlock(tmpl.ConnectionID)

		require.Equal(t, StateIDInvited, a.state(t, tmpl.ConnectionID))
	})
}

func TestService_Mediator(t *testing.T) {
	routeSvc := &mockRouteSvc{}
	a := newAgent(t, "", true, routeSvc)

	routingKey, err := a.kms.CreateKey()
	require.NoError(t, err)

	t.Run("no default mediator", func(t *testing.T) {
		inv, _, err := a.svc.CreateConnection(context.Background())
		require.NoError(t, err)
		require.Equal(t, did.QueueEndpoint, inv.ServiceEndpoint)
		require.Empty(t, inv.RoutingKeys)
	})

	routeSvc.route = &mediator.Route{Endpoint: "http://mediator.example.com", RoutingKeys: []string{routingKey}}

	t.Run("keys are registered and advertised behind the mediator", func(t *testing.T) {
		inv, _, err := a.svc.CreateConnection(context.Background())
		require.NoError(t, err)
		require.Equal(t, "http://mediator.example.com", inv.ServiceEndpoint)
		require.Equal(t, []string{routingKey}, inv.RoutingKeys)
		require.Contains(t, routeSvc.keys, inv.RecipientKeys[0])
	})

	t.Run("key registration fails", func(t *testing.T) {
		routeSvc.addKeyErr = errors.New("mediator unreachable")
		defer func() { routeSvc.addKeyErr = nil }()

		_, _, err := a.svc.CreateConnection(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "mediator unreachable")
	})

	t.Run("router config fails", func(t *testing.T) {
		routeSvc.configErr = errors.New("store down")
		defer func() { routeSvc.configErr = nil }()

		_, _, err := a.svc.CreateConnection(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "store down")
	})
}

func TestService_SendFailure(t *testing.T) {
	inviter := newAgent(t, aliceEndpoint, true)
	invitee := newAgent(t, "http://bob.example.com", false)
	invitee.outbound.SendErr = errors.New("connection refused")

	inv, _, err := inviter.svc.CreateConnection(context.Background())
	require.NoError(t, err)

	rec, err := invitee.svc.ReceiveInvitation(context.Background(), inv)
	require.NoError(t, err)

	_, err = invitee.svc.AcceptInvitation(context.Background(), rec.ConnectionID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")

	// the request is persisted before it is sent
	require.Equal(t, StateIDRequested, invitee.state(t, rec.ConnectionID))
}
