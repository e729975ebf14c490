/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuecredential

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/event"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/exchange"
)

type messengerStub struct {
	sent     []service.DIDCommMsgMap
	replies  []service.DIDCommMsgMap
	replyErr error
}

func (m *messengerStub) Send(msg service.DIDCommMsgMap, _ string) error {
	m.sent = append(m.sent, msg)

	return nil
}

func (m *messengerStub) ReplyTo(_ string, msg service.DIDCommMsgMap) error {
	if m.replyErr != nil {
		return m.replyErr
	}

	m.replies = append(m.replies, msg)

	return nil
}

func (m *messengerStub) ReplyToNested(string, service.DIDCommMsgMap, string) error { return nil }

type providerStub struct {
	storage   storage.Provider
	messenger service.Messenger
	bus       *event.Bus
}

func (p *providerStub) StorageProvider() storage.Provider { return p.storage }
func (p *providerStub) Messenger() service.Messenger      { return p.messenger }
func (p *providerStub) EventBus() *event.Bus              { return p.bus }

func newService(t *testing.T, opts ...Option) (*Service, *messengerStub) {
	t.Helper()

	messenger := &messengerStub{}

	svc, err := New(&providerStub{
		storage:   mem.NewProvider(),
		messenger: messenger,
		bus:       event.NewBus(),
	}, opts...)
	require.NoError(t, err)

	return svc, messenger
}

func inboundOffer(thID string) service.DIDCommMsgMap {
	return service.NewDIDCommMsgMap(&OfferCredential{
		ID:   thID,
		Type: OfferCredentialMsgTypeV2,
		CredentialPreview: CredentialPreview{
			Type:       CredentialPreviewMsgTypeV2,
			Attributes: []Attribute{{Name: "name", Value: "alice"}},
		},
	})
}

func ctxWithConn(connectionID string) service.DIDCommContext {
	return service.NewDIDCommContext("", "", connectionID, nil)
}

func TestServiceName(t *testing.T) {
	svc, _ := newService(t)
	require.Equal(t, Name, svc.Name())
}

func TestServiceAccept(t *testing.T) {
	svc, _ := newService(t)

	require.True(t, svc.Accept(OfferCredentialMsgTypeV2))
	require.True(t, svc.Accept(ProposeCredentialMsgTypeV3))
	require.False(t, svc.Accept("https://didcomm.org/present-proof/2.0/presentation"))
}

func TestAutoAcceptAlwaysRespondsToOffer(t *testing.T) {
	svc, messenger := newService(t, WithAutoAccept(exchange.AutoAcceptAlways))

	thID, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
	require.NoError(t, err)
	require.Equal(t, "offer-1", thID)

	// the holder answered with a request on the same thread
	require.Len(t, messenger.replies, 1)
	require.Equal(t, RequestCredentialMsgTypeV2, messenger.replies[0].Type())

	record, err := svc.holder.Current(thID, "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(StateRequestSent), record.StateName)
	require.Equal(t, RoleHolder, record.Role)
	require.NotEmpty(t, record.LastOutboundID)
}

func TestAutoAcceptNeverNoHandlerFails(t *testing.T) {
	svc, messenger := newService(t)

	_, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
	require.ErrorIs(t, err, errNoActionHandler)
	require.Empty(t, messenger.replies)
}

func TestActionEventContinue(t *testing.T) {
	svc, messenger := newService(t)

	actions := make(chan service.DIDCommAction, 1)
	require.NoError(t, svc.RegisterActionEvent(actions))

	_, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
	require.NoError(t, err)

	// nothing happened until the controller decided
	require.Empty(t, messenger.replies)

	action := <-actions
	require.Equal(t, Name, action.ProtocolName)
	action.Continue(&service.Empty{})

	require.Len(t, messenger.replies, 1)
	require.Equal(t, RequestCredentialMsgTypeV2, messenger.replies[0].Type())
}

func TestActionEventContinueWithOverride(t *testing.T) {
	svc, messenger := newService(t)

	actions := make(chan service.DIDCommAction, 1)
	require.NoError(t, svc.RegisterActionEvent(actions))

	_, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
	require.NoError(t, err)

	action := <-actions

	counter := service.NewDIDCommMsgMap(&ProposeCredential{
		ID:   uuid.New().String(),
		Type: ProposeCredentialMsgTypeV2,
		CredentialProposal: CredentialPreview{
			Attributes: []Attribute{{Name: "name", Value: "bob"}},
		},
	})
	action.Continue(counter)

	// the controller counter-proposed instead of requesting
	require.Len(t, messenger.replies, 1)
	require.Equal(t, ProposeCredentialMsgTypeV2, messenger.replies[0].Type())

	record, err := svc.holder.Current("offer-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(StateProposalSent), record.StateName)
}

func TestActionEventStopAbandons(t *testing.T) {
	svc, messenger := newService(t)

	actions := make(chan service.DIDCommAction, 1)
	require.NoError(t, svc.RegisterActionEvent(actions))

	_, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
	require.NoError(t, err)

	action := <-actions
	action.Stop(errors.New("not interested"))

	require.Len(t, messenger.replies, 1)
	require.Equal(t, ProblemReportMsgTypeV2, messenger.replies[0].Type())

	record, err := svc.holder.Current("offer-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(exchange.StateAbandoned), record.StateName)
	require.Equal(t, "not interested", record.ProblemComment)
}

func TestAutoAcceptContentApproved(t *testing.T) {
	approve := func(_ *exchange.Record, msg service.DIDCommMsgMap) bool {
		offer := &OfferCredential{}
		if err := msg.Decode(offer); err != nil {
			return false
		}

		return len(offer.CredentialPreview.Attributes) > 0 &&
			offer.CredentialPreview.Attributes[0].Value == "alice"
	}

	t.Run("matching content accepted", func(t *testing.T) {
		svc, messenger := newService(t,
			WithAutoAccept(exchange.AutoAcceptContentApproved),
			WithContentApprover(approve))

		_, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
		require.NoError(t, err)
		require.Len(t, messenger.replies, 1)
	})

	t.Run("mismatching content goes to action event", func(t *testing.T) {
		svc, messenger := newService(t,
			WithAutoAccept(exchange.AutoAcceptContentApproved),
			WithContentApprover(approve))

		actions := make(chan service.DIDCommAction, 1)
		require.NoError(t, svc.RegisterActionEvent(actions))

		offer := service.NewDIDCommMsgMap(&OfferCredential{
			ID:   "offer-2",
			Type: OfferCredentialMsgTypeV2,
			CredentialPreview: CredentialPreview{
				Attributes: []Attribute{{Name: "name", Value: "mallory"}},
			},
		})

		_, err := svc.HandleInbound(offer, ctxWithConn("conn-1"))
		require.NoError(t, err)
		require.Empty(t, messenger.replies)
		require.Len(t, actions, 1)
	})
}

func TestDefaultContentApprover(t *testing.T) {
	preview := CredentialPreview{
		Type:       CredentialPreviewMsgTypeV2,
		Attributes: []Attribute{{Name: "name", Value: "alice"}},
	}

	t.Run("offer echoing our proposal accepted", func(t *testing.T) {
		svc, messenger := newService(t, WithAutoAccept(exchange.AutoAcceptContentApproved))

		thID, err := svc.SendProposal(&ProposeCredential{CredentialProposal: preview}, "conn-1")
		require.NoError(t, err)

		offer := service.NewDIDCommMsgMap(&OfferCredential{
			ID:                uuid.New().String(),
			Type:              OfferCredentialMsgTypeV2,
			CredentialPreview: preview,
		})
		offer.SetThread(thID, "")

		_, err = svc.HandleInbound(offer, ctxWithConn("conn-1"))
		require.NoError(t, err)

		require.Len(t, messenger.replies, 1)
		require.Equal(t, RequestCredentialMsgTypeV2, messenger.replies[0].Type())
	})

	t.Run("offer changing the preview needs a decision", func(t *testing.T) {
		svc, messenger := newService(t, WithAutoAccept(exchange.AutoAcceptContentApproved))

		thID, err := svc.SendProposal(&ProposeCredential{CredentialProposal: preview}, "conn-1")
		require.NoError(t, err)

		offer := service.NewDIDCommMsgMap(&OfferCredential{
			ID:   uuid.New().String(),
			Type: OfferCredentialMsgTypeV2,
			CredentialPreview: CredentialPreview{
				Type:       CredentialPreviewMsgTypeV2,
				Attributes: []Attribute{{Name: "name", Value: "mallory"}},
			},
		})
		offer.SetThread(thID, "")

		_, err = svc.HandleInbound(offer, ctxWithConn("conn-1"))
		require.ErrorIs(t, err, errNoActionHandler)
		require.Empty(t, messenger.replies)
	})

	t.Run("unsolicited offer needs a decision", func(t *testing.T) {
		svc, messenger := newService(t, WithAutoAccept(exchange.AutoAcceptContentApproved))

		_, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
		require.ErrorIs(t, err, errNoActionHandler)
		require.Empty(t, messenger.replies)
	})
}

func TestResumeResendsUnsentReply(t *testing.T) {
	prov := mem.NewProvider()

	broken := &messengerStub{replyErr: errors.New("transport down")}

	svc, err := New(&providerStub{storage: prov, messenger: broken, bus: event.NewBus()},
		WithAutoAccept(exchange.AutoAcceptAlways))
	require.NoError(t, err)

	// the request transition is persisted, but the reply never leaves
	_, err = svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
	require.Error(t, err)

	// a restart builds a fresh service over the same storage
	messenger := &messengerStub{}

	restarted, err := New(&providerStub{storage: prov, messenger: messenger, bus: event.NewBus()},
		WithAutoAccept(exchange.AutoAcceptAlways))
	require.NoError(t, err)

	require.NoError(t, restarted.Resume())

	require.Len(t, messenger.sent, 1)
	require.Equal(t, RequestCredentialMsgTypeV2, messenger.sent[0].Type())

	record, err := restarted.holder.Current("offer-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(StateRequestSent), record.StateName)
	require.Equal(t, record.StateName, record.LastOutboundState)

	// a second sweep has nothing left to do
	require.NoError(t, restarted.Resume())
	require.Len(t, messenger.sent, 1)
}

func TestResumeAnswersUnrepliedInbound(t *testing.T) {
	prov := mem.NewProvider()

	store, err := exchange.OpenStore(prov)
	require.NoError(t, err)

	machine, err := exchange.NewMachine(HolderDefinition(), store)
	require.NoError(t, err)

	// the offer was applied, then the agent died before building the request
	_, _, err = machine.Apply("offer-1", "conn-1", eventOffer, inboundOffer("offer-1"))
	require.NoError(t, err)

	messenger := &messengerStub{}

	restarted, err := New(&providerStub{storage: prov, messenger: messenger, bus: event.NewBus()},
		WithAutoAccept(exchange.AutoAcceptAlways))
	require.NoError(t, err)

	require.NoError(t, restarted.Resume())

	require.Len(t, messenger.replies, 1)
	require.Equal(t, RequestCredentialMsgTypeV2, messenger.replies[0].Type())

	record, err := restarted.holder.Current("offer-1", "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(StateRequestSent), record.StateName)
}

func TestResumeSurfacesActionEvent(t *testing.T) {
	prov := mem.NewProvider()

	store, err := exchange.OpenStore(prov)
	require.NoError(t, err)

	machine, err := exchange.NewMachine(HolderDefinition(), store)
	require.NoError(t, err)

	_, _, err = machine.Apply("offer-1", "conn-1", eventOffer, inboundOffer("offer-1"))
	require.NoError(t, err)

	messenger := &messengerStub{}

	restarted, err := New(&providerStub{storage: prov, messenger: messenger, bus: event.NewBus()})
	require.NoError(t, err)

	actions := make(chan service.DIDCommAction, 1)
	require.NoError(t, restarted.RegisterActionEvent(actions))

	require.NoError(t, restarted.Resume())

	action := <-actions
	require.Equal(t, Name, action.ProtocolName)

	action.Continue(&service.Empty{})

	require.Len(t, messenger.replies, 1)
	require.Equal(t, RequestCredentialMsgTypeV2, messenger.replies[0].Type())
}

func TestIssuerFlow(t *testing.T) {
	svc, messenger := newService(t, WithAutoAccept(exchange.AutoAcceptAlways))

	thID, err := svc.SendOffer(&OfferCredential{
		CredentialPreview: CredentialPreview{
			Attributes: []Attribute{{Name: "name", Value: "alice"}},
		},
	}, "conn-1")
	require.NoError(t, err)
	require.Len(t, messenger.sent, 1)

	record, err := svc.issuer.Current(thID, "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(StateOfferSent), record.StateName)

	// the holder requests the credential
	request := service.NewDIDCommMsgMap(&RequestCredential{ID: "req-1", Type: RequestCredentialMsgTypeV2})
	request.SetThread(thID, "")

	_, err = svc.HandleInbound(request, ctxWithConn("conn-1"))
	require.NoError(t, err)

	// the issuer answered with the credential
	require.Len(t, messenger.replies, 1)
	require.Equal(t, IssueCredentialMsgTypeV2, messenger.replies[0].Type())

	// the holder acknowledges
	ack := service.NewDIDCommMsgMap(&Ack{ID: "ack-1", Type: AckMsgTypeV2, Status: "OK"})
	ack.SetThread(thID, "")

	_, err = svc.HandleInbound(ack, ctxWithConn("conn-1"))
	require.NoError(t, err)

	record, err = svc.issuer.Current(thID, "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(StateDone), record.StateName)
}

func TestInboundProblemReportAbandons(t *testing.T) {
	svc, _ := newService(t, WithAutoAccept(exchange.AutoAcceptAlways))

	thID, err := svc.SendOffer(&OfferCredential{}, "conn-1")
	require.NoError(t, err)

	report := service.DIDCommMsgMap{
		"@id":         "pr-1",
		"@type":       ProblemReportMsgTypeV2,
		"description": map[string]interface{}{"code": "e.p.req.declined", "en": "no"},
		"comment":     "no",
	}
	report.SetThread(thID, "")

	_, err = svc.HandleInbound(report, ctxWithConn("conn-1"))
	require.NoError(t, err)

	record, err := svc.issuer.Current(thID, "conn-1")
	require.NoError(t, err)
	require.Equal(t, string(exchange.StateAbandoned), record.StateName)
	require.Equal(t, "e.p.req.declined", record.ProblemCode)
}

func TestOutOfOrderAckRejected(t *testing.T) {
	svc, _ := newService(t, WithAutoAccept(exchange.AutoAcceptAlways))

	ack := service.NewDIDCommMsgMap(&Ack{ID: "ack-1", Type: AckMsgTypeV2})

	_, err := svc.HandleInbound(ack, ctxWithConn("conn-1"))
	require.ErrorIs(t, err, exchange.ErrIllegalTransition)
}

func TestUnrecognizedTypeRejected(t *testing.T) {
	svc, _ := newService(t)

	msg := service.DIDCommMsgMap{"@id": "m1", "@type": "https://didcomm.org/issue-credential/2.0/nope"}

	_, err := svc.HandleInbound(msg, ctxWithConn("conn-1"))
	require.Error(t, err)
}

func TestStateMsgEventsEmitted(t *testing.T) {
	svc, _ := newService(t, WithAutoAccept(exchange.AutoAcceptAlways))

	states := make(chan service.StateMsg, 16)
	require.NoError(t, svc.RegisterMsgEvent(states))

	_, err := svc.HandleInbound(inboundOffer("offer-1"), ctxWithConn("conn-1"))
	require.NoError(t, err)

	close(states)

	var post []string

	for msg := range states {
		if msg.Type == service.PostState {
			post = append(post, msg.StateID)
		}
	}

	// offer applied, then the auto request
	require.Equal(t, []string{string(StateOfferReceived), string(StateRequestSent)}, post)
}
