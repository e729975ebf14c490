/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didexchange implements the connection establishment protocol. Besides
// driving the exchange machine it owns the lifecycle of the connection records
// the rest of the engine routes by.
package didexchange

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/event"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/exchange"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/problemreport"
	"github.com/aether-id/didcomm-engine/pkg/store/connection"
)

const (
	// Name defines the protocol name.
	Name = "didexchange"

	// Spec defines the protocol spec.
	Spec = "https://didcomm.org/didexchange/1.0/"
	// InvitationMsgType defines the protocol invitation message type.
	InvitationMsgType = Spec + "invitation"
	// RequestMsgType defines the protocol request message type.
	RequestMsgType = Spec + "request"
	// ResponseMsgType defines the protocol response message type.
	ResponseMsgType = Spec + "response"
	// CompleteMsgType defines the protocol complete message type.
	CompleteMsgType = Spec + "complete"
	// ProblemReportMsgType defines the protocol problem-report message type.
	ProblemReportMsgType = Spec + "problem-report"
)

var (
	logger = log.New("didcomm-engine/didexchange")

	errNoActionHandler = errors.New("no clients are registered to handle the message")
)

// Identity is the agent's own connection material, offered to peers during the
// exchange.
type Identity struct {
	Label           string
	DID             string
	VerKey          string
	ServiceEndpoint string
	RoutingKeys     []string
}

// Provider contains dependencies for the didexchange Service.
type Provider interface {
	StorageProvider() storage.Provider
	Messenger() service.Messenger
	EventBus() *event.Bus
	ConnectionRecorder() *connection.Recorder
	Identity() Identity
}

// Option configures the Service.
type Option func(*Service)

// WithAutoAccept sets the auto-accept mode for inbound connection requests.
func WithAutoAccept(mode exchange.AutoAccept) Option {
	return func(s *Service) {
		s.policy.Mode = mode
	}
}

// Service implements the didexchange protocol.
type Service struct {
	service.Action
	service.Message
	inviter     *exchange.Machine
	invitee     *exchange.Machine
	store       *exchange.Store
	messenger   service.Messenger
	connections *connection.Recorder
	identity    Identity
	policy      exchange.AcceptPolicy
}

// New returns the didexchange Service.
func New(prov Provider, opts ...Option) (*Service, error) {
	store, err := exchange.OpenStore(prov.StorageProvider())
	if err != nil {
		return nil, fmt.Errorf("didexchange: %w", err)
	}

	s := &Service{
		store:       store,
		messenger:   prov.Messenger(),
		connections: prov.ConnectionRecorder(),
		identity:    prov.Identity(),
	}

	machineOpts := []exchange.MachineOption{
		exchange.WithEventBus(prov.EventBus()),
		exchange.WithStateNotifier(s.Notify),
	}

	s.inviter, err = exchange.NewMachine(InviterDefinition(), store, machineOpts...)
	if err != nil {
		return nil, fmt.Errorf("didexchange: %w", err)
	}

	s.invitee, err = exchange.NewMachine(InviteeDefinition(), store, machineOpts...)
	if err != nil {
		return nil, fmt.Errorf("didexchange: %w", err)
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Name returns the protocol name.
func (s *Service) Name() string {
	return Name
}

// Accept reports whether the message type belongs to this protocol.
func (s *Service) Accept(msgType string) bool {
	return strings.HasPrefix(msgType, Spec)
}

// PendingExchanges returns the exchange records of this protocol that have not
// reached a terminal state. Used after a restart to resume interrupted
// exchanges.
func (s *Service) PendingExchanges() ([]*exchange.Record, error) {
	records, err := s.store.QueryByProtocol(Name)
	if err != nil {
		return nil, err
	}

	def := s.inviter.Definition()

	var pending []*exchange.Record

	for _, record := range records {
		if !def.IsTerminal(exchange.StateName(record.StateName)) {
			pending = append(pending, record)
		}
	}

	return pending, nil
}

// CreateInvitation mints an invitation from the agent's identity. The exchange
// record is created once the peer's request arrives.
func (s *Service) CreateInvitation() *Invitation {
	return &Invitation{
		ID:              uuid.New().String(),
		Type:            InvitationMsgType,
		Label:           s.identity.Label,
		RecipientKeys:   []string{s.identity.VerKey},
		ServiceEndpoint: s.identity.ServiceEndpoint,
		RoutingKeys:     s.identity.RoutingKeys,
	}
}

// HandleInvitation accepts an invitation as the invitee: it saves a connection
// record for the inviter and sends the connection request. It returns the new
// connection id.
func (s *Service) HandleInvitation(invitation *Invitation) (string, error) {
	if invitation == nil || len(invitation.RecipientKeys) == 0 || invitation.ServiceEndpoint == "" {
		return "", errors.New("didexchange: invitation missing recipient keys or endpoint")
	}

	request := &Request{
		ID:    uuid.New().String(),
		Type:  RequestMsgType,
		Label: s.identity.Label,
		Connection: &Connection{
			DID:             s.identity.DID,
			Label:           s.identity.Label,
			RecipientKeys:   []string{s.identity.VerKey},
			ServiceEndpoint: s.identity.ServiceEndpoint,
			RoutingKeys:     s.identity.RoutingKeys,
		},
	}

	thID := request.ID
	connectionID := uuid.New().String()

	record := &connection.Record{
		ConnectionID:          connectionID,
		State:                 string(StateInvited),
		ThreadID:              thID,
		ParentThreadID:        invitation.ID,
		TheirVerKey:           invitation.RecipientKeys[0],
		RecipientKeys:         invitation.RecipientKeys,
		TheirServiceEndpoints: []string{invitation.ServiceEndpoint},
		RoutingKeys:           invitation.RoutingKeys,
		MyDID:                 s.identity.DID,
		MyVerKey:              s.identity.VerKey,
	}

	if err := s.connections.SaveConnectionRecord(record); err != nil {
		return "", fmt.Errorf("didexchange: %w", err)
	}

	invMsg := service.NewDIDCommMsgMap(invitation)
	if _, _, err := s.invitee.Apply(thID, connectionID, eventInvitation, invMsg); err != nil {
		return "", err
	}

	reqMsg := service.NewDIDCommMsgMap(request)
	reqMsg.SetThread(thID, invitation.ID)

	if _, _, err := s.invitee.Apply(thID, connectionID, eventRequest, reqMsg); err != nil {
		return "", err
	}

	// persist before the send so a reply racing in cannot be outrun
	record.State = string(StateRequested)

	if err := s.connections.SaveConnectionRecord(record); err != nil {
		return "", fmt.Errorf("didexchange: %w", err)
	}

	if err := s.messenger.Send(reqMsg, connectionID); err != nil {
		return "", fmt.Errorf("didexchange: send request: %w", err)
	}

	if err := s.invitee.MarkOutbound(thID, connectionID, request.ID); err != nil {
		return "", err
	}

	return connectionID, nil
}

// HandleInbound advances the exchange with the given protocol message.
func (s *Service) HandleInbound(msg service.DIDCommMsgMap, ctx service.DIDCommContext) (string, error) {
	thID, err := msg.ThreadID()
	if err != nil {
		return "", fmt.Errorf("didexchange: %w", err)
	}

	switch msg.Type() {
	case RequestMsgType:
		return thID, s.handleRequest(thID, msg)
	case ResponseMsgType:
		return thID, s.handleResponse(thID, msg)
	case CompleteMsgType:
		return thID, s.handleComplete(thID, msg)
	case ProblemReportMsgType:
		return thID, s.handleProblemReport(thID, msg, ctx)
	default:
		return "", fmt.Errorf("didexchange: unrecognized message type %s", msg.Type())
	}
}

// handleRequest runs on the inviter. Accepting the request creates the
// connection record and answers with a response.
func (s *Service) handleRequest(thID string, msg service.DIDCommMsgMap) error {
	if s.policy.Accepts(nil, msg) {
		return s.acceptRequest(thID, msg)
	}

	actionCh := s.ActionEvent()
	if actionCh == nil {
		return errNoActionHandler
	}

	actionCh <- service.DIDCommAction{
		ProtocolName: Name,
		Message:      msg.Clone(),
		Continue: func(interface{}) {
			if err := s.acceptRequest(thID, msg); err != nil {
				logger.Errorf("continue thread %s: %v", thID, err)
			}
		},
		Stop: func(cause error) {
			if err := s.declineRequest(thID, msg, cause); err != nil {
				logger.Errorf("stop thread %s: %v", thID, err)
			}
		},
	}

	return nil
}

func (s *Service) acceptRequest(thID string, msg service.DIDCommMsgMap) error {
	if _, err := decodeRequest(msg); err != nil {
		return err
	}

	connectionID := uuid.New().String()

	// a redelivered request must land on the connection it already created
	if existing, errGet := s.connections.GetConnectionRecordByThreadID(thID); errGet == nil {
		connectionID = existing.ConnectionID
	}

	_, applied, err := s.inviter.Apply(thID, connectionID, eventRequest, msg)
	if err != nil {
		return err
	}

	if !applied {
		return nil
	}

	return s.respondRequest(thID, connectionID, msg)
}

// respondRequest saves the requesting peer's connection record and answers with
// a response. It also runs after a restart when a request was applied but the
// response never left.
func (s *Service) respondRequest(thID, connectionID string, msg service.DIDCommMsgMap) error {
	request, err := decodeRequest(msg)
	if err != nil {
		return err
	}

	record := &connection.Record{
		ConnectionID:          connectionID,
		State:                 string(StateRequested),
		ThreadID:              thID,
		ParentThreadID:        msg.ParentThreadID(),
		TheirDID:              request.Connection.DID,
		TheirVerKey:           request.Connection.RecipientKeys[0],
		RecipientKeys:         request.Connection.RecipientKeys,
		TheirServiceEndpoints: []string{request.Connection.ServiceEndpoint},
		RoutingKeys:           request.Connection.RoutingKeys,
		MyDID:                 s.identity.DID,
		MyVerKey:              s.identity.VerKey,
	}

	if err := s.connections.SaveConnectionRecord(record); err != nil {
		return fmt.Errorf("didexchange: %w", err)
	}

	response := service.NewDIDCommMsgMap(&Response{
		ID:   uuid.New().String(),
		Type: ResponseMsgType,
		Connection: &Connection{
			DID:             s.identity.DID,
			Label:           s.identity.Label,
			RecipientKeys:   []string{s.identity.VerKey},
			ServiceEndpoint: s.identity.ServiceEndpoint,
			RoutingKeys:     s.identity.RoutingKeys,
		},
	})
	response.SetThread(thID, "")

	if _, _, err := s.inviter.Apply(thID, connectionID, eventResponse, response); err != nil {
		return err
	}

	record.State = string(StateResponded)

	if err := s.connections.SaveConnectionRecord(record); err != nil {
		return fmt.Errorf("didexchange: %w", err)
	}

	if err := s.messenger.ReplyTo(msg.ID(), response); err != nil {
		return fmt.Errorf("didexchange: reply: %w", err)
	}

	return s.inviter.MarkOutbound(thID, connectionID, response.ID())
}

func decodeRequest(msg service.DIDCommMsgMap) (*Request, error) {
	request := &Request{}
	if err := msg.Decode(request); err != nil {
		return nil, fmt.Errorf("didexchange: decode request: %w", err)
	}

	if request.Connection == nil || len(request.Connection.RecipientKeys) == 0 {
		return nil, errors.New("didexchange: request has no connection block")
	}

	return request, nil
}

func (s *Service) declineRequest(thID string, msg service.DIDCommMsgMap, cause error) error {
	comment := "connection declined"
	if cause != nil {
		comment = cause.Error()
	}

	if _, err := s.inviter.Abandon(thID, "", problemreport.CodeRequestDeclined, comment); err != nil {
		return err
	}

	report := service.NewDIDCommMsgMap(&problemreport.ProblemReport{
		ID:   uuid.New().String(),
		Type: ProblemReportMsgType,
		Description: problemreport.Description{
			Code: problemreport.CodeRequestDeclined,
			En:   comment,
		},
		Comment: comment,
	})
	report.SetThread(thID, "")

	if err := s.messenger.ReplyTo(msg.ID(), report); err != nil {
		return fmt.Errorf("didexchange: problem report: %w", err)
	}

	return nil
}

// handleResponse runs on the invitee. The inviter's DID material replaces what
// the invitation carried, and the exchange is finalized with a complete.
func (s *Service) handleResponse(thID string, msg service.DIDCommMsgMap) error {
	record, err := s.connections.GetConnectionRecordByThreadID(thID)
	if err != nil {
		return fmt.Errorf("didexchange: %w", err)
	}

	response := &Response{}
	if err := msg.Decode(response); err != nil {
		return fmt.Errorf("didexchange: decode response: %w", err)
	}

	_, applied, err := s.invitee.Apply(thID, record.ConnectionID, eventResponse, msg)
	if err != nil {
		return err
	}

	if !applied {
		return nil
	}

	updatePeerMaterial(record, response)

	return s.finishExchange(record, msg)
}

// finishExchange sends the closing complete once the inviter's response has
// been applied. It also runs after a restart when the complete never got built.
func (s *Service) finishExchange(record *connection.Record, msg service.DIDCommMsgMap) error {
	complete := service.NewDIDCommMsgMap(&Complete{
		ID:   uuid.New().String(),
		Type: CompleteMsgType,
	})
	complete.SetThread(record.ThreadID, "")

	if _, _, err := s.invitee.Apply(record.ThreadID, record.ConnectionID, eventComplete, complete); err != nil {
		return err
	}

	record.State = string(StateCompleted)

	if err := s.connections.SaveConnectionRecord(record); err != nil {
		return fmt.Errorf("didexchange: %w", err)
	}

	if err := s.messenger.ReplyTo(msg.ID(), complete); err != nil {
		return fmt.Errorf("didexchange: reply: %w", err)
	}

	return s.invitee.MarkOutbound(record.ThreadID, record.ConnectionID, complete.ID())
}

// updatePeerMaterial replaces the connection material the invitation carried
// with what the inviter's response declares.
func updatePeerMaterial(record *connection.Record, response *Response) {
	if response.Connection == nil {
		return
	}

	record.TheirDID = response.Connection.DID

	if len(response.Connection.RecipientKeys) > 0 {
		record.TheirVerKey = response.Connection.RecipientKeys[0]
		record.RecipientKeys = response.Connection.RecipientKeys
	}

	if response.Connection.ServiceEndpoint != "" {
		record.TheirServiceEndpoints = []string{response.Connection.ServiceEndpoint}
	}
}

// handleComplete runs on the inviter and closes the exchange.
func (s *Service) handleComplete(thID string, msg service.DIDCommMsgMap) error {
	record, err := s.connections.GetConnectionRecordByThreadID(thID)
	if err != nil {
		return fmt.Errorf("didexchange: %w", err)
	}

	_, applied, err := s.inviter.Apply(thID, record.ConnectionID, eventComplete, msg)
	if err != nil {
		return err
	}

	if !applied {
		return nil
	}

	record.State = string(StateCompleted)

	return s.connections.SaveConnectionRecord(record)
}

func (s *Service) handleProblemReport(thID string, msg service.DIDCommMsgMap, ctx service.DIDCommContext) error {
	connectionID := ctx.ConnectionID()

	if record, err := s.connections.GetConnectionRecordByThreadID(thID); err == nil {
		connectionID = record.ConnectionID
	}

	_, _, err := s.inviter.Apply(thID, connectionID, exchange.EventProblemReport, msg)

	return err
}

// Resume re-drives exchanges a previous run left mid-flight: a persisted
// outbound message that was never sent goes out again, and an applied inbound
// message whose reply never left gets its reply rebuilt.
func (s *Service) Resume() error {
	if err := s.inviter.Recover(s.resumeInviter); err != nil {
		return err
	}

	return s.invitee.Recover(s.resumeInvitee)
}

func (s *Service) resumeInviter(record *exchange.Record) error {
	// a matching marker means the last applied message made it out
	if record.LastMsg == nil || record.LastOutboundState == record.StateName {
		return nil
	}

	msg := record.LastMsg

	switch msg.Type() {
	case ResponseMsgType:
		// our response was persisted but never marked sent
		if err := s.messenger.Send(msg, record.ConnectionID); err != nil {
			logger.Errorf("resend response on thread %s: %v", record.ThreadID, err)

			return nil
		}

		return s.inviter.MarkOutbound(record.ThreadID, record.ConnectionID, msg.ID())
	case RequestMsgType:
		// the peer's request was applied but never answered
		if s.policy.Accepts(nil, msg) {
			if err := s.respondRequest(record.ThreadID, record.ConnectionID, msg); err != nil {
				logger.Errorf("resume thread %s: %v", record.ThreadID, err)
			}

			return nil
		}

		actionCh := s.ActionEvent()
		if actionCh == nil {
			logger.Infof("thread %s waits for a controller decision after restart", record.ThreadID)

			return nil
		}

		thID, connectionID := record.ThreadID, record.ConnectionID

		actionCh <- service.DIDCommAction{
			ProtocolName: Name,
			Message:      msg.Clone(),
			Continue: func(interface{}) {
				if err := s.respondRequest(thID, connectionID, msg); err != nil {
					logger.Errorf("continue thread %s: %v", thID, err)
				}
			},
			Stop: func(cause error) {
				if err := s.declineRequest(thID, msg, cause); err != nil {
					logger.Errorf("stop thread %s: %v", thID, err)
				}
			},
		}

		return nil
	default:
		return nil
	}
}

func (s *Service) resumeInvitee(record *exchange.Record) error {
	if record.LastMsg == nil || record.LastOutboundState == record.StateName {
		return nil
	}

	msg := record.LastMsg

	switch msg.Type() {
	case RequestMsgType:
		if err := s.messenger.Send(msg, record.ConnectionID); err != nil {
			logger.Errorf("resend request on thread %s: %v", record.ThreadID, err)

			return nil
		}

		return s.invitee.MarkOutbound(record.ThreadID, record.ConnectionID, msg.ID())
	case ResponseMsgType:
		// the inviter's response was applied but the closing complete never
		// got built
		connRecord, err := s.connections.GetConnectionRecordByThreadID(record.ThreadID)
		if err != nil {
			return fmt.Errorf("didexchange: %w", err)
		}

		response := &Response{}
		if err := msg.Decode(response); err != nil {
			return fmt.Errorf("didexchange: decode response: %w", err)
		}

		updatePeerMaterial(connRecord, response)

		if err := s.finishExchange(connRecord, msg); err != nil {
			logger.Errorf("resume thread %s: %v", record.ThreadID, err)
		}

		return nil
	default:
		return nil
	}
}

