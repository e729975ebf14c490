/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package presentproof implements the present-proof protocol on top of the
// generic exchange machine.
package presentproof

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/event"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/exchange"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/problemreport"
)

const (
	// Name defines the protocol name.
	Name = "present-proof"

	// SpecV2 defines the protocol spec V2.
	SpecV2 = "https://didcomm.org/present-proof/2.0/"
	// ProposePresentationMsgTypeV2 defines the protocol propose-presentation message type.
	ProposePresentationMsgTypeV2 = SpecV2 + "propose-presentation"
	// RequestPresentationMsgTypeV2 defines the protocol request-presentation message type.
	RequestPresentationMsgTypeV2 = SpecV2 + "request-presentation"
	// PresentationMsgTypeV2 defines the protocol presentation message type.
	PresentationMsgTypeV2 = SpecV2 + "presentation"
	// AckMsgTypeV2 defines the protocol ack message type.
	AckMsgTypeV2 = SpecV2 + "ack"
	// ProblemReportMsgTypeV2 defines the protocol problem-report message type.
	ProblemReportMsgTypeV2 = SpecV2 + "problem-report"

	// SpecV3 defines the protocol spec V3.
	SpecV3 = "https://didcomm.org/present-proof/3.0/"
	// ProposePresentationMsgTypeV3 defines the protocol propose-presentation message type.
	ProposePresentationMsgTypeV3 = SpecV3 + "propose-presentation"
	// RequestPresentationMsgTypeV3 defines the protocol request-presentation message type.
	RequestPresentationMsgTypeV3 = SpecV3 + "request-presentation"
	// PresentationMsgTypeV3 defines the protocol presentation message type.
	PresentationMsgTypeV3 = SpecV3 + "presentation"
	// AckMsgTypeV3 defines the protocol ack message type.
	AckMsgTypeV3 = SpecV3 + "ack"
	// ProblemReportMsgTypeV3 defines the protocol problem-report message type.
	ProblemReportMsgTypeV3 = SpecV3 + "problem-report"
)

var (
	logger = log.New("didcomm-engine/presentproof")

	errNoActionHandler = errors.New("no clients are registered to handle the message")
)

// Provider contains dependencies for the present-proof Service.
type Provider interface {
	StorageProvider() storage.Provider
	Messenger() service.Messenger
	EventBus() *event.Bus
}

// Option configures the Service.
type Option func(*Service)

// WithAutoAccept sets the auto-accept mode for inbound protocol messages.
func WithAutoAccept(mode exchange.AutoAccept) Option {
	return func(s *Service) {
		s.policy.Mode = mode
	}
}

// WithContentApprover sets the comparer AutoAcceptContentApproved consults.
func WithContentApprover(approve exchange.Approver) Option {
	return func(s *Service) {
		s.policy.Approve = approve
	}
}

// Service implements the present-proof protocol.
type Service struct {
	service.Action
	service.Message
	verifier  *exchange.Machine
	prover    *exchange.Machine
	store     *exchange.Store
	messenger service.Messenger
	policy    exchange.AcceptPolicy
}

// New returns the present-proof Service.
func New(prov Provider, opts ...Option) (*Service, error) {
	store, err := exchange.OpenStore(prov.StorageProvider())
	if err != nil {
		return nil, fmt.Errorf("presentproof: %w", err)
	}

	s := &Service{store: store, messenger: prov.Messenger()}

	machineOpts := []exchange.MachineOption{
		exchange.WithEventBus(prov.EventBus()),
		exchange.WithStateNotifier(s.Notify),
	}

	s.verifier, err = exchange.NewMachine(VerifierDefinition(), store, machineOpts...)
	if err != nil {
		return nil, fmt.Errorf("presentproof: %w", err)
	}

	s.prover, err = exchange.NewMachine(ProverDefinition(), store, machineOpts...)
	if err != nil {
		return nil, fmt.Errorf("presentproof: %w", err)
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.policy.Approve == nil {
		s.policy.Approve = contentMatches
	}

	return s, nil
}

// Name returns the protocol name.
func (s *Service) Name() string {
	return Name
}

// Accept reports whether the message type belongs to this protocol.
func (s *Service) Accept(msgType string) bool {
	return strings.HasPrefix(msgType, SpecV2) || strings.HasPrefix(msgType, SpecV3)
}

// HandleInbound validates the message against the exchange record and advances
// it. Content-bearing messages stop at an action event unless the auto-accept
// policy resolves them.
func (s *Service) HandleInbound(msg service.DIDCommMsgMap, ctx service.DIDCommContext) (string, error) {
	thID, err := msg.ThreadID()
	if err != nil {
		return "", fmt.Errorf("presentproof: %w", err)
	}

	ev, role, needsAction, err := eventForType(msg.Type())
	if err != nil {
		return "", err
	}

	machine := s.machine(role)

	if !needsAction {
		_, _, err = machine.Apply(thID, ctx.ConnectionID(), ev, msg)
		return thID, err
	}

	record, err := machine.Current(thID, ctx.ConnectionID())
	if err != nil {
		return "", err
	}

	if s.policy.Accepts(record, msg) {
		return thID, s.process(machine, ev, msg, ctx, nil)
	}

	actionCh := s.ActionEvent()
	if actionCh == nil {
		return "", errNoActionHandler
	}

	actionCh <- service.DIDCommAction{
		ProtocolName: Name,
		Message:      msg.Clone(),
		Continue: func(args interface{}) {
			var override service.DIDCommMsgMap
			if reply, ok := args.(service.DIDCommMsgMap); ok {
				override = reply
			}

			if errProcess := s.process(machine, ev, msg, ctx, override); errProcess != nil {
				logger.Errorf("continue thread %s: %v", thID, errProcess)
			}
		},
		Stop: func(cause error) {
			if errStop := s.abandon(machine, thID, msg, ctx, cause); errStop != nil {
				logger.Errorf("stop thread %s: %v", thID, errStop)
			}
		},
		Properties: exchange.NewProps(record, nil),
	}

	return thID, nil
}

// PendingExchanges returns the exchange records of this protocol that have not
// reached a terminal state. Used after a restart to resume interrupted
// exchanges.
func (s *Service) PendingExchanges() ([]*exchange.Record, error) {
	records, err := s.store.QueryByProtocol(Name)
	if err != nil {
		return nil, err
	}

	def := s.verifier.Definition()

	var pending []*exchange.Record

	for _, record := range records {
		if !def.IsTerminal(exchange.StateName(record.StateName)) {
			pending = append(pending, record)
		}
	}

	return pending, nil
}

// SendRequestPresentation starts an exchange as the verifier. It returns the
// thread id of the exchange.
func (s *Service) SendRequestPresentation(request *RequestPresentation, connectionID string) (string, error) {
	if request == nil {
		return "", errors.New("presentproof: nil request")
	}

	request.Type = RequestPresentationMsgTypeV2

	return s.initiate(s.verifier, eventRequest, service.NewDIDCommMsgMap(request), connectionID)
}

// SendProposePresentation starts an exchange as the prover.
func (s *Service) SendProposePresentation(proposal *ProposePresentation, connectionID string) (string, error) {
	if proposal == nil {
		return "", errors.New("presentproof: nil proposal")
	}

	proposal.Type = ProposePresentationMsgTypeV2

	return s.initiate(s.prover, eventPropose, service.NewDIDCommMsgMap(proposal), connectionID)
}

func (s *Service) initiate(machine *exchange.Machine, ev exchange.EventName,
	msg service.DIDCommMsgMap, connectionID string) (string, error) {
	if msg.ID() == "" {
		msg.SetID(uuid.New().String())
	}

	thID := msg.ID()

	if _, _, err := machine.Apply(thID, connectionID, ev, msg); err != nil {
		return "", err
	}

	if err := s.messenger.Send(msg, connectionID); err != nil {
		return "", fmt.Errorf("presentproof: send: %w", err)
	}

	if err := machine.MarkOutbound(thID, connectionID, msg.ID()); err != nil {
		return "", err
	}

	return thID, nil
}

func (s *Service) process(machine *exchange.Machine, ev exchange.EventName,
	msg service.DIDCommMsgMap, ctx service.DIDCommContext, override service.DIDCommMsgMap) error {
	thID, err := msg.ThreadID()
	if err != nil {
		return fmt.Errorf("presentproof: %w", err)
	}

	record, applied, err := machine.Apply(thID, ctx.ConnectionID(), ev, msg)
	if err != nil {
		return err
	}

	// a re-delivered message already got its response the first time around
	if !applied {
		return nil
	}

	return s.respond(machine, record, ev, msg, override)
}

// respond builds the reply the applied message calls for, persists its
// transition and sends it.
func (s *Service) respond(machine *exchange.Machine, record *exchange.Record,
	ev exchange.EventName, msg service.DIDCommMsgMap, override service.DIDCommMsgMap) error {
	reply, evOut := s.nextMessage(record, ev, msg)

	if override != nil {
		reply = override.Clone()

		var err error

		evOut, _, _, err = eventForType(reply.Type())
		if err != nil {
			return err
		}
	}

	if reply == nil {
		return nil
	}

	if reply.ID() == "" {
		reply.SetID(uuid.New().String())
	}

	reply.SetThread(record.ThreadID, "")

	if _, _, err := machine.Apply(record.ThreadID, record.ConnectionID, evOut, reply); err != nil {
		return err
	}

	if err := s.messenger.ReplyTo(msg.ID(), reply); err != nil {
		return fmt.Errorf("presentproof: reply: %w", err)
	}

	return machine.MarkOutbound(record.ThreadID, record.ConnectionID, reply.ID())
}

// Resume re-drives exchanges a previous run left mid-flight: a persisted
// outbound message that was never sent goes out again, and an inbound message
// whose reply never left is re-evaluated against the auto-accept policy or
// surfaced as an action event.
func (s *Service) Resume() error {
	for _, machine := range []*exchange.Machine{s.verifier, s.prover} {
		if err := s.resumePending(machine); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) resumePending(machine *exchange.Machine) error {
	return machine.Recover(func(record *exchange.Record) error {
		// a matching marker means the last applied message made it out
		if record.LastMsg == nil || record.LastOutboundState == record.StateName {
			return nil
		}

		msg := record.LastMsg

		ev, role, needsAction, err := eventForType(msg.Type())
		if err != nil {
			return nil
		}

		if role != machine.Definition().Role {
			// our own reply was persisted but never marked sent
			if errSend := s.messenger.Send(msg, record.ConnectionID); errSend != nil {
				logger.Errorf("resend on thread %s: %v", record.ThreadID, errSend)

				return nil
			}

			return machine.MarkOutbound(record.ThreadID, record.ConnectionID, msg.ID())
		}

		if !needsAction {
			return nil
		}

		if s.policy.Accepts(record, msg) {
			if errRespond := s.respond(machine, record, ev, msg, nil); errRespond != nil {
				logger.Errorf("resume thread %s: %v", record.ThreadID, errRespond)
			}

			return nil
		}

		actionCh := s.ActionEvent()
		if actionCh == nil {
			logger.Infof("thread %s waits for a controller decision after restart", record.ThreadID)

			return nil
		}

		actionCh <- service.DIDCommAction{
			ProtocolName: Name,
			Message:      msg.Clone(),
			Continue: func(args interface{}) {
				var override service.DIDCommMsgMap
				if reply, ok := args.(service.DIDCommMsgMap); ok {
					override = reply
				}

				if errResume := s.respond(machine, record, ev, msg, override); errResume != nil {
					logger.Errorf("continue thread %s: %v", record.ThreadID, errResume)
				}
			},
			Stop: func(cause error) {
				ctx := service.NewDIDCommContext("", "", record.ConnectionID, nil)
				if errStop := s.abandon(machine, record.ThreadID, msg, ctx, cause); errStop != nil {
					logger.Errorf("stop thread %s: %v", record.ThreadID, errStop)
				}
			},
			Properties: exchange.NewProps(record, nil),
		}

		return nil
	})
}

// nextMessage builds the protocol's default response to the message just
// applied.
func (s *Service) nextMessage(record *exchange.Record, ev exchange.EventName,
	msg service.DIDCommMsgMap) (service.DIDCommMsgMap, exchange.EventName) {
	switch {
	case record.Role == RoleVerifier && ev == eventPropose:
		proposal := &ProposePresentation{}
		if err := msg.Decode(proposal); err != nil {
			logger.Warnf("decode proposal on thread %s: %v", record.ThreadID, err)
		}

		return service.NewDIDCommMsgMap(&RequestPresentation{
			ID:      uuid.New().String(),
			Type:    RequestPresentationMsgTypeV2,
			Formats: proposal.Formats,
		}), eventRequest

	case record.Role == RoleProver && ev == eventRequest:
		request := &RequestPresentation{}
		if err := msg.Decode(request); err != nil {
			logger.Warnf("decode request on thread %s: %v", record.ThreadID, err)
		}

		return service.NewDIDCommMsgMap(&Presentation{
			ID:                  uuid.New().String(),
			Type:                PresentationMsgTypeV2,
			Formats:             request.Formats,
			PresentationsAttach: request.RequestPresentationsAttach,
		}), eventPresentation

	case record.Role == RoleVerifier && ev == eventPresentation:
		return service.NewDIDCommMsgMap(&Ack{
			ID:     uuid.New().String(),
			Type:   AckMsgTypeV2,
			Status: "OK",
		}), eventAck

	default:
		return nil, ""
	}
}

func (s *Service) abandon(machine *exchange.Machine, thID string, msg service.DIDCommMsgMap,
	ctx service.DIDCommContext, cause error) error {
	comment := "exchange declined"
	if cause != nil {
		comment = cause.Error()
	}

	if _, err := machine.Abandon(thID, ctx.ConnectionID(), problemreport.CodeRequestDeclined, comment); err != nil {
		return err
	}

	report := service.NewDIDCommMsgMap(&problemreport.ProblemReport{
		ID:   uuid.New().String(),
		Type: ProblemReportMsgTypeV2,
		Description: problemreport.Description{
			Code: problemreport.CodeRequestDeclined,
			En:   comment,
		},
		Comment: comment,
	})
	report.SetThread(thID, "")

	if err := s.messenger.ReplyTo(msg.ID(), report); err != nil {
		return fmt.Errorf("presentproof: problem report: %w", err)
	}

	return nil
}

func (s *Service) machine(role string) *exchange.Machine {
	if role == RoleProver {
		return s.prover
	}

	return s.verifier
}


// contentMatches is the default AutoAcceptContentApproved comparer: the
// incoming message must restate the negotiated content of the last message this
// side saw on the thread. An opening message has nothing to match and always
// needs a decision.
func contentMatches(record *exchange.Record, msg service.DIDCommMsgMap) bool {
	if record == nil || record.LastMsg == nil {
		return false
	}

	last := record.LastMsg

	switch msg.Type() {
	case RequestPresentationMsgTypeV2, RequestPresentationMsgTypeV3:
		proposal, request := &ProposePresentation{}, &RequestPresentation{}
		if last.Decode(proposal) != nil || msg.Decode(request) != nil {
			return false
		}

		return reflect.DeepEqual(request.Formats, proposal.Formats)

	case PresentationMsgTypeV2, PresentationMsgTypeV3:
		request, presentation := &RequestPresentation{}, &Presentation{}
		if last.Decode(request) != nil || msg.Decode(presentation) != nil {
			return false
		}

		return reflect.DeepEqual(presentation.Formats, request.Formats)

	default:
		return false
	}
}

// eventForType maps a protocol message type to its transition event, the role
// of the receiving side and whether a controller decision is needed.
func eventForType(msgType string) (exchange.EventName, string, bool, error) {
	switch msgType {
	case ProposePresentationMsgTypeV2, ProposePresentationMsgTypeV3:
		return eventPropose, RoleVerifier, true, nil
	case RequestPresentationMsgTypeV2, RequestPresentationMsgTypeV3:
		return eventRequest, RoleProver, true, nil
	case PresentationMsgTypeV2, PresentationMsgTypeV3:
		return eventPresentation, RoleVerifier, true, nil
	case AckMsgTypeV2, AckMsgTypeV3:
		return eventAck, RoleProver, false, nil
	case ProblemReportMsgTypeV2, ProblemReportMsgTypeV3:
		return exchange.EventProblemReport, RoleVerifier, false, nil
	default:
		return "", "", false, fmt.Errorf("presentproof: unrecognized message type %s", msgType)
	}
}
