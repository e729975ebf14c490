/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package engine assembles the messaging stack into a running agent: storage,
// wallet, packager, transports, dispatchers, messenger and the protocol
// services, all wired through one provider.
package engine

import (
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/dispatcher"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/dispatcher/inbound"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/dispatcher/outbound"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/event"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/messenger"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/packager"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/didexchange"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/exchange"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/issuecredential"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/presentproof"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/transport"
	"github.com/aether-id/didcomm-engine/pkg/store/connection"
	"github.com/aether-id/didcomm-engine/pkg/wallet"
)

var logger = log.New("didcomm-engine/framework")

// Engine is the assembled agent. Use New to build one and Start to bring its
// transports up.
type Engine struct {
	storageProvider    storage.Provider
	wallet             wallet.Wallet
	identity           didexchange.Identity
	outboundTransports []transport.OutboundTransport
	inboundTransports  []transport.InboundTransport
	returnRoute        string
	autoAccept         exchange.AutoAccept
	deliveryQueue      outbound.DeliveryQueue

	bus         *event.Bus
	sessions    *transport.SessionRegistry
	packager    transport.Packager
	connections *connection.Recorder
	outbound    *outbound.Dispatcher
	messenger   *messenger.Messenger
	registry    *dispatcher.Registry
	receiver    *inbound.MessageReceiver

	didexchange     *didexchange.Service
	issuecredential *issuecredential.Service
	presentproof    *presentproof.Service
}

// Option configures the Engine.
type Option func(*Engine)

// WithStorageProvider sets the storage provider backing all stores. Defaults to
// in-memory storage.
func WithStorageProvider(prov storage.Provider) Option {
	return func(e *Engine) {
		e.storageProvider = prov
	}
}

// WithWallet sets the cryptographic capability. Required.
func WithWallet(w wallet.Wallet) Option {
	return func(e *Engine) {
		e.wallet = w
	}
}

// WithIdentity sets the agent's own connection material.
func WithIdentity(identity didexchange.Identity) Option {
	return func(e *Engine) {
		e.identity = identity
	}
}

// WithOutboundTransports sets the outbound transports, tried in order.
func WithOutboundTransports(transports ...transport.OutboundTransport) Option {
	return func(e *Engine) {
		e.outboundTransports = append(e.outboundTransports, transports...)
	}
}

// WithInboundTransports sets the inbound transports started by Start.
func WithInboundTransports(transports ...transport.InboundTransport) Option {
	return func(e *Engine) {
		e.inboundTransports = append(e.inboundTransports, transports...)
	}
}

// WithTransportReturnRoute sets the ~transport decorator value stamped on
// outbound messages.
func WithTransportReturnRoute(route string) Option {
	return func(e *Engine) {
		e.returnRoute = route
	}
}

// WithAutoAccept sets the auto-accept mode of all protocol services.
func WithAutoAccept(mode exchange.AutoAccept) Option {
	return func(e *Engine) {
		e.autoAccept = mode
	}
}

// WithDeliveryQueue sets the queue undeliverable messages are offered to.
func WithDeliveryQueue(q outbound.DeliveryQueue) Option {
	return func(e *Engine) {
		e.deliveryQueue = q
	}
}

// New wires an Engine from its parts. The wallet is the only dependency without
// a default.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{}

	for _, opt := range opts {
		opt(e)
	}

	if e.wallet == nil {
		return nil, errors.New("framework: a wallet is required")
	}

	if e.storageProvider == nil {
		e.storageProvider = mem.NewProvider()
	}

	e.bus = event.NewBus()
	e.sessions = transport.NewSessionRegistry()

	prov := &provider{engine: e}
	e.packager = packager.New(prov)

	var err error

	e.connections, err = connection.NewRecorder(prov)
	if err != nil {
		return nil, fmt.Errorf("framework: %w", err)
	}

	outboundOpts := []outbound.Option{}
	if e.deliveryQueue != nil {
		outboundOpts = append(outboundOpts, outbound.WithDeliveryQueue(e.deliveryQueue))
	}

	e.outbound = outbound.NewDispatcher(prov, outboundOpts...)

	e.messenger, err = messenger.NewMessenger(prov)
	if err != nil {
		return nil, fmt.Errorf("framework: %w", err)
	}

	e.registry = dispatcher.NewRegistry()

	if err := e.buildServices(prov); err != nil {
		return nil, err
	}

	e.receiver = inbound.NewMessageReceiver(prov)

	return e, nil
}

func (e *Engine) buildServices(prov *provider) error {
	var err error

	e.didexchange, err = didexchange.New(prov, didexchange.WithAutoAccept(e.autoAccept))
	if err != nil {
		return fmt.Errorf("framework: %w", err)
	}

	e.registry.Register(e.didexchange,
		didexchange.RequestMsgType,
		didexchange.ResponseMsgType,
		didexchange.CompleteMsgType,
		didexchange.ProblemReportMsgType,
	)

	e.issuecredential, err = issuecredential.New(prov, issuecredential.WithAutoAccept(e.autoAccept))
	if err != nil {
		return fmt.Errorf("framework: %w", err)
	}

	e.registry.Register(e.issuecredential,
		issuecredential.ProposeCredentialMsgTypeV2,
		issuecredential.OfferCredentialMsgTypeV2,
		issuecredential.RequestCredentialMsgTypeV2,
		issuecredential.IssueCredentialMsgTypeV2,
		issuecredential.AckMsgTypeV2,
		issuecredential.ProblemReportMsgTypeV2,
		issuecredential.ProposeCredentialMsgTypeV3,
		issuecredential.OfferCredentialMsgTypeV3,
		issuecredential.RequestCredentialMsgTypeV3,
		issuecredential.IssueCredentialMsgTypeV3,
		issuecredential.AckMsgTypeV3,
		issuecredential.ProblemReportMsgTypeV3,
	)

	e.presentproof, err = presentproof.New(prov, presentproof.WithAutoAccept(e.autoAccept))
	if err != nil {
		return fmt.Errorf("framework: %w", err)
	}

	e.registry.Register(e.presentproof,
		presentproof.ProposePresentationMsgTypeV2,
		presentproof.RequestPresentationMsgTypeV2,
		presentproof.PresentationMsgTypeV2,
		presentproof.AckMsgTypeV2,
		presentproof.ProblemReportMsgTypeV2,
		presentproof.ProposePresentationMsgTypeV3,
		presentproof.RequestPresentationMsgTypeV3,
		presentproof.PresentationMsgTypeV3,
		presentproof.AckMsgTypeV3,
		presentproof.ProblemReportMsgTypeV3,
	)

	return nil
}

// Start brings the transports up. Inbound transports deliver into the engine's
// message receiver from here on.
func (e *Engine) Start() error {
	prov := &provider{engine: e}

	for _, out := range e.outboundTransports {
		if err := out.Start(prov); err != nil {
			return fmt.Errorf("framework: start outbound transport: %w", err)
		}
	}

	for _, in := range e.inboundTransports {
		if err := in.Start(prov); err != nil {
			return fmt.Errorf("framework: start inbound transport %s: %w", in.Endpoint(), err)
		}
	}

	e.resumePending()

	return nil
}

// Close stops the inbound transports and closes all open sessions.
func (e *Engine) Close() error {
	var firstErr error

	for _, in := range e.inboundTransports {
		if err := in.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("framework: stop inbound transport %s: %w", in.Endpoint(), err)
		}
	}

	e.sessions.CloseAll()

	return firstErr
}

// PendingExchanges returns the non-terminal exchange records across all
// protocol services.
func (e *Engine) PendingExchanges() ([]*exchange.Record, error) {
	var pending []*exchange.Record

	for _, query := range []func() ([]*exchange.Record, error){
		e.didexchange.PendingExchanges,
		e.issuecredential.PendingExchanges,
		e.presentproof.PendingExchanges,
	} {
		records, err := query()
		if err != nil {
			return nil, err
		}

		pending = append(pending, records...)
	}

	return pending, nil
}

// resumePending re-drives exchanges a previous run left mid-flight, then logs
// whatever still waits on a peer or a controller decision. A dead peer must not
// keep the engine from starting, so failures are logged, not returned.
func (e *Engine) resumePending() {
	for _, resume := range []struct {
		name string
		fn   func() error
	}{
		{didexchange.Name, e.didexchange.Resume},
		{issuecredential.Name, e.issuecredential.Resume},
		{presentproof.Name, e.presentproof.Resume},
	} {
		if err := resume.fn(); err != nil {
			logger.Warnf("framework: resuming %s exchanges: %v", resume.name, err)
		}
	}

	pending, err := e.PendingExchanges()
	if err != nil {
		logger.Warnf("framework: listing pending exchanges: %v", err)

		return
	}

	for _, record := range pending {
		logger.Infof("framework: %s thread %s pending in state %s",
			record.ProtocolName, record.ThreadID, record.StateName)
	}
}

// DIDExchange returns the connection establishment service.
func (e *Engine) DIDExchange() *didexchange.Service {
	return e.didexchange
}

// IssueCredential returns the issue-credential service.
func (e *Engine) IssueCredential() *issuecredential.Service {
	return e.issuecredential
}

// PresentProof returns the present-proof service.
func (e *Engine) PresentProof() *presentproof.Service {
	return e.presentproof
}

// Messenger returns the threading messenger used by the protocol services.
func (e *Engine) Messenger() service.Messenger {
	return e.messenger
}

// EventBus returns the engine's event bus.
func (e *Engine) EventBus() *event.Bus {
	return e.bus
}

// ConnectionRecorder returns the connection record store.
func (e *Engine) ConnectionRecorder() *connection.Recorder {
	return e.connections
}

// InboundMessageHandler returns the callback transports deliver raw envelopes
// into.
func (e *Engine) InboundMessageHandler() transport.InboundMessageHandler {
	return e.receiver.Handler()
}

// provider adapts the Engine to the Provider interfaces its parts consume.
type provider struct {
	engine *Engine
}

func (p *provider) StorageProvider() storage.Provider { return p.engine.storageProvider }

func (p *provider) Wallet() wallet.Wallet { return p.engine.wallet }

func (p *provider) Packager() transport.Packager { return p.engine.packager }

func (p *provider) OutboundTransports() []transport.OutboundTransport {
	return p.engine.outboundTransports
}

func (p *provider) Sessions() *transport.SessionRegistry { return p.engine.sessions }

func (p *provider) ConnectionLookup() connection.Lookup { return p.engine.connections }

func (p *provider) ConnectionRecorder() *connection.Recorder { return p.engine.connections }

func (p *provider) TransportReturnRoute() string { return p.engine.returnRoute }

func (p *provider) OutboundDispatcher() dispatcher.Outbound { return p.engine.outbound }

func (p *provider) Messenger() service.Messenger { return p.engine.messenger }

func (p *provider) InboundMessenger() service.InboundMessenger { return p.engine.messenger }

func (p *provider) EventBus() *event.Bus { return p.engine.bus }

func (p *provider) ServiceRegistry() *dispatcher.Registry { return p.engine.registry }

func (p *provider) Identity() didexchange.Identity { return p.engine.identity }

func (p *provider) InboundMessageHandler() transport.InboundMessageHandler {
	return p.engine.receiver.Handler()
}
