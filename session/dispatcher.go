package session

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"voicerelay/core"
	"voicerelay/persona"
	"voicerelay/pipeline"
	"voicerelay/protocol"
	"voicerelay/store"
)

// Conn is the message-oriented connection the dispatcher serves.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Store is the slice of the persistent store the dispatcher needs.
type Store interface {
	Resolve(ctx context.Context, callerAddress string) (store.Identity, error)
	SelectPersona(ctx context.Context, identityID int64, persona string) error
	Turns(ctx context.Context, identityID int64, persona string) ([]core.Message, error)
}

// TurnRunner processes one audio turn, always yielding a sendable result.
type TurnRunner interface {
	Run(ctx context.Context, identity store.Identity, pers persona.Persona, inbound []byte) pipeline.Result
}

// Dispatcher owns one client connection. It classifies each inbound
// message as an audio turn or a control message, routes it, and sends
// exactly one outbound message per inbound one. Processing is strictly
// sequential: the next message is not read until the previous response
// has been written, so the returned history always reflects the latest
// turn on this connection.
type Dispatcher struct {
	conn          Conn
	callerAddress string
	store         Store
	registry      *persona.Registry
	runner        TurnRunner
	logger        *core.Logger

	writeMu sync.Mutex // protects conn writes
}

// NewDispatcher creates a dispatcher for one accepted connection.
func NewDispatcher(
	conn Conn,
	callerAddress string,
	st Store,
	registry *persona.Registry,
	runner TurnRunner,
	logger *core.Logger,
) *Dispatcher {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Dispatcher{
		conn:          conn,
		callerAddress: callerAddress,
		store:         st,
		registry:      registry,
		runner:        runner,
		logger:        logger,
	}
}

// Run serves the connection until the transport closes or ctx is
// cancelled. Collaborator and store failures never end the loop; only
// transport-level errors do.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("session started")
	defer d.logger.Info("session ended")

	for {
		messageType, data, err := d.conn.ReadMessage()
		if err != nil {
			d.logger.With(map[string]interface{}{"error": err}).Debug("connection closed")
			return
		}
		if ctx.Err() != nil {
			return
		}

		resp := d.handleMessage(ctx, messageType, data)
		if err := d.send(resp); err != nil {
			d.logger.With(map[string]interface{}{"error": err}).Warn("write failed, ending session")
			return
		}
	}
}

// handleMessage produces the single response for one inbound message.
// Identity is re-resolved per message, so a persona switch made through
// another connection from the same caller takes effect on the next turn.
func (d *Dispatcher) handleMessage(ctx context.Context, messageType int, data []byte) protocol.Response {
	identity, err := d.store.Resolve(ctx, d.callerAddress)
	if err != nil {
		d.logger.With(map[string]interface{}{"error": err}).Error("identity resolution failed")
		return protocol.Response{Text: core.ApologyText, History: []core.Message{}}
	}

	inbound, err := protocol.ClassifyInbound(messageType, data)
	if err != nil {
		d.logger.With(map[string]interface{}{"error": err}).Warn("unparseable control message")
		return d.historyResponse(ctx, identity, identity.SelectedPersona)
	}

	switch inbound.Kind {
	case protocol.InboundAudio:
		return d.handleAudio(ctx, identity, inbound.Audio)
	case protocol.InboundGetHistory:
		return d.historyResponse(ctx, identity, identity.SelectedPersona)
	default:
		return d.handleSelectPersona(ctx, identity, inbound.Control.Character)
	}
}

// handleAudio runs one turn through the pipeline under the caller's
// current persona.
func (d *Dispatcher) handleAudio(ctx context.Context, identity store.Identity, audioData []byte) protocol.Response {
	pers, ok, err := d.registry.Lookup(ctx, identity.SelectedPersona)
	if err != nil {
		d.logger.With(map[string]interface{}{"error": err}).Error("persona lookup failed")
		return protocol.Response{Text: core.ApologyText, History: []core.Message{}}
	}
	if !ok {
		// Selection points at a persona that no longer exists; fall back
		// to the default rather than failing the turn.
		pers, _, err = d.registry.Lookup(ctx, d.registry.Default())
		if err != nil {
			d.logger.With(map[string]interface{}{"error": err}).Error("default persona lookup failed")
			return protocol.Response{Text: core.ApologyText, History: []core.Message{}}
		}
	}

	result := d.runner.Run(ctx, identity, pers, audioData)
	if result.Failure != "" {
		d.logger.With(map[string]interface{}{"failure": string(result.Failure)}).Warn("turn degraded")
	}

	return protocol.Response{
		Text:    result.Text,
		Audio:   protocol.EncodeAudio(result.Audio),
		History: result.History,
	}
}

// handleSelectPersona validates and persists a persona selection, then
// returns the history for the now-current persona. An unknown persona
// name leaves the existing selection untouched; it is never a hard error.
func (d *Dispatcher) handleSelectPersona(ctx context.Context, identity store.Identity, requested string) protocol.Response {
	if requested == "" {
		requested = d.registry.Default()
	}

	effective := identity.SelectedPersona
	if !d.registry.Exists(requested) {
		d.logger.With(map[string]interface{}{"persona": requested}).Warn("unknown persona requested, keeping current selection")
	} else {
		if err := d.store.SelectPersona(ctx, identity.ID, requested); err != nil {
			d.logger.With(map[string]interface{}{"error": err}).Error("persona selection failed")
		} else {
			effective = requested
		}
	}

	return d.historyResponse(ctx, identity, effective)
}

// historyResponse builds the control-message reply: the persisted turns
// for (identity, persona), no mutation.
func (d *Dispatcher) historyResponse(ctx context.Context, identity store.Identity, personaName string) protocol.Response {
	turns, err := d.store.Turns(ctx, identity.ID, personaName)
	if err != nil {
		d.logger.With(map[string]interface{}{"error": err}).Error("history read failed")
		turns = []core.Message{}
	}
	return protocol.Response{Type: "conversation", History: turns}
}

func (d *Dispatcher) send(resp protocol.Response) error {
	data, err := protocol.MarshalResponse(resp)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.WriteMessage(websocket.TextMessage, data)
}
