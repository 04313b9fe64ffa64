// Package dispatch routes envelopes received from the relay to the
// components that own the affected state.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/inspector"
	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/modules"
	"github.com/slighter12/graph-livesync/nodelibrary"
	"github.com/slighter12/graph-livesync/runloop"
	"github.com/slighter12/graph-livesync/wire"
)

// ErrUnknownCommand is reported for envelopes no handler accepts.
var ErrUnknownCommand = errors.New("unknown command")

// Sender writes an envelope to the relay.
type Sender interface {
	Send(env wire.Envelope) bool
}

// Library is the viewer capability registry.
type Library interface {
	Import(clientID, runtimeType string, lib nodelibrary.Snapshot)
	Disconnect(clientID string) bool
	UpdateIndex(force bool) bool
}

// Telemetry is the inspector store.
type Telemetry interface {
	SetInspectorValues(values []inspector.Value)
	SetConnectionsToPulse(ids []string)
	SetConnectionValue(conn graph.Connection, value json.RawMessage)
	Reset()
}

// Exports tracks viewers that receive full exports.
type Exports interface {
	AddClient(id string)
	ForgetClient(id string)
	KnownClients() []string
	Export(target string) int
}

// ModuleScanner lists project modules.
type ModuleScanner interface {
	Scan(ctx context.Context) ([]modules.Module, error)
}

// Deps are the collaborators a Dispatcher drives. Modules may be nil, in
// which case module requests are answered with an empty list.
type Deps struct {
	Sender    Sender
	Model     graph.Model
	Warnings  graph.Warnings
	Library   Library
	Telemetry Telemetry
	Exports   Exports
	Modules   ModuleScanner
	Poster    runloop.Poster
	// DebuggingEnabled reports the editor's debugging toggle, resent to
	// every viewer that registers.
	DebuggingEnabled func() bool
}

type handlerFunc func(env wire.Envelope) error

// Dispatcher is owned by the session loop.
type Dispatcher struct {
	deps     Deps
	ctx      context.Context
	handlers map[wire.Command]handlerFunc
}

// New creates a dispatcher. ctx bounds asynchronous work such as module
// scans.
func New(ctx context.Context, deps Deps) *Dispatcher {
	if deps.Poster == nil {
		deps.Poster = runloop.Inline()
	}
	d := &Dispatcher{deps: deps, ctx: ctx}
	d.handlers = map[wire.Command]handlerFunc{
		wire.CmdRegistered:           d.handleRegistered,
		wire.CmdDisconnect:           d.handleDisconnect,
		wire.CmdSelect:               d.handleSelect,
		wire.CmdInstancePorts:        d.handleInstancePorts,
		wire.CmdConnectionDebugPulse: d.handleConnectionDebugPulse,
		wire.CmdDebugInspectorValues: d.handleDebugInspectorValues,
		wire.CmdConnectionValue:      d.handleConnectionValue,
		wire.CmdShowWarning:          d.handleShowWarning,
		wire.CmdClearWarnings:        d.handleClearWarnings,
		wire.CmdNodeLibrary:          d.handleNodeLibrary,
		wire.CmdSendToOtherClients:   d.handleSendToOtherClients,
		wire.CmdGetNoodlModules:      d.handleGetModules,
		wire.CmdComponentMetadata:    d.handleComponentMetadata,
		wire.CmdProjectMetadata:      d.handleProjectMetadata,
		wire.CmdRefresh:              d.handleRefresh,
	}
	return d
}

// Handle processes one envelope. Faults are logged and never stop the
// caller from handling the next envelope.
func (d *Dispatcher) Handle(env wire.Envelope) {
	if err := d.dispatch(env); err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			logger.Warn("Ignoring unknown command", "cmd", string(env.Cmd), "client_id", env.ClientID)
			return
		}
		logger.Warn("Failed to handle command", "cmd", string(env.Cmd), "client_id", env.ClientID, "error", err)
	}
}

func (d *Dispatcher) dispatch(env wire.Envelope) error {
	handler, ok := d.handlers[env.Cmd]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, env.Cmd)
	}
	return handler(env)
}

func (d *Dispatcher) send(env wire.Envelope) bool {
	return d.deps.Sender.Send(env)
}

func (d *Dispatcher) sendContent(cmd wire.Command, target string, content any) error {
	env, err := wire.New(cmd, content)
	if err != nil {
		return err
	}
	env.Target = target
	d.send(env)
	return nil
}
