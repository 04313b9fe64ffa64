package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/inspector"
	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/modules"
	"github.com/slighter12/graph-livesync/nodelibrary"
	"github.com/slighter12/graph-livesync/wire"
)

func (d *Dispatcher) handleRegistered(env wire.Envelope) error {
	if env.Type != wire.RoleViewer {
		logger.Info("Registered with relay", "role", string(env.Type), "client_id", env.ClientID)
		return nil
	}
	if env.ClientID == "" {
		return errors.New("viewer registration without client id")
	}
	logger.Info("Viewer registered", "client_id", env.ClientID)

	if d.deps.Warnings != nil {
		d.deps.Warnings.ClearWarningsWithKey(graph.WarningKeyViewer)
	}
	enabled := d.deps.DebuggingEnabled != nil && d.deps.DebuggingEnabled()
	if err := d.sendContent(wire.CmdDebuggingEnabled, env.ClientID, debuggingContent{Enabled: enabled}); err != nil {
		return err
	}
	d.deps.Exports.AddClient(env.ClientID)
	d.deps.Exports.Export(env.ClientID)
	return nil
}

func (d *Dispatcher) handleDisconnect(env wire.Envelope) error {
	logger.Info("Viewer disconnected", "client_id", env.ClientID)
	d.deps.Library.Disconnect(env.ClientID)
	d.deps.Library.UpdateIndex(false)
	d.deps.Exports.ForgetClient(env.ClientID)
	d.deps.Telemetry.Reset()
	return nil
}

func (d *Dispatcher) handleSelect(env wire.Envelope) error {
	var content selectContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	if !d.deps.Model.SelectNode(content.NodeID) {
		logger.Debug("Select for unknown node", "node_id", content.NodeID)
	}
	return nil
}

func (d *Dispatcher) handleInstancePorts(env wire.Envelope) error {
	var content instancePortsContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	if !d.deps.Model.SetInstancePorts(content.NodeID, content.Ports) {
		logger.Debug("Instance ports for unknown node", "node_id", content.NodeID)
	}
	return nil
}

func (d *Dispatcher) handleConnectionDebugPulse(env wire.Envelope) error {
	var content pulseContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	d.deps.Telemetry.SetConnectionsToPulse(content.ConnectionsToPulse)
	return nil
}

func (d *Dispatcher) handleDebugInspectorValues(env wire.Envelope) error {
	var content inspectorValuesContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	d.deps.Telemetry.SetInspectorValues(content.Inspectors)
	return nil
}

func (d *Dispatcher) handleConnectionValue(env wire.Envelope) error {
	var content connectionValueContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	_, conn, ok := d.deps.Model.FindConnection(content.ConnectionID)
	if !ok {
		logger.Debug("Connection value for unknown connection", "connection_id", content.ConnectionID)
		return nil
	}
	d.deps.Telemetry.SetConnectionValue(conn, content.Value)
	return nil
}

func (d *Dispatcher) handleShowWarning(env wire.Envelope) error {
	var content warningContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	ref, ok := d.resolveWarning(content)
	if !ok {
		return nil
	}
	d.deps.Warnings.SetWarning(ref, content.Warning)
	return nil
}

func (d *Dispatcher) handleClearWarnings(env wire.Envelope) error {
	var content warningContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	ref, ok := d.resolveWarning(content)
	if !ok {
		return nil
	}
	d.deps.Warnings.ClearWarning(ref)
	return nil
}

// resolveWarning maps a viewer warning onto a node that still exists.
func (d *Dispatcher) resolveWarning(content warningContent) (graph.WarningRef, bool) {
	if d.deps.Warnings == nil || !d.deps.Model.HasNode(content.ComponentName, content.NodeID) {
		logger.Debug("Warning for unresolved node", "component", content.ComponentName, "node_id", content.NodeID)
		return graph.WarningRef{}, false
	}
	key := content.Key
	if key == "" {
		key = graph.WarningKeyViewer
	}
	return graph.WarningRef{Component: content.ComponentName, NodeID: content.NodeID, Key: key}, true
}

func (d *Dispatcher) handleNodeLibrary(env wire.Envelope) error {
	raw, err := env.ContentJSON()
	if err != nil {
		return err
	}
	lib, err := nodelibrary.Decode(raw)
	if err != nil {
		return err
	}
	d.deps.Library.Import(env.ClientID, env.RuntimeType, lib)
	d.deps.Library.UpdateIndex(false)
	return nil
}

func (d *Dispatcher) handleSendToOtherClients(env wire.Envelope) error {
	raw, err := env.ContentJSON()
	if err != nil && !errors.Is(err, wire.ErrNoContent) {
		return err
	}
	for _, id := range d.deps.Exports.KnownClients() {
		if id == env.ClientID {
			continue
		}
		relayed := relayedContent{ClientID: env.ClientID, Content: raw}
		if err := d.sendContent(wire.CmdMessageFromOtherClient, id, relayed); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handleGetModules(env wire.Envelope) error {
	target := env.ClientID
	scanner := d.deps.Modules
	go func() {
		found := []modules.Module{}
		if scanner != nil {
			result, err := scanner.Scan(d.ctx)
			if err != nil {
				logger.Error("Module scan failed", "client_id", target, "error", err)
			} else {
				found = result
			}
		}
		d.deps.Poster.Post(func() {
			if err := d.sendContent(wire.CmdNoodlModules, target, modulesContent{Modules: found}); err != nil {
				logger.Error("Failed to send modules", "client_id", target, "error", err)
			}
		})
	}()
	return nil
}

func (d *Dispatcher) handleComponentMetadata(env wire.Envelope) error {
	var content metadataContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	if content.Key == "" {
		return errors.New("component metadata without key")
	}
	if !d.deps.Model.SetComponentMetadata(content.ComponentName, content.Key, content.Data) {
		logger.Debug("Metadata for unknown component", "component", content.ComponentName)
	}
	return nil
}

func (d *Dispatcher) handleProjectMetadata(env wire.Envelope) error {
	var content metadataContent
	if err := env.DecodeContent(&content); err != nil {
		return err
	}
	if content.Key == "" {
		return errors.New("project metadata without key")
	}
	d.deps.Model.SetProjectMetadata(content.Key, content.Data)
	return nil
}

func (d *Dispatcher) handleRefresh(env wire.Envelope) error {
	logger.Debug("Viewer refreshed", "client_id", env.ClientID)
	d.deps.Telemetry.Reset()
	return nil
}

type debuggingContent struct {
	Enabled bool `json:"enabled"`
}

type selectContent struct {
	NodeID string `json:"nodeId"`
}

type instancePortsContent struct {
	NodeID string       `json:"nodeid"`
	Ports  []graph.Port `json:"ports"`
}

type pulseContent struct {
	ConnectionsToPulse []string `json:"connectionsToPulse"`
}

type inspectorValuesContent struct {
	Inspectors []inspector.Value `json:"inspectors"`
}

type connectionValueContent struct {
	ConnectionID string          `json:"connectionId"`
	Value        json.RawMessage `json:"value"`
}

type warningContent struct {
	ComponentName string          `json:"componentName"`
	NodeID        string          `json:"nodeId"`
	Key           string          `json:"key"`
	Warning       json.RawMessage `json:"warning"`
}

type relayedContent struct {
	ClientID string          `json:"clientId"`
	Content  json.RawMessage `json:"content,omitempty"`
}

type modulesContent struct {
	Modules []modules.Module `json:"modules"`
}

type metadataContent struct {
	ComponentName string          `json:"componentName"`
	Key           string          `json:"key"`
	Data          json.RawMessage `json:"data"`
}
