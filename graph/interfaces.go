package graph

import (
	"encoding/json"

	"github.com/slighter12/graph-livesync/eventbus"
)

// Model is the view of the project the sync layer reads and mutates on
// behalf of viewers.
type Model interface {
	Events() *eventbus.Bus[Topic]
	HasNode(componentName, nodeID string) bool
	FindNode(nodeID string) (string, Node, bool)
	FindConnection(connectionID string) (string, Connection, bool)
	PortType(nodeID, port string) (string, bool)
	SelectNode(nodeID string) bool
	SetInstancePorts(nodeID string, ports []Port) bool
	SetComponentMetadata(componentName, key string, data json.RawMessage) bool
	SetProjectMetadata(key string, data json.RawMessage)
}

// Exporter serializes the project or a single item of it.
type Exporter interface {
	ExportProject() ([]byte, error)
	ExportComponent(name string) (json.RawMessage, error)
	ExportNode(componentName, nodeID string) (json.RawMessage, error)
	ExportConnection(conn Connection) (json.RawMessage, error)
	ExportRouterIndex() (json.RawMessage, error)
}

// Warnings stores warnings raised against nodes.
type Warnings interface {
	SetWarning(ref WarningRef, payload json.RawMessage)
	ClearWarning(ref WarningRef) bool
	ClearWarningsWithKey(key string) int
}

var (
	_ Model    = (*Project)(nil)
	_ Exporter = (*JSONExporter)(nil)
	_ Warnings = (*WarningStore)(nil)
)
