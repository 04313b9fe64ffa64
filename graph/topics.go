package graph

import "encoding/json"

// Topic enumerates the project's mutation events.
type Topic string

const (
	TopicComponentAdded       Topic = "componentAdded"
	TopicComponentRemoved     Topic = "componentRemoved"
	TopicComponentRenamed     Topic = "componentRenamed"
	TopicNodeAdded            Topic = "nodeAdded"
	TopicNodeRemoved          Topic = "nodeRemoved"
	TopicNodeAttached         Topic = "nodeAttached"
	TopicNodeDetached         Topic = "nodeDetached"
	TopicConnectionAdded      Topic = "connectionAdded"
	TopicConnectionRemoved    Topic = "connectionRemoved"
	TopicParameterChanged     Topic = "parameterChanged"
	TopicInstancePortsChanged Topic = "instancePortsChanged"
	TopicVariantChanged       Topic = "variantChanged"
	TopicVariantRemoved       Topic = "variantRemoved"
	TopicSettingsChanged      Topic = "settingsChanged"
	TopicMetadataChanged      Topic = "metadataChanged"
	TopicSelectionChanged     Topic = "selectionChanged"
	TopicInstanceWillChange   Topic = "instanceWillChange"
	TopicInstanceChanged      Topic = "instanceChanged"
)

// ComponentEvent is published for component add/remove/rename.
type ComponentEvent struct {
	Component string
	OldName   string
}

// NodeEvent is published for node add/remove, reparenting and selection.
// For detach events ParentID is the parent the node left.
type NodeEvent struct {
	Component string
	NodeID    string
	NodeType  string
	ParentID  string
}

// ConnectionEvent is published for connection add/remove.
type ConnectionEvent struct {
	Component  string
	Connection Connection
}

// ParameterEvent is published when a node parameter changes.
type ParameterEvent struct {
	Component string
	NodeID    string
	NodeType  string
	Name      string
	Value     json.RawMessage
}

// VariantEvent is published for variant changes.
type VariantEvent struct {
	Variant Variant
}

// SettingEvent is published when a project setting changes.
type SettingEvent struct {
	Key   string
	Value json.RawMessage
}

// MetadataEvent is published when component or project metadata changes.
// Component is empty for project metadata.
type MetadataEvent struct {
	Component string
	Key       string
	Data      json.RawMessage
}
