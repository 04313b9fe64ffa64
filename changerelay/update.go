package changerelay

import (
	"encoding/json"

	"github.com/slighter12/graph-livesync/graph"
)

// UpdateRouterIndexChanged is the modelUpdate type carrying a fresh router
// index.
const UpdateRouterIndexChanged = "routerIndexChanged"

// Update is the content of a modelUpdate envelope. Type names the change;
// the other fields are set as the change requires.
type Update struct {
	Type           string          `json:"type"`
	ComponentName  string          `json:"componentName,omitempty"`
	OldName        string          `json:"oldName,omitempty"`
	NewName        string          `json:"newName,omitempty"`
	NodeID         string          `json:"nodeId,omitempty"`
	ParentID       string          `json:"parentId,omitempty"`
	ParameterName  string          `json:"parameterName,omitempty"`
	ParameterValue json.RawMessage `json:"parameterValue,omitempty"`
	Key            string          `json:"key,omitempty"`
	Model          json.RawMessage `json:"model,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// watchedTopics are relayed to viewers as modelUpdate diffs.
var watchedTopics = []graph.Topic{
	graph.TopicComponentAdded,
	graph.TopicComponentRemoved,
	graph.TopicComponentRenamed,
	graph.TopicNodeAdded,
	graph.TopicNodeRemoved,
	graph.TopicNodeAttached,
	graph.TopicNodeDetached,
	graph.TopicConnectionAdded,
	graph.TopicConnectionRemoved,
	graph.TopicParameterChanged,
	graph.TopicInstancePortsChanged,
	graph.TopicVariantChanged,
	graph.TopicVariantRemoved,
	graph.TopicSettingsChanged,
	graph.TopicMetadataChanged,
	graph.TopicInstanceWillChange,
}

// buildUpdate converts one model event to its diff. ok is false for events
// that have no diff form.
func (r *Relay) buildUpdate(topic graph.Topic, payload any) (Update, bool, error) {
	update := Update{Type: string(topic)}
	var err error
	switch ev := payload.(type) {
	case graph.ComponentEvent:
		switch topic {
		case graph.TopicComponentAdded:
			update.ComponentName = ev.Component
			update.Model, err = r.exporter.ExportComponent(ev.Component)
		case graph.TopicComponentRemoved:
			update.ComponentName = ev.Component
		case graph.TopicComponentRenamed:
			update.OldName = ev.OldName
			update.NewName = ev.Component
		}
	case graph.NodeEvent:
		update.ComponentName = ev.Component
		update.NodeID = ev.NodeID
		update.ParentID = ev.ParentID
		if topic == graph.TopicNodeAdded || topic == graph.TopicInstancePortsChanged {
			update.Model, err = r.exporter.ExportNode(ev.Component, ev.NodeID)
		}
	case graph.ConnectionEvent:
		update.ComponentName = ev.Component
		update.Model, err = r.exporter.ExportConnection(ev.Connection)
	case graph.ParameterEvent:
		update.ComponentName = ev.Component
		update.NodeID = ev.NodeID
		update.ParameterName = ev.Name
		update.ParameterValue = ev.Value
	case graph.VariantEvent:
		if topic == graph.TopicVariantRemoved {
			update.Key = ev.Variant.Key()
		} else {
			update.Model, err = json.Marshal(ev.Variant)
		}
	case graph.SettingEvent:
		update.Key = ev.Key
		update.Data = ev.Value
	case graph.MetadataEvent:
		update.ComponentName = ev.Component
		update.Key = ev.Key
		update.Data = ev.Data
	default:
		return Update{}, false, nil
	}
	if err != nil {
		return Update{}, false, err
	}
	return update, true, nil
}

// affectsRouterIndex reports whether the event can change the router
// index.
func affectsRouterIndex(topic graph.Topic, payload any) bool {
	switch topic {
	case graph.TopicComponentAdded, graph.TopicComponentRemoved, graph.TopicComponentRenamed:
		return true
	case graph.TopicNodeAdded, graph.TopicNodeRemoved:
		ev, ok := payload.(graph.NodeEvent)
		return ok && (ev.NodeType == graph.NodeTypePage || ev.NodeType == graph.NodeTypeRouter)
	case graph.TopicParameterChanged:
		ev, ok := payload.(graph.ParameterEvent)
		return ok && ev.NodeType == graph.NodeTypePage && ev.Name == graph.PagePathParam
	default:
		return false
	}
}
