// Package graph holds the editor-side collaborators of the sync layer: the
// project graph with its mutation-event stream, the exporter that serializes
// it for viewers, and the warnings store viewers write into.
package graph

import "encoding/json"

// PortTypeSignal is the port type that carries pulses rather than values.
const PortTypeSignal = "signal"

// Port is a declared input or output on a node.
type Port struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"`
}

// Node is one node instance inside a component graph.
type Node struct {
	ID         string                     `json:"id"`
	Type       string                     `json:"type"`
	Label      string                     `json:"label,omitempty"`
	ParentID   string                     `json:"parent,omitempty"`
	Parameters map[string]json.RawMessage `json:"parameters,omitempty"`
	Ports      []Port                     `json:"ports,omitempty"`
	// DynamicPorts are reported by a running viewer, not authored.
	DynamicPorts []Port `json:"dynamicports,omitempty"`
}

// Port returns the authored or dynamic port with the given name.
func (n *Node) Port(name string) (Port, bool) {
	for _, port := range n.Ports {
		if port.Name == name {
			return port, true
		}
	}
	for _, port := range n.DynamicPorts {
		if port.Name == name {
			return port, true
		}
	}
	return Port{}, false
}

// Connection links an output port to an input port.
type Connection struct {
	FromID       string `json:"fromId"`
	FromProperty string `json:"fromProperty"`
	ToID         string `json:"toId"`
	ToProperty   string `json:"toProperty"`
}

// ID is the synthetic key used for pulses.
func (c Connection) ID() string {
	return c.FromID + c.FromProperty + c.ToID + c.ToProperty
}

// SourcePortID is the synthetic key viewers report connection values under.
func (c Connection) SourcePortID() string {
	return c.FromID + c.FromProperty
}

// Component is a named graph.
type Component struct {
	Name        string                     `json:"name"`
	Nodes       []*Node                    `json:"nodes"`
	Connections []Connection               `json:"connections"`
	Metadata    map[string]json.RawMessage `json:"metadata,omitempty"`
}

// Node returns the node with id.
func (c *Component) Node(id string) (*Node, bool) {
	for _, node := range c.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return nil, false
}

// Variant is a named parameter preset for a node type.
type Variant struct {
	TypeName   string                     `json:"typename"`
	Name       string                     `json:"name"`
	Parameters map[string]json.RawMessage `json:"parameters,omitempty"`
}

// Key identifies a variant.
func (v Variant) Key() string {
	return v.TypeName + "/" + v.Name
}

// ProjectData is the on-disk and in-memory shape of a project.
type ProjectData struct {
	Name          string                     `json:"name"`
	RootComponent string                     `json:"rootComponent,omitempty"`
	Components    []*Component               `json:"components"`
	Variants      []Variant                  `json:"variants,omitempty"`
	Settings      map[string]json.RawMessage `json:"settings,omitempty"`
	Metadata      map[string]json.RawMessage `json:"metadata,omitempty"`
}
