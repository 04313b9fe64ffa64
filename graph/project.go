package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"sync"

	"github.com/slighter12/graph-livesync/eventbus"
)

var (
	ErrComponentNotFound  = errors.New("component not found")
	ErrComponentExists    = errors.New("component already exists")
	ErrNodeNotFound       = errors.New("node not found")
	ErrNodeExists         = errors.New("node already exists")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrVariantNotFound    = errors.New("variant not found")
)

// Project is an in-memory project graph. Every mutation publishes on
// Events() after the internal lock is released, so subscribers may read the
// project from inside their handler.
type Project struct {
	mu       sync.RWMutex
	data     ProjectData
	selected string
	events   *eventbus.Bus[Topic]
}

// NewProject wraps data. The project takes ownership of data.
func NewProject(data ProjectData) *Project {
	normalize(&data)
	return &Project{
		data:   data,
		events: eventbus.New[Topic](),
	}
}

// LoadProjectFile reads a project JSON document from disk.
func LoadProjectFile(path string) (ProjectData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ProjectData{}, fmt.Errorf("read project: %w", err)
	}
	var data ProjectData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ProjectData{}, fmt.Errorf("parse project %s: %w", path, err)
	}
	normalize(&data)
	return data, nil
}

func normalize(data *ProjectData) {
	if data.Settings == nil {
		data.Settings = map[string]json.RawMessage{}
	}
	if data.Metadata == nil {
		data.Metadata = map[string]json.RawMessage{}
	}
	for _, component := range data.Components {
		if component.Metadata == nil {
			component.Metadata = map[string]json.RawMessage{}
		}
		if component.Nodes == nil {
			component.Nodes = []*Node{}
		}
		if component.Connections == nil {
			component.Connections = []Connection{}
		}
	}
	if data.Components == nil {
		data.Components = []*Component{}
	}
}

// Events is the project's mutation-event stream.
func (p *Project) Events() *eventbus.Bus[Topic] {
	return p.events
}

// Name returns the project name.
func (p *Project) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.Name
}

// Snapshot returns a deep copy of the project data.
func (p *Project) Snapshot() ProjectData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := ProjectData{
		Name:          p.data.Name,
		RootComponent: p.data.RootComponent,
		Components:    make([]*Component, 0, len(p.data.Components)),
		Variants:      make([]Variant, 0, len(p.data.Variants)),
		Settings:      maps.Clone(p.data.Settings),
		Metadata:      maps.Clone(p.data.Metadata),
	}
	for _, component := range p.data.Components {
		out.Components = append(out.Components, cloneComponent(component))
	}
	for _, variant := range p.data.Variants {
		variant.Parameters = maps.Clone(variant.Parameters)
		out.Variants = append(out.Variants, variant)
	}
	return out
}

// ComponentNames returns component names sorted.
func (p *Project) ComponentNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.data.Components))
	for _, component := range p.data.Components {
		names = append(names, component.Name)
	}
	sort.Strings(names)
	return names
}

// Component returns a copy of the named component.
func (p *Project) Component(name string) (*Component, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	component := p.componentLocked(name)
	if component == nil {
		return nil, false
	}
	return cloneComponent(component), true
}

// HasNode reports whether nodeID exists inside the named component.
func (p *Project) HasNode(componentName, nodeID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	component := p.componentLocked(componentName)
	if component == nil {
		return false
	}
	_, ok := component.Node(nodeID)
	return ok
}

// FindNode searches every component for nodeID.
func (p *Project) FindNode(nodeID string) (string, Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	component, node := p.findNodeLocked(nodeID)
	if node == nil {
		return "", Node{}, false
	}
	return component.Name, *cloneNode(node), true
}

// FindConnection locates a connection by its synthetic id.
func (p *Project) FindConnection(connectionID string) (string, Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, component := range p.data.Components {
		for _, conn := range component.Connections {
			if conn.ID() == connectionID {
				return component.Name, conn, true
			}
		}
	}
	return "", Connection{}, false
}

// PortType returns the declared type of a port on nodeID.
func (p *Project) PortType(nodeID, port string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, node := p.findNodeLocked(nodeID)
	if node == nil {
		return "", false
	}
	declared, ok := node.Port(port)
	if !ok {
		return "", false
	}
	return declared.Type, true
}

// SelectNode marks nodeID as selected in the editor.
func (p *Project) SelectNode(nodeID string) bool {
	p.mu.Lock()
	component, node := p.findNodeLocked(nodeID)
	if node == nil {
		p.mu.Unlock()
		return false
	}
	p.selected = nodeID
	event := NodeEvent{Component: component.Name, NodeID: node.ID, NodeType: node.Type}
	p.mu.Unlock()

	p.events.Publish(TopicSelectionChanged, event)
	return true
}

// Selected returns the selected node id.
func (p *Project) Selected() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selected
}

// SetInstancePorts stores ports a running viewer computed for nodeID.
func (p *Project) SetInstancePorts(nodeID string, ports []Port) bool {
	p.mu.Lock()
	component, node := p.findNodeLocked(nodeID)
	if node == nil {
		p.mu.Unlock()
		return false
	}
	node.DynamicPorts = slices.Clone(ports)
	event := NodeEvent{Component: component.Name, NodeID: node.ID, NodeType: node.Type}
	p.mu.Unlock()

	p.events.Publish(TopicInstancePortsChanged, event)
	return true
}

// ComponentMetadata returns one metadata value of a component.
func (p *Project) ComponentMetadata(componentName, key string) (json.RawMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	component := p.componentLocked(componentName)
	if component == nil {
		return nil, false
	}
	value, ok := component.Metadata[key]
	return value, ok
}

// SetComponentMetadata sets one metadata value on a component.
func (p *Project) SetComponentMetadata(componentName, key string, data json.RawMessage) bool {
	p.mu.Lock()
	component := p.componentLocked(componentName)
	if component == nil {
		p.mu.Unlock()
		return false
	}
	component.Metadata[key] = data
	p.mu.Unlock()

	p.events.Publish(TopicMetadataChanged, MetadataEvent{Component: componentName, Key: key, Data: data})
	return true
}

// ProjectMetadata returns one project metadata value.
func (p *Project) ProjectMetadata(key string) (json.RawMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.data.Metadata[key]
	return value, ok
}

// SetProjectMetadata sets one project metadata value.
func (p *Project) SetProjectMetadata(key string, data json.RawMessage) {
	p.mu.Lock()
	p.data.Metadata[key] = data
	p.mu.Unlock()

	p.events.Publish(TopicMetadataChanged, MetadataEvent{Key: key, Data: data})
}

// AddComponent adds an empty or pre-populated component.
func (p *Project) AddComponent(component Component) error {
	p.mu.Lock()
	if p.componentLocked(component.Name) != nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentExists, component.Name)
	}
	added := cloneComponent(&component)
	if added.Metadata == nil {
		added.Metadata = map[string]json.RawMessage{}
	}
	p.data.Components = append(p.data.Components, added)
	p.mu.Unlock()

	p.events.Publish(TopicComponentAdded, ComponentEvent{Component: component.Name})
	return nil
}

// RemoveComponent deletes a component.
func (p *Project) RemoveComponent(name string) error {
	p.mu.Lock()
	index := slices.IndexFunc(p.data.Components, func(c *Component) bool { return c.Name == name })
	if index < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	p.data.Components = slices.Delete(p.data.Components, index, index+1)
	p.mu.Unlock()

	p.events.Publish(TopicComponentRemoved, ComponentEvent{Component: name})
	return nil
}

// RenameComponent renames a component.
func (p *Project) RenameComponent(oldName, newName string) error {
	p.mu.Lock()
	component := p.componentLocked(oldName)
	if component == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, oldName)
	}
	if p.componentLocked(newName) != nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentExists, newName)
	}
	component.Name = newName
	if p.data.RootComponent == oldName {
		p.data.RootComponent = newName
	}
	p.mu.Unlock()

	p.events.Publish(TopicComponentRenamed, ComponentEvent{Component: newName, OldName: oldName})
	return nil
}

// AddNode adds node to a component.
func (p *Project) AddNode(componentName string, node Node) error {
	p.mu.Lock()
	component := p.componentLocked(componentName)
	if component == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentName)
	}
	if _, exists := component.Node(node.ID); exists {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}
	component.Nodes = append(component.Nodes, cloneNode(&node))
	p.mu.Unlock()

	p.events.Publish(TopicNodeAdded, NodeEvent{Component: componentName, NodeID: node.ID, NodeType: node.Type, ParentID: node.ParentID})
	return nil
}

// RemoveNode deletes a node and every connection touching it. Connection
// removals are published before the node removal.
func (p *Project) RemoveNode(componentName, nodeID string) error {
	p.mu.Lock()
	component := p.componentLocked(componentName)
	if component == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentName)
	}
	index := slices.IndexFunc(component.Nodes, func(n *Node) bool { return n.ID == nodeID })
	if index < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	removed := component.Nodes[index]
	component.Nodes = slices.Delete(component.Nodes, index, index+1)

	var dropped []Connection
	kept := component.Connections[:0]
	for _, conn := range component.Connections {
		if conn.FromID == nodeID || conn.ToID == nodeID {
			dropped = append(dropped, conn)
			continue
		}
		kept = append(kept, conn)
	}
	component.Connections = kept
	if p.selected == nodeID {
		p.selected = ""
	}
	p.mu.Unlock()

	for _, conn := range dropped {
		p.events.Publish(TopicConnectionRemoved, ConnectionEvent{Component: componentName, Connection: conn})
	}
	p.events.Publish(TopicNodeRemoved, NodeEvent{Component: componentName, NodeID: nodeID, NodeType: removed.Type, ParentID: removed.ParentID})
	return nil
}

// SetParent moves a node under parentID, or to the component root when
// parentID is empty. Leaving a parent publishes a detach before the attach.
func (p *Project) SetParent(componentName, nodeID, parentID string) error {
	p.mu.Lock()
	component := p.componentLocked(componentName)
	if component == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentName)
	}
	node, ok := component.Node(nodeID)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if parentID != "" {
		if _, ok := component.Node(parentID); !ok {
			p.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNodeNotFound, parentID)
		}
	}
	previous := node.ParentID
	node.ParentID = parentID
	nodeType := node.Type
	p.mu.Unlock()

	if previous == parentID {
		return nil
	}
	if previous != "" {
		p.events.Publish(TopicNodeDetached, NodeEvent{Component: componentName, NodeID: nodeID, NodeType: nodeType, ParentID: previous})
	}
	if parentID != "" {
		p.events.Publish(TopicNodeAttached, NodeEvent{Component: componentName, NodeID: nodeID, NodeType: nodeType, ParentID: parentID})
	}
	return nil
}

// AddConnection links two ports inside a component.
func (p *Project) AddConnection(componentName string, conn Connection) error {
	p.mu.Lock()
	component := p.componentLocked(componentName)
	if component == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentName)
	}
	for _, id := range []string{conn.FromID, conn.ToID} {
		if _, ok := component.Node(id); !ok {
			p.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	component.Connections = append(component.Connections, conn)
	p.mu.Unlock()

	p.events.Publish(TopicConnectionAdded, ConnectionEvent{Component: componentName, Connection: conn})
	return nil
}

// RemoveConnection unlinks two ports.
func (p *Project) RemoveConnection(componentName string, conn Connection) error {
	p.mu.Lock()
	component := p.componentLocked(componentName)
	if component == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentName)
	}
	index := slices.Index(component.Connections, conn)
	if index < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, conn.ID())
	}
	component.Connections = slices.Delete(component.Connections, index, index+1)
	p.mu.Unlock()

	p.events.Publish(TopicConnectionRemoved, ConnectionEvent{Component: componentName, Connection: conn})
	return nil
}

// SetParameter sets one node parameter.
func (p *Project) SetParameter(componentName, nodeID, name string, value json.RawMessage) error {
	p.mu.Lock()
	component := p.componentLocked(componentName)
	if component == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentName)
	}
	node, ok := component.Node(nodeID)
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if node.Parameters == nil {
		node.Parameters = map[string]json.RawMessage{}
	}
	node.Parameters[name] = value
	nodeType := node.Type
	p.mu.Unlock()

	p.events.Publish(TopicParameterChanged, ParameterEvent{
		Component: componentName,
		NodeID:    nodeID,
		NodeType:  nodeType,
		Name:      name,
		Value:     value,
	})
	return nil
}

// SetVariant creates or replaces a variant.
func (p *Project) SetVariant(variant Variant) {
	variant.Parameters = maps.Clone(variant.Parameters)
	p.mu.Lock()
	index := slices.IndexFunc(p.data.Variants, func(v Variant) bool { return v.Key() == variant.Key() })
	if index < 0 {
		p.data.Variants = append(p.data.Variants, variant)
	} else {
		p.data.Variants[index] = variant
	}
	p.mu.Unlock()

	p.events.Publish(TopicVariantChanged, VariantEvent{Variant: variant})
}

// RemoveVariant deletes a variant.
func (p *Project) RemoveVariant(typeName, name string) error {
	key := Variant{TypeName: typeName, Name: name}.Key()
	p.mu.Lock()
	index := slices.IndexFunc(p.data.Variants, func(v Variant) bool { return v.Key() == key })
	if index < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrVariantNotFound, key)
	}
	removed := p.data.Variants[index]
	p.data.Variants = slices.Delete(p.data.Variants, index, index+1)
	p.mu.Unlock()

	p.events.Publish(TopicVariantRemoved, VariantEvent{Variant: removed})
	return nil
}

// SetSetting sets one project setting.
func (p *Project) SetSetting(key string, value json.RawMessage) {
	p.mu.Lock()
	p.data.Settings[key] = value
	p.mu.Unlock()

	p.events.Publish(TopicSettingsChanged, SettingEvent{Key: key, Value: value})
}

// Replace swaps the whole project, announcing the switch before and after.
func (p *Project) Replace(data ProjectData) {
	p.events.Publish(TopicInstanceWillChange, nil)

	normalize(&data)
	p.mu.Lock()
	p.data = data
	p.selected = ""
	p.mu.Unlock()

	p.events.Publish(TopicInstanceChanged, nil)
}

func (p *Project) componentLocked(name string) *Component {
	for _, component := range p.data.Components {
		if component.Name == name {
			return component
		}
	}
	return nil
}

func (p *Project) findNodeLocked(nodeID string) (*Component, *Node) {
	for _, component := range p.data.Components {
		if node, ok := component.Node(nodeID); ok {
			return component, node
		}
	}
	return nil, nil
}

func cloneComponent(c *Component) *Component {
	out := &Component{
		Name:        c.Name,
		Nodes:       make([]*Node, 0, len(c.Nodes)),
		Connections: slices.Clone(c.Connections),
		Metadata:    maps.Clone(c.Metadata),
	}
	if out.Connections == nil {
		out.Connections = []Connection{}
	}
	for _, node := range c.Nodes {
		out.Nodes = append(out.Nodes, cloneNode(node))
	}
	return out
}

func cloneNode(n *Node) *Node {
	out := *n
	out.Parameters = maps.Clone(n.Parameters)
	out.Ports = slices.Clone(n.Ports)
	out.DynamicPorts = slices.Clone(n.DynamicPorts)
	return &out
}
