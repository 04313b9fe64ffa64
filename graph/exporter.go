package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Node types that feed the router index.
const (
	NodeTypePage   = "Page"
	NodeTypeRouter = "Router"
	PagePathParam  = "url"
)

// RouterIndex lists the navigable pages of a project for viewer routers.
type RouterIndex struct {
	Routers []RouterRef `json:"routers"`
	Pages   []PageRoute `json:"pages"`
}

// RouterRef points at a router node.
type RouterRef struct {
	Component string `json:"component"`
	NodeID    string `json:"nodeId"`
}

// PageRoute maps a page component to its path.
type PageRoute struct {
	Component string `json:"component"`
	Path      string `json:"path"`
}

// JSONExporter serializes a Project into the payload viewers consume.
// Output is deterministic for an unchanged project so callers can compare
// serialized payloads for equality.
type JSONExporter struct {
	project *Project
}

// NewJSONExporter binds an exporter to project.
func NewJSONExporter(project *Project) *JSONExporter {
	return &JSONExporter{project: project}
}

// ExportProject serializes the whole project.
func (e *JSONExporter) ExportProject() ([]byte, error) {
	data := e.project.Snapshot()
	sort.SliceStable(data.Components, func(i, j int) bool {
		return data.Components[i].Name < data.Components[j].Name
	})
	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("export project: %w", err)
	}
	return out, nil
}

// ExportComponent serializes one component.
func (e *JSONExporter) ExportComponent(name string) (json.RawMessage, error) {
	component, ok := e.project.Component(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return json.Marshal(component)
}

// ExportNode serializes one node of a component.
func (e *JSONExporter) ExportNode(componentName, nodeID string) (json.RawMessage, error) {
	component, ok := e.project.Component(componentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, componentName)
	}
	node, ok := component.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	return json.Marshal(node)
}

// ExportConnection serializes one connection.
func (e *JSONExporter) ExportConnection(conn Connection) (json.RawMessage, error) {
	return json.Marshal(conn)
}

// ExportRouterIndex derives the router index from Page and Router nodes.
func (e *JSONExporter) ExportRouterIndex() (json.RawMessage, error) {
	return json.Marshal(BuildRouterIndex(e.project.Snapshot()))
}

// BuildRouterIndex collects routers and page routes, both sorted.
func BuildRouterIndex(data ProjectData) RouterIndex {
	index := RouterIndex{Routers: []RouterRef{}, Pages: []PageRoute{}}
	for _, component := range data.Components {
		for _, node := range component.Nodes {
			switch node.Type {
			case NodeTypeRouter:
				index.Routers = append(index.Routers, RouterRef{Component: component.Name, NodeID: node.ID})
			case NodeTypePage:
				index.Pages = append(index.Pages, PageRoute{Component: component.Name, Path: pagePath(component.Name, node)})
			}
		}
	}
	sort.Slice(index.Routers, func(i, j int) bool {
		if index.Routers[i].Component != index.Routers[j].Component {
			return index.Routers[i].Component < index.Routers[j].Component
		}
		return index.Routers[i].NodeID < index.Routers[j].NodeID
	})
	sort.Slice(index.Pages, func(i, j int) bool {
		return index.Pages[i].Path < index.Pages[j].Path
	})
	return index
}

func pagePath(componentName string, node *Node) string {
	if raw, ok := node.Parameters[PagePathParam]; ok {
		var path string
		if err := json.Unmarshal(raw, &path); err == nil && strings.TrimSpace(path) != "" {
			return path
		}
	}
	slug := strings.ToLower(strings.ReplaceAll(strings.Trim(componentName, "/ "), " ", "-"))
	return "/" + slug
}
