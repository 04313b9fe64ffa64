package nodelibrary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Descriptor describes one node type a runtime can execute. Everything
// besides the name and runtime tags is carried opaquely in Fields.
type Descriptor struct {
	Name         string
	RuntimeTypes []string
	Fields       map[string]json.RawMessage
}

// HasRuntime reports whether runtimeType tags d.
func (d Descriptor) HasRuntime(runtimeType string) bool {
	return slices.Contains(d.RuntimeTypes, runtimeType)
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := cloneFields(d.Fields)
	if out == nil {
		out = map[string]json.RawMessage{}
	}
	name, _ := json.Marshal(d.Name)
	out["name"] = name
	runtimeTypes := d.RuntimeTypes
	if runtimeTypes == nil {
		runtimeTypes = []string{}
	}
	tags, err := json.Marshal(runtimeTypes)
	if err != nil {
		return nil, err
	}
	out["runtimeTypes"] = tags
	return json.Marshal(out)
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	fields, name, err := splitNamed(data)
	if err != nil {
		return err
	}
	var runtimeTypes []string
	if raw, ok := fields["runtimeTypes"]; ok {
		if err := json.Unmarshal(raw, &runtimeTypes); err != nil {
			return fmt.Errorf("descriptor %q runtimeTypes: %w", name, err)
		}
		delete(fields, "runtimeTypes")
	}
	*d = Descriptor{Name: name, RuntimeTypes: runtimeTypes, Fields: fields}
	return nil
}

// Entry is a named element of the node index or the project settings port
// lists. Entries are merged by name.
type Entry struct {
	Name   string
	Fields map[string]json.RawMessage
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := cloneFields(e.Fields)
	if out == nil {
		out = map[string]json.RawMessage{}
	}
	name, _ := json.Marshal(e.Name)
	out["name"] = name
	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	fields, name, err := splitNamed(data)
	if err != nil {
		return err
	}
	*e = Entry{Name: name, Fields: fields}
	return nil
}

func (e Entry) equal(other Entry) bool {
	if e.Name != other.Name || len(e.Fields) != len(other.Fields) {
		return false
	}
	for key, value := range e.Fields {
		otherValue, ok := other.Fields[key]
		if !ok || !bytes.Equal(compact(value), compact(otherValue)) {
			return false
		}
	}
	return true
}

// Index groups entries shown in the editor's node picker.
type Index struct {
	CoreNodes   []Entry `json:"coreNodes"`
	ModuleNodes []Entry `json:"moduleNodes"`
}

// ProjectSettings carries the settings ports a runtime exposes.
type ProjectSettings struct {
	Ports        []Entry `json:"ports"`
	DynamicPorts []Entry `json:"dynamicports"`
}

// Snapshot is a node library: either one client's report or the merged
// canonical view.
type Snapshot struct {
	NodeTypes       []Descriptor    `json:"nodetypes"`
	NodeIndex       Index           `json:"nodeIndex"`
	ProjectSettings ProjectSettings `json:"projectsettings"`
}

// Decode parses a reported library. Missing buckets become empty lists and
// descriptors without a name are dropped.
func Decode(raw []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode node library: %w", err)
	}
	snapshot.NodeTypes = slices.DeleteFunc(snapshot.NodeTypes, func(d Descriptor) bool { return d.Name == "" })
	snapshot.ensureBuckets()
	return snapshot, nil
}

// Names returns the descriptor names in report order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.NodeTypes))
	for _, descriptor := range s.NodeTypes {
		names = append(names, descriptor.Name)
	}
	return names
}

// Descriptor returns the descriptor named name.
func (s Snapshot) Descriptor(name string) (Descriptor, bool) {
	for _, descriptor := range s.NodeTypes {
		if descriptor.Name == name {
			return descriptor, true
		}
	}
	return Descriptor{}, false
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		NodeTypes: make([]Descriptor, 0, len(s.NodeTypes)),
		NodeIndex: Index{
			CoreNodes:   cloneEntries(s.NodeIndex.CoreNodes),
			ModuleNodes: cloneEntries(s.NodeIndex.ModuleNodes),
		},
		ProjectSettings: ProjectSettings{
			Ports:        cloneEntries(s.ProjectSettings.Ports),
			DynamicPorts: cloneEntries(s.ProjectSettings.DynamicPorts),
		},
	}
	for _, descriptor := range s.NodeTypes {
		out.NodeTypes = append(out.NodeTypes, Descriptor{
			Name:         descriptor.Name,
			RuntimeTypes: slices.Clone(descriptor.RuntimeTypes),
			Fields:       cloneFields(descriptor.Fields),
		})
	}
	return out
}

func (s *Snapshot) ensureBuckets() {
	if s.NodeTypes == nil {
		s.NodeTypes = []Descriptor{}
	}
	if s.NodeIndex.CoreNodes == nil {
		s.NodeIndex.CoreNodes = []Entry{}
	}
	if s.NodeIndex.ModuleNodes == nil {
		s.NodeIndex.ModuleNodes = []Entry{}
	}
	if s.ProjectSettings.Ports == nil {
		s.ProjectSettings.Ports = []Entry{}
	}
	if s.ProjectSettings.DynamicPorts == nil {
		s.ProjectSettings.DynamicPorts = []Entry{}
	}
}

func splitNamed(data []byte) (map[string]json.RawMessage, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, "", err
	}
	var name string
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, "", fmt.Errorf("name: %w", err)
		}
		delete(fields, "name")
	}
	return fields, name, nil
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, Entry{Name: entry.Name, Fields: cloneFields(entry.Fields)})
	}
	return out
}

func cloneFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if fields == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		out[key] = slices.Clone(value)
	}
	return out
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
