package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slighter12/graph-livesync/changerelay"
	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/inspector"
	"github.com/slighter12/graph-livesync/modules"
	"github.com/slighter12/graph-livesync/nodelibrary"
	"github.com/slighter12/graph-livesync/runloop"
	"github.com/slighter12/graph-livesync/wire"
)

type recordingSender struct {
	sent []wire.Envelope
}

func (s *recordingSender) Send(env wire.Envelope) bool {
	s.sent = append(s.sent, env)
	return true
}

func (s *recordingSender) byCmd(cmd wire.Command) []wire.Envelope {
	var out []wire.Envelope
	for _, env := range s.sent {
		if env.Cmd == cmd {
			out = append(out, env)
		}
	}
	return out
}

type stubScanner struct {
	modules []modules.Module
	err     error
}

func (s stubScanner) Scan(context.Context) ([]modules.Module, error) {
	return s.modules, s.err
}

type harness struct {
	dispatcher *Dispatcher
	sender     *recordingSender
	project    *graph.Project
	warnings   *graph.WarningStore
	sink       *graph.LoggingIndexSink
	registry   *nodelibrary.Registry
	store      *inspector.Store
	relay      *changerelay.Relay
	posted     chan func()
	debugging  bool
}

func newHarness(t *testing.T, scanner ModuleScanner) *harness {
	t.Helper()
	project := graph.NewProject(graph.ProjectData{
		Name: "demo",
		Components: []*graph.Component{{
			Name: "App",
			Nodes: []*graph.Node{
				{ID: "btn", Type: "Button", Ports: []graph.Port{{Name: "onClick", Type: graph.PortTypeSignal, Direction: "output"}}},
				{ID: "txt", Type: "Text"},
			},
			Connections: []graph.Connection{{FromID: "btn", FromProperty: "onClick", ToID: "txt", ToProperty: "show"}},
		}},
	})
	clk := clock.NewFake(time.Unix(1700000000, 0))
	h := &harness{
		sender:   &recordingSender{},
		project:  project,
		warnings: graph.NewWarningStore(),
		sink:     graph.NewLoggingIndexSink(nil),
		posted:   make(chan func(), 4),
	}
	h.registry = nodelibrary.New(h.sink)
	h.store = inspector.New(clk, runloop.Inline(), project)
	h.relay = changerelay.New(project.Events(), graph.NewJSONExporter(project), h.sender, clk, runloop.Inline())

	poster := runloop.PosterFunc(func(fn func()) bool {
		h.posted <- fn
		return true
	})
	h.dispatcher = New(context.Background(), Deps{
		Sender:           h.sender,
		Model:            project,
		Warnings:         h.warnings,
		Library:          h.registry,
		Telemetry:        h.store,
		Exports:          h.relay,
		Modules:          scanner,
		Poster:           poster,
		DebuggingEnabled: func() bool { return h.debugging },
	})
	return h
}

func envelope(t *testing.T, raw string) wire.Envelope {
	t.Helper()
	envs, err := wire.DecodeFrame(wire.Frame{Data: []byte(raw)})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	return envs[0]
}

func (h *harness) handle(t *testing.T, raw string) {
	t.Helper()
	h.dispatcher.Handle(envelope(t, raw))
}

func libraryContent(names ...string) string {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, fmt.Sprintf(`{"name":%q}`, name))
	}
	return fmt.Sprintf(`{"nodetypes":[%s]}`, strings.Join(quoted, ","))
}

func TestRegisteredViewer(t *testing.T) {
	h := newHarness(t, nil)
	h.debugging = true
	h.warnings.SetWarning(graph.WarningRef{Component: "App", NodeID: "txt", Key: graph.WarningKeyViewer}, json.RawMessage(`"stale"`))
	h.warnings.SetWarning(graph.WarningRef{Component: "App", NodeID: "txt", Key: "editor"}, json.RawMessage(`"keep"`))

	h.handle(t, `{"cmd":"registered","type":"viewer","clientId":"viewerA"}`)

	warnings := h.warnings.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "editor", warnings[0].Ref.Key)

	require.Len(t, h.sender.sent, 2)
	debug := h.sender.sent[0]
	assert.Equal(t, wire.CmdDebuggingEnabled, debug.Cmd)
	assert.Equal(t, "viewerA", debug.Target)
	assert.JSONEq(t, `{"enabled":true}`, string(debug.Content))
	assert.Equal(t, wire.CmdExport, h.sender.sent[1].Cmd)
	assert.Equal(t, "viewerA", h.sender.sent[1].Target)
	assert.Equal(t, []string{"viewerA"}, h.relay.KnownClients())
}

func TestRegisteredEditorIsOnlyLogged(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, `{"cmd":"registered","type":"editor","clientId":"me"}`)
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.relay.KnownClients())
}

func TestDisconnectForgetsViewer(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, `{"cmd":"registered","type":"viewer","clientId":"viewerA"}`)
	h.handle(t, `{"cmd":"nodelibrary","clientId":"viewerA","runtimeType":"browser","content":`+libraryContent("Group")+`}`)
	h.handle(t, `{"cmd":"debuginspectorvalues","content":{"inspectors":[{"id":"n1","value":1}]}}`)

	h.handle(t, `{"cmd":"disconnect","clientId":"viewerA"}`)
	assert.Empty(t, h.registry.Clients())
	assert.Empty(t, h.relay.KnownClients())
	assert.Empty(t, h.store.Values())
	assert.Equal(t, []string{"Group"}, h.registry.NodeNames())
}

func TestModelCommands(t *testing.T) {
	h := newHarness(t, nil)

	h.handle(t, `{"cmd":"select","content":{"nodeId":"txt"}}`)
	assert.Equal(t, "txt", h.project.Selected())

	h.handle(t, `{"cmd":"instanceports","content":{"nodeid":"txt","ports":[{"name":"extra","type":"string"}]}}`)
	_, node, ok := h.project.FindNode("txt")
	require.True(t, ok)
	require.Len(t, node.DynamicPorts, 1)
	assert.Equal(t, "extra", node.DynamicPorts[0].Name)

	h.handle(t, `{"cmd":"componentMetadata","content":{"componentName":"App","key":"layout","data":{"x":1}}}`)
	data, ok := h.project.ComponentMetadata("App", "layout")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(data))

	h.handle(t, `{"cmd":"projectMetadata","content":"{\"key\":\"theme\",\"data\":\"dark\"}"}`)
	data, ok = h.project.ProjectMetadata("theme")
	require.True(t, ok)
	assert.JSONEq(t, `"dark"`, string(data))

	h.handle(t, `{"cmd":"componentMetadata","content":{"componentName":"Missing","key":"k","data":1}}`)
	_, ok = h.project.ComponentMetadata("Missing", "k")
	assert.False(t, ok)
}

func TestTelemetryCommands(t *testing.T) {
	h := newHarness(t, nil)
	conn := graph.Connection{FromID: "btn", FromProperty: "onClick", ToID: "txt", ToProperty: "show"}

	assert.Equal(t, inspector.NotTriggered, h.store.ValueForConnection(conn).State)

	h.handle(t, `{"cmd":"connectiondebugpulse","content":{"connectionsToPulse":["`+conn.ID()+`"]}}`)
	assert.Equal(t, []string{conn.ID()}, h.store.PulsingIDs())

	h.handle(t, `{"cmd":"connectionValue","content":{"connectionId":"`+conn.ID()+`","value":true}}`)
	lookup := h.store.ValueForConnection(conn)
	assert.Equal(t, inspector.Known, lookup.State)

	h.handle(t, `{"cmd":"connectionValue","content":{"connectionId":"nope","value":1}}`)
	_, ok := h.store.InspectorValue("nope")
	assert.False(t, ok)

	h.handle(t, `{"cmd":"refresh","type":"viewer"}`)
	assert.Empty(t, h.store.Values())
	assert.Empty(t, h.store.PulsingIDs())
}

func TestWarnings(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, `{"cmd":"showwarning","content":{"componentName":"App","nodeId":"txt","warning":{"message":"bad"}}}`)
	h.handle(t, `{"cmd":"showwarning","content":{"componentName":"App","nodeId":"ghost","warning":{"message":"lost"}}}`)

	warnings := h.warnings.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, graph.WarningKeyViewer, warnings[0].Ref.Key)

	h.handle(t, `{"cmd":"clearwarnings","content":{"componentName":"App","nodeId":"txt"}}`)
	assert.Empty(t, h.warnings.Warnings())
}

func TestSendToOtherClients(t *testing.T) {
	h := newHarness(t, nil)
	for _, id := range []string{"viewerA", "viewerB", "viewerC"} {
		h.relay.AddClient(id)
	}
	h.handle(t, `{"cmd":"sendToOtherClients","clientId":"viewerB","content":{"hello":"world"}}`)

	relayed := h.sender.byCmd(wire.CmdMessageFromOtherClient)
	require.Len(t, relayed, 2)
	assert.Equal(t, "viewerA", relayed[0].Target)
	assert.Equal(t, "viewerC", relayed[1].Target)
	assert.JSONEq(t, `{"clientId":"viewerB","content":{"hello":"world"}}`, string(relayed[0].Content))
}

func TestGetModulesRepliesAsync(t *testing.T) {
	scanner := stubScanner{modules: []modules.Module{{Name: "charts", Path: "/m/charts"}}}
	h := newHarness(t, scanner)
	h.handle(t, `{"cmd":"getNoodlModules","clientId":"viewerA"}`)

	select {
	case fn := <-h.posted:
		fn()
	case <-time.After(5 * time.Second):
		t.Fatal("module scan never posted its reply")
	}
	replies := h.sender.byCmd(wire.CmdNoodlModules)
	require.Len(t, replies, 1)
	assert.Equal(t, "viewerA", replies[0].Target)
	assert.JSONEq(t, `{"modules":[{"name":"charts","path":"/m/charts"}]}`, string(replies[0].Content))
}

func TestGetModulesErrorRepliesEmpty(t *testing.T) {
	h := newHarness(t, stubScanner{err: errors.New("disk on fire")})
	h.handle(t, `{"cmd":"getNoodlModules","clientId":"viewerA"}`)
	(<-h.posted)()
	replies := h.sender.byCmd(wire.CmdNoodlModules)
	require.Len(t, replies, 1)
	assert.JSONEq(t, `{"modules":[]}`, string(replies[0].Content))
}

func TestFaultsDoNotStopProcessing(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, `{"cmd":"teleport","content":{}}`)
	h.handle(t, `{"cmd":"select","content":"not json"}`)
	h.handle(t, `{"cmd":"select"}`)
	h.handle(t, `{"cmd":"select","content":{"nodeId":"btn"}}`)
	assert.Equal(t, "btn", h.project.Selected())
}

func TestCapabilityScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, `{"cmd":"nodelibrary","clientId":"viewerA","runtimeType":"browser","content":`+libraryContent("Group", "Text")+`}`)
	h.handle(t, `{"cmd":"nodelibrary","clientId":"viewerB","runtimeType":"node","content":"`+strings.ReplaceAll(libraryContent("Http"), `"`, `\"`)+`"}`)
	assert.ElementsMatch(t, []string{"Group", "Text", "Http"}, h.registry.NodeNames())
	assert.Equal(t, 1, h.sink.Reloads())

	h.handle(t, `{"cmd":"disconnect","clientId":"viewerA"}`)
	assert.ElementsMatch(t, []string{"Group", "Text", "Http"}, h.registry.NodeNames())

	h.handle(t, `{"cmd":"nodelibrary","clientId":"viewerC","runtimeType":"browser","content":`+libraryContent("Group")+`}`)
	assert.ElementsMatch(t, []string{"Group", "Http"}, h.registry.NodeNames())

	latest, ok := h.sink.Latest()
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"Group", "Http"}, latest.Names())
}
