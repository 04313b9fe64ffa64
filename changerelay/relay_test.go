package changerelay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/runloop"
	"github.com/slighter12/graph-livesync/wire"
)

type recordingSender struct {
	sent []wire.Envelope
	down bool
}

func (s *recordingSender) Send(env wire.Envelope) bool {
	if s.down {
		return false
	}
	s.sent = append(s.sent, env)
	return true
}

func (s *recordingSender) updates(t *testing.T) []Update {
	t.Helper()
	var out []Update
	for _, env := range s.sent {
		if env.Cmd != wire.CmdModelUpdate {
			continue
		}
		var u Update
		require.NoError(t, env.DecodeContent(&u))
		out = append(out, u)
	}
	return out
}

func (s *recordingSender) count(cmd wire.Command) int {
	n := 0
	for _, env := range s.sent {
		if env.Cmd == cmd {
			n++
		}
	}
	return n
}

type fixture struct {
	project *graph.Project
	sender  *recordingSender
	clock   *clock.FakeClock
	relay   *Relay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	project := graph.NewProject(graph.ProjectData{
		Name: "demo",
		Components: []*graph.Component{{
			Name: "App",
			Nodes: []*graph.Node{
				{ID: "root", Type: "Group"},
				{ID: "home", Type: graph.NodeTypePage},
			},
		}},
	})
	f := &fixture{
		project: project,
		sender:  &recordingSender{},
		clock:   clock.NewFake(time.Unix(1700000000, 0)),
	}
	f.relay = New(project.Events(), graph.NewJSONExporter(project), f.sender, f.clock, runloop.Inline())
	f.relay.Start()
	t.Cleanup(f.relay.Stop)
	return f
}

func TestNodeAddedBecomesModelUpdate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.project.AddNode("App", graph.Node{ID: "txt", Type: "Text", ParentID: "root"}))

	updates := f.sender.updates(t)
	require.Len(t, updates, 1)
	assert.Equal(t, "nodeAdded", updates[0].Type)
	assert.Equal(t, "App", updates[0].ComponentName)
	assert.Equal(t, "root", updates[0].ParentID)

	var node graph.Node
	require.NoError(t, json.Unmarshal(updates[0].Model, &node))
	assert.Equal(t, "Text", node.Type)
}

func TestParameterAndConnectionUpdates(t *testing.T) {
	f := newFixture(t)
	conn := graph.Connection{FromID: "root", FromProperty: "out", ToID: "home", ToProperty: "in"}
	require.NoError(t, f.project.AddConnection("App", conn))
	require.NoError(t, f.project.SetParameter("App", "root", "color", json.RawMessage(`"red"`)))
	require.NoError(t, f.project.RemoveNode("App", "home"))

	updates := f.sender.updates(t)
	types := make([]string, 0, len(updates))
	for _, u := range updates {
		types = append(types, u.Type)
	}
	assert.Equal(t, []string{"connectionAdded", "parameterChanged", "connectionRemoved", "nodeRemoved"}, types)
	assert.Equal(t, "color", updates[1].ParameterName)
	assert.JSONEq(t, `"red"`, string(updates[1].ParameterValue))
}

func TestRouterIndexDebounced(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.project.AddComponent(graph.Component{Name: "About"}))
	f.clock.Advance(60 * time.Millisecond)
	require.NoError(t, f.project.AddNode("About", graph.Node{ID: "p2", Type: graph.NodeTypePage}))
	f.clock.Advance(60 * time.Millisecond)
	require.NoError(t, f.project.SetParameter("App", "home", graph.PagePathParam, json.RawMessage(`"/start"`)))

	countRouter := func() int {
		n := 0
		for _, u := range f.sender.updates(t) {
			if u.Type == UpdateRouterIndexChanged {
				n++
			}
		}
		return n
	}
	assert.Zero(t, countRouter())

	f.clock.Advance(100 * time.Millisecond)
	require.Equal(t, 1, countRouter())

	var index graph.RouterIndex
	last := f.sender.updates(t)
	require.NoError(t, json.Unmarshal(last[len(last)-1].Data, &index))
	assert.Equal(t, []graph.PageRoute{{Component: "About", Path: "/about"}, {Component: "App", Path: "/start"}}, index.Pages)
}

func TestUnrelatedParameterDoesNotTouchRouterIndex(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.project.SetParameter("App", "root", "color", json.RawMessage(`"blue"`)))
	f.clock.Advance(time.Second)
	assert.Zero(t, f.clock.Pending())
	for _, u := range f.sender.updates(t) {
		assert.NotEqual(t, UpdateRouterIndexChanged, u.Type)
	}
}

func TestStopCancelsDebounceAndSubscriptions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.project.AddComponent(graph.Component{Name: "About"}))
	f.relay.Stop()
	assert.False(t, f.relay.Running())
	f.clock.Advance(time.Second)

	require.NoError(t, f.project.AddNode("App", graph.Node{ID: "late", Type: "Text"}))
	updates := f.sender.updates(t)
	require.Len(t, updates, 1)
	assert.Equal(t, "componentAdded", updates[0].Type)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.relay.Start()
	f.relay.Start()
	require.NoError(t, f.project.AddNode("App", graph.Node{ID: "x", Type: "Text"}))
	assert.Len(t, f.sender.updates(t), 1)
}

func TestWatchKillSwitch(t *testing.T) {
	f := newFixture(t)
	f.relay.SetWatchModelChangesEnabled(false)
	require.NoError(t, f.project.AddNode("App", graph.Node{ID: "x", Type: "Text"}))
	assert.Empty(t, f.sender.updates(t))

	f.relay.SetWatchModelChangesEnabled(true)
	require.NoError(t, f.project.AddNode("App", graph.Node{ID: "y", Type: "Text"}))
	assert.Len(t, f.sender.updates(t), 1)
}

func TestExportDedupedPerTarget(t *testing.T) {
	f := newFixture(t)
	f.relay.AddClient("viewerA")
	f.relay.AddClient("viewerB")

	assert.Equal(t, 2, f.relay.Export(""))
	assert.Equal(t, 0, f.relay.Export(""))
	assert.Equal(t, 0, f.relay.Export("viewerA"))
	assert.Equal(t, 2, f.sender.count(wire.CmdExport))

	require.NoError(t, f.project.AddNode("App", graph.Node{ID: "x", Type: "Text"}))
	assert.Equal(t, 1, f.relay.Export("viewerA"))
	assert.Equal(t, 1, f.relay.Export(""))

	var exported graph.ProjectData
	require.NoError(t, f.sender.sent[0].DecodeContent(&exported))
	assert.Equal(t, "demo", exported.Name)
	assert.Equal(t, "viewerA", f.sender.sent[0].Target)
}

func TestExportNotCachedWhenSendFails(t *testing.T) {
	f := newFixture(t)
	f.relay.AddClient("viewerA")
	f.sender.down = true
	assert.Equal(t, 0, f.relay.Export(""))
	f.sender.down = false
	assert.Equal(t, 1, f.relay.Export(""))
}

func TestForgetClientDropsCache(t *testing.T) {
	f := newFixture(t)
	f.relay.AddClient("viewerA")
	f.relay.Export("")
	f.relay.ForgetClient("viewerA")
	assert.Empty(t, f.relay.KnownClients())
	assert.Equal(t, 1, f.relay.Export("viewerA"))
}

func TestInstanceWillChangeClearsCache(t *testing.T) {
	f := newFixture(t)
	f.relay.AddClient("viewerA")
	f.relay.Export("")
	f.relay.SetWatchModelChangesEnabled(false)

	f.project.Replace(f.project.Snapshot())
	assert.Equal(t, 1, f.relay.Export(""))
}
