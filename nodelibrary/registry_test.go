package nodelibrary

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	published []Snapshot
	reloads   int
}

func (s *recordingSink) PublishNodeLibrary(snapshot Snapshot) {
	s.published = append(s.published, snapshot)
}

func (s *recordingSink) Reload() {
	s.reloads++
}

func (s *recordingSink) last(t *testing.T) Snapshot {
	t.Helper()
	require.NotEmpty(t, s.published, "expected a published snapshot")
	return s.published[len(s.published)-1]
}

func library(names ...string) Snapshot {
	lib := Snapshot{}
	for _, name := range names {
		lib.NodeTypes = append(lib.NodeTypes, Descriptor{
			Name:   name,
			Fields: map[string]json.RawMessage{"category": json.RawMessage(`"core"`)},
		})
	}
	lib.ensureBuckets()
	return lib
}

func TestFirstImportBecomesCanonical(t *testing.T) {
	sink := &recordingSink{}
	registry := New(sink)

	registry.Import("viewerA", "browser", library("Group", "Text"))
	require.True(t, registry.UpdateIndex(false))

	published := sink.last(t)
	assert.Equal(t, []string{"Group", "Text"}, published.Names())
	for _, descriptor := range published.NodeTypes {
		assert.Equal(t, []string{"browser"}, descriptor.RuntimeTypes)
	}
	assert.NotNil(t, published.NodeIndex.CoreNodes)
	assert.NotNil(t, published.ProjectSettings.DynamicPorts)
	assert.Equal(t, 0, sink.reloads, "one client must not trigger a reload")
}

func TestLaterImportTagsAndAppends(t *testing.T) {
	sink := &recordingSink{}
	registry := New(sink)
	registry.Import("viewerA", "browser", library("Group", "Text"))
	registry.UpdateIndex(false)

	registry.Import("viewerB", "node", library("Group", "Http"))
	require.True(t, registry.UpdateIndex(false))

	published := sink.last(t)
	assert.Equal(t, []string{"Group", "Text", "Http"}, published.Names())
	group, ok := published.Descriptor("Group")
	require.True(t, ok)
	assert.Equal(t, []string{"browser", "node"}, group.RuntimeTypes)
	httpNode, _ := published.Descriptor("Http")
	assert.Equal(t, []string{"node"}, httpNode.RuntimeTypes)
	assert.Equal(t, 1, sink.reloads)
}

func TestIdenticalReimportIsNoop(t *testing.T) {
	sink := &recordingSink{}
	registry := New(sink)
	lib := library("Group", "Text")
	lib.NodeIndex.CoreNodes = []Entry{{Name: "Visual", Fields: map[string]json.RawMessage{"items": json.RawMessage(`["Group"]`)}}}

	registry.Import("viewerA", "browser", lib)
	registry.Import("viewerB", "browser", lib)
	registry.UpdateIndex(false)
	before, _ := registry.Current()
	publishes, reloads := len(sink.published), sink.reloads

	registry.Import("viewerB", "browser", lib)
	assert.False(t, registry.UpdateIndex(false))
	after, _ := registry.Current()
	assert.Equal(t, before, after)
	assert.Equal(t, publishes, len(sink.published))
	assert.Equal(t, reloads, sink.reloads)
}

func TestEntriesMergedByNameReplaceOnMatch(t *testing.T) {
	registry := New(&recordingSink{})
	first := library("Group")
	first.ProjectSettings.Ports = []Entry{
		{Name: "title", Fields: map[string]json.RawMessage{"type": json.RawMessage(`"string"`)}},
	}
	registry.Import("viewerA", "browser", first)

	second := library("Group")
	second.ProjectSettings.Ports = []Entry{
		{Name: "title", Fields: map[string]json.RawMessage{"type": json.RawMessage(`"number"`)}},
		{Name: "favicon", Fields: map[string]json.RawMessage{"type": json.RawMessage(`"image"`)}},
	}
	second.NodeIndex.ModuleNodes = []Entry{{Name: "Charts"}}
	registry.Import("viewerB", "node", second)

	current, ok := registry.Current()
	require.True(t, ok)
	require.Len(t, current.ProjectSettings.Ports, 2)
	assert.Equal(t, "title", current.ProjectSettings.Ports[0].Name)
	assert.JSONEq(t, `"number"`, string(current.ProjectSettings.Ports[0].Fields["type"]))
	assert.Equal(t, "favicon", current.ProjectSettings.Ports[1].Name)
	require.Len(t, current.NodeIndex.ModuleNodes, 1)
}

func TestReportReplacesClientNamesWholesale(t *testing.T) {
	registry := New(&recordingSink{})
	registry.Import("viewerA", "browser", library("Group", "Text"))
	registry.Import("viewerA", "browser", library("Group"))

	client, ok := registry.Client("viewerA")
	require.True(t, ok)
	assert.Len(t, client.NodeNames, 1)
	assert.Contains(t, client.NodeNames, "Group")
	assert.Equal(t, []string{"Group"}, registry.NodeNames())
}

func TestRuntimeCacheServesDisconnectedRuntime(t *testing.T) {
	registry := New(&recordingSink{})
	registry.Import("viewerA", "browser", library("Group", "Text"))
	registry.Import("viewerB", "node", library("Http"))

	require.True(t, registry.Disconnect("viewerA"))
	assert.False(t, registry.Disconnect("viewerA"))
	assert.Equal(t, []string{"Group", "Http", "Text"}, registry.NodeNames())
	assert.Equal(t, []string{"viewerB"}, registry.Clients())

	require.True(t, registry.Disconnect("viewerB"))
	assert.Equal(t, []string{"Group", "Http", "Text"}, registry.NodeNames())
}

func TestViewerHandoffScenario(t *testing.T) {
	sink := &recordingSink{}
	registry := New(sink)

	registry.Import("viewerA", "browser", library("Group", "Text"))
	registry.UpdateIndex(false)
	registry.Import("viewerB", "node", library("Http"))
	registry.UpdateIndex(false)
	assert.Equal(t, []string{"Group", "Http", "Text"}, registry.NodeNames())

	registry.Disconnect("viewerA")
	registry.UpdateIndex(false)
	assert.Equal(t, []string{"Group", "Http", "Text"}, registry.NodeNames())

	registry.Import("viewerC", "browser", library("Group"))
	require.True(t, registry.UpdateIndex(false))
	assert.Equal(t, []string{"Group", "Http"}, registry.NodeNames())

	published := sink.last(t)
	_, hasText := published.Descriptor("Text")
	assert.False(t, hasText, "Text must be pruned from the published snapshot")
	assert.ElementsMatch(t, []string{"Group", "Http"}, published.Names())
}

func TestUpdateIndexForcePublishesWithoutChanges(t *testing.T) {
	sink := &recordingSink{}
	registry := New(sink, WithReloadThreshold(1))
	assert.False(t, registry.UpdateIndex(true), "nothing to publish before the first report")

	registry.Import("viewerA", "browser", library("Group"))
	registry.UpdateIndex(false)
	assert.False(t, registry.UpdateIndex(false))
	assert.True(t, registry.UpdateIndex(true))
	assert.Len(t, sink.published, 2)
	assert.Equal(t, 2, sink.reloads)
}

func TestPublishedSnapshotIsIsolated(t *testing.T) {
	sink := &recordingSink{}
	registry := New(sink)
	registry.Import("viewerA", "browser", library("Group"))
	registry.UpdateIndex(false)

	sink.last(t).NodeTypes[0].RuntimeTypes[0] = "mutated"
	current, _ := registry.Current()
	assert.Equal(t, []string{"browser"}, current.NodeTypes[0].RuntimeTypes)
}

func TestResetMakesNextReportCanonical(t *testing.T) {
	registry := New(&recordingSink{})
	registry.Import("viewerA", "browser", library("Group", "Text"))
	registry.Reset()
	_, ok := registry.Current()
	assert.False(t, ok)

	registry.Import("viewerB", "node", library("Http"))
	current, ok := registry.Current()
	require.True(t, ok)
	assert.Equal(t, []string{"Http"}, current.Names())
}

func TestCanonicalNamesStayUnique(t *testing.T) {
	registry := New(&recordingSink{})
	pool := []string{"Group", "Text", "Http", "Image", "Timer", "Switch"}
	runtimes := []string{"browser", "node", "native"}
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		var names []string
		for _, name := range pool {
			if rng.IntN(2) == 0 {
				names = append(names, name)
			}
		}
		if rng.IntN(5) == 0 && len(names) > 0 {
			names = append(names, names[0])
		}
		clientID := fmt.Sprintf("viewer%d", rng.IntN(4))
		registry.Import(clientID, runtimes[rng.IntN(len(runtimes))], library(names...))
		if rng.IntN(6) == 0 {
			registry.Disconnect(clientID)
		}
		if rng.IntN(10) == 0 {
			registry.Reset()
		}
		registry.UpdateIndex(rng.IntN(3) == 0)

		current, ok := registry.Current()
		if !ok {
			continue
		}
		seen := map[string]bool{}
		for _, name := range current.Names() {
			require.False(t, seen[name], "duplicate descriptor %q after step %d", name, i)
			seen[name] = true
		}
	}
}
