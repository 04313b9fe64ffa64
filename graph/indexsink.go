package graph

import (
	"sync"

	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/nodelibrary"
)

// LoggingIndexSink receives merged node libraries for an editor that has no
// node palette of its own. It keeps the latest snapshot and logs changes.
type LoggingIndexSink struct {
	mu       sync.Mutex
	latest   *nodelibrary.Snapshot
	reloads  int
	onReload func()
}

// NewLoggingIndexSink returns a sink. onReload may be nil.
func NewLoggingIndexSink(onReload func()) *LoggingIndexSink {
	return &LoggingIndexSink{onReload: onReload}
}

func (s *LoggingIndexSink) PublishNodeLibrary(snapshot nodelibrary.Snapshot) {
	s.mu.Lock()
	s.latest = &snapshot
	s.mu.Unlock()
	logger.Info("Node library updated",
		"node_types", len(snapshot.NodeTypes),
		"core_nodes", len(snapshot.NodeIndex.CoreNodes),
		"module_nodes", len(snapshot.NodeIndex.ModuleNodes))
}

func (s *LoggingIndexSink) Reload() {
	s.mu.Lock()
	s.reloads++
	onReload := s.onReload
	s.mu.Unlock()
	logger.Info("Node library reload requested")
	if onReload != nil {
		onReload()
	}
}

// Latest returns the most recently published snapshot.
func (s *LoggingIndexSink) Latest() (nodelibrary.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nodelibrary.Snapshot{}, false
	}
	return s.latest.Clone(), true
}

// Reloads counts Reload calls.
func (s *LoggingIndexSink) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

var _ nodelibrary.Sink = (*LoggingIndexSink)(nil)
