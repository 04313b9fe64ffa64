// Package session wires the live-sync components for one editor session
// and exposes the operations the editor calls.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slighter12/graph-livesync/changerelay"
	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/config"
	"github.com/slighter12/graph-livesync/dispatch"
	"github.com/slighter12/graph-livesync/eventbus"
	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/inspector"
	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/modules"
	"github.com/slighter12/graph-livesync/nodelibrary"
	"github.com/slighter12/graph-livesync/runloop"
	"github.com/slighter12/graph-livesync/transport/ws"
	"github.com/slighter12/graph-livesync/wire"
)

const closeTimeout = time.Second

// Options configure a Session. Zero values fall back to defaults.
type Options struct {
	Transport           ws.Settings
	ReloadThreshold     int
	RouterIndexDebounce time.Duration
	FrameInterval       time.Duration
	ModulesDir          string
	WatchModules        bool

	Clock    clock.Clock
	Sink     nodelibrary.Sink
	Warnings graph.Warnings
}

// OptionsFromConfig maps the viewer and modules sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	settings := ws.DefaultSettings(cfg.Viewer.RelayURL)
	settings.StartupDelay = cfg.Viewer.StartupDelay()
	settings.ReconnectBackoff = cfg.Viewer.ReconnectBackoff()
	return Options{
		Transport:           settings,
		ReloadThreshold:     cfg.Viewer.ReloadThreshold,
		RouterIndexDebounce: cfg.Viewer.RouterIndexDebounce(),
		FrameInterval:       cfg.Viewer.FrameInterval(),
		ModulesDir:          cfg.Modules.Dir,
		WatchModules:        cfg.Modules.Watch,
	}
}

// Session owns one editor's connection to its viewers. Every public method
// is safe to call from any goroutine; the work runs on the session loop.
type Session struct {
	loop      *runloop.Loop
	clock     clock.Clock
	project   *graph.Project
	warnings  graph.Warnings
	transport *ws.Client

	registry   *nodelibrary.Registry
	inspector  *inspector.Store
	relay      *changerelay.Relay
	dispatcher *dispatch.Dispatcher
	modules    *modules.Cache
	watcher    *modules.Watcher

	debugging bool

	// lifetime holds subscriptions that survive relay reconnects.
	lifetime *eventbus.Group[graph.Topic]

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	closeOnce   sync.Once
	disposeOnce sync.Once
}

// New builds a session around project. Nothing connects until Run.
func New(project *graph.Project, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Sink == nil {
		opts.Sink = graph.NewLoggingIndexSink(nil)
	}
	if opts.Warnings == nil {
		opts.Warnings = graph.NewWarningStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		loop:     runloop.New(0),
		clock:    opts.Clock,
		project:  project,
		warnings: opts.Warnings,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.transport = ws.New(opts.Transport, opts.Clock, s.loop, ws.Hooks{
		OnOpen:     s.onOpen,
		OnClose:    s.onClose,
		OnEnvelope: s.onEnvelope,
	})

	var registryOpts []nodelibrary.Option
	if opts.ReloadThreshold > 0 {
		registryOpts = append(registryOpts, nodelibrary.WithReloadThreshold(opts.ReloadThreshold))
	}
	s.registry = nodelibrary.New(opts.Sink, registryOpts...)
	s.lifetime = eventbus.NewGroup(project.Events())
	s.lifetime.Subscribe(func(eventbus.Event[graph.Topic]) {
		// A new project hosts a different set of node types.
		s.loop.Post(s.registry.Reset)
	}, graph.TopicInstanceWillChange)
	s.inspector = inspector.New(opts.Clock, s.loop, project, inspector.WithFrameInterval(opts.FrameInterval))
	s.relay = changerelay.New(project.Events(), graph.NewJSONExporter(project), s.transport,
		opts.Clock, s.loop, changerelay.WithRouterIndexDebounce(opts.RouterIndexDebounce))

	var scanner dispatch.ModuleScanner
	if opts.ModulesDir != "" {
		s.modules = modules.NewCache(modules.Scanner{Dir: opts.ModulesDir})
		scanner = s.modules
		if opts.WatchModules {
			s.watcher = modules.NewWatcher(opts.ModulesDir, opts.Clock, modules.DefaultWatchDebounce, s.onModulesChanged)
		}
	}

	s.dispatcher = dispatch.New(ctx, dispatch.Deps{
		Sender:           s.transport,
		Model:            project,
		Warnings:         opts.Warnings,
		Library:          s.registry,
		Telemetry:        s.inspector,
		Exports:          s.relay,
		Modules:          scanner,
		Poster:           s.loop,
		DebuggingEnabled: func() bool { return s.debugging },
	})
	return s
}

// Run drives the loop, the relay connection and the module watcher until
// ctx is done or Close is called.
func (s *Session) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.running.Store(false)
		err := s.loop.Run(gctx)
		if errors.Is(err, runloop.ErrStopped) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := s.transport.Run(gctx)
		if errors.Is(err, ws.ErrClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if s.watcher != nil {
		g.Go(func() error {
			watchCtx, cancel := context.WithCancel(gctx)
			defer cancel()
			go func() {
				select {
				case <-s.loop.Done():
					cancel()
				case <-watchCtx.Done():
				}
			}()
			if err := s.watcher.Run(watchCtx); err != nil {
				logger.Warn("Module watcher stopped", "error", err)
			}
			return nil
		})
	}
	// Close stops the loop; make sure everything else follows.
	g.Go(func() error {
		select {
		case <-s.loop.Done():
			s.transport.Close()
		case <-gctx.Done():
		}
		return nil
	})
	return g.Wait()
}

// Close unsubscribes everything, stops every timer and disconnects.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.transport.Close()
		if s.running.Load() {
			disposed := make(chan struct{})
			if s.loop.Post(func() {
				s.dispose()
				close(disposed)
			}) {
				select {
				case <-disposed:
				case <-time.After(closeTimeout):
					logger.Warn("Session loop did not drain before close")
				}
			}
		}
		s.loop.Stop()
		s.dispose()
		s.cancel()
		logger.Info("Session closed")
	})
}

func (s *Session) dispose() {
	s.disposeOnce.Do(func() {
		s.lifetime.Close()
		s.relay.Stop()
		s.inspector.Reset()
	})
}

func (s *Session) onOpen() {
	if !s.send(wire.Envelope{Cmd: wire.CmdRegister, Type: wire.RoleEditor}) {
		logger.Warn("Failed to register with relay")
	}
	s.relay.Start()
}

func (s *Session) onClose() {
	s.relay.Stop()
	// The relay replays viewer registrations after a reconnect.
	s.relay.Reset()
	s.inspector.Reset()
}

func (s *Session) onEnvelope(env wire.Envelope) {
	s.dispatcher.Handle(env)
}

func (s *Session) onModulesChanged() {
	if s.modules == nil {
		return
	}
	s.modules.Invalidate()
	go func() {
		found, err := s.modules.Scan(s.ctx)
		if err != nil {
			logger.Error("Module rescan failed", "error", err)
			found = []modules.Module{}
		}
		s.loop.Post(func() {
			s.sendContent(wire.CmdNoodlModules, "", map[string]any{"modules": found})
		})
	}()
}

func (s *Session) send(env wire.Envelope) bool {
	return s.transport.Send(env)
}

func (s *Session) sendContent(cmd wire.Command, target string, content any) bool {
	env, err := wire.New(cmd, content)
	if err != nil {
		logger.Error("Failed to encode outbound message", "cmd", string(cmd), "error", err)
		return false
	}
	env.Target = target
	return s.send(env)
}

// Do runs fn on the session loop. It reports whether fn was accepted.
func (s *Session) Do(fn func()) bool {
	return s.loop.Post(fn)
}

// Project returns the project this session mirrors.
func (s *Session) Project() *graph.Project {
	return s.project
}

// Warnings returns the warning store viewers write to.
func (s *Session) Warnings() graph.Warnings {
	return s.warnings
}

// Inspector returns the telemetry store. Use it only from inside Do.
func (s *Session) Inspector() *inspector.Store {
	return s.inspector
}

// NodeLibrary returns the capability registry. Use it only from inside Do.
func (s *Session) NodeLibrary() *nodelibrary.Registry {
	return s.registry
}

// State returns the relay connection state.
func (s *Session) State() ws.State {
	return s.transport.State()
}

// Export pushes the full project to target, or to every known viewer.
func (s *Session) Export(target string) {
	s.Do(func() { s.relay.Export(target) })
}

// SendNodeHighlighted tells viewers a node is hovered in the editor.
func (s *Session) SendNodeHighlighted(nodeID string, highlighted bool) {
	cmd := wire.CmdHoverEnd
	if highlighted {
		cmd = wire.CmdHoverStart
	}
	s.Do(func() { s.sendContent(cmd, "", map[string]string{"id": nodeID}) })
}

// SendRefresh asks viewers to reload.
func (s *Session) SendRefresh() {
	s.Do(func() { s.send(wire.Envelope{Cmd: wire.CmdRefresh}) })
}

// SendDebugInspectors sends the inspectors the editor wants values for.
func (s *Session) SendDebugInspectors(inspectors json.RawMessage, target string) {
	if len(inspectors) == 0 {
		inspectors = json.RawMessage(`[]`)
	}
	s.Do(func() {
		s.sendContent(wire.CmdDebugInspectors, target, map[string]json.RawMessage{"inspectors": inspectors})
	})
}

// SendGetConnectionValue asks one viewer for the value on a connection.
func (s *Session) SendGetConnectionValue(clientID, connectionID string) {
	s.Do(func() {
		s.sendContent(wire.CmdGetConnectionValue, clientID, map[string]string{
			"clientId":     clientID,
			"connectionId": connectionID,
		})
	})
}

// SetDebuggingEnabled toggles viewer debugging and tells every viewer.
func (s *Session) SetDebuggingEnabled(enabled bool) {
	s.Do(func() {
		s.debugging = enabled
		s.sendContent(wire.CmdDebuggingEnabled, "", map[string]bool{"enabled": enabled})
	})
}

// SetWatchModelChangesEnabled turns diff relaying on or off around bulk
// edits.
func (s *Session) SetWatchModelChangesEnabled(enabled bool) {
	s.Do(func() { s.relay.SetWatchModelChangesEnabled(enabled) })
}

// UpdateIndex republishes the merged node library. force publishes even
// when nothing changed.
func (s *Session) UpdateIndex(force bool) {
	s.Do(func() { s.registry.UpdateIndex(force) })
}

// ReplaceProject swaps the project contents without relaying per-item
// diffs, then exports the new project to every viewer.
func (s *Session) ReplaceProject(data graph.ProjectData) {
	// Events from Replace are queued behind the disable and ahead of the
	// enable, so none of them turn into model updates.
	s.SetWatchModelChangesEnabled(false)
	s.project.Replace(data)
	s.SetWatchModelChangesEnabled(true)
	s.Export("")
}
