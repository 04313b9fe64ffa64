package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/session"
)

// EditorOptions holds flags for the editor command.
type EditorOptions struct {
	*RootOptions
	Project  string
	RelayURL string
	Watch    bool
	Debug    bool
}

// NewEditorCommand creates the editor command.
func NewEditorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "editor",
		Short: "Mirror a project file to every connected viewer",
		Long: `Load a project document, connect to the relay as the editor and keep
viewers in sync. With --watch the file is reloaded whenever it changes on
disk and the full project is exported again.`,
		Example: `  livesync editor --project ./project.json
  livesync editor --project ./project.json --relay ws://127.0.0.1:9000/ws --debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEditor(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "path to the project JSON document (required)")
	cmd.Flags().StringVar(&opts.RelayURL, "relay", "", "relay websocket URL (overrides config)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "reload the project file when it changes")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "enable viewer debugging on connect")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runEditor(cmd *cobra.Command, opts *EditorOptions) error {
	data, err := graph.LoadProjectFile(opts.Project)
	if err != nil {
		return err
	}
	project := graph.NewProject(data)

	sessOpts := session.OptionsFromConfig(opts.Config)
	if opts.RelayURL != "" {
		sessOpts.Transport.URL = opts.RelayURL
	}
	sess := session.New(project, sessOpts)
	if opts.Debug {
		sess.SetDebuggingEnabled(true)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Editor session starting", "project", opts.Project, "relay", sessOpts.Transport.URL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	if opts.Watch {
		watcher := NewProjectWatcher(opts.Project, 0, func() {
			reloadProject(sess, opts.Project)
		})
		g.Go(func() error {
			err := watcher.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watch project: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func reloadProject(sess *session.Session, path string) {
	data, err := graph.LoadProjectFile(path)
	if err != nil {
		logger.Warn("Project reload skipped", "path", path, "error", err)
		return
	}
	sess.ReplaceProject(data)
	logger.Info("Project reloaded", "path", path, "components", len(data.Components))
}
