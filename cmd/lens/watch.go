package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zoobzio/lens"
	"go.uber.org/zap"
)

type watchOptions struct {
	Source    string
	Addr      string
	Namespace string
	Topic     string
	OrderBy   string
	Options   string
	Config    string
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to one or more grids and render every publish",
		Example: `  lens watch --source file --addr ./feeds --topic quotes --order-by "/bid DESC" --options "oof,top_n=10"
  lens watch --config grids.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cfg, newRenderer(cmd.OutOrStdout(), root.Format), root.logger)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "file", "feed backend (file|nats|redis|postgres|etcd|consul|zookeeper|kubernetes|firestore|ws)")
	cmd.Flags().StringVar(&opts.Addr, "addr", ".", "backend address")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "kubernetes namespace")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic to subscribe to")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", `order-by clause, e.g. "/bid DESC"`)
	cmd.Flags().StringVar(&opts.Options, "options", "", `subscription options, e.g. "oof,conflation=500ms,top_n=20"`)
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "YAML file describing the source and grids")

	return cmd
}

// config loads the config file when given, otherwise builds a single grid
// from flags.
func (o *watchOptions) config() (Config, error) {
	if o.Config != "" {
		return loadConfig(o.Config)
	}
	cfg := Config{
		Source: SourceConfig{Kind: o.Source, Addr: o.Addr, Namespace: o.Namespace},
		Grids: []GridConfig{{
			Name:    o.Topic,
			Topic:   o.Topic,
			OrderBy: o.OrderBy,
			Options: o.Options,
		}},
	}
	return cfg, cfg.Validate()
}

// runWatch starts every grid and blocks until ctx is done or all grids have
// stopped.
func runWatch(ctx context.Context, cfg Config, out *renderer, logger *zap.Logger) error {
	hookSignals(logger)

	session, closeSource, err := openSource(ctx, cfg.Source)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Warn("failed to close source", zap.Error(err))
		}
	}()

	board := lens.NewBoard()
	defer board.Close()

	for _, g := range cfg.Grids {
		sub, err := g.Subscription()
		if err != nil {
			return err
		}
		name := g.Name
		r := lens.New(session, sub, out.sink(name, sub.OrderBy), g.ReconcilerOptions()...).
			OnStop(func(state lens.State) {
				logger.Debug("grid stopped", zap.String("grid", name), zap.String("state", state.String()))
			})
		if err := board.Add(name, r); err != nil {
			return err
		}
	}

	if err := board.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("grids failed to start", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		for _, name := range board.Names() {
			r, _ := board.Grid(name)
			<-r.Done()
		}
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-stopped:
	}

	if errs := board.Errors(); len(errs) > 0 {
		return fmt.Errorf("all grids stopped: %w", errs[0])
	}
	return nil
}
