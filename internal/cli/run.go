package cli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apiserver "github.com/kubev2v/cutout/internal/api_server"
	"github.com/kubev2v/cutout/internal/config"
	"github.com/kubev2v/cutout/internal/history"
	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/kubev2v/cutout/internal/store"
	"github.com/kubev2v/cutout/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

type RunOptions struct {
	ConfigFile string
}

func DefaultRunOptions() *RunOptions {
	return &RunOptions{}
}

func NewCmdRun() *cobra.Command {
	o := DefaultRunOptions()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cutout server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *RunOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to configuration file")
}

func (o *RunOptions) Run(ctx context.Context) error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	defer initLogger(cfg)()
	zap.S().Info("Starting cutout service")
	defer zap.S().Info("cutout service stopped")
	zap.S().Debugf("Using config: %s", cfg)

	writer, historyStore, closeStore, err := newHistoryWriter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	producer := history.NewProducer(writer, history.WithMaxPending(cfg.Database.HistoryBuffer))
	defer func() { _ = producer.Close() }()

	observer := pipeline.Observers(metrics.Observer{}, history.NewRecorder(producer))
	engine, err := NewEngine(ctx, cfg, observer)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		engine.Stop(stopCtx)
	}()

	if err := metrics.RegisterPipelineCollector(engine.Pipeline); err != nil {
		zap.S().Warnw("pipeline collector not registered", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}
		return apiserver.New(cfg, engine.Pipeline, historyStore, listener).Run(gctx)
	})
	if cfg.Service.MetricsAddress != "" {
		g.Go(func() error {
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				return fmt.Errorf("creating metrics listener: %w", err)
			}
			return apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener).Run(gctx)
		})
	}

	return g.Wait()
}

// newHistoryWriter opens the history database when it is enabled. Otherwise
// finished jobs are only logged and the returned history is nil.
func newHistoryWriter(ctx context.Context, cfg *config.Config) (history.Writer, store.History, func(), error) {
	if !cfg.Database.HistoryEnabled {
		return &history.StdoutWriter{}, nil, func() {}, nil
	}

	zap.S().Info("Initializing history store")
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing data store: %w", err)
	}
	s := store.NewStore(db)
	if err := s.InitialMigration(ctx); err != nil {
		_ = s.Close()
		return nil, nil, nil, fmt.Errorf("running initial migration: %w", err)
	}
	return history.NewStoreWriter(s.History()), s.History(), func() { _ = s.Close() }, nil
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
