package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/config"
	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/kubev2v/cutout/internal/util"
	"github.com/kubev2v/cutout/pkg/metrics"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// ProcessOptions runs one local batch without a server.
type ProcessOptions struct {
	ConfigFile string
	Input      string
	Output     string
	Timeout    time.Duration

	out io.Writer
}

func DefaultProcessOptions() *ProcessOptions {
	return &ProcessOptions{
		Timeout: 10 * time.Minute,
	}
}

func NewCmdProcess() *cobra.Command {
	o := DefaultProcessOptions()
	cmd := &cobra.Command{
		Use:     "process -i INPUT_DIR -o OUTPUT_DIR",
		Short:   "Remove the background of every image in a directory.",
		Example: "cutout process -i photos -o cutouts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	for _, name := range []string{"input", "output"} {
		util.Must(cmd.MarkFlagRequired(name))
	}
	return cmd
}

func (o *ProcessOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to configuration file")
	fs.StringVarP(&o.Input, "input", "i", o.Input, "Directory with the source images")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Directory receiving the PNG cutouts")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Maximum duration of the batch")
}

func (o *ProcessOptions) Complete(cmd *cobra.Command, args []string) error {
	if o.out == nil {
		o.out = cmd.OutOrStdout()
	}
	return nil
}

func (o *ProcessOptions) Validate(args []string) error {
	info, err := os.Stat(o.Input)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input %s is not a directory", o.Input)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (o *ProcessOptions) Run(ctx context.Context, args []string) error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	defer initLogger(cfg)()

	files, err := listImages(o.Input)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(o.out, "no images found in %s\n", o.Input)
		return nil
	}
	if err := os.MkdirAll(o.Output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	engine, err := NewEngine(ctx, cfg, metrics.Observer{})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		engine.Stop(stopCtx)
	}()

	p := engine.Pipeline
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := p.AddJob(ctx, filepath.Base(path), data); err != nil {
			if errors.Is(err, pipeline.ErrEmptyUpload) {
				zap.S().Warnw("skipping empty file", "path", path)
				continue
			}
			return fmt.Errorf("adding %s: %w", path, err)
		}
	}

	start := time.Now()
	if err := p.StartBatch(ctx); err != nil {
		return err
	}
	if err := p.WaitIdle(ctx); err != nil {
		return fmt.Errorf("waiting for the batch: %w", err)
	}

	views, err := p.Snapshot(ctx)
	if err != nil {
		return err
	}
	failed, err := o.writeResults(ctx, p, views)
	if err != nil {
		return err
	}

	fmt.Fprintf(o.out, "%d images processed in %s, %d failed\n", len(views), time.Since(start).Round(time.Millisecond), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(views))
	}
	return nil
}

func (o *ProcessOptions) writeResults(ctx context.Context, p *pipeline.Pipeline, views []pipeline.JobView) (int, error) {
	w := tabwriter.NewWriter(o.out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tOUTPUT")

	failed := 0
	for _, v := range views {
		if v.Status != jobs.StatusCompleted {
			failed++
			fmt.Fprintf(w, "%s\t%s\t%s\n", v.Name, v.Status, v.Error)
			continue
		}
		data, err := p.Result(ctx, v.ID)
		if err != nil {
			return failed, err
		}
		target := filepath.Join(o.Output, outputName(v.Name))
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return failed, fmt.Errorf("writing %s: %w", target, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", v.Name, v.Status, target)
	}
	return failed, w.Flush()
}

// listImages returns the image files of dir sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if funk.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func outputName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
}
