package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type AddOptions struct {
	GlobalOptions

	// Start begins a batch once every file is uploaded.
	Start bool

	out io.Writer
}

func DefaultAddOptions() *AddOptions {
	return &AddOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdAdd() *cobra.Command {
	o := DefaultAddOptions()
	cmd := &cobra.Command{
		Use:     "add FILE...",
		Short:   "Upload images to a running server.",
		Example: "cutout add photos/*.jpg --start",
		Args:    cobra.MinimumNArgs(1),
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
	return cmd
}

func (o *AddOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.BoolVar(&o.Start, "start", o.Start, "Start a batch after the upload.")
}

func (o *AddOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.out == nil {
		o.out = cmd.OutOrStdout()
	}
	return nil
}

func (o *AddOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
	}
	return nil
}

func (o *AddOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id, err := c.AddJob(ctx, filepath.Base(path), data)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		fmt.Fprintf(o.out, "job/%s added (%s)\n", id, path)
	}

	if !o.Start {
		return nil
	}
	if err := c.StartBatch(ctx); err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	fmt.Fprintln(o.out, "batch started")
	return nil
}
