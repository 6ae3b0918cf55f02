package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type DeleteOptions struct {
	GlobalOptions

	out io.Writer
}

func DefaultDeleteOptions() *DeleteOptions {
	return &DeleteOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdDelete() *cobra.Command {
	o := DefaultDeleteOptions()
	cmd := &cobra.Command{
		Use:   "delete (jobs | jobs/ID)",
		Short: "Delete one job, or every job.",
		Args:  cobra.ExactArgs(1),
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

func (o *DeleteOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *DeleteOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.out == nil {
		o.out = cmd.OutOrStdout()
	}
	return nil
}

func (o *DeleteOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}

	kind, _, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}
	if kind != JobKind {
		return fmt.Errorf("cannot delete %s", kind)
	}
	return nil
}

func (o *DeleteOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	_, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}

	if id == "" {
		if err := c.ClearJobs(ctx); err != nil {
			return fmt.Errorf("deleting jobs: %w", err)
		}
		fmt.Fprintln(o.out, "all jobs deleted")
		return nil
	}

	if err := c.RemoveJob(ctx, id); err != nil {
		return fmt.Errorf("deleting job/%s: %w", id, err)
	}
	fmt.Fprintf(o.out, "job/%s deleted\n", id)
	return nil
}
