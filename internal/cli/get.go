package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/kubev2v/cutout/internal/store/model"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

type GetOptions struct {
	GlobalOptions

	Output   string
	Watch    bool
	Interval time.Duration
	Limit    int

	out io.Writer
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Interval:      2 * time.Second,
	}
}

func NewCmdGet() *cobra.Command {
	o := DefaultGetOptions()
	cmd := &cobra.Command{
		Use:     "get (jobs | jobs/ID | status | history)",
		Short:   "Display jobs, the pipeline status or the job history.",
		Example: "cutout get jobs -o yaml\ncutout get status --watch",
		Args:    cobra.ExactArgs(1),
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

func (o *GetOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
	fs.BoolVarP(&o.Watch, "watch", "w", o.Watch, "Refresh the output until interrupted.")
	fs.DurationVar(&o.Interval, "interval", o.Interval, "Refresh interval of --watch.")
	fs.IntVar(&o.Limit, "limit", o.Limit, "Maximum number of history records.")
}

func (o *GetOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.out == nil {
		o.out = cmd.OutOrStdout()
	}
	return nil
}

func (o *GetOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}

	if _, _, err := parseAndValidateKindId(args[0]); err != nil {
		return err
	}

	if len(o.Output) > 0 && !funk.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}

	if o.Watch && o.Interval < 100*time.Millisecond {
		return fmt.Errorf("interval must be at least 100ms")
	}

	return nil
}

func (o *GetOptions) Run(ctx context.Context, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	kind, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}

	if err := o.print(ctx, c, kind, id); err != nil || !o.Watch {
		return err
	}

	ticker := jitterbug.New(o.Interval, &jitterbug.Norm{Stdev: o.Interval / 10})
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprintln(o.out)
			if err := o.print(ctx, c, kind, id); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (o *GetOptions) print(ctx context.Context, c *Client, kind, id string) error {
	var (
		response any
		err      error
	)
	switch {
	case kind == JobKind && id != "":
		response, err = c.GetJob(ctx, id)
	case kind == JobKind:
		response, err = c.ListJobs(ctx)
	case kind == StatusKind:
		response, err = c.Status(ctx)
	case kind == HistoryKind:
		response, err = c.History(ctx, o.Limit)
	default:
		return fmt.Errorf("unsupported resource kind: %s", kind)
	}
	if err != nil {
		if id != "" {
			return fmt.Errorf("reading %s/%s: %w", kind, id, err)
		}
		return fmt.Errorf("reading %s: %w", plural(kind), err)
	}
	return printResponse(o.out, response, o.Output)
}

func printResponse(w io.Writer, response any, output string) error {
	switch output {
	case jsonFormat:
		marshalled, err := json.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Fprintf(w, "%s\n", string(marshalled))
		return nil
	case yamlFormat:
		marshalled, err := yaml.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Fprintf(w, "%s\n", string(marshalled))
		return nil
	default:
		return printTable(w, response)
	}
}

func printTable(out io.Writer, response any) error {
	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)
	switch v := response.(type) {
	case []pipeline.JobView:
		printJobsTable(w, v...)
	case pipeline.JobView:
		printJobsTable(w, v)
	case pipeline.Status:
		printStatusTable(w, v)
	case model.JobRecordList:
		printHistoryTable(w, v)
	default:
		return fmt.Errorf("unknown resource type %T", response)
	}
	return w.Flush()
}

func printJobsTable(w io.Writer, views ...pipeline.JobView) {
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tERROR")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Status, v.Error)
	}
}

func printStatusTable(w io.Writer, st pipeline.Status) {
	fmt.Fprintf(w, "BATCH ACTIVE\t%t\n", st.BatchActive)
	fmt.Fprintf(w, "MODEL\t%s\tloaded=%t\tworkers=%d\n", st.Model.Phase, st.Model.Loaded, st.Model.LoadedWorkers)
	if st.Model.Error != "" {
		fmt.Fprintf(w, "MODEL ERROR\t%s\n", st.Model.Error)
	}
	fmt.Fprintln(w, "STAGE\tQUEUED\tWORKERS\tREADY")
	for _, s := range st.Stages {
		ready := 0
		for _, worker := range s.Workers {
			if worker.Ready {
				ready++
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Name, s.Queued, len(s.Workers), ready)
	}

	statuses := make([]string, 0, len(st.Jobs))
	for status := range st.Jobs {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	fmt.Fprintln(w, "STATUS\tJOBS")
	for _, status := range statuses {
		fmt.Fprintf(w, "%s\t%d\n", status, st.Jobs[jobs.Status(status)])
	}
	fmt.Fprintf(w, "TOTAL\t%d\n", st.Total)
}

func printHistoryTable(w io.Writer, records model.JobRecordList) {
	fmt.Fprintln(w, "JOB ID\tNAME\tSTATUS\tSTAGE\tFINISHED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.JobID, r.Name, r.Status, r.Stage, r.FinishedAt.Format(time.RFC3339))
	}
}
