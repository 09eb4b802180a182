package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fpang/traffic-console/internal/console"
	"github.com/fpang/traffic-console/internal/reconcile"
	"github.com/fpang/traffic-console/internal/store"
)

func newVideosCmd() *cobra.Command {
	var exts []string
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List uploaded videos, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			videos, err := c.Console.ListVideos(cmd.Context(), exts...)
			if err != nil {
				return err
			}
			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), videos)
			}
			if len(videos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No uploads found")
				return nil
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Key", "Size", "Uploaded")
			for _, v := range videos {
				table.Append(v.Key, strconv.FormatInt(v.Size, 10), v.LastModified.In(cfg.Location()).Format(reconcile.DisplayLayout))
			}
			return table.Render()
		},
	}
	cmd.Flags().StringSliceVar(&exts, "ext", nil, "extensions to include (default mp4,h264)")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var (
		client     string
		vectorsKey string
		env        map[string]string
	)
	cmd := &cobra.Command{
		Use:   "submit <input-key>",
		Short: "Launch one processing job for an uploaded video",
		Long: `Launches exactly one processing job. Submitting the same input twice creates
two jobs; check "traffic-cli status" first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if err := cfg.RequireProcessing(); err != nil {
				return err
			}
			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			handle, err := c.Console.Submit(cmd.Context(), console.SubmitRequest{
				InputKey:   args[0],
				Client:     client,
				VectorsKey: vectorsKey,
				Env:        env,
			})
			if err != nil {
				return err
			}
			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), handle)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s on %s (attempt %d)\nOutputs: s3://%s/%s\n",
				handle.JobName, handle.InstanceType, handle.Attempts, cfg.ProcessedBucket, handle.OutputPrefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client the submission belongs to")
	cmd.Flags().StringVar(&vectorsKey, "vectors", "", "vectors key (default: discovered next to the submission)")
	cmd.Flags().StringToStringVar(&env, "env", nil, "extra job environment, KEY=VALUE")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var client string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the reconciled job status table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			report := c.Console.Status(cmd.Context(), client)
			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return renderStatus(cmd.OutOrStdout(), cmd.ErrOrStderr(), report)
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "only show jobs attributed to this client")
	return cmd
}

func renderStatus(out, errOut io.Writer, report *reconcile.Report) error {
	if sources := report.DegradedSources(); len(sources) > 0 {
		fmt.Fprintf(errOut, "warning: could not list %s; results may be incomplete\n", strings.Join(sources, ", "))
	}
	if len(report.Rows) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("File", "Job", "Start", "End", "Hours", "Status", "Download")
	for _, r := range report.Rows {
		hours := ""
		if r.DurationHours != nil {
			hours = strconv.FormatFloat(*r.DurationHours, 'f', 1, 64)
		}
		link := ""
		if r.DownloadLink != nil {
			link = *r.DownloadLink
		}
		table.Append(r.FileName, r.JobName, r.StartDisplay(), r.EndDisplay(), hours, r.Status, link)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nGenerated %s\n", report.GeneratedAt.Format(time.RFC3339))
	return nil
}

func newJobsCmd() *cobra.Command {
	var client string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List ledger entries for a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			c, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			jobs, err := c.Console.Jobs(cmd.Context(), client)
			if err != nil {
				return err
			}
			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			return renderJobs(cmd.OutOrStdout(), jobs, cfg.Location())
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client (default DEFAULT_CLIENT)")
	return cmd
}

func renderJobs(out io.Writer, jobs []store.JobRecord, loc *time.Location) error {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.Header("Job", "Input", "Machine", "Version", "Created")
	for _, j := range jobs {
		table.Append(j.JobName, j.InputKey, j.InstanceType, j.Version, time.Unix(j.CreatedAt, 0).In(loc).Format(reconcile.DisplayLayout))
	}
	return table.Render()
}
