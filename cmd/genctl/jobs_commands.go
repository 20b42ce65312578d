package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"genstudio/internal/client"
	"genstudio/internal/domain"
	"genstudio/internal/observer"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		jobType   string
		prompt    string
		character string
		target    string
		session   string
		meta      []string
		watch     bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}
			if prompt != "" {
				metadata["prompt"] = prompt
			}
			if character != "" {
				metadata["character_id"] = character
			}
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			id, err := cli.Submit(cmd.Context(), client.SubmitRequest{
				JobType:            jobType,
				TargetEntityID:     target,
				WorkspaceSessionID: session,
				Metadata:           metadata,
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() && !watch {
				return writeJSON(cmd, map[string]string{"jobId": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			if !watch {
				return nil
			}
			return watchJob(cmd, cli, id, domain.JobType(jobType))
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "image", "Job type (image, video, enhance, character_preview)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Scene prompt")
	cmd.Flags().StringVar(&character, "character", "", "Character id to keep consistent")
	cmd.Flags().StringVar(&target, "target", "", "Target entity id")
	cmd.Flags().StringVar(&session, "session", "", "Workspace session id")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Extra metadata as key=value (repeatable)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Follow the job until it finishes")
	return cmd
}

// parseMeta turns key=value pairs into metadata. Numeric and boolean values
// keep their type.
func parseMeta(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", pair)
		}
		switch {
		case value == "true" || value == "false":
			out[key] = value == "true"
		default:
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				out[key] = n
			} else {
				out[key] = value
			}
		}
	}
	return out, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := cli.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			rows := [][]string{
				{"Job", job.JobID},
				{"Type", job.Type},
				{"Status", job.Status},
			}
			if job.OutputURL != "" {
				rows = append(rows, []string{"Output", job.OutputURL})
			}
			if job.StagedAssetID != "" {
				rows = append(rows, []string{"Staged asset", job.StagedAssetID})
			}
			if job.ErrorMessage != "" {
				rows = append(rows, []string{"Error", job.ErrorMessage})
			}
			rows = append(rows, []string{"Updated", job.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var (
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			jobs, err := cli.ListJobs(cmd.Context(), session, limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{j.JobID, j.Type, j.Status, j.CreatedAt.Local().Format("2006-01-02 15:04")})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Job", "Type", "Status", "Created"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only jobs from this workspace session")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := cli.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return watchJob(cmd, cli, job.JobID, domain.JobType(job.Type))
		},
	}
}

var errJobFailed = errors.New("job failed")

// watchJob streams observer events until the session ends. A failed or
// timed out job is reported as an error so the exit code reflects it.
func watchJob(cmd *cobra.Command, cli *client.Client, jobID string, jobType domain.JobType) error {
	session := observer.NewSession(jobID, jobType, cli, cli, observer.Config{}, nil)
	if err := session.Start(cmd.Context()); err != nil {
		return err
	}
	defer session.Stop()

	out := cmd.OutOrStdout()
	color := shouldColorize(out)
	var result error
	for ev := range session.Events() {
		switch ev.Type {
		case observer.EventFailed:
			result = fmt.Errorf("%w: %s", errJobFailed, ev.Message)
		case observer.EventTimedOut:
			result = fmt.Errorf("job %s: %s", jobID, ev.Message)
		}
		fmt.Fprintln(out, renderEvent(ev, color))
	}
	if result == nil {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
	}
	return result
}
