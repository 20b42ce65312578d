package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"genstudio/internal/client"
)

func newStagedCommand(ctx *commandContext) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "staged",
		Short: "List staged assets waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			assets, err := cli.ListStaged(cmd.Context(), session)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, assets)
			}
			if len(assets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Workspace is empty.")
				return nil
			}
			rows := make([][]string, 0, len(assets))
			for _, a := range assets {
				rows = append(rows, []string{a.ID, a.AssetType, a.MimeType, strconv.FormatInt(a.SizeBytes, 10), a.JobID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Asset", "Type", "MIME", "Bytes", "Job"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Workspace session id")
	return cmd
}

func newSaveCommand(ctx *commandContext) *cobra.Command {
	var (
		title      string
		tags       []string
		collection string
		visibility string
	)
	cmd := &cobra.Command{
		Use:   "save <asset-id>",
		Short: "Promote a staged asset into the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			res, err := cli.WorkspaceAction(cmd.Context(), client.ActionRequest{
				Action:       "save_to_library",
				AssetID:      args[0],
				Title:        title,
				CollectionID: collection,
				Tags:         tags,
				Visibility:   visibility,
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved as %s\n", res.LibraryAssetID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Library title")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringVar(&collection, "collection", "", "Collection id")
	cmd.Flags().StringVar(&visibility, "visibility", "", "private or public")
	return cmd
}

func newDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <asset-id>",
		Short: "Discard a staged asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			res, err := cli.WorkspaceAction(cmd.Context(), client.ActionRequest{Action: "discard_asset", AssetID: args[0]})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Discarded.")
			return nil
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show API and worker health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			h, err := cli.Health(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, h)
			}
			rows := [][]string{
				{"Status", h.Status},
				{"Worker healthy", strconv.FormatBool(h.Worker.Healthy)},
				{"Worker status code", strconv.Itoa(h.Worker.StatusCode)},
				{"Response time (ms)", strconv.FormatInt(h.Worker.ResponseTimeMS, 10)},
			}
			if h.Worker.Detail != "" {
				rows = append(rows, []string{"Detail", h.Worker.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Value"}, rows, nil))
			return nil
		},
	}
}
