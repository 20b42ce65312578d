package main

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"genstudio/internal/client"
)

const defaultAPIURL = "http://localhost:8080"

type commandContext struct {
	apiFlag   *string
	tokenFlag *string
	jsonFlag  *bool

	clientOnce sync.Once
	client     *client.Client
	clientErr  error
}

func newCommandContext(apiFlag, tokenFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{apiFlag: apiFlag, tokenFlag: tokenFlag, jsonFlag: jsonFlag}
}

func (c *commandContext) apiClient() (*client.Client, error) {
	c.clientOnce.Do(func() {
		base := strings.TrimSpace(*c.apiFlag)
		if base == "" {
			base = envOr("GENSTUDIO_API_URL", defaultAPIURL)
		}
		token := strings.TrimSpace(*c.tokenFlag)
		if token == "" {
			token = os.Getenv("GENSTUDIO_TOKEN")
		}
		c.client, c.clientErr = client.New(client.Options{BaseURL: base, Token: token, Timeout: 30 * time.Second})
	})
	return c.client, c.clientErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newRootCommand() *cobra.Command {
	var (
		apiFlag   string
		tokenFlag string
		jsonFlag  bool
	)
	ctx := newCommandContext(&apiFlag, &tokenFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "genctl",
		Short:         "Submit and track generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "API base URL (default $GENSTUDIO_API_URL or "+defaultAPIURL+")")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token (default $GENSTUDIO_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newStagedCommand(ctx))
	rootCmd.AddCommand(newSaveCommand(ctx))
	rootCmd.AddCommand(newDiscardCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newCanonCommand())

	return rootCmd
}
