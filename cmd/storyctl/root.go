package main

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digkill/storybook/pkg/client"
)

const defaultAPIURL = "http://localhost:8080"

type commandContext struct {
	apiURL string
	token  string
}

func (c *commandContext) client() (*client.Client, error) {
	token := strings.TrimSpace(c.token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("STORYBOOK_TOKEN"))
	}
	if token == "" {
		return nil, errors.New("an access token is required (--token or STORYBOOK_TOKEN)")
	}
	apiURL := strings.TrimSpace(c.apiURL)
	if apiURL == "" {
		apiURL = os.Getenv("STORYBOOK_API_URL")
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return client.New(apiURL, token), nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "storyctl",
		Short:         "Storybook API command line client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.apiURL, "api-url", "", "Storybook API base URL (default $STORYBOOK_API_URL or "+defaultAPIURL+")")
	rootCmd.PersistentFlags().StringVar(&ctx.token, "token", "", "Bearer access token (default $STORYBOOK_TOKEN)")

	rootCmd.AddCommand(newOrderCommand(ctx))
	rootCmd.AddCommand(newBalanceCommand(ctx))
	return rootCmd
}
